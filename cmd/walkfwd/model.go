package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
	"walkfwd/internal/model"
	"walkfwd/internal/report"
)

// loadFrame reads cached daily bars for symbol and builds the indicator
// frame with the configured bands.
func (a *app) loadFrame(ctx context.Context, symbol, from, to string) (*indicator.Frame, error) {
	start, end, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	bars, err := a.barStore().ReadBars(ctx, strings.ToUpper(symbol), domain.ResolutionDay, start, end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: %d cached bars for %s; run fetch first", domain.ErrInsufficientData, len(bars), symbol)
	}
	bands := indicator.Bollinger{Window: a.cfg.Backtest.Window, NumStd: a.cfg.Backtest.NumStd}
	return bands.Build(bars)
}

func newTrainCmd(a *app) *cobra.Command {
	var from, to, until, outPath string
	cmd := &cobra.Command{
		Use:   "train SYMBOL",
		Short: "Fit the logistic classifier and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := a.loadFrame(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			cutoff := frame.Rows[len(frame.Rows)-1].Bar.Timestamp
			if until != "" {
				if cutoff, err = time.Parse(time.DateOnly, until); err != nil {
					return fmt.Errorf("%w: --until: %v", domain.ErrInvalidConfiguration, err)
				}
			}

			mc := a.cfg.Model
			m, err := model.NewLogistic(model.LogisticParams{
				LearningRate: mc.LearningRate,
				Epochs:       mc.Epochs,
				L2:           mc.L2,
				Horizon:      mc.Horizon,
			})
			if err != nil {
				return err
			}
			if err := m.Train(frame.Rows, cutoff); err != nil {
				return err
			}
			if outPath == "" {
				outPath = mc.Path
			}
			if outPath == "" {
				outPath = "model.yaml"
			}
			if err := m.Save(outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (trained through %s)\n",
				outPath, m.TrainedThrough().Format(time.DateOnly))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	f.StringVar(&to, "to", "", "last date, YYYY-MM-DD (default today)")
	f.StringVar(&until, "until", "", "training cutoff, YYYY-MM-DD (default last bar)")
	f.StringVarP(&outPath, "out", "o", "", "output path (default model.path, then model.yaml)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	var (
		from, to string
		days     int
	)
	cmd := &cobra.Command{
		Use:   "predict SYMBOL",
		Short: "Forecast the direction of the next business days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := a.loadFrame(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			clf, err := model.FromConfig(cmd.Context(), a.cfg.Model, frame)
			if err != nil {
				return err
			}
			preds, err := model.PredictNext(clf, frame, days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range preds {
				fmt.Fprintf(out, "%s  %-4s  %s\n", p.Date.Format(time.DateOnly), p.Direction,
					report.FormatFloat(p.Confidence*100, 1)+"%")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "first date of history, YYYY-MM-DD")
	f.StringVar(&to, "to", "", "last date of history, YYYY-MM-DD (default today)")
	f.IntVarP(&days, "days", "d", 5, "business days to forecast")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
