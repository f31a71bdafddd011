package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"walkfwd/internal/api"
	"walkfwd/internal/backtest"
	"walkfwd/internal/config"
	"walkfwd/internal/domain"
	"walkfwd/internal/report"
	"walkfwd/internal/store"
	"walkfwd/pkg/walkfwd"
)

// ---------------------------------------------------------------------------
// Shared request flags
// ---------------------------------------------------------------------------

// addRunFlags registers the backtest request flags on cmd. Parameter flags
// the user does not set are filled from the loaded config by resolveRun.
func addRunFlags(cmd *cobra.Command, r *walkfwd.RunRequest) {
	d := config.DefaultBacktest()
	f := cmd.Flags()
	f.StringVarP(&r.Strategy, "strategy", "s", "bollinger", "strategy: bollinger, probability or ml-bollinger")
	f.StringVar(&r.Resolution, "resolution", string(domain.ResolutionDay), "bar resolution")
	f.StringVar(&r.Start, "from", "", "first date, YYYY-MM-DD")
	f.StringVar(&r.End, "to", "", "last date, YYYY-MM-DD")
	f.IntVar(&r.Window, "window", d.Window, "band window")
	f.Float64Var(&r.NumStd, "num-std", d.NumStd, "band width in standard deviations")
	f.Float64Var(&r.Oversold, "oversold", d.Oversold, "%B buy threshold")
	f.Float64Var(&r.Overbought, "overbought", d.Overbought, "%B sell threshold")
	f.Float64Var(&r.BuyThreshold, "buy-threshold", d.BuyThreshold, "probability buy threshold")
	f.Float64Var(&r.SellThreshold, "sell-threshold", d.SellThreshold, "probability sell threshold")
	f.Float64Var(&r.InitialCapital, "capital", d.InitialCapital, "initial cash")
	f.Float64Var(&r.PositionSizePct, "size", d.PositionSizePct, "fraction of cash committed per BUY")
	f.BoolVar(&r.LiquidateAtEnd, "liquidate", d.LiquidateAtEnd, "sell any open position at the last close")
	_ = cmd.MarkFlagRequired("from")
}

// resolveRun fills the parameters the user left unset from cfg.
func resolveRun(cmd *cobra.Command, cfg *config.Config, r *walkfwd.RunRequest, symbol string) {
	r.Symbol = symbol
	b := cfg.Backtest
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if !f.Changed(name) {
			apply()
		}
	}
	set("window", func() { r.Window = b.Window })
	set("num-std", func() { r.NumStd = b.NumStd })
	set("oversold", func() { r.Oversold = b.Oversold })
	set("overbought", func() { r.Overbought = b.Overbought })
	set("buy-threshold", func() { r.BuyThreshold = b.BuyThreshold })
	set("sell-threshold", func() { r.SellThreshold = b.SellThreshold })
	set("capital", func() { r.InitialCapital = b.InitialCapital })
	set("size", func() { r.PositionSizePct = b.PositionSizePct })
	set("liquidate", func() { r.LiquidateAtEnd = b.LiquidateAtEnd })
}

func (a *app) localService(runs store.RunStore, artifacts store.ArtifactStore) *api.BacktestService {
	return api.NewBacktestService(a.cfg, a.barStore(), runs, artifacts)
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func newRunCmd(a *app) *cobra.Command {
	var (
		req         walkfwd.RunRequest
		server      string
		exportDir   string
		format      string
		showIgnored bool
	)
	cmd := &cobra.Command{
		Use:   "run SYMBOL",
		Short: "Backtest one strategy over cached bars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveRun(cmd, a.cfg, &req, args[0])
			if req.End == "" {
				req.End = time.Now().UTC().Format(time.DateOnly)
			}
			out := cmd.OutOrStdout()

			if server != "" {
				client, err := walkfwd.NewClient(server)
				if err != nil {
					return err
				}
				defer client.Close()
				resp, err := client.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				title := fmt.Sprintf("%s  %s  (%d bars)", resp.Symbol, resp.Strategy, resp.Bars)
				return report.WriteSummary(out, title, domain.Metrics(resp.Metrics))
			}

			var (
				runs      store.RunStore
				artifacts store.ArtifactStore
			)
			if req.Persist {
				db, err := a.sqlite()
				if err != nil {
					return err
				}
				defer db.Close()
				runs, artifacts = db, a.barStore()
			}
			rep, err := a.localService(runs, artifacts).Backtest(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := writeReport(out, rep, showIgnored); err != nil {
				return err
			}
			if exportDir == "" {
				return nil
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			paths, err := report.ExportRun(exportDir, rep.Result, f)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(out, "wrote", p)
			}
			return nil
		},
	}
	addRunFlags(cmd, &req)
	cmd.Flags().BoolVar(&req.Persist, "persist", false, "record the run in the run history")
	cmd.Flags().StringVar(&server, "server", "", "run on a walkfwd server at host:port instead of locally")
	cmd.Flags().StringVar(&exportDir, "export", "", "write snapshots, trades and metrics to this directory")
	cmd.Flags().StringVar(&format, "format", "csv", "export format: csv or json")
	cmd.Flags().BoolVar(&showIgnored, "ignored", false, "also list ignored signals")
	return cmd
}

func writeReport(w io.Writer, rep *backtest.Report, showIgnored bool) error {
	title := fmt.Sprintf("%s  %s  (%d bars)", rep.Symbol, rep.Strategy, rep.Bars)
	if rep.RunID != "" {
		title += "  run " + rep.RunID
	}
	if err := report.WriteSummary(w, title, rep.Metrics); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if err := report.WriteTrades(w, rep.Trades); err != nil {
		return err
	}
	if pos := rep.Final.Position; pos.Shares > 0 {
		fmt.Fprintf(w, "\nopen position: %s shares from %s\n", report.FormatInt(pos.Shares), report.FormatMoney(pos.EntryPrice))
	}
	if showIgnored {
		for _, ig := range rep.Ignored {
			fmt.Fprintf(w, "ignored %-4s %s  %s\n", ig.Signal, ig.Date.Format(time.DateOnly), ig.Reason)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// sweep
// ---------------------------------------------------------------------------

func newSweepCmd(a *app) *cobra.Command {
	var (
		req    walkfwd.SweepRequest
		server string
	)
	cmd := &cobra.Command{
		Use:   "sweep SYMBOL",
		Short: "Evaluate a parameter grid concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveRun(cmd, a.cfg, &req.Base, args[0])
			if req.Base.End == "" {
				req.Base.End = time.Now().UTC().Format(time.DateOnly)
			}
			out := cmd.OutOrStdout()

			if server != "" {
				client, err := walkfwd.NewClient(server)
				if err != nil {
					return err
				}
				defer client.Close()
				resp, err := client.Sweep(cmd.Context(), req)
				if err != nil {
					return err
				}
				return report.WriteSweep(out, sweepResults(resp))
			}

			results, err := a.localService(nil, nil).SweepResults(cmd.Context(), req)
			if err != nil {
				return err
			}
			return report.WriteSweep(out, results)
		},
	}
	addRunFlags(cmd, &req.Base)
	f := cmd.Flags()
	f.IntSliceVar(&req.Windows, "windows", nil, "band windows to try")
	f.Float64SliceVar(&req.NumStds, "num-stds", nil, "band widths to try")
	f.Float64SliceVar(&req.Oversold, "oversold-grid", nil, "oversold thresholds to try")
	f.Float64SliceVar(&req.Overbought, "overbought-grid", nil, "overbought thresholds to try")
	f.Float64SliceVar(&req.BuyThresholds, "buy-grid", nil, "probability buy thresholds to try")
	f.Float64SliceVar(&req.SellThresholds, "sell-grid", nil, "probability sell thresholds to try")
	f.IntVar(&req.Concurrency, "concurrency", 0, "parallel runs (0 uses every CPU)")
	f.StringVar(&server, "server", "", "sweep on a walkfwd server at host:port instead of locally")
	return cmd
}

// sweepResults rebuilds console rows from a remote sweep.
func sweepResults(resp *walkfwd.SweepResponse) []backtest.SweepResult {
	out := make([]backtest.SweepResult, len(resp.Results))
	for i, p := range resp.Results {
		out[i].Params.Window = p.Window
		out[i].Params.NumStd = p.NumStd
		out[i].Params.Oversold = p.Oversold
		out[i].Params.Overbought = p.Overbought
		out[i].Params.BuyThreshold = p.BuyThreshold
		out[i].Params.SellThreshold = p.SellThreshold
		out[i].Result = &backtest.Result{Metrics: domain.Metrics(p.Metrics)}
	}
	return out
}

// ---------------------------------------------------------------------------
// runs
// ---------------------------------------------------------------------------

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List recorded runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.sqlite()
			if err != nil {
				return err
			}
			defer db.Close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := db.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				title := fmt.Sprintf("%s  %s  %s..%s", run.Symbol, run.Strategy,
					run.Start.Format(time.DateOnly), run.End.Format(time.DateOnly))
				if err := report.WriteSummary(out, title, run.Metrics); err != nil {
					return err
				}
				fmt.Fprintln(out)
				return report.WriteTrades(out, run.Trades)
			}

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %s  %-8s %-13s %10s  %s trades\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Symbol, r.Strategy,
					report.FormatPct(r.Metrics.TotalReturnPct), report.FormatInt(int64(r.Metrics.TotalTrades)))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}
