package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"walkfwd/internal/api"
	"walkfwd/internal/broker"
	"walkfwd/internal/domain"
	"walkfwd/internal/engine"
	"walkfwd/internal/marketdata"
	"walkfwd/internal/model"
	"walkfwd/internal/store"
	"walkfwd/internal/strategy/builtins"
)

// newEngine wires the configured broker, the order history and the risk
// limits. The caller closes the returned store and arms the daily loss limit
// with StartDay once the broker can value the account.
func (a *app) newEngine() (*engine.Engine, broker.Broker, *store.SQLiteStore, error) {
	b, err := broker.New(a.cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := a.sqlite()
	if err != nil {
		return nil, nil, nil, err
	}
	risk := engine.NewRiskManager(a.cfg.Trading.MaxPositionPct, a.cfg.Trading.MaxDailyLossPct)
	return engine.NewEngine(b, db, risk, a.cfg.Backtest.PositionSizePct), b, db, nil
}

func newTradeCmd(a *app) *cobra.Command {
	var (
		strategyName string
		provider     string
		lookback     int
		submit       bool
	)
	cmd := &cobra.Command{
		Use:   "trade SYMBOL",
		Short: "Turn the latest signal into an order",
		Long: `Refresh recent bars, classify the latest one and print the order it calls
for. The order is only sent to trading.broker with --submit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			symbol := strings.ToUpper(args[0])
			out := cmd.OutOrStdout()

			up, err := marketdata.New(provider, a.cfg)
			if err != nil {
				return err
			}
			end := time.Now().UTC()
			bars, err := marketdata.NewCached(up, a.barStore()).Fetch(ctx, symbol, end.AddDate(0, 0, -lookback), end, domain.ResolutionDay)
			if err != nil {
				return err
			}
			bars = marketdata.Normalize(bars)

			p := builtins.Params{
				Window:        a.cfg.Backtest.Window,
				NumStd:        a.cfg.Backtest.NumStd,
				Oversold:      a.cfg.Backtest.Oversold,
				Overbought:    a.cfg.Backtest.Overbought,
				BuyThreshold:  a.cfg.Backtest.BuyThreshold,
				SellThreshold: a.cfg.Backtest.SellThreshold,
			}
			var clf model.Classifier
			if builtins.NeedsClassifier(strategyName) {
				frame, err := p.Bands().Build(bars)
				if err != nil {
					return err
				}
				if clf, err = model.FromConfig(ctx, a.cfg.Model, frame); err != nil {
					return err
				}
			}
			s, err := builtins.New(strategyName, p, clf)
			if err != nil {
				return err
			}

			eng, b, db, err := a.newEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			if sim, ok := b.(*broker.SimulatorBroker); ok && len(bars) > 0 {
				sim.SetPrice(symbol, bars[len(bars)-1].Close)
			}
			if err := eng.StartDay(ctx); err != nil {
				return err
			}

			in, err := eng.Intent(ctx, s, bars)
			if err != nil {
				return err
			}
			if in == nil {
				fmt.Fprintf(out, "%s: no order\n", symbol)
				return nil
			}
			fmt.Fprintf(out, "%s %s: %s %d @ ~%.2f (signal %s)\n",
				in.Date.Format(time.DateOnly), in.Symbol, in.Side, in.Qty, in.Price, in.Signal)
			if !submit {
				return nil
			}

			order, err := eng.Submit(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "order %s %s\n", order.ID, order.Status)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&strategyName, "strategy", "s", "bollinger", "strategy: bollinger, probability or ml-bollinger")
	f.StringVarP(&provider, "provider", "p", "yahoo", "market-data provider for missing bars")
	f.IntVar(&lookback, "lookback", 365, "calendar days of history")
	f.BoolVar(&submit, "submit", false, "send the order to the broker")

	cmd.AddCommand(newHoldingsCmd(a), newCancelCmd(a))
	return cmd
}

func newHoldingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "List broker positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, db, err := a.newEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			holdings, err := eng.Holdings(cmd.Context())
			if err != nil {
				return err
			}
			for _, h := range holdings {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %8d  %10.2f\n", h.Symbol, h.Qty, h.AvgEntryPrice)
			}
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, db, err := a.newEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			return eng.CancelOrder(cmd.Context(), args[0])
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the backtest gRPC API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.sqlite()
			if err != nil {
				return err
			}
			defer db.Close()
			bs := a.barStore()
			srv := api.NewServer(a.cfg, api.NewBacktestService(a.cfg, bs, db, bs))
			return srv.ListenAndServe(cmd.Context())
		},
	}
}
