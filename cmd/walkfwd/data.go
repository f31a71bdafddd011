package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"walkfwd/internal/domain"
	"walkfwd/internal/marketdata"
)

func newFetchCmd(a *app) *cobra.Command {
	var (
		provider   string
		from, to   string
		resolution string
		csvPath    string
		workers    int
	)
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL...",
		Short: "Download bars into the local bar cache",
		Long: `Download bars from a market-data provider (yahoo, alpaca or fyers) and
merge them into the Parquet bar cache. With --csv a single symbol is loaded
from a date,open,high,low,close,volume file instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := domain.ParseResolution(resolution)
			if err != nil {
				return err
			}
			bs := a.barStore()
			out := cmd.OutOrStdout()

			if csvPath != "" {
				if len(args) != 1 {
					return fmt.Errorf("%w: --csv takes exactly one symbol", domain.ErrInvalidConfiguration)
				}
				bars, err := marketdata.LoadCSV(csvPath, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				if err := bs.WriteBars(ctx, bars, res); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d bars from %s\n", args[0], len(bars), csvPath)
				return nil
			}

			start, end, err := dateRange(from, to)
			if err != nil {
				return err
			}
			p, err := marketdata.New(provider, a.cfg)
			if err != nil {
				return err
			}
			log := a.log.With("provider", p.Name())

			var mu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(workers)
			for _, sym := range args {
				sym := strings.ToUpper(sym)
				g.Go(func() error {
					bars, err := p.Fetch(gctx, sym, start, end, res)
					if err != nil {
						return fmt.Errorf("%s: %w", sym, err)
					}
					bars = marketdata.Normalize(bars)
					if err := bs.WriteBars(gctx, bars, res); err != nil {
						return fmt.Errorf("%s: %w", sym, err)
					}
					log.Info("bars cached", "symbol", sym, "bars", len(bars))
					mu.Lock()
					fmt.Fprintf(out, "%s: %d bars\n", sym, len(bars))
					mu.Unlock()
					return nil
				})
			}
			return g.Wait()
		},
	}
	f := cmd.Flags()
	f.StringVarP(&provider, "provider", "p", "yahoo", "market-data provider: yahoo, alpaca or fyers")
	f.StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	f.StringVar(&to, "to", "", "last date, YYYY-MM-DD (default today)")
	f.StringVar(&resolution, "resolution", string(domain.ResolutionDay), "bar resolution")
	f.StringVar(&csvPath, "csv", "", "load bars from a CSV file instead of a provider")
	f.IntVar(&workers, "workers", 4, "symbols fetched in parallel")
	cmd.MarkFlagsOneRequired("from", "csv")
	return cmd
}
