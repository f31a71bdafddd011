// Command walkfwd backtests Bollinger and classifier-backed strategies over
// cached daily bars, and can send the latest signal to a broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"walkfwd/internal/config"
	"walkfwd/internal/domain"
	"walkfwd/internal/store"
	"walkfwd/internal/util"
)

const version = "0.1.0"

// app carries the state shared by every subcommand once the root command has
// loaded the configuration.
type app struct {
	cfgPath  string
	logLevel string

	cfg *config.Config
	log *slog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "walkfwd",
		Short:        "Walk-forward backtests of band and classifier strategies",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	defaultCfg := "config/walkfwd.yaml"
	if p := os.Getenv("WALKFWD_CONFIG"); p != "" {
		defaultCfg = p
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultCfg, "configuration file (missing file uses defaults)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(a),
		newSweepCmd(a),
		newRunsCmd(a),
		newFetchCmd(a),
		newTrainCmd(a),
		newPredictCmd(a),
		newTradeCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	path := a.cfgPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(a.log)
	return nil
}

func (a *app) barStore() *store.ParquetStore {
	return store.NewParquetStore(a.cfg.Storage.DataDir)
}

func (a *app) sqlite() (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.cfg.Storage.SQLitePath, err)
	}
	return s, nil
}

// dateRange parses --from/--to. An empty to means today.
func dateRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --from: %v", domain.ErrInvalidConfiguration, err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if to != "" {
		if end, err = time.Parse(time.DateOnly, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: --to: %v", domain.ErrInvalidConfiguration, err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --to is before --from", domain.ErrInvalidConfiguration)
	}
	return start, end, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "walkfwd %s\n", version)
		},
	}
}
