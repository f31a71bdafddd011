package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"walkfwd/internal/api"
	"walkfwd/internal/config"
	"walkfwd/internal/store"
	"walkfwd/internal/util"
)

func main() {
	cfgPath := "config/walkfwd.yaml"
	if p := os.Getenv("WALKFWD_CONFIG"); p != "" {
		cfgPath = p
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	defer runs.Close()

	svc := api.NewBacktestService(cfg, pstore, runs, pstore)
	srv := api.NewServer(cfg, svc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting walkfwd-server", "addr", srv.Addr(), "data_dir", cfg.Storage.DataDir)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
