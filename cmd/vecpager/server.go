package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/indexer"
	"github.com/hyperjump/vecpager/internal/server"
	"github.com/hyperjump/vecpager/internal/watcher"
)

func newServerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server.

The server pages chunks in and out of memory, serves the /api/v1 record,
search, and stream endpoints, and ingests .jsonl files dropped into the
configured spool directories.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(flags)
		},
	}
}

// newSpool builds the spool watcher that feeds JSON Lines files into idx.
func newSpool(dirs, exts []string, recursive bool, debounce time.Duration, idx *indexer.Indexer, logger *zap.Logger) *watcher.Spool {
	return watcher.New(
		dirs,
		exts,
		recursive,
		func(path string) {
			result, err := idx.IngestFile(context.Background(), path)
			if err != nil {
				logger.Warn("spool ingest failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("spool file ingested",
				zap.String("path", path),
				zap.Int("added", result.Added),
				zap.Int("skipped", result.Skipped),
				zap.Int("removed", result.Removed),
				zap.Int("failed", result.Failed))
		},
		func(path string) {
			n, err := idx.RemoveSource(context.Background(), path)
			if err != nil {
				logger.Warn("spool remove by source failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Debug("spool source removed", zap.String("path", path), zap.Int("records", n))
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(debounce),
	)
}

func runServer(flags *globalFlags) error {
	cfg, resolvedConfigPath, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	debugMode := cfg.Debug || flags.debug
	logger, err := newLogger(logSettings{debug: cfg.Debug, level: cfg.LogLevel}, flags.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize components", zap.Error(err))
		return err
	}

	spool := newSpool(
		cfg.Spool.Directories,
		cfg.Spool.Extensions,
		cfg.Spool.RecursiveOrDefault(),
		cfg.Spool.Debounce,
		components.Indexer,
		logger,
	)
	spoolCtx, spoolCancel := context.WithCancel(ctx)
	defer spoolCancel()
	if err := spool.Start(spoolCtx); err != nil {
		_ = components.Close(ctx)
		return err
	}
	spool.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Streams,
		cfg,
		logger,
		spool,
		resolvedConfigPath,
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	var runErr error
	select {
	case <-sigChan:
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	logger.Info("shutting down")
	spoolCancel()
	spool.Stop()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
	if err := components.Close(shutdownCtx); err != nil {
		logger.Error("flush on shutdown failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
