package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bldg-7/rider-agent-panel/internal/collector"
	"github.com/Bldg-7/rider-agent-panel/internal/config"
	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	"github.com/Bldg-7/rider-agent-panel/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "./panel.config.yaml", "path to panel config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("panel %s (%s)\n", shared.Version, shared.Branch)
		return
	}

	// Variables already set in the process environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadPanelConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.Production)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded successfully",
		zap.String("config_path", *configPath),
		zap.Strings("rigs", cfg.Rigs),
		zap.String("version", shared.Version),
	)

	var opts []collector.Option
	var db *sql.DB
	if cfg.Database.Path != "" {
		db, err = storage.Open(context.Background(), cfg.Database.Path)
		if err != nil {
			logger.Error("failed to open database", zap.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("database migrations complete", zap.String("path", cfg.Database.Path))
		opts = append(opts, collector.WithDatabase(db))
	} else {
		logger.Info("no database path configured, audit trail disabled")
	}

	collector.InitMetrics()

	srv, err := collector.NewServer(cfg, logger, opts...)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown",
		zap.String("signal", sig.String()),
	)

	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("panel exited cleanly")
}

func newLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
