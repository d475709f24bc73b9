package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/config"
	"github.com/heartline/server/internal/database"
	"github.com/heartline/server/internal/logger"
)

var (
	cfgFile   string
	debugLogs bool
	jsonLogs  bool

	rootCmd = &cobra.Command{
		Use:           "heartctl",
		Short:         "heartctl manages a Heartline deployment",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: defaults and HEARTLINE_* environment)")
	rootCmd.PersistentFlags().BoolVarP(&debugLogs, "debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&jsonLogs, "json", "j", false, "json format for logging")
}

// env is what every subcommand needs: settings, a logger and the database.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	lg, err := logger.New(jsonLogs || cfg.Log.JSON, debugLogs || cfg.Log.Debug)
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}
	db, err := database.Open(ctx, cfg.Database.URL, 4)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: lg, db: db}, nil
}

func (e *env) close() {
	e.db.Close()
	_ = e.logger.Sync()
}
