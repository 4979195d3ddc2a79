package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"personaai/internal/util"
	"personaai/services/rag/internal/app"
	"personaai/services/rag/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rag",
	Short:         "Profile knowledge base indexing and retrieval service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigPath, "path to config.yaml")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config, initialises logging and wires the app. The returned
// cleanup must always be called.
func setup(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to load config: %w", err)
	}
	logger, closeLogs, err := util.InitLogger(cfg.LogLevel, "rag", cfg.LogsDir)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		closeLogs()
		return nil, func() {}, fmt.Errorf("failed to init app: %w", err)
	}
	return a, func() {
		a.Close()
		closeLogs()
	}, nil
}
