package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/internal/app"
	"github.com/mohammad-safakhou/agentrouter/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCMD().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "agentrouter",
		Short:        "Route requests to a worker or plan them across several",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	cfgFn := func() string { return cfgPath }
	root.AddCommand(serveCMD(cfgFn), runCMD(cfgFn), routeCMD(cfgFn), migrateCMD(cfgFn), mcpCMD(cfgFn), hashKeyCMD())
	return root
}

// bootstrap loads configuration, builds the logger and wires the app.
func bootstrap(ctx context.Context, cfgPath string, opts app.Options) (*app.App, *zap.Logger, error) {
	cfg := config.LoadConfig(cfgPath)
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, nil, err
	}
	opts.Version = version
	a, err := app.Build(ctx, cfg, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("build app: %w", err)
	}
	return a, logger, nil
}
