package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/internal/app"
	srv "github.com/mohammad-safakhou/agentrouter/internal/server"
)

func serveCMD(cfgPath func() string) *cobra.Command {
	var serveAddr string
	var autoMigrate bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, logger, err := bootstrap(ctx, cfgPath(), app.Options{Persistence: true, ServeMetrics: true})
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close(context.Background())
			cfg := a.Config

			if autoMigrate && cfg.Storage.Postgres.Enabled() {
				dsn, err := cfg.Storage.Postgres.DSN()
				if err != nil {
					return err
				}
				if err := srv.Migrate(srv.DefaultMigrationsDir, dsn, "up", 0); err != nil {
					return err
				}
			}

			deps := srv.Deps{
				Runner:     a.Orchestrator,
				Metrics:    a.Telemetry.Handler(),
				RunTimeout: cfg.General.DefaultTimeout,
				Logger:     logger,
				Auth: srv.AuthConfig{
					Secret:     []byte(cfg.Server.JWTSecret),
					APIKeyHash: cfg.Server.APIKeyHash,
					TokenTTL:   cfg.Server.TokenTTL,
				},
			}
			if a.Store != nil {
				deps.Store = a.Store
			}
			if a.History != nil {
				deps.History = a.History
			}
			e := srv.New(deps)

			sched, err := srv.NewScheduler(cfg.Schedules, a.Orchestrator, a.Locker, logger)
			if err != nil {
				return err
			}
			sched.Start(ctx)
			if sched.Len() > 0 {
				logger.Info("scheduler started", zap.Int("schedules", sched.Len()))
			}

			addr := serveAddr
			if addr == "" {
				addr = cfg.Server.Address
			}
			err = srv.Run(ctx, e, addr, logger)
			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			waitScheduler(waitCtx, sched)
			return err
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	serve.Flags().BoolVar(&autoMigrate, "migrate", false, "apply migrations before serving")
	return serve
}

func waitScheduler(ctx context.Context, s *srv.Scheduler) {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
