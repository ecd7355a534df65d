package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/internal/app"
	"github.com/mohammad-safakhou/agentrouter/internal/mcp"
)

func mcpCMD(cfgPath func() string) *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve agentrouter tools over MCP (JSON-RPC on stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := bootstrap(cmd.Context(), cfgPath(), app.Options{Persistence: persist})
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close(context.Background())

			searcher, fetcher, err := app.WebTools(a.Config.Workers)
			if err != nil {
				return err
			}
			deps := mcp.Deps{
				Runner:    a.Orchestrator,
				WebSearch: searcher,
				WebFetch:  fetcher,
				Logger:    logger,
				Version:   version,
			}
			if a.History != nil {
				deps.History = a.History
			}
			srv := mcp.NewServer(deps)
			logger.Info("mcp server ready", zap.Int("tools", len(srv.Tools())))
			return srv.Serve(cmd.Context(), os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "record runs to Postgres and the history index")
	return cmd
}
