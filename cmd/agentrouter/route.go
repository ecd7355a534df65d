package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/agentrouter/internal/app"
)

func routeCMD(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "route <query>",
		Short: "Explain where a query would be routed without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := bootstrap(cmd.Context(), cfgPath(), app.Options{})
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close(context.Background())

			d, entries, err := a.Orchestrator.Route(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"decision": d, "log": entries})
		},
	}
}
