package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/agentrouter/internal/runtime"
)

func hashKeyCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the bcrypt hash to put in server.api_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := runtime.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			cmd.Println(h)
			return nil
		},
	}
}
