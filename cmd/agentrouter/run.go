package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/agentrouter/internal/app"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
)

const prompt = ">>> "

func runCMD(cfgPath func() string) *cobra.Command {
	var showLogs, verbose, persist bool
	run := &cobra.Command{
		Use:   "run [query]",
		Short: "Answer a query, or start an interactive session when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := app.Options{Persistence: persist}
			if verbose {
				opts.LogSink = func(actor string, e runlog.Entry) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s (%s): %s\n", e.Timestamp, actor, e.Level, e.Message)
				}
			}
			a, logger, err := bootstrap(cmd.Context(), cfgPath(), opts)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close(context.Background())

			session := a.Orchestrator.NewSession()
			if len(args) > 0 {
				return answer(cmd.Context(), session, strings.Join(args, " "), out, showLogs)
			}
			return repl(cmd.Context(), session, cmd.InOrStdin(), out, showLogs)
		},
	}
	run.Flags().BoolVar(&showLogs, "logs", false, "print the run log as JSON after each answer")
	run.Flags().BoolVarP(&verbose, "verbose", "v", false, "stream run log entries to stderr")
	run.Flags().BoolVar(&persist, "persist", false, "record runs in the configured store and history index")
	return run
}

func answer(ctx context.Context, s *orchestrator.Session, query string, out io.Writer, showLogs bool) error {
	res, err := s.Run(ctx, query)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Output)
	if showLogs {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Logs)
	}
	return nil
}

// repl reads one query per line until EOF, "exit" or "quit".
func repl(ctx context.Context, s *orchestrator.Session, in io.Reader, out io.Writer, showLogs bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := answer(ctx, s, line, out, showLogs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
