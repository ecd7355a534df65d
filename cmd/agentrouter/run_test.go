package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/internal/app"
)

func offlineSession(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		LLM:    config.LLMConfig{Provider: config.ProviderHash, EmbeddingDims: 128},
		Router: config.RouterConfig{SimilarityThreshold: 0.7, MinConfidence: 0.1, TopK: 5, LowConfidenceOverride: 0.3},
		Executor: config.ExecutorConfig{
			StepTimeout: time.Second,
		},
	}
	a, err := app.Build(context.Background(), cfg, nil, app.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestREPLAnswersUntilExit(t *testing.T) {
	a := offlineSession(t)
	in := strings.NewReader("hello there\n\nquit\nnever reached\n")
	var out bytes.Buffer
	if err := repl(context.Background(), a.Orchestrator.NewSession(), in, &out, true); err != nil {
		t.Fatalf("repl: %v", err)
	}
	got := out.String()
	if strings.Count(got, prompt) != 3 {
		t.Fatalf("expected three prompts, got %q", got)
	}
	if !strings.Contains(got, `"router"`) {
		t.Fatalf("run log not printed: %q", got)
	}
}

func TestREPLStopsAtEOF(t *testing.T) {
	a := offlineSession(t)
	var out bytes.Buffer
	if err := repl(context.Background(), a.Orchestrator.NewSession(), strings.NewReader(""), &out, false); err != nil {
		t.Fatalf("repl: %v", err)
	}
}

func TestRootCommands(t *testing.T) {
	root := rootCMD()
	want := map[string]bool{"serve": false, "run": false, "route": false, "migrate": false, "hash-key": false}
	for _, c := range root.Commands() {
		name := strings.Fields(c.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %s not registered", name)
		}
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"hash-key", "secret"})
	if err := root.Execute(); err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	if !strings.HasPrefix(out.String(), "$2a$") {
		t.Fatalf("unexpected hash output %q", out.String())
	}
}
