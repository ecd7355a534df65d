package taskgraph

import (
	"errors"
	"strings"
	"testing"
)

func TestParseWorkerKindIsCaseInsensitive(t *testing.T) {
	for name, want := range map[string]WorkerKind{"Search": Search, "FILE": File, " coder ": Coder, "browser": Browser, "Casual": Casual} {
		got, ok := ParseWorkerKind(name)
		if !ok || got != want {
			t.Fatalf("ParseWorkerKind(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ParseWorkerKind("Unsupported"); ok {
		t.Fatalf("unsupported name must not resolve")
	}
	if Unknown.String() != "unknown" || Search.String() != "search" {
		t.Fatalf("unexpected String output")
	}
}

func TestNewNodeLowercasesAgent(t *testing.T) {
	n := NewNode("1", "Search", nil, "find X")
	if n.Agent != "search" || n.Kind != Search {
		t.Fatalf("unexpected node %+v", n)
	}
	if n.Need == nil {
		t.Fatalf("need should be non-nil")
	}
}

func TestValidateAllowsForwardReferences(t *testing.T) {
	g := Graph{Nodes: []Node{
		NewNode("2", "file", []string{"1"}, "save"),
		NewNode("1", "search", nil, "find"),
	}}
	if err := Validate(g, ValidateOptions{RequireKnownWorkers: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		g    Graph
		opts ValidateOptions
		want error
	}{
		{"empty", Graph{}, ValidateOptions{}, ErrEmptyGraph},
		{"empty id", Graph{Nodes: []Node{NewNode("", "casual", nil, "x")}}, ValidateOptions{}, ErrEmptyID},
		{"duplicate", Graph{Nodes: []Node{NewNode("1", "casual", nil, "x"), NewNode("1", "coder", nil, "y")}}, ValidateOptions{}, ErrDuplicateID},
		{"dangling", Graph{Nodes: []Node{NewNode("1", "casual", []string{"9"}, "x")}}, ValidateOptions{}, ErrDanglingDependency},
		{"unknown worker", Graph{Nodes: []Node{NewNode("1", "Unsupported", nil, "x")}}, ValidateOptions{RequireKnownWorkers: true}, ErrUnknownWorker},
		{"cycle", Graph{Nodes: []Node{NewNode("a", "casual", []string{"b"}, "x"), NewNode("b", "casual", []string{"a"}, "y")}}, ValidateOptions{}, ErrCycle},
		{"self cycle", Graph{Nodes: []Node{NewNode("a", "casual", []string{"a"}, "x")}}, ValidateOptions{}, ErrCycle},
	}
	for _, tc := range cases {
		err := Validate(tc.g, tc.opts)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidateUnknownWorkerAllowedWhenLenient(t *testing.T) {
	g := Graph{Nodes: []Node{NewNode("1", "Unsupported", nil, "x")}}
	if err := Validate(g, ValidateOptions{}); err != nil {
		t.Fatalf("lenient validation failed: %v", err)
	}
}

func TestCycleErrorReportsPath(t *testing.T) {
	g := Graph{Nodes: []Node{
		NewNode("a", "casual", []string{"c"}, ""),
		NewNode("b", "casual", []string{"a"}, ""),
		NewNode("c", "casual", []string{"b"}, ""),
	}}
	err := Validate(g, ValidateOptions{})
	if err == nil || !strings.Contains(err.Error(), "a -> c -> b -> a") {
		t.Fatalf("unexpected cycle error: %v", err)
	}
}

func TestTopologicalWaves(t *testing.T) {
	g := Graph{Nodes: []Node{
		NewNode("3", "file", []string{"1", "2"}, ""),
		NewNode("1", "search", nil, ""),
		NewNode("2", "search", nil, ""),
		NewNode("4", "casual", []string{"3"}, ""),
	}}
	waves, err := TopologicalWaves(g)
	if err != nil {
		t.Fatalf("waves: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves, got %v", waves)
	}
	if len(waves[0]) != 2 || waves[0][0] != 1 || waves[0][1] != 2 {
		t.Fatalf("unexpected first wave %v", waves[0])
	}
	if waves[1][0] != 0 || waves[2][0] != 3 {
		t.Fatalf("unexpected waves %v", waves)
	}
}

func TestTopologicalWavesRejectsCycle(t *testing.T) {
	g := Graph{Nodes: []Node{NewNode("a", "casual", []string{"b"}, ""), NewNode("b", "casual", []string{"a"}, "")}}
	if _, err := TopologicalWaves(g); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}
