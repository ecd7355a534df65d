package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/agentrouter/internal/classifier"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider/hashembed"
)

type stubPredictor struct {
	preds []classifier.Prediction
	err   error
	calls int
}

func (s *stubPredictor) Predict(ctx context.Context, text string, topK int) ([]classifier.Prediction, error) {
	s.calls++
	return s.preds, s.err
}

func low(score float64) *stubPredictor {
	return &stubPredictor{preds: []classifier.Prediction{{Label: "LOW", Score: score}}}
}

func seededRouter(t *testing.T, available Availability) (*Router, *runlog.Log) {
	t.Helper()
	seeds, err := classifier.LoadSeeds()
	if err != nil {
		t.Fatalf("load seeds: %v", err)
	}
	cls, err := SeedClassifiers(context.Background(), hashembed.New(hashembed.DefaultDimensions), classifier.DefaultConfig(), seeds)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	log := runlog.New()
	return New(cls.Complexity, cls.Tasks, available, log, nil), log
}

func TestHiRoutesToCasual(t *testing.T) {
	r, _ := seededRouter(t, nil)
	d, err := r.Route(context.Background(), "hi")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Planned() || d.Target != "casual" {
		t.Fatalf("expected casual, got %+v", d)
	}
	if d.Complexity != ComplexityLow {
		t.Fatalf("expected LOW complexity, got %s", d.Complexity)
	}
}

func TestSeededComplexExampleGoesToPlanner(t *testing.T) {
	r, _ := seededRouter(t, nil)
	d, err := r.Route(context.Background(), "Find the latest news on AI and create a report")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !d.Planned() {
		t.Fatalf("expected planner, got %+v", d)
	}
}

func TestLowConfidenceIsRelabelledBeforeDecision(t *testing.T) {
	log := runlog.New()
	r := New(low(0.29), &stubPredictor{}, nil, log, nil)
	d, err := r.Route(context.Background(), "hello")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !d.Planned() || d.Complexity != ComplexityHigh {
		t.Fatalf("expected HIGH/planner, got %+v", d)
	}
	entries := log.Entries(runlog.RouterActor)
	override, decision := -1, -1
	for i, e := range entries {
		if e.Message == "Low confidence, treating as HIGH complexity" {
			override = i
		}
		if e.Level == runlog.LevelDecision {
			decision = i
		}
	}
	if override < 0 || decision < 0 || override > decision {
		t.Fatalf("override must be logged before the decision: %+v", entries)
	}
}

func TestConfidenceAtThresholdStaysLow(t *testing.T) {
	r := New(low(0.3), &stubPredictor{}, nil, nil, nil)
	d, _ := r.Route(context.Background(), "hello")
	if d.Planned() {
		t.Fatalf("0.3 must not be overridden")
	}
}

func TestKeywordPriority(t *testing.T) {
	cases := map[string]string{
		"navigate to the website and write the code": "browser",
		"debug this script and save the file":        "coder",
		"read the web page file":                     "file",
		"look up the weather":                        "search",
		"Search for cats":                            "search",
	}
	for q, want := range cases {
		tasks := &stubPredictor{}
		r := New(low(0.9), tasks, nil, nil, nil)
		d, err := r.Route(context.Background(), q)
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if d.Target != want {
			t.Fatalf("%q: expected %s, got %s", q, want, d.Target)
		}
		if tasks.calls != 0 {
			t.Fatalf("%q: keyword match must not consult the classifier", q)
		}
	}
}

func TestTaskClassifierFallback(t *testing.T) {
	tasks := &stubPredictor{preds: []classifier.Prediction{{Label: "coder", Score: 0.8}}}
	r := New(low(0.9), tasks, nil, nil, nil)
	d, _ := r.Route(context.Background(), "hello there")
	if d.Target != "coder" || tasks.calls != 1 {
		t.Fatalf("expected classifier result, got %+v", d)
	}

	r = New(low(0.9), &stubPredictor{}, nil, nil, nil)
	d, _ = r.Route(context.Background(), "hello there")
	if d.Target != "casual" {
		t.Fatalf("expected casual default, got %+v", d)
	}
}

func TestUnavailableWorkerIsSubstituted(t *testing.T) {
	log := runlog.New()
	r := New(low(0.9), nil, func(k taskgraph.WorkerKind) bool { return k != taskgraph.Browser }, log, nil)
	d, _ := r.Route(context.Background(), "click the login button")
	if d.Target != "casual" || !d.Substituted || d.TaskType != "browser" {
		t.Fatalf("expected casual substitution, got %+v", d)
	}
	found := false
	for _, e := range log.Entries(runlog.RouterActor) {
		if e.Level == runlog.LevelWarning && strings.Contains(e.Message, "unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("substitution not logged")
	}
}

func TestClassifierFailureIsConservative(t *testing.T) {
	log := runlog.New()
	r := New(&stubPredictor{err: classifier.ErrEmbeddingUnavailable}, nil, nil, log, nil)
	d, err := r.Route(context.Background(), "anything")
	if err != nil {
		t.Fatalf("classification failures must not surface: %v", err)
	}
	if !d.Planned() {
		t.Fatalf("expected planner on failure, got %+v", d)
	}
	var warned bool
	for _, e := range log.Entries(runlog.RouterActor) {
		warned = warned || e.Level == runlog.LevelWarning
	}
	if !warned {
		t.Fatalf("fallback must be logged")
	}

	r = New(low(0.9), &stubPredictor{err: errors.New("boom")}, nil, nil, nil)
	d, _ = r.Route(context.Background(), "hello there")
	if d.Target != "casual" {
		t.Fatalf("task classifier failure should default to casual, got %+v", d)
	}
}

func TestRouteClearsRouterBucket(t *testing.T) {
	log := runlog.New()
	r := New(low(0.9), nil, nil, log, nil)
	_, _ = r.Route(context.Background(), "hello")
	first := len(log.Entries(runlog.RouterActor))
	_, _ = r.Route(context.Background(), "hello")
	if got := len(log.Entries(runlog.RouterActor)); got != first {
		t.Fatalf("router bucket not cleared between calls: %d vs %d", got, first)
	}
}

func TestCancelledContextSurfaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(&stubPredictor{err: context.Canceled}, nil, nil, nil, nil)
	if _, err := r.Route(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
