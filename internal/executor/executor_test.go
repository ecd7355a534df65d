package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/goleak"

	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/store"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
)

type stubWorker struct {
	kind  taskgraph.WorkerKind
	fn    func(ctx context.Context, instruction string) (string, error)
	mu    sync.Mutex
	calls []string
}

func (s *stubWorker) Kind() taskgraph.WorkerKind { return s.kind }
func (s *stubWorker) Description() string        { return "stub" }
func (s *stubWorker) Execute(ctx context.Context, instruction string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, instruction)
	s.mu.Unlock()
	return s.fn(ctx, instruction)
}

func constant(kind taskgraph.WorkerKind, out string) *stubWorker {
	return &stubWorker{kind: kind, fn: func(context.Context, string) (string, error) { return out, nil }}
}

func registry(t *testing.T, ws ...worker.Worker) *worker.Registry {
	t.Helper()
	reg, err := worker.NewRegistry(ws)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

type stubCheckpoint struct {
	mu     sync.Mutex
	events []string
}

func (s *stubCheckpoint) add(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *stubCheckpoint) StartRun(ctx context.Context, runID string, g taskgraph.Graph) error {
	s.add("start:" + runID)
	return nil
}

func (s *stubCheckpoint) SaveStepStart(ctx context.Context, runID string, node taskgraph.Node, instruction string, attempt int) error {
	s.add(fmt.Sprintf("step_start:%s:%d", node.ID, attempt))
	return nil
}

func (s *stubCheckpoint) SaveStepSuccess(ctx context.Context, runID string, step StepResult, attempt int) error {
	s.add(fmt.Sprintf("step_success:%s:%d", step.ID, attempt))
	return nil
}

func (s *stubCheckpoint) SaveStepFailure(ctx context.Context, runID string, step StepResult, attempt int, err error) error {
	s.add(fmt.Sprintf("step_failure:%s:%d", step.ID, attempt))
	return nil
}

var _ CheckpointManager = (*stubCheckpoint)(nil)

func graph(nodes ...taskgraph.Node) taskgraph.Graph { return taskgraph.Graph{Nodes: nodes} }

func TestExecuteThreadsContextToDependents(t *testing.T) {
	search := constant(taskgraph.Search, "A, B, C")
	file := constant(taskgraph.File, "Successfully wrote 7 characters to /tmp/x.md")
	log := runlog.New()
	ex := New().WithLog(log)

	g := graph(
		taskgraph.NewNode("1", "Search", nil, "find frameworks"),
		taskgraph.NewNode("2", "File", []string{"1"}, "save them"),
	)
	res, err := ex.Execute(context.Background(), "run", g, registry(t, search, file))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if search.calls[0] != "find frameworks" {
		t.Fatalf("root task should have no preamble: %q", search.calls[0])
	}
	want := "Context from previous tasks:\nResult from task 1: A, B, C\n\nsave them"
	if file.calls[0] != want {
		t.Fatalf("instruction = %q, want %q", file.calls[0], want)
	}
	if res.Output != "Task 1 (search): A, B, C\n\nTask 2 (file): Successfully wrote 7 characters to /tmp/x.md" {
		t.Fatalf("unexpected aggregate %q", res.Output)
	}
	if res.Context["1"] != "A, B, C" {
		t.Fatalf("run context missing output")
	}

	msgs := messages(log.Entries("file"))
	wantMsgs := []string{"Starting task: save them...", "Gathering context from tasks: [1]", "Context prepared", "Executing task", "Task execution complete"}
	if strings.Join(msgs, "|") != strings.Join(wantMsgs, "|") {
		t.Fatalf("file log = %v", msgs)
	}
	summary := messages(log.Entries(runlog.SummaryActor))
	if strings.Join(summary, "|") != "Creating final summary|Summary complete" {
		t.Fatalf("summary log = %v", summary)
	}
}

func messages(entries []runlog.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestExecuteLogsNeedsEvenWhenNothingGathered(t *testing.T) {
	casual := constant(taskgraph.Casual, "ok")
	log := runlog.New()
	g := graph(taskgraph.NewNode("1", "casual", []string{"7"}, "reply"))
	if _, err := New().WithLog(log).Execute(context.Background(), "run", g, registry(t, casual)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if casual.calls[0] != "reply" {
		t.Fatalf("instruction = %q, want bare task", casual.calls[0])
	}
	entries := log.Entries("casual")
	msgs := messages(entries)
	want := []string{"Starting task: reply...", "Gathering context from tasks: [7]", "Executing task", "Task execution complete"}
	if strings.Join(msgs, "|") != strings.Join(want, "|") {
		t.Fatalf("casual log = %v", msgs)
	}
	if entries[2].Level != runlog.LevelAction {
		t.Fatalf("dispatch entry level = %q", entries[2].Level)
	}
}

func TestExecuteUnknownAgentContinues(t *testing.T) {
	casual := constant(taskgraph.Casual, "ok")
	log := runlog.New()
	g := graph(
		taskgraph.NewNode("1", "Unsupported", nil, "x"),
		taskgraph.NewNode("2", "casual", []string{"1"}, "y"),
	)
	res, err := New().WithLog(log).Execute(context.Background(), "run", g, registry(t, casual))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res.Steps))
	}
	if res.Steps[0].Output != "Error: Unknown agent 'unsupported'" || !errors.Is(res.Steps[0].Err, ErrUnknownAgent) {
		t.Fatalf("unexpected dispatch result %+v", res.Steps[0])
	}
	if !strings.HasPrefix(casual.calls[0], "Context from previous tasks:\nResult from task 1: Error: Unknown agent") {
		t.Fatalf("error output should flow as context: %q", casual.calls[0])
	}
	if res.Failures() != 1 {
		t.Fatalf("expected one failure")
	}
	entries := log.Entries("unsupported")
	if last := entries[len(entries)-1]; last.Level != runlog.LevelError {
		t.Fatalf("expected error entry, got %+v", last)
	}
}

func TestExecuteRegisteredKindMissingWorker(t *testing.T) {
	g := graph(taskgraph.NewNode("1", "browser", nil, "open"))
	res, _ := New().Execute(context.Background(), "run", g, registry(t))
	if !errors.Is(res.Steps[0].Err, ErrUnknownAgent) {
		t.Fatalf("expected dispatch error, got %v", res.Steps[0].Err)
	}
}

func TestExecuteWorkerFailureRecorded(t *testing.T) {
	boom := &stubWorker{kind: taskgraph.Coder, fn: func(context.Context, string) (string, error) {
		return "", errors.New("model offline")
	}}
	chk := &stubCheckpoint{}
	var failed []string
	ex := New(WithCheckpointManager(chk), WithMetrics(Metrics{StepFailed: func(_ context.Context, agent string) { failed = append(failed, agent) }}))
	res, err := ex.Execute(context.Background(), "run", graph(taskgraph.NewNode("1", "coder", nil, "x")), registry(t, boom))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Steps[0].Output != "Error executing task: model offline" {
		t.Fatalf("unexpected output %q", res.Steps[0].Output)
	}
	var execErr *ExecutionError
	if !errors.As(res.Steps[0].Err, &execErr) || execErr.TaskID != "1" {
		t.Fatalf("expected ExecutionError, got %v", res.Steps[0].Err)
	}
	if fmt.Sprint(failed) != "[coder]" {
		t.Fatalf("metrics not called: %v", failed)
	}
	if fmt.Sprint(chk.events) != "[start:run step_start:1:0 step_failure:1:0]" {
		t.Fatalf("unexpected checkpoint events %v", chk.events)
	}
}

func TestExecuteMissingDependencyOutputSkipped(t *testing.T) {
	file := constant(taskgraph.File, "ok")
	search := constant(taskgraph.Search, "late")
	// node 1 needs node 2, which is declared later and so has no output yet
	g := graph(
		taskgraph.NewNode("1", "file", []string{"2"}, "save"),
		taskgraph.NewNode("2", "search", nil, "find"),
	)
	if _, err := New().Execute(context.Background(), "run", g, registry(t, file, search)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if file.calls[0] != "save" {
		t.Fatalf("expected no preamble, got %q", file.calls[0])
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	var n int32
	flaky := &stubWorker{kind: taskgraph.Search, fn: func(context.Context, string) (string, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			return "", errors.New("timeout")
		}
		return "found", nil
	}}
	chk := &stubCheckpoint{}
	ex := New(WithCheckpointManager(chk), WithRetries(2, 0))
	res, err := ex.Execute(context.Background(), "run", graph(taskgraph.NewNode("1", "search", nil, "q")), registry(t, flaky))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Steps[0].Output != "found" {
		t.Fatalf("unexpected output %q", res.Steps[0].Output)
	}
	expected := []string{"start:run", "step_start:1:0", "step_start:1:1", "step_success:1:1"}
	if fmt.Sprint(chk.events) != fmt.Sprint(expected) {
		t.Fatalf("unexpected checkpoint events: %v", chk.events)
	}
}

func TestExecuteCancelledContextMarksRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubWorker{kind: taskgraph.Search, fn: func(context.Context, string) (string, error) {
		cancel()
		return "done", nil
	}}
	second := constant(taskgraph.File, "never")
	g := graph(
		taskgraph.NewNode("1", "search", nil, "a"),
		taskgraph.NewNode("2", "file", nil, "b"),
	)
	res, err := New().Execute(ctx, "run", g, registry(t, first, second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(second.calls) != 0 {
		t.Fatalf("cancelled node should not run")
	}
	if !errors.Is(res.Steps[1].Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Steps[1].Err)
	}
	if !strings.Contains(res.Output, "Task 2 (file): Error executing task: context canceled") {
		t.Fatalf("aggregate should include cancelled node: %q", res.Output)
	}
}

func TestExecuteParallelWaves(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inflight, peak int32
	slow := func(out string) func(context.Context, string) (string, error) {
		return func(context.Context, string) (string, error) {
			cur := atomic.AddInt32(&inflight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return out, nil
		}
	}
	search := &stubWorker{kind: taskgraph.Search, fn: slow("web")}
	browser := &stubWorker{kind: taskgraph.Browser, fn: slow("page")}
	file := constant(taskgraph.File, "saved")
	g := graph(
		taskgraph.NewNode("a", "search", nil, "s"),
		taskgraph.NewNode("b", "browser", nil, "b"),
		taskgraph.NewNode("c", "file", []string{"a", "b"}, "save"),
	)
	log := runlog.New()
	res, err := New(WithParallel(4)).WithLog(log).Execute(context.Background(), "run", g, registry(t, search, browser, file))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Fatalf("expected independent nodes to overlap, peak=%d", peak)
	}
	want := "Context from previous tasks:\nResult from task a: web\nResult from task b: page\n\nsave"
	if file.calls[0] != want {
		t.Fatalf("instruction = %q", file.calls[0])
	}
	if res.Steps[0].ID != "a" || res.Steps[1].ID != "b" || res.Steps[2].ID != "c" {
		t.Fatalf("results must keep declaration order")
	}
}

func TestExecuteParallelRejectsCycle(t *testing.T) {
	g := graph(
		taskgraph.NewNode("a", "search", []string{"b"}, "x"),
		taskgraph.NewNode("b", "search", []string{"a"}, "y"),
	)
	if _, err := New(WithParallel(2)).Execute(context.Background(), "run", g, registry(t)); !errors.Is(err, taskgraph.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDispatchDirect(t *testing.T) {
	casual := constant(taskgraph.Casual, "Hello!")
	log := runlog.New()
	ex := New().WithLog(log)
	out, err := ex.DispatchDirect(context.Background(), taskgraph.Casual, "hi", registry(t, casual))
	if err != nil || out != "Hello!" {
		t.Fatalf("DispatchDirect = %q, %v", out, err)
	}
	if casual.calls[0] != "hi" {
		t.Fatalf("query must be passed verbatim")
	}
	if msgs := messages(log.Entries("casual")); msgs[0] != "Executing simple task" {
		t.Fatalf("unexpected log %v", msgs)
	}

	out, err = ex.DispatchDirect(context.Background(), taskgraph.Browser, "open", registry(t, casual))
	if !errors.Is(err, ErrUnknownAgent) || out != "Error: Unknown agent 'browser'" {
		t.Fatalf("expected dispatch error, got %q %v", out, err)
	}
}

func TestStoreCheckpointManager(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &store.Store{DB: db}
	mgr := NewStoreCheckpointManager(st)
	ctx := context.Background()
	node := taskgraph.NewNode("1", "search", nil, "find")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_steps")).
		WithArgs("run", "1", "search", "find", "", "", store.StepStatusRunning, 0, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := mgr.SaveStepStart(ctx, "run", node, "find", 0); err != nil {
		t.Fatalf("SaveStepStart: %v", err)
	}

	step := StepResult{ID: "1", Agent: "search", Instruction: "find", Output: "Error executing task: boom", Started: time.Now(), Finished: time.Now()}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_steps")).
		WithArgs("run", "1", "search", "find", step.Output, "boom", store.StepStatusFailed, 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := mgr.SaveStepFailure(ctx, "run", step, 1, errors.New("boom")); err != nil {
		t.Fatalf("SaveStepFailure: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
