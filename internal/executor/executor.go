package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
	"github.com/mohammad-safakhou/agentrouter/utils"
)

// Workers resolves a worker for a kind.
type Workers interface {
	Get(kind taskgraph.WorkerKind) (worker.Worker, bool)
}

// ErrUnknownAgent is matched by DispatchError.
var ErrUnknownAgent = errors.New("unknown agent")

// DispatchError means a node named an agent with no provisioned worker.
type DispatchError struct {
	Agent string
}

func (e *DispatchError) Error() string { return fmt.Sprintf("Unknown agent '%s'", e.Agent) }

func (e *DispatchError) Is(target error) bool { return target == ErrUnknownAgent }

// ExecutionError wraps a worker failure for one node.
type ExecutionError struct {
	TaskID string
	Agent  string
	Err    error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// StepResult is the outcome of one node.
type StepResult struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	Instruction string    `json:"instruction"`
	Output      string    `json:"output"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	Started     time.Time `json:"started_at"`
	Finished    time.Time `json:"finished_at"`
}

// Failed reports whether the step produced an error.
func (s StepResult) Failed() bool { return s.Err != nil }

// Result is the aggregated outcome of a graph.
type Result struct {
	Output  string            `json:"output"`
	Steps   []StepResult      `json:"steps"`
	Context map[string]string `json:"-"`
}

// Failures counts failed steps.
func (r Result) Failures() int {
	n := 0
	for _, s := range r.Steps {
		if s.Failed() {
			n++
		}
	}
	return n
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	StepDuration func(ctx context.Context, agent string, d time.Duration)
	StepFailed   func(ctx context.Context, agent string)
	RetryCounter func(ctx context.Context, agent string, attempt int)
}

// Executor runs task graphs against a worker set.
type Executor struct {
	checkpoints CheckpointManager
	metrics     Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	log         *runlog.Log
	parallel    int
	stepTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointManager sets the checkpoint manager implementation.
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(ex *Executor) {
		if mgr != nil {
			ex.checkpoints = mgr
		}
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) { ex.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(ex *Executor) {
		if l != nil {
			ex.logger = l.Named("executor")
		}
	}
}

// WithParallel runs independent nodes concurrently, at most n at a time.
// n <= 1 keeps declaration order execution.
func WithParallel(n int) Option {
	return func(ex *Executor) { ex.parallel = n }
}

// WithStepTimeout bounds each worker call.
func WithStepTimeout(d time.Duration) Option {
	return func(ex *Executor) { ex.stepTimeout = d }
}

// WithRetries retries failed worker calls up to max extra attempts.
func WithRetries(max int, delay time.Duration) Option {
	return func(ex *Executor) {
		if max < 0 {
			max = 0
		}
		ex.maxRetries = max
		ex.retryDelay = delay
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{
		checkpoints: NewNoopCheckpointManager(),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("agentrouter/executor"),
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// WithLog returns a copy of e writing to log.
func (e *Executor) WithLog(log *runlog.Log) *Executor {
	cp := *e
	cp.log = log
	return &cp
}

// Parallel reports whether concurrent wave execution is enabled.
func (e *Executor) Parallel() bool { return e.parallel > 1 }

// Execute runs every node of g and aggregates the results. Node failures are
// recorded in their step and never stop the run. The returned error is only
// set when the graph itself cannot be scheduled.
func (e *Executor) Execute(ctx context.Context, runID string, g taskgraph.Graph, workers Workers) (Result, error) {
	if err := e.checkpoints.StartRun(ctx, runID, g); err != nil {
		e.logger.Warn("checkpoint start failed", zap.String("run_id", runID), zap.Error(err))
	}

	var (
		steps []StepResult
		err   error
	)
	if e.Parallel() {
		steps, err = e.executeWaves(ctx, runID, g, workers)
	} else {
		steps = e.executeSequential(ctx, runID, g, workers)
	}
	if err != nil {
		return Result{}, err
	}

	runCtx := make(map[string]string, len(steps))
	for _, s := range steps {
		runCtx[s.ID] = s.Output
	}
	return Result{Output: e.aggregate(steps), Steps: steps, Context: runCtx}, nil
}

func (e *Executor) executeSequential(ctx context.Context, runID string, g taskgraph.Graph, workers Workers) []StepResult {
	runCtx := make(map[string]string, g.Len())
	steps := make([]StepResult, 0, g.Len())
	for _, node := range g.Nodes {
		step := e.runNode(ctx, runID, node, runCtx, workers)
		runCtx[node.ID] = step.Output
		steps = append(steps, step)
	}
	return steps
}

// executeWaves runs each dependency layer concurrently. A node only sees
// outputs of earlier layers; results keep declaration order.
func (e *Executor) executeWaves(ctx context.Context, runID string, g taskgraph.Graph, workers Workers) ([]StepResult, error) {
	waves, err := taskgraph.TopologicalWaves(g)
	if err != nil {
		return nil, err
	}
	runCtx := make(map[string]string, g.Len())
	steps := make([]StepResult, g.Len())
	for _, wave := range waves {
		snapshot := make(map[string]string, len(runCtx))
		for k, v := range runCtx {
			snapshot[k] = v
		}
		var eg errgroup.Group
		eg.SetLimit(e.parallel)
		for _, idx := range wave {
			idx := idx
			eg.Go(func() error {
				steps[idx] = e.runNode(ctx, runID, g.Nodes[idx], snapshot, workers)
				return nil
			})
		}
		_ = eg.Wait()
		for _, idx := range wave {
			runCtx[steps[idx].ID] = steps[idx].Output
		}
	}
	return steps, nil
}

func (e *Executor) runNode(ctx context.Context, runID string, node taskgraph.Node, runCtx map[string]string, workers Workers) StepResult {
	actor := node.Agent
	e.logTo(actor, fmt.Sprintf("Starting task: %s...", utils.Truncate(node.Task, 100)), runlog.LevelStart)

	instruction, gathered := BuildInstruction(node, runCtx)
	step := StepResult{ID: node.ID, Agent: node.Agent, Instruction: instruction, Started: time.Now()}

	w, ok := resolve(node, workers)
	if !ok {
		derr := &DispatchError{Agent: node.Agent}
		step.Output = "Error: " + derr.Error()
		step.Err = derr
		step.Error = derr.Error()
		step.Finished = time.Now()
		e.logTo(actor, step.Output, runlog.LevelError)
		e.stepFailed(ctx, node.Agent)
		if err := e.checkpoints.SaveStepFailure(ctx, runID, step, 0, derr); err != nil {
			e.logger.Warn("checkpoint failure save failed", zap.String("run_id", runID), zap.Error(err))
		}
		return step
	}

	if len(node.Need) > 0 {
		e.logTo(actor, fmt.Sprintf("Gathering context from tasks: [%s]", strings.Join(node.Need, ", ")), runlog.LevelInfo)
		if len(gathered) > 0 {
			e.logTo(actor, "Context prepared", runlog.LevelInfo)
		}
	}
	if err := ctx.Err(); err != nil {
		return e.finishFailed(ctx, runID, step, 0, &ExecutionError{TaskID: node.ID, Agent: node.Agent, Err: err})
	}

	ctx, span := e.tracer.Start(ctx, "executor.step", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("step.id", node.ID),
		attribute.String("step.agent", node.Agent),
	))
	defer span.End()

	e.logTo(actor, "Executing task", runlog.LevelAction)
	attempt := 0
	for {
		if err := e.checkpoints.SaveStepStart(ctx, runID, node, instruction, attempt); err != nil {
			e.logger.Warn("checkpoint start save failed", zap.String("run_id", runID), zap.Error(err))
		}
		out, err := e.call(ctx, w, instruction)
		if err == nil {
			step.Output = out
			step.Finished = time.Now()
			e.logTo(actor, "Task execution complete", runlog.LevelSuccess)
			if e.metrics.StepDuration != nil {
				e.metrics.StepDuration(ctx, node.Agent, step.Finished.Sub(step.Started))
			}
			if err := e.checkpoints.SaveStepSuccess(ctx, runID, step, attempt); err != nil {
				e.logger.Warn("checkpoint success save failed", zap.String("run_id", runID), zap.Error(err))
			}
			return step
		}
		if attempt >= e.maxRetries || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return e.finishFailed(ctx, runID, step, attempt, &ExecutionError{TaskID: node.ID, Agent: node.Agent, Err: err})
		}
		attempt++
		if e.metrics.RetryCounter != nil {
			e.metrics.RetryCounter(ctx, node.Agent, attempt)
		}
		e.logger.Debug("retrying step", zap.String("step", node.ID), zap.Int("attempt", attempt), zap.Error(err))
		if sleepCtx(ctx, e.retryDelay) {
			return e.finishFailed(ctx, runID, step, attempt, &ExecutionError{TaskID: node.ID, Agent: node.Agent, Err: ctx.Err()})
		}
	}
}

func (e *Executor) finishFailed(ctx context.Context, runID string, step StepResult, attempt int, err error) StepResult {
	step.Output = fmt.Sprintf("Error executing task: %v", err)
	step.Err = err
	step.Error = err.Error()
	step.Finished = time.Now()
	e.logTo(step.Agent, step.Output, runlog.LevelError)
	e.stepFailed(ctx, step.Agent)
	e.logger.Info("step failed", zap.String("run_id", runID), zap.String("step", step.ID), zap.String("agent", step.Agent), zap.Error(err))
	if cerr := e.checkpoints.SaveStepFailure(context.WithoutCancel(ctx), runID, step, attempt, err); cerr != nil {
		e.logger.Warn("checkpoint failure save failed", zap.String("run_id", runID), zap.Error(cerr))
	}
	return step
}

func (e *Executor) call(ctx context.Context, w worker.Worker, instruction string) (string, error) {
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	return w.Execute(ctx, instruction)
}

// DispatchDirect hands query to a single worker without a plan or context
// preamble. On failure the returned string is the error text shown to users.
func (e *Executor) DispatchDirect(ctx context.Context, kind taskgraph.WorkerKind, query string, workers Workers) (string, error) {
	actor := kind.String()
	e.logTo(actor, "Executing simple task", runlog.LevelStart)
	w, ok := resolve(taskgraph.Node{Kind: kind}, workers)
	if !ok {
		derr := &DispatchError{Agent: actor}
		msg := "Error: " + derr.Error()
		e.logTo(actor, msg, runlog.LevelError)
		e.stepFailed(ctx, actor)
		return msg, derr
	}
	start := time.Now()
	out, err := e.call(ctx, w, query)
	if err != nil {
		msg := fmt.Sprintf("Error executing task: %v", err)
		e.logTo(actor, msg, runlog.LevelError)
		e.stepFailed(ctx, actor)
		return msg, &ExecutionError{Agent: actor, Err: err}
	}
	e.logTo(actor, "Task execution complete", runlog.LevelSuccess)
	if e.metrics.StepDuration != nil {
		e.metrics.StepDuration(ctx, actor, time.Since(start))
	}
	return out, nil
}

// BuildInstruction prefixes node.Task with the outputs of its dependencies
// found in runCtx. Dependencies without an output are skipped.
func BuildInstruction(node taskgraph.Node, runCtx map[string]string) (string, []string) {
	var lines, gathered []string
	for _, id := range node.Need {
		out, ok := runCtx[id]
		if !ok {
			continue
		}
		gathered = append(gathered, id)
		lines = append(lines, fmt.Sprintf("Result from task %s: %s", id, out))
	}
	if len(lines) == 0 {
		return node.Task, nil
	}
	return worker.ContextPreamble + strings.Join(lines, "\n") + "\n\n" + node.Task, gathered
}

// Aggregate joins step outputs in order.
func Aggregate(steps []StepResult) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, fmt.Sprintf("Task %s (%s): %s", s.ID, s.Agent, s.Output))
	}
	return strings.Join(parts, "\n\n")
}

func (e *Executor) aggregate(steps []StepResult) string {
	e.logTo(runlog.SummaryActor, "Creating final summary", runlog.LevelAction)
	out := Aggregate(steps)
	e.logTo(runlog.SummaryActor, "Summary complete", runlog.LevelSuccess)
	return out
}

func resolve(node taskgraph.Node, workers Workers) (worker.Worker, bool) {
	if node.Kind == taskgraph.Unknown || workers == nil {
		return nil, false
	}
	return workers.Get(node.Kind)
}

func (e *Executor) stepFailed(ctx context.Context, agent string) {
	if e.metrics.StepFailed != nil {
		e.metrics.StepFailed(ctx, agent)
	}
}

func (e *Executor) logTo(actor, message, level string) {
	if e.log != nil {
		e.log.LogTo(actor, message, level)
	}
}

// sleepCtx waits for d and reports whether ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() != nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
