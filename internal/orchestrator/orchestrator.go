package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/internal/executor"
	"github.com/mohammad-safakhou/agentrouter/internal/planner"
	"github.com/mohammad-safakhou/agentrouter/internal/router"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusRunning   = "running"
)

// RunResult is everything one request produced.
type RunResult struct {
	ID         string                `json:"id"`
	Query      string                `json:"query"`
	Route      router.Decision       `json:"route"`
	Output     string                `json:"output"`
	Plan       *taskgraph.Graph      `json:"plan,omitempty"`
	PlanError  string                `json:"plan_error,omitempty"`
	Steps      []executor.StepResult `json:"steps,omitempty"`
	Logs       runlog.Export         `json:"logs"`
	Status     string                `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Recorder persists runs. It is called once when a run starts and once when
// it finishes.
type Recorder interface {
	RecordRun(ctx context.Context, r *RunResult) error
}

// Indexer makes finished runs searchable.
type Indexer interface {
	IndexRun(ctx context.Context, r *RunResult) error
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	RouteDecided func(ctx context.Context, target string)
	RunFinished  func(ctx context.Context, route, status string)
}

// Deps are the shared components a session is built from.
type Deps struct {
	Router   *router.Router
	Planner  *planner.Planner
	Executor *executor.Executor
	Registry *worker.Registry
	Logger   *zap.Logger
	Recorder Recorder
	Indexer  Indexer
	Metrics  Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogSink mirrors every run log entry of every session to fn.
func WithLogSink(fn runlog.Sink) Option {
	return func(o *Orchestrator) { o.sink = fn }
}

// WithIDGenerator replaces uuid run ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// Orchestrator answers requests. Each request runs in its own Session so
// concurrent callers never share run state.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
	sink   runlog.Sink
	newID  func() string
}

// New builds an orchestrator from explicit dependencies.
func New(deps Deps, opts ...Option) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		deps:   deps,
		logger: logger.Named("orchestrator"),
		tracer: otel.Tracer("agentrouter/orchestrator"),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry exposes the provisioned workers.
func (o *Orchestrator) Registry() *worker.Registry { return o.deps.Registry }

// NewSession returns a session with a fresh run log.
func (o *Orchestrator) NewSession() *Session {
	var opts []runlog.Option
	if o.sink != nil {
		opts = append(opts, runlog.WithSink(o.sink))
	}
	log := runlog.New(opts...)
	return &Session{
		o:        o,
		log:      log,
		router:   o.deps.Router.WithLog(log),
		planner:  o.deps.Planner.WithLog(log),
		executor: o.deps.Executor.WithLog(log),
	}
}

// Run handles query in a new session.
func (o *Orchestrator) Run(ctx context.Context, query string) (*RunResult, error) {
	return o.NewSession().Run(ctx, query)
}

// Route returns only the routing decision and the router's log.
func (o *Orchestrator) Route(ctx context.Context, query string) (router.Decision, []runlog.Entry, error) {
	s := o.NewSession()
	d, err := s.router.Route(ctx, query)
	if err != nil {
		return router.Decision{}, nil, err
	}
	return d, s.log.Entries(runlog.RouterActor), nil
}

// Session holds the per-request run log and the component views bound to it.
// A Session may serve several sequential requests (the CLI loop does this)
// but must not be used concurrently.
type Session struct {
	o        *Orchestrator
	log      *runlog.Log
	router   *router.Router
	planner  *planner.Planner
	executor *executor.Executor
}

// Log returns the session's run log.
func (s *Session) Log() *runlog.Log { return s.log }

// Run routes query and either dispatches it directly or plans and executes
// it. Worker and planning failures are reported in the result; the error is
// only set when the context is cancelled before routing completes.
func (s *Session) Run(ctx context.Context, query string) (*RunResult, error) {
	o := s.o
	s.log.Clear()

	res := &RunResult{ID: o.newID(), Query: query, Status: StatusRunning, StartedAt: time.Now().UTC()}
	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(attribute.String("run.id", res.ID)))
	defer span.End()
	logger := o.logger.With(zap.String("run_id", res.ID))

	decision, err := s.router.Route(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("route: %w", err)
	}
	res.Route = decision
	span.SetAttributes(attribute.String("route.target", decision.Target))
	if o.deps.Metrics.RouteDecided != nil {
		o.deps.Metrics.RouteDecided(ctx, decision.Target)
	}
	s.record(ctx, logger, res)

	if decision.Planned() {
		s.runPlanned(ctx, logger, res)
	} else {
		s.runDirect(ctx, res)
	}

	res.FinishedAt = time.Now().UTC()
	res.Logs = s.log.Export()
	span.SetAttributes(attribute.String("run.status", res.Status))
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, "run failed")
	}
	if o.deps.Metrics.RunFinished != nil {
		o.deps.Metrics.RunFinished(ctx, decision.Target, res.Status)
	}

	// persistence outlives a cancelled request
	persistCtx := context.WithoutCancel(ctx)
	s.record(persistCtx, logger, res)
	if o.deps.Indexer != nil {
		if err := o.deps.Indexer.IndexRun(persistCtx, res); err != nil {
			logger.Warn("index run failed", zap.Error(err))
		}
	}
	logger.Info("run finished",
		zap.String("route", decision.Target),
		zap.String("status", res.Status),
		zap.Int("steps", len(res.Steps)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (s *Session) runDirect(ctx context.Context, res *RunResult) {
	out, err := s.executor.DispatchDirect(ctx, res.Route.Kind(), res.Query, s.o.deps.Registry)
	res.Output = out
	res.Status = StatusSucceeded
	if err != nil {
		res.Status = StatusFailed
	}
}

func (s *Session) runPlanned(ctx context.Context, logger *zap.Logger, res *RunResult) {
	planCtx, span := s.o.tracer.Start(ctx, "orchestrator.plan")
	g, _, err := s.planner.Plan(planCtx, res.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("plan.tasks", g.Len()))
	}
	span.End()

	if err != nil {
		res.PlanError = err.Error()
		res.Output = fmt.Sprintf("Failed to create plan: %v", planFailureReason(err))
		res.Status = StatusFailed
		logger.Info("planning failed", zap.Error(err))
		return
	}
	res.Plan = &g

	out, err := s.executor.Execute(ctx, res.ID, g, s.o.deps.Registry)
	if err != nil {
		res.Output = fmt.Sprintf("Failed to execute plan: %v", err)
		res.Status = StatusFailed
		return
	}
	res.Output = out.Output
	res.Steps = out.Steps
	switch failures := out.Failures(); {
	case failures == 0:
		res.Status = StatusSucceeded
	case failures < len(out.Steps):
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}
}

func planFailureReason(err error) error {
	var perr *planner.PlanParseError
	if errors.As(err, &perr) && perr.Err != nil {
		return perr.Err
	}
	return err
}

func (s *Session) record(ctx context.Context, logger *zap.Logger, res *RunResult) {
	if s.o.deps.Recorder == nil {
		return
	}
	if err := s.o.deps.Recorder.RecordRun(ctx, res); err != nil {
		logger.Warn("record run failed", zap.Error(err))
	}
}
