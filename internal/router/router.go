package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/agentrouter/internal/classifier"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"go.uber.org/zap"
)

// TargetPlanner is the decision target for requests that need a plan.
const TargetPlanner = "planner"

// Complexity labels.
const (
	ComplexityHigh = "HIGH"
	ComplexityLow  = "LOW"
)

// DefaultLowConfidenceOverride re-labels LOW predictions below this score as HIGH.
const DefaultLowConfidenceOverride = 0.3

// Predictor is the classifier surface the router needs.
type Predictor interface {
	Predict(ctx context.Context, text string, topK int) ([]classifier.Prediction, error)
}

// Availability reports whether a worker kind is provisioned.
type Availability func(kind taskgraph.WorkerKind) bool

// Decision is the outcome of Route.
type Decision struct {
	Target               string  `json:"target"`
	Complexity           string  `json:"complexity"`
	ComplexityConfidence float64 `json:"complexity_confidence"`
	TaskType             string  `json:"task_type,omitempty"`
	Reason               string  `json:"reason"`
	Substituted          bool    `json:"substituted,omitempty"`
}

// Planned reports whether the request goes to the planner.
func (d Decision) Planned() bool { return d.Target == TargetPlanner }

// Kind returns the worker kind for a direct decision.
func (d Decision) Kind() taskgraph.WorkerKind {
	k, _ := taskgraph.ParseWorkerKind(d.Target)
	return k
}

type keywordSet struct {
	kind     taskgraph.WorkerKind
	label    string
	keywords []string
}

// keywordPriority is checked in order; the first match wins.
var keywordPriority = []keywordSet{
	{taskgraph.Browser, "browser", []string{"navigate", "click", "fill form", "website", "webpage"}},
	{taskgraph.Coder, "coding", []string{"code", "script", "function", "debug", "program"}},
	{taskgraph.File, "file operation", []string{"file", "folder", "directory", "read", "write", "save"}},
	{taskgraph.Search, "web search", []string{"search", "find online", "web", "look up"}},
}

// KeywordCategory returns the first category whose keywords occur in query.
func KeywordCategory(query string) (taskgraph.WorkerKind, bool) {
	set, ok := matchKeywords(query)
	return set.kind, ok
}

func matchKeywords(query string) (keywordSet, bool) {
	q := strings.ToLower(query)
	for _, set := range keywordPriority {
		for _, kw := range set.keywords {
			if strings.Contains(q, kw) {
				return set, true
			}
		}
	}
	return keywordSet{}, false
}

// Option configures a Router.
type Option func(*Router)

// WithLowConfidenceOverride changes the LOW→HIGH override threshold.
func WithLowConfidenceOverride(v float64) Option {
	return func(r *Router) { r.lowOverride = v }
}

// WithTopK sets the neighbour count passed to both classifiers.
func WithTopK(k int) Option {
	return func(r *Router) { r.topK = k }
}

// Router decides between direct dispatch and planning.
type Router struct {
	complexity  Predictor
	tasks       Predictor
	available   Availability
	log         *runlog.Log
	logger      *zap.Logger
	lowOverride float64
	topK        int
}

// New builds a Router. available may be nil, meaning every kind is provisioned.
func New(complexity, tasks Predictor, available Availability, log *runlog.Log, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if log == nil {
		log = runlog.New()
	}
	r := &Router{
		complexity:  complexity,
		tasks:       tasks,
		available:   available,
		log:         log,
		logger:      logger.Named("router"),
		lowOverride: DefaultLowConfidenceOverride,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLog returns a copy of r writing to log. Classifiers are shared.
func (r *Router) WithLog(log *runlog.Log) *Router {
	cp := *r
	cp.log = log
	return &cp
}

func (r *Router) note(message, level string) {
	r.log.Log(message, level)
}

// Route classifies query. Classification failures fall back to conservative
// defaults and are logged; the error is only non-nil for a cancelled context.
func (r *Router) Route(ctx context.Context, query string) (Decision, error) {
	r.log.ClearActor(runlog.RouterActor)
	r.log.StartActor(runlog.RouterActor)
	r.note(fmt.Sprintf("Routing query: '%s...'", truncate(query, 100)), runlog.LevelStart)

	complexity, confidence, err := r.estimateComplexity(ctx, query)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Complexity: complexity, ComplexityConfidence: confidence}

	if complexity == ComplexityHigh {
		d.Target = TargetPlanner
		d.Reason = "complex request"
		r.note("Complex query detected → Routing to Planner Agent", runlog.LevelDecision)
		r.logger.Debug("route decided", zap.String("target", d.Target), zap.Float64("confidence", confidence))
		return d, nil
	}

	kind, reason, err := r.classifyTask(ctx, query)
	if err != nil {
		return Decision{}, err
	}
	d.TaskType = kind.String()
	d.Reason = reason
	if r.available != nil && !r.available(kind) {
		r.note(fmt.Sprintf("%s worker unavailable, substituting casual", titleCase(kind.String())), runlog.LevelWarning)
		kind = taskgraph.Casual
		d.Substituted = true
	}
	d.Target = kind.String()
	r.note(fmt.Sprintf("Simple query → Routing to %s Agent", titleCase(d.Target)), runlog.LevelDecision)
	r.logger.Debug("route decided", zap.String("target", d.Target), zap.String("task_type", d.TaskType), zap.Bool("substituted", d.Substituted))
	return d, nil
}

func (r *Router) estimateComplexity(ctx context.Context, query string) (string, float64, error) {
	r.note(fmt.Sprintf("Estimating complexity for: '%s...'", truncate(query, 50)), runlog.LevelAnalyze)

	preds, err := r.complexity.Predict(ctx, query, r.topK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		r.logger.Warn("complexity classification failed", zap.Error(err))
		r.note(fmt.Sprintf("Complexity classification failed (%v), treating as HIGH complexity", err), runlog.LevelWarning)
		return ComplexityHigh, 0, nil
	}
	if len(preds) == 0 {
		r.note("No complexity prediction, treating as HIGH complexity", runlog.LevelWarning)
		return ComplexityHigh, 0, nil
	}

	label, confidence := strings.ToUpper(preds[0].Label), preds[0].Score
	r.note(fmt.Sprintf("Complexity: %s (confidence: %.2f)", label, confidence), runlog.LevelResult)
	if label == ComplexityLow && confidence < r.lowOverride {
		r.note("Low confidence, treating as HIGH complexity", runlog.LevelWarning)
		return ComplexityHigh, confidence, nil
	}
	if label != ComplexityLow && label != ComplexityHigh {
		r.note(fmt.Sprintf("Unexpected complexity label %q, treating as HIGH complexity", label), runlog.LevelWarning)
		return ComplexityHigh, confidence, nil
	}
	return label, confidence, nil
}

func (r *Router) classifyTask(ctx context.Context, query string) (taskgraph.WorkerKind, string, error) {
	r.note(fmt.Sprintf("Classifying task type for: '%s...'", truncate(query, 50)), runlog.LevelAnalyze)

	if set, ok := matchKeywords(query); ok {
		r.note(fmt.Sprintf("Detected %s keywords", set.label), runlog.LevelInfo)
		return set.kind, "keyword match", nil
	}

	if r.tasks != nil {
		preds, err := r.tasks.Predict(ctx, query, r.topK)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return taskgraph.Unknown, "", ctxErr
			}
			r.logger.Warn("task classification failed", zap.Error(err))
			r.note(fmt.Sprintf("Task classification failed (%v), defaulting to casual", err), runlog.LevelWarning)
			return taskgraph.Casual, "classifier unavailable", nil
		case len(preds) > 0:
			r.note(fmt.Sprintf("Classifier prediction: %s (confidence: %.2f)", preds[0].Label, preds[0].Score), runlog.LevelResult)
			if kind, ok := taskgraph.ParseWorkerKind(preds[0].Label); ok {
				return kind, "classifier", nil
			}
			r.note(fmt.Sprintf("Unknown task label %q", preds[0].Label), runlog.LevelWarning)
		}
	}

	r.note("No clear task type, defaulting to casual", runlog.LevelInfo)
	return taskgraph.Casual, "default", nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
