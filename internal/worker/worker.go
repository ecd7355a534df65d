package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
)

var (
	// ErrToolUnavailable means the worker cannot reach the capability it wraps.
	ErrToolUnavailable = errors.New("tool unavailable")
	// ErrExecution means the worker ran and failed.
	ErrExecution = errors.New("execution failed")
	// ErrWorkerMissing is returned by NewRegistry when a required kind is not provisioned.
	ErrWorkerMissing = errors.New("required worker missing")
)

// ContextPreamble opens an instruction that carries outputs of earlier
// tasks. The node's own task text follows the last blank line.
const ContextPreamble = "Context from previous tasks:\n"

// SplitInstruction separates the dependency context from the task text.
// preamble is empty when the instruction has no dependency context.
func SplitInstruction(instruction string) (preamble, task string) {
	if !strings.HasPrefix(instruction, ContextPreamble) {
		return "", instruction
	}
	i := strings.LastIndex(instruction, "\n\n")
	if i < 0 {
		return instruction, ""
	}
	return instruction[:i], instruction[i+2:]
}

// Worker executes instructions for one category.
type Worker interface {
	Kind() taskgraph.WorkerKind
	// Description is shown to the planner; dispatch never reads it.
	Description() string
	Execute(ctx context.Context, instruction string) (string, error)
}

// Unavailable builds an ErrToolUnavailable error for kind.
func Unavailable(kind taskgraph.WorkerKind, reason string) error {
	return fmt.Errorf("%s: %w: %s", kind, ErrToolUnavailable, reason)
}

// ExecutionFailed wraps err as an ErrExecution error for kind.
func ExecutionFailed(kind taskgraph.WorkerKind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrToolUnavailable) || errors.Is(err, ErrExecution) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", kind, ErrExecution, err)
}

// Registry maps worker kinds to provisioned workers.
type Registry struct {
	mu      sync.RWMutex
	workers map[taskgraph.WorkerKind]Worker
}

// NewRegistry registers workers and checks that every required kind is present.
func NewRegistry(workers []Worker, required ...taskgraph.WorkerKind) (*Registry, error) {
	r := &Registry{workers: make(map[taskgraph.WorkerKind]Worker)}
	for _, w := range workers {
		if w == nil {
			continue
		}
		r.Register(w)
	}
	for _, k := range required {
		if !r.Available(k) {
			return nil, fmt.Errorf("%w: %s", ErrWorkerMissing, k)
		}
	}
	return r, nil
}

// Register adds or replaces the worker for its kind.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.Kind()] = w
}

// Get returns the worker for kind.
func (r *Registry) Get(kind taskgraph.WorkerKind) (Worker, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[kind]
	return w, ok
}

// Available reports whether kind is provisioned.
func (r *Registry) Available(kind taskgraph.WorkerKind) bool {
	_, ok := r.Get(kind)
	return ok
}

// Kinds lists provisioned kinds in enum order.
func (r *Registry) Kinds() []taskgraph.WorkerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]taskgraph.WorkerKind, 0, len(r.workers))
	for k := range r.workers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Describe renders one capability line per provisioned worker.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, k := range r.Kinds() {
		w, _ := r.Get(k)
		fmt.Fprintf(&b, "- %s: %s\n", k, w.Description())
	}
	return b.String()
}
