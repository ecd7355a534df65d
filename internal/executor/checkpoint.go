package executor

import (
	"context"

	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
)

// CheckpointManager records step progress so runs can be inspected after
// the fact. Failures are logged and never abort a run.
type CheckpointManager interface {
	StartRun(ctx context.Context, runID string, g taskgraph.Graph) error
	SaveStepStart(ctx context.Context, runID string, node taskgraph.Node, instruction string, attempt int) error
	SaveStepSuccess(ctx context.Context, runID string, step StepResult, attempt int) error
	SaveStepFailure(ctx context.Context, runID string, step StepResult, attempt int, err error) error
}

// NoopCheckpointManager records nothing.
type NoopCheckpointManager struct{}

// NewNoopCheckpointManager returns a checkpoint manager that does nothing.
func NewNoopCheckpointManager() *NoopCheckpointManager { return &NoopCheckpointManager{} }

func (NoopCheckpointManager) StartRun(context.Context, string, taskgraph.Graph) error { return nil }
func (NoopCheckpointManager) SaveStepStart(context.Context, string, taskgraph.Node, string, int) error {
	return nil
}
func (NoopCheckpointManager) SaveStepSuccess(context.Context, string, StepResult, int) error {
	return nil
}
func (NoopCheckpointManager) SaveStepFailure(context.Context, string, StepResult, int, error) error {
	return nil
}
