package executor

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/agentrouter/internal/store"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
)

type stepStore interface {
	SaveStep(ctx context.Context, step store.Step) error
}

// StoreCheckpointManager writes one run_steps row per node and updates it
// as the node progresses.
type StoreCheckpointManager struct {
	store stepStore
}

// NewStoreCheckpointManager constructs a CheckpointManager backed by the run store.
func NewStoreCheckpointManager(st stepStore) *StoreCheckpointManager {
	return &StoreCheckpointManager{store: st}
}

func (m *StoreCheckpointManager) StartRun(ctx context.Context, runID string, g taskgraph.Graph) error {
	// rows are created lazily by SaveStepStart
	return nil
}

func (m *StoreCheckpointManager) SaveStepStart(ctx context.Context, runID string, node taskgraph.Node, instruction string, attempt int) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveStep(ctx, store.Step{
		RunID:       runID,
		StepID:      node.ID,
		Agent:       node.Agent,
		Instruction: instruction,
		Status:      store.StepStatusRunning,
		Attempt:     attempt,
		StartedAt:   time.Now().UTC(),
	})
}

func (m *StoreCheckpointManager) SaveStepSuccess(ctx context.Context, runID string, step StepResult, attempt int) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveStep(ctx, toStoreStep(runID, step, store.StepStatusSucceeded, attempt, nil))
}

func (m *StoreCheckpointManager) SaveStepFailure(ctx context.Context, runID string, step StepResult, attempt int, err error) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveStep(ctx, toStoreStep(runID, step, store.StepStatusFailed, attempt, err))
}

func toStoreStep(runID string, step StepResult, status string, attempt int, err error) store.Step {
	s := store.Step{
		RunID:       runID,
		StepID:      step.ID,
		Agent:       step.Agent,
		Instruction: step.Instruction,
		Output:      step.Output,
		Status:      status,
		Attempt:     attempt,
		StartedAt:   step.Started,
		FinishedAt:  step.Finished,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

var _ CheckpointManager = (*StoreCheckpointManager)(nil)
