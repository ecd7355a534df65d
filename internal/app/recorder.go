package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/agentrouter/internal/history"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/internal/store"
)

type runSaver interface {
	SaveRun(ctx context.Context, r store.Run) error
}

// StoreRecorder persists run rows. Step rows are written by the executor's
// checkpoint manager.
type StoreRecorder struct {
	store runSaver
}

func NewStoreRecorder(st runSaver) *StoreRecorder { return &StoreRecorder{store: st} }

func (r *StoreRecorder) RecordRun(ctx context.Context, res *orchestrator.RunResult) error {
	run, err := ToStoreRun(res)
	if err != nil {
		return err
	}
	return r.store.SaveRun(ctx, run)
}

// ToStoreRun converts a run result to its persisted row.
func ToStoreRun(res *orchestrator.RunResult) (store.Run, error) {
	run := store.Run{
		ID:        res.ID,
		Query:     res.Query,
		Route:     res.Route.Target,
		Status:    res.Status,
		Output:    res.Output,
		StartedAt: res.StartedAt,
	}
	if res.Plan != nil {
		b, err := json.Marshal(res.Plan)
		if err != nil {
			return store.Run{}, fmt.Errorf("encode plan: %w", err)
		}
		run.Plan = b
	}
	if res.Status != orchestrator.StatusRunning {
		b, err := json.Marshal(res.Logs)
		if err != nil {
			return store.Run{}, fmt.Errorf("encode logs: %w", err)
		}
		run.Logs = b
		if !res.FinishedAt.IsZero() {
			t := res.FinishedAt
			run.FinishedAt = &t
		}
	}
	return run, nil
}

// HistoryIndexer adds finished runs to the search index.
type HistoryIndexer struct {
	index *history.Index
}

func NewHistoryIndexer(idx *history.Index) *HistoryIndexer { return &HistoryIndexer{index: idx} }

func (h *HistoryIndexer) IndexRun(ctx context.Context, res *orchestrator.RunResult) error {
	agents := make([]string, 0, len(res.Steps)+1)
	seen := map[string]bool{}
	if !res.Route.Planned() {
		agents = append(agents, res.Route.Target)
		seen[res.Route.Target] = true
	}
	for _, s := range res.Steps {
		if !seen[s.Agent] {
			seen[s.Agent] = true
			agents = append(agents, s.Agent)
		}
	}
	return h.index.Index(history.NewDocument(res.ID, res.Query, res.Route.Target, res.Status, res.Output, agents, res.StartedAt))
}
