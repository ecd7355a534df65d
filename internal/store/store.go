package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// Step statuses.
const (
	StepStatusRunning   = "running"
	StepStatusSucceeded = "succeeded"
	StepStatusFailed    = "failed"
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 20

// ErrRunIDRequired is returned when a record has no run id.
var ErrRunIDRequired = errors.New("run_id required")

// Run is one persisted request.
type Run struct {
	ID         string          `json:"id"`
	Query      string          `json:"query"`
	Route      string          `json:"route"`
	Status     string          `json:"status"`
	Output     string          `json:"output"`
	Plan       json.RawMessage `json:"plan,omitempty"`
	Logs       json.RawMessage `json:"logs,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Steps      []Step          `json:"steps,omitempty"`
}

// Step is one executed plan node.
type Step struct {
	RunID       string    `json:"run_id"`
	StepID      string    `json:"step_id"`
	Agent       string    `json:"agent"`
	Instruction string    `json:"instruction"`
	Output      string    `json:"output"`
	Error       string    `json:"error,omitempty"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// SaveRun inserts or replaces the run row. Steps are written separately.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return ErrRunIDRequired
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, query, route, status, output, plan_json, logs_json, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  route = EXCLUDED.route,
  status = EXCLUDED.status,
  output = EXCLUDED.output,
  plan_json = EXCLUDED.plan_json,
  logs_json = EXCLUDED.logs_json,
  finished_at = EXCLUDED.finished_at;
`, r.ID, r.Query, r.Route, r.Status, r.Output, nullJSON(r.Plan), nullJSON(r.Logs), r.StartedAt, r.FinishedAt)
	return err
}

// GetRun loads a run with its steps. The bool is false when no run matches.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	if id == "" {
		return Run{}, false, ErrRunIDRequired
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id, query, route, status, output, plan_json, logs_json, started_at, finished_at
FROM runs
WHERE id=$1
`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	steps, err := s.ListSteps(ctx, id)
	if err != nil {
		return Run{}, false, err
	}
	r.Steps = steps
	return r, true, nil
}

// ListRuns returns the most recent runs without their steps or logs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, query, route, status, output, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Query, &r.Route, &r.Status, &r.Output, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveStep inserts or updates the row for (run_id, step_id).
func (s *Store) SaveStep(ctx context.Context, st Step) error {
	if st.RunID == "" {
		return ErrRunIDRequired
	}
	var finished interface{}
	if !st.FinishedAt.IsZero() {
		finished = st.FinishedAt
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO run_steps (run_id, step_id, agent, instruction, output, error, status, attempt, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id, step_id) DO UPDATE SET
  instruction = EXCLUDED.instruction,
  output = EXCLUDED.output,
  error = EXCLUDED.error,
  status = EXCLUDED.status,
  attempt = EXCLUDED.attempt,
  finished_at = EXCLUDED.finished_at;
`, st.RunID, st.StepID, st.Agent, st.Instruction, st.Output, st.Error, st.Status, st.Attempt, st.StartedAt, finished)
	return err
}

// ListSteps returns the steps of a run in start order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT run_id, step_id, agent, instruction, output, error, status, attempt, started_at, finished_at FROM run_steps WHERE run_id=$1 ORDER BY started_at ASC, step_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Step
	for rows.Next() {
		var (
			st       Step
			finished sql.NullTime
		)
		if err := rows.Scan(&st.RunID, &st.StepID, &st.Agent, &st.Instruction, &st.Output, &st.Error, &st.Status, &st.Attempt, &st.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			st.FinishedAt = finished.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r          Run
		plan, logs []byte
		finished   sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Query, &r.Route, &r.Status, &r.Output, &plan, &logs, &r.StartedAt, &finished); err != nil {
		return Run{}, err
	}
	if len(plan) > 0 {
		r.Plan = append(json.RawMessage{}, plan...)
	}
	if len(logs) > 0 {
		r.Logs = append(json.RawMessage{}, logs...)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func nullJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
