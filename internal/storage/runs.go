package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutworks/cscout/internal/types"
)

// CreateRun inserts the run row. Runs are immutable after creation.
func (s *Store) CreateRun(ctx context.Context, run *types.Run) error {
	args, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal run args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, args_json, config_hash, git_commit)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, string(args), run.ConfigHash, run.GitCommit)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id. Returns nil when not found.
func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var run types.Run
	var argsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, args_json, config_hash, git_commit
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.CreatedAt, &argsJSON, &run.ConfigHash, &run.GitCommit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := json.Unmarshal([]byte(argsJSON), &run.Args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run args: %w", err)
	}
	return &run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*types.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, args_json, config_hash, git_commit
		FROM runs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		var run types.Run
		var argsJSON string
		if err := rows.Scan(&run.ID, &run.CreatedAt, &argsJSON, &run.ConfigHash, &run.GitCommit); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &run.Args); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run args: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// CreateStep inserts a step row at phase start and returns its id.
func (s *Store) CreateStep(ctx context.Context, runID, name string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, name, started_at) VALUES (?, ?, ?)
	`, runID, name, startedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert step: %w", err)
	}
	return res.LastInsertId()
}

// FinishStep finalizes a step exactly once.
func (s *Store) FinishStep(ctx context.Context, stepID int64, status types.StepStatus, finishedAt time.Time, stats map[string]any) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid step status: %s", status)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal step stats: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET finished_at = ?, status = ?, stats_json = ?
		WHERE id = ? AND finished_at IS NULL
	`, finishedAt, status, string(statsJSON), stepID)
	if err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("step %d not found or already finished", stepID)
	}
	return nil
}

// ListSteps returns a run's steps in start order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*types.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, name, started_at, finished_at, status, stats_json
		FROM steps WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*types.Step
	for rows.Next() {
		var st types.Step
		var finishedAt sql.NullTime
		var status sql.NullString
		var statsJSON string
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &st.StartedAt, &finishedAt, &status, &statsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		if status.Valid {
			st.Status = types.StepStatus(status.String)
		}
		if err := json.Unmarshal([]byte(statsJSON), &st.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step stats: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// InsertAudit appends one immutable audit row. Data must already be
// redacted by the caller (the orchestrator owns that).
func (s *Store) InsertAudit(ctx context.Context, ev *types.AuditEvent) error {
	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal audit data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (run_id, created_at, level, scope, event, message, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.CreatedAt, ev.Level, ev.Scope, ev.Event, ev.Message, string(dataJSON))
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListAudit returns a run's audit rows in write order.
func (s *Store) ListAudit(ctx context.Context, runID string) ([]*types.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, level, scope, event, message, data_json
		FROM audit_log WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*types.AuditEvent
	for rows.Next() {
		var ev types.AuditEvent
		var dataJSON string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.CreatedAt, &ev.Level, &ev.Scope, &ev.Event, &ev.Message, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit data: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CountAuditByEvent returns how many rows a run has for a given event name.
func (s *Store) CountAuditByEvent(ctx context.Context, runID, event string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE run_id = ? AND event = ?`,
		runID, event).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}
