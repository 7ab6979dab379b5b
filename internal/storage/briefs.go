package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/scoutworks/cscout/internal/types"
)

// InsertBrief inserts a brief. RepoIDs must already be sorted; the store
// verifies rather than fixes, since unsorted input means a caller bug.
func (s *Store) InsertBrief(ctx context.Context, b *types.Brief) error {
	for i := 1; i < len(b.RepoIDs); i++ {
		if b.RepoIDs[i-1] >= b.RepoIDs[i] {
			return fmt.Errorf("brief repo ids not in sorted order: %v", b.RepoIDs)
		}
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("invalid brief status: %s", b.Status)
	}
	repoIDs, err := json.Marshal(b.RepoIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal repo ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO briefs (id, run_id, score, repo_ids_json, content_json, markdown, outreach, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.RunID, b.Score, string(repoIDs), string(b.Content), b.Markdown, b.Outreach, b.Status, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert brief: %w", err)
	}
	return nil
}

// UpdateBriefStatus is the only permitted mutation of a brief.
func (s *Store) UpdateBriefStatus(ctx context.Context, id string, status types.BriefStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid brief status: %s", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE briefs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update brief status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("brief %s not found", id)
	}
	return nil
}

func scanBrief(scan func(dest ...any) error) (*types.Brief, error) {
	var b types.Brief
	var repoIDs, content string
	if err := scan(&b.ID, &b.RunID, &b.Score, &repoIDs, &content, &b.Markdown, &b.Outreach, &b.Status, &b.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repoIDs), &b.RepoIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal repo ids: %w", err)
	}
	b.Content = json.RawMessage(content)
	return &b, nil
}

// GetBrief retrieves a brief by id. Returns nil when not found.
func (s *Store) GetBrief(ctx context.Context, id string) (*types.Brief, error) {
	b, err := scanBrief(s.db.QueryRowContext(ctx, `
		SELECT id, run_id, score, repo_ids_json, content_json, markdown, outreach, status, created_at
		FROM briefs WHERE id = ?
	`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brief: %w", err)
	}
	return b, nil
}

// ListBriefs returns a run's briefs by score descending, then id.
func (s *Store) ListBriefs(ctx context.Context, runID string) ([]*types.Brief, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, score, repo_ids_json, content_json, markdown, outreach, status, created_at
		FROM briefs WHERE run_id = ?
		ORDER BY score DESC, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list briefs: %w", err)
	}
	defer rows.Close()

	var out []*types.Brief
	for rows.Next() {
		b, err := scanBrief(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan brief: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
