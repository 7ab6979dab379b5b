package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/scoutworks/cscout/internal/types"
)

// InsertAnalysis inserts one analysis row. The UNIQUE(run_id,
// repo_full_name) constraint enforces at-most-once analysis per repo per
// run; callers should check HasAnalysis first and treat a violation here as
// a programmer error.
func (s *Store) InsertAnalysis(ctx context.Context, a *types.Analysis) (int64, error) {
	input, err := json.Marshal(a.Input)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal analysis input: %w", err)
	}
	scores, err := json.Marshal(a.Scores)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal llm scores: %w", err)
	}
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal reasons: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (run_id, repo_full_name, model, prompt_id, prompt_version,
			input_json, output_json, llm_scores_json, final_score, reasons_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.RunID, a.RepoFullName, a.Model, a.PromptID, a.PromptVersion,
		string(input), string(a.Output), string(scores), a.FinalScore, string(reasons), a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis: %w", err)
	}
	return res.LastInsertId()
}

// HasAnalysis reports whether the (repo, run) pair was already analyzed.
func (s *Store) HasAnalysis(ctx context.Context, runID, repoFullName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM analyses WHERE run_id = ? AND repo_full_name = ?`,
		runID, repoFullName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check analysis: %w", err)
	}
	return true, nil
}

func scanAnalysis(scan func(dest ...any) error) (*types.Analysis, error) {
	var a types.Analysis
	var input, output, scores, reasons string
	if err := scan(&a.ID, &a.RunID, &a.RepoFullName, &a.Model, &a.PromptID, &a.PromptVersion,
		&input, &output, &scores, &a.FinalScore, &reasons, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(input), &a.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis input: %w", err)
	}
	a.Output = json.RawMessage(output)
	if err := json.Unmarshal([]byte(scores), &a.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal llm scores: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &a.Reasons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
	}
	return &a, nil
}

const analysisColumns = `id, run_id, repo_full_name, model, prompt_id, prompt_version,
	input_json, output_json, llm_scores_json, final_score, reasons_json, created_at`

// ListAnalysesByRun returns a run's analyses ordered by repo full name,
// which is the deterministic order grouping and replay iterate in.
func (s *Store) ListAnalysesByRun(ctx context.Context, runID string) ([]*types.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+`
		FROM analyses WHERE run_id = ? ORDER BY repo_full_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var out []*types.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TopAnalysesByScore returns a run's top-k analyses by final score, ties
// broken by repo full name for determinism.
func (s *Store) TopAnalysesByScore(ctx context.Context, runID string, k int) ([]*types.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+`
		FROM analyses WHERE run_id = ?
		ORDER BY final_score DESC, repo_full_name
		LIMIT ?
	`, runID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to list top analyses: %w", err)
	}
	defer rows.Close()

	var out []*types.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TopAnalysesFromOtherRuns returns the best-scoring analysis per repo
// across every run except excludeRun, skipping repos already analyzed in
// excludeRun, ordered by final score descending then repo name. Feeds
// historical injection in the brief engine.
func (s *Store) TopAnalysesFromOtherRuns(ctx context.Context, excludeRun string, limit int) ([]*types.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analysisColumns+`
		FROM analyses a
		WHERE a.run_id != ?
		  AND a.repo_full_name NOT IN (SELECT repo_full_name FROM analyses WHERE run_id = ?)
		  AND a.final_score = (
			SELECT MAX(b.final_score) FROM analyses b
			WHERE b.repo_full_name = a.repo_full_name AND b.run_id != ?
		  )
		GROUP BY a.repo_full_name
		ORDER BY a.final_score DESC, a.repo_full_name
		LIMIT ?
	`, excludeRun, excludeRun, excludeRun, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list historical analyses: %w", err)
	}
	defer rows.Close()

	var out []*types.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertKeyword inserts a keyword row, replacing any previous row with the
// same id (ids are content hashes, so replacement is idempotent).
func (s *Store) UpsertKeyword(ctx context.Context, k *types.Keyword) error {
	var repo any
	if k.RepoFullName != "" {
		repo = k.RepoFullName
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (id, run_id, repo_full_name, term, kind, weight)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET weight = excluded.weight
	`, k.ID, k.RunID, repo, k.Term, k.Kind, k.Weight)
	if err != nil {
		return fmt.Errorf("failed to upsert keyword: %w", err)
	}
	return nil
}

// ListRepoKeywords returns a run's per-repo keyword rows (aggregates
// excluded), ordered by repo then term for deterministic folding.
func (s *Store) ListRepoKeywords(ctx context.Context, runID string) ([]*types.Keyword, error) {
	return s.listKeywords(ctx, runID, false)
}

// ListAggregateKeywords returns the run-aggregate rows (null repo).
func (s *Store) ListAggregateKeywords(ctx context.Context, runID string) ([]*types.Keyword, error) {
	return s.listKeywords(ctx, runID, true)
}

func (s *Store) listKeywords(ctx context.Context, runID string, aggregate bool) ([]*types.Keyword, error) {
	cond := "repo_full_name IS NOT NULL"
	order := "repo_full_name, kind, term"
	if aggregate {
		cond = "repo_full_name IS NULL"
		order = "weight DESC, term"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, repo_full_name, term, kind, weight
		FROM keywords WHERE run_id = ? AND `+cond+`
		ORDER BY `+order, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var out []*types.Keyword
	for rows.Next() {
		var k types.Keyword
		var repo sql.NullString
		if err := rows.Scan(&k.ID, &k.RunID, &repo, &k.Term, &k.Kind, &k.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		if repo.Valid {
			k.RepoFullName = repo.String
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// DeleteAggregateKeywords clears a run's aggregate rows so re-aggregation
// replaces rather than accumulates.
func (s *Store) DeleteAggregateKeywords(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM keywords WHERE run_id = ? AND repo_full_name IS NULL`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete aggregate keywords: %w", err)
	}
	return nil
}
