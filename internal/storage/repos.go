package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/scoutworks/cscout/internal/types"
)

// InsertQuery records one search issued during a run and returns its id.
func (s *Store) InsertQuery(ctx context.Context, q *types.GitHubQuery) (int64, error) {
	params, err := json.Marshal(q.Params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal query params: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO github_queries (run_id, pass, query, params_json)
		VALUES (?, ?, ?, ?)
	`, q.RunID, q.Pass, q.Query, string(params))
	if err != nil {
		return 0, fmt.Errorf("failed to insert query: %w", err)
	}
	return res.LastInsertId()
}

// ListQueries returns a run's queries in issue order.
func (s *Store) ListQueries(ctx context.Context, runID string) ([]*types.GitHubQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, pass, query, params_json
		FROM github_queries WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var out []*types.GitHubQuery
	for rows.Next() {
		var q types.GitHubQuery
		var params string
		if err := rows.Scan(&q.ID, &q.RunID, &q.Pass, &q.Query, &params); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &q.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query params: %w", err)
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

// UpsertRepo inserts or refreshes a repository by canonical full name.
func (s *Store) UpsertRepo(ctx context.Context, r *types.Repo) error {
	topics, err := json.Marshal(r.Topics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repos (full_name, stars, forks, topics_json, language, license, pushed_at, archived, fork, last_seen_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (full_name) DO UPDATE SET
			stars = excluded.stars,
			forks = excluded.forks,
			topics_json = excluded.topics_json,
			language = excluded.language,
			license = excluded.license,
			pushed_at = excluded.pushed_at,
			archived = excluded.archived,
			fork = excluded.fork,
			last_seen_run = excluded.last_seen_run
	`, r.FullName, r.Stars, r.Forks, string(topics), r.Language, r.License,
		r.PushedAt, r.Archived, r.Fork, r.LastSeenRun)
	if err != nil {
		return fmt.Errorf("failed to upsert repo %s: %w", r.FullName, err)
	}
	return nil
}

// GetRepo retrieves a repository by full name. Returns nil when not found.
func (s *Store) GetRepo(ctx context.Context, fullName string) (*types.Repo, error) {
	var r types.Repo
	var topics string
	var pushedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT full_name, stars, forks, topics_json, language, license, pushed_at, archived, fork, last_seen_run
		FROM repos WHERE full_name = ?
	`, fullName).Scan(&r.FullName, &r.Stars, &r.Forks, &topics, &r.Language,
		&r.License, &pushedAt, &r.Archived, &r.Fork, &r.LastSeenRun)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo: %w", err)
	}
	if pushedAt.Valid {
		r.PushedAt = pushedAt.Time
	}
	if err := json.Unmarshal([]byte(topics), &r.Topics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topics: %w", err)
	}
	return &r, nil
}

// GetRepos fetches the named repos, keyed by full name.
func (s *Store) GetRepos(ctx context.Context, fullNames []string) (map[string]*types.Repo, error) {
	out := make(map[string]*types.Repo, len(fullNames))
	for _, name := range fullNames {
		r, err := s.GetRepo(ctx, name)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out[name] = r
		}
	}
	return out, nil
}

// CountReposDuplicates reports full_name values appearing more than once.
// The primary key makes this structurally impossible; the check backs the
// pass-2 uniqueness test.
func (s *Store) CountReposDuplicates(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT full_name FROM repos GROUP BY full_name HAVING COUNT(*) > 1
		)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count repo duplicates: %w", err)
	}
	return n, nil
}

// LinkRepoQuery records that a query returned a repo at a given rank.
func (s *Store) LinkRepoQuery(ctx context.Context, queryID int64, repoFullName string, pass, rank int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_query_links (query_id, repo_full_name, pass, rank)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (query_id, repo_full_name) DO NOTHING
	`, queryID, repoFullName, pass, rank)
	if err != nil {
		return fmt.Errorf("failed to link repo to query: %w", err)
	}
	return nil
}

// UpsertReadme replaces the repo's current README blob. Older rows are
// discarded; exactly one row per repo survives.
func (s *Store) UpsertReadme(ctx context.Context, rm *types.Readme) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM readmes WHERE repo_full_name = ?`, rm.RepoFullName); err != nil {
			return fmt.Errorf("failed to delete old readme: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO readmes (repo_full_name, content, sha256, fetched_at, etag, source_url)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rm.RepoFullName, rm.Content, rm.SHA256, rm.FetchedAt, rm.ETag, rm.SourceURL); err != nil {
			return fmt.Errorf("failed to insert readme: %w", err)
		}
		return nil
	})
}

// GetReadme retrieves the current README for a repo. Returns nil when the
// repo has none.
func (s *Store) GetReadme(ctx context.Context, repoFullName string) (*types.Readme, error) {
	var rm types.Readme
	err := s.db.QueryRowContext(ctx, `
		SELECT repo_full_name, content, sha256, fetched_at, etag, source_url
		FROM readmes WHERE repo_full_name = ?
	`, repoFullName).Scan(&rm.RepoFullName, &rm.Content, &rm.SHA256, &rm.FetchedAt, &rm.ETag, &rm.SourceURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get readme: %w", err)
	}
	return &rm, nil
}

// InsertRateLimitSnapshot persists an upstream rate-limit observation.
func (s *Store) InsertRateLimitSnapshot(ctx context.Context, snap *types.RateLimitSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_snapshots (run_id, created_at, resource, limit_count, remaining, reset_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.RunID, snap.CreatedAt, snap.Resource, snap.Limit, snap.Remaining, snap.ResetAt)
	if err != nil {
		return fmt.Errorf("failed to insert rate limit snapshot: %w", err)
	}
	return nil
}
