package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one append-only schema script, keyed by name. New scripts go
// at the end of the list; applied scripts are never edited.
type Migration struct {
	Name string
	SQL  string
}

var migrations = []Migration{
	{
		Name: "0001_initial_schema",
		SQL: `
CREATE TABLE runs (
	id          TEXT PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	args_json   TEXT NOT NULL DEFAULT '{}',
	config_hash TEXT NOT NULL DEFAULT '',
	git_commit  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE steps (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status      TEXT,
	stats_json  TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX idx_steps_run ON steps(run_id);

CREATE TABLE audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	created_at TIMESTAMP NOT NULL,
	level      TEXT NOT NULL,
	scope      TEXT NOT NULL DEFAULT '',
	event      TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	data_json  TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX idx_audit_run ON audit_log(run_id);
CREATE INDEX idx_audit_event ON audit_log(event);

CREATE TABLE github_queries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	pass        INTEGER NOT NULL CHECK (pass IN (1, 2)),
	query       TEXT NOT NULL,
	params_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX idx_queries_run ON github_queries(run_id);

CREATE TABLE repos (
	full_name     TEXT PRIMARY KEY,
	stars         INTEGER NOT NULL DEFAULT 0,
	forks         INTEGER NOT NULL DEFAULT 0,
	topics_json   TEXT NOT NULL DEFAULT '[]',
	language      TEXT NOT NULL DEFAULT '',
	license       TEXT NOT NULL DEFAULT '',
	pushed_at     TIMESTAMP,
	archived      INTEGER NOT NULL DEFAULT 0,
	fork          INTEGER NOT NULL DEFAULT 0,
	last_seen_run TEXT NOT NULL REFERENCES runs(id)
);

CREATE TABLE readmes (
	repo_full_name TEXT PRIMARY KEY REFERENCES repos(full_name),
	content        BLOB NOT NULL,
	sha256         TEXT NOT NULL,
	fetched_at     TIMESTAMP NOT NULL,
	etag           TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE repo_query_links (
	query_id       INTEGER NOT NULL REFERENCES github_queries(id),
	repo_full_name TEXT NOT NULL REFERENCES repos(full_name),
	pass           INTEGER NOT NULL,
	rank           INTEGER NOT NULL,
	PRIMARY KEY (query_id, repo_full_name)
);

CREATE TABLE analyses (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	repo_full_name  TEXT NOT NULL REFERENCES repos(full_name),
	model           TEXT NOT NULL,
	prompt_id       TEXT NOT NULL,
	prompt_version  TEXT NOT NULL,
	input_json      TEXT NOT NULL DEFAULT '{}',
	output_json     TEXT NOT NULL,
	llm_scores_json TEXT NOT NULL,
	final_score     REAL NOT NULL,
	reasons_json    TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL,
	UNIQUE (run_id, repo_full_name)
);
CREATE INDEX idx_analyses_run_score ON analyses(run_id, final_score DESC);

CREATE TABLE keywords (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	repo_full_name TEXT REFERENCES repos(full_name),
	term           TEXT NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('primary', 'secondary', 'search_query')),
	weight         REAL NOT NULL DEFAULT 1.0
);
CREATE INDEX idx_keywords_run ON keywords(run_id);

CREATE TABLE briefs (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	score         REAL NOT NULL,
	repo_ids_json TEXT NOT NULL,
	content_json  TEXT NOT NULL,
	markdown      TEXT NOT NULL DEFAULT '',
	outreach      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL CHECK (status IN ('draft', 'shortlisted', 'approved', 'rejected', 'rejected_by_threshold')),
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX idx_briefs_run ON briefs(run_id);

CREATE TABLE http_cache (
	key           TEXT PRIMARY KEY,
	method        TEXT NOT NULL,
	url           TEXT NOT NULL,
	status        INTEGER NOT NULL,
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	body          BLOB,
	fetched_at    TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP
);

CREATE TABLE rate_limit_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	created_at  TIMESTAMP NOT NULL,
	resource    TEXT NOT NULL,
	limit_count INTEGER NOT NULL,
	remaining   INTEGER NOT NULL,
	reset_at    TIMESTAMP NOT NULL
);
`,
	},
}

// Migrate applies pending migrations in order, recording each by name in
// schema_migrations. Re-running against a fully migrated store is a no-op.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(m.Name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// MigrationStatus returns the names of applied and pending migrations.
func (s *Store) MigrationStatus() (applied, pending []string, err error) {
	for _, m := range migrations {
		ok, err := s.migrationApplied(m.Name)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			applied = append(applied, m.Name)
		} else {
			pending = append(pending, m.Name)
		}
	}
	return applied, pending, nil
}

func (s *Store) migrationApplied(name string) (bool, error) {
	var found string
	err := s.db.QueryRow(`SELECT name FROM schema_migrations WHERE name = ?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		m.Name, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
