package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scoutworks/cscout/internal/types"
)

// GetCacheEntry retrieves a cached response by key. Returns nil on miss.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*types.HTTPCacheEntry, error) {
	var e types.HTTPCacheEntry
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT key, method, url, status, etag, last_modified, body, fetched_at, expires_at
		FROM http_cache WHERE key = ?
	`, key).Scan(&e.Key, &e.Method, &e.URL, &e.Status, &e.ETag, &e.LastModified,
		&e.Body, &e.FetchedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

// UpsertCacheEntry stores a response under its request key.
func (s *Store) UpsertCacheEntry(ctx context.Context, e *types.HTTPCacheEntry) error {
	var expires any
	if e.ExpiresAt != nil {
		expires = *e.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO http_cache (key, method, url, status, etag, last_modified, body, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			status = excluded.status,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			body = excluded.body,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at
	`, e.Key, e.Method, e.URL, e.Status, e.ETag, e.LastModified, e.Body, e.FetchedAt, expires)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// TouchCacheEntry advances fetched_at without touching the stored body.
// This is the 304 Not Modified path.
func (s *Store) TouchCacheEntry(ctx context.Context, key string, fetchedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE http_cache SET fetched_at = ? WHERE key = ?`, fetchedAt, key)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cache entry %s not found", key)
	}
	return nil
}
