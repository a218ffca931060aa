package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SQLIdempotencyStore is a durable replay cache that survives process
// restarts. Like the command store it runs unchanged against Postgres and
// SQLite: $N placeholders, TEXT timestamps, ON CONFLICT upserts.
type SQLIdempotencyStore struct {
	db    *sql.DB
	ttl   time.Duration
	clock func() time.Time
}

// NewSQLIdempotencyStore wraps db. Call Init before first use.
func NewSQLIdempotencyStore(db *sql.DB, ttl time.Duration) *SQLIdempotencyStore {
	return &SQLIdempotencyStore{db: db, ttl: ttl, clock: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (s *SQLIdempotencyStore) WithClock(clock func() time.Time) *SQLIdempotencyStore {
	s.clock = clock
	return s
}

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	cached_at TEXT NOT NULL
);
`

// Init creates the schema if missing.
func (s *SQLIdempotencyStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, idempotencySchema)
	if err != nil {
		return fmt.Errorf("init idempotency store: %w", err)
	}
	return nil
}

// Check returns the cached response for key when present and unexpired.
// Expired rows are deleted on read.
func (s *SQLIdempotencyStore) Check(ctx context.Context, key string) (*cachedResponse, bool) {
	var (
		statusCode int
		body       string
		cachedAt   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status_code, body, cached_at FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&statusCode, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	at, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil || s.clock().Sub(at) > s.ttl {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	// Only 2xx responses are cached and every success body on this surface is JSON.
	hdr := make(http.Header)
	hdr.Set("Content-Type", "application/json")
	return &cachedResponse{StatusCode: statusCode, Headers: hdr, Body: []byte(body), CachedAt: at}, true
}

// Set stores a response under key. Failures are logged, not returned:
// replay is best effort and must never block the response itself.
func (s *SQLIdempotencyStore) Set(ctx context.Context, key string, statusCode int, _ http.Header, body []byte) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, status_code, body, cached_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, body = $3, cached_at = $4`,
		key, statusCode, string(body), s.clock().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		slog.Warn("idempotency: store key failed", "key", key, "error", err)
	}
}

// Cleanup deletes rows older than the TTL. Check enforces the TTL on read,
// so this is garbage collection only.
func (s *SQLIdempotencyStore) Cleanup(ctx context.Context) error {
	cutoff := s.clock().Add(-s.ttl).UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE cached_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return nil
}
