package drivers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/echokit/echokit/streamcache"
)

const sqliteBusyTimeout = 5 * time.Second

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stream_stacks (
		user_id TEXT PRIMARY KEY,
		stack TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLite implements streamcache.Store on a local SQLite database, so
// playback state survives process restarts on single-host deployments.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed stream store
// at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, sqliteBusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open stream store: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply stream store schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Get implements streamcache.Store. A missing key yields a nil stack.
func (s *SQLite) Get(ctx context.Context, key string) ([]streamcache.Stream, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT stack FROM stream_stacks WHERE user_id = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stack []streamcache.Stream
	if err := json.Unmarshal([]byte(raw), &stack); err != nil {
		return nil, err
	}
	return stack, nil
}

// Set implements streamcache.Store.
func (s *SQLite) Set(ctx context.Context, key string, stack []streamcache.Stream) error {
	raw, err := json.Marshal(stack)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stream_stacks (user_id, stack, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			stack = excluded.stack,
			updated_at = CURRENT_TIMESTAMP`,
		key, string(raw))
	return err
}

// Delete implements streamcache.Store.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stream_stacks WHERE user_id = ?`, key)
	return err
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
