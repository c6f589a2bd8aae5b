// Package store persists gateway sessions in SQLite so shards can resume
// after the process restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"personal/discord_gateway/src/gateway"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements gateway.SessionStore.
type SQLiteStore struct {
	db     *sql.DB
	maxAge time.Duration
	logger zerolog.Logger
}

var _ gateway.SessionStore = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithMaxAge makes LoadSession ignore sessions saved longer ago than d.
func WithMaxAge(d time.Duration) Option {
	return func(s *SQLiteStore) { s.maxAge = d }
}

// WithLogger sets the parent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed. ":memory:" is accepted.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "store").Logger()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s.db = db
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("session store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS gateway_sessions (
			shard_id           INTEGER PRIMARY KEY,
			session_id         TEXT NOT NULL,
			sequence           INTEGER NOT NULL,
			resume_url         TEXT NOT NULL,
			heartbeat_interval INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadSession returns the stored session of a shard.
func (s *SQLiteStore) LoadSession(ctx context.Context, shardID int) (gateway.Session, bool, error) {
	var (
		sess      gateway.Session
		heartbeat int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, sequence, resume_url, heartbeat_interval, updated_at
		FROM gateway_sessions WHERE shard_id = ?`, shardID,
	).Scan(&sess.ID, &sess.Sequence, &sess.ResumeURL, &heartbeat, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Session{}, false, nil
	}
	if err != nil {
		return gateway.Session{}, false, fmt.Errorf("loading session of shard %d: %w", shardID, err)
	}
	sess.HeartbeatInterval = time.Duration(heartbeat) * time.Millisecond

	if s.maxAge > 0 {
		if age := time.Since(time.UnixMilli(updatedAt)); age > s.maxAge {
			s.logger.Debug().Int("shard", shardID).Dur("age", age).Msg("ignoring stale session")
			return gateway.Session{}, false, nil
		}
	}
	return sess, true, nil
}

// SaveSession upserts the session of a shard.
func (s *SQLiteStore) SaveSession(ctx context.Context, shardID int, sess gateway.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_sessions (shard_id, session_id, sequence, resume_url, heartbeat_interval, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(shard_id) DO UPDATE SET
			session_id = excluded.session_id,
			sequence = excluded.sequence,
			resume_url = excluded.resume_url,
			heartbeat_interval = excluded.heartbeat_interval,
			updated_at = excluded.updated_at`,
		shardID, sess.ID, sess.Sequence, sess.ResumeURL, sess.HeartbeatInterval.Milliseconds(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving session of shard %d: %w", shardID, err)
	}
	return nil
}

// DeleteSession forgets the session of a shard. Deleting a missing
// session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, shardID int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM gateway_sessions WHERE shard_id = ?`, shardID); err != nil {
		return fmt.Errorf("deleting session of shard %d: %w", shardID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
