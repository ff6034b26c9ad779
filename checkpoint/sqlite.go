package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/medmesh/runner"
)

// SQLiteStore persists checkpoints in checkpoints.db so a paused run
// survives a process restart.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore opens (and migrates) the store in dataDir.
func NewSQLiteStore(dataDir string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("checkpoint: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "checkpoints.db"))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
	}

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint: pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status     TEXT NOT NULL,
			data       BLOB NOT NULL,
			saved_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, saved_at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: migration: %w", err)
	}

	return &SQLiteStore{db: db, opts: opts}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, state *runner.RunState) error {
	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", state.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, status, data, saved_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data, saved_at = excluded.saved_at`,
		state.ID, state.SessionID, string(state.Status), data, s.opts.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", state.ID, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*runner.RunState, error) {
	var (
		data    []byte
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, saved_at FROM checkpoints WHERE id = ?`, id).Scan(&data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", id, err)
	}

	state, err := runner.UnmarshalRunState(data)
	if err != nil {
		return nil, err
	}
	if s.opts.expired(time.Unix(0, savedAt)) {
		return state, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	return state, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", id, err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM checkpoints WHERE session_id = ? ORDER BY saved_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checkpoint: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	if s.opts.TTL <= 0 {
		return 0, nil
	}
	cutoff := s.opts.Now().Add(-s.opts.TTL).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checkpoint: prune: %w", err)
	}
	return int(n), nil
}
