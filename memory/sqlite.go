package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/medmesh/core"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// DataDir holds memory.db; created if missing.
	DataDir string
	// Limit bounds search results (default DefaultSearchLimit).
	Limit int
}

// SQLiteStore is a durable MemoryStore backed by SQLite with an FTS5 index.
// Records are append-only; search ranks by FTS5 bm25 within one namespace.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// NewSQLiteStore opens (and migrates) the store in cfg.DataDir.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(cfg.DataDir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	s := &SQLiteStore{db: db, limit: limit}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace  TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='id'
		);

		CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END;
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Search implements core.MemoryStore.
func (s *SQLiteStore) Search(ctx context.Context, query string, ns core.Namespace) ([]string, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.content
		FROM memories_fts fts
		JOIN memories m ON m.id = fts.rowid
		WHERE memories_fts MATCH ? AND m.namespace = ?
		ORDER BY fts.rank, m.id
		LIMIT ?`, ftsQuery, string(ns), s.limit)
	if err != nil {
		return nil, core.NewMemoryBackendError("search", ns, err)
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, core.NewMemoryBackendError("search", ns, err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewMemoryBackendError("search", ns, err)
	}
	return out, nil
}

// Add implements core.MemoryStore.
func (s *SQLiteStore) Add(ctx context.Context, ns core.Namespace, ex core.Exchange) error {
	text := ex.Text()
	if text == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories (namespace, content) VALUES (?, ?)`, string(ns), text); err != nil {
		return core.NewMemoryBackendError("add", ns, err)
	}
	return nil
}

// sanitizeFTS reduces query to its letter/digit words, quotes each so user
// text cannot inject FTS5 syntax, and ORs them so partial matches still rank.
func sanitizeFTS(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		key := strings.ToLower(w)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " OR ")
}
