package index

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Index is the local FTS5-backed document index. It is always sqlite,
// regardless of the queue backend; the index file sits next to the staged
// artifacts. Writes are append-oriented and tolerate replays from the
// at-least-once queue.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS docs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL,
		stable_id TEXT NOT NULL DEFAULT '',
		provenance TEXT NOT NULL DEFAULT '',
		sha256 TEXT NOT NULL DEFAULT '',
		theme TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		summary TEXT,
		doc_type TEXT NOT NULL DEFAULT '',
		inferred_date TEXT NOT NULL DEFAULT '',
		breach_category TEXT NOT NULL DEFAULT '',
		reliability TEXT NOT NULL DEFAULT '',
		key_quote TEXT NOT NULL DEFAULT '',
		privileged INTEGER NOT NULL DEFAULT 0,
		entities_json TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(
		content,
		theme,
		file_path
	)`,
	`CREATE TABLE IF NOT EXISTS geo_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id INTEGER NOT NULL,
		task_id INTEGER NOT NULL DEFAULT 0,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		theme TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS geo_suggestions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id INTEGER NOT NULL,
		task_id INTEGER NOT NULL DEFAULT 0,
		label TEXT NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_points_doc ON geo_points (doc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_suggestions_doc ON geo_suggestions (doc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_geo_suggestions_status ON geo_suggestions (status)`,
	`CREATE TABLE IF NOT EXISTS doc_embeddings (
		doc_id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		vector TEXT NOT NULL
	)`,
}

// Open opens (creating if needed) the index database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		logger.Error("failed to open index database", "path", path, "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(1)

	ix := &Index{db: db, logger: logger.With("component", "index"), now: time.Now}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return ix, nil
}

// Close releases the database handle.
func (ix *Index) Close() error { return ix.db.Close() }
