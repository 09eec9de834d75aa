package store

import "context"

// Schema DDL is intentionally dialect-specific: sqlite is the default
// single-host store, postgres is the scale-up option. Timestamps are stored
// as unix seconds so rows are portable between the two.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		theme TEXT NOT NULL DEFAULT '',
		intent_json TEXT NOT NULL DEFAULT '',
		job_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		leased_at INTEGER NOT NULL DEFAULT 0,
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT NOT NULL DEFAULT '',
		callback_url TEXT NOT NULL DEFAULT '',
		callback_attempts INTEGER NOT NULL DEFAULT 0,
		last_callback_status TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_manifest (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sha256 TEXT NOT NULL,
		file_path TEXT NOT NULL,
		original_name TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		theme TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(sha256, tenant_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_manifest_sha ON file_manifest(sha256)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		file_path TEXT NOT NULL,
		theme TEXT NOT NULL DEFAULT '',
		intent_json TEXT NOT NULL DEFAULT '',
		job_id BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		leased_at BIGINT NOT NULL DEFAULT 0,
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT NOT NULL DEFAULT '',
		callback_url TEXT NOT NULL DEFAULT '',
		callback_attempts INTEGER NOT NULL DEFAULT 0,
		last_callback_status TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_manifest (
		id BIGSERIAL PRIMARY KEY,
		sha256 TEXT NOT NULL,
		file_path TEXT NOT NULL,
		original_name TEXT NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		theme TEXT NOT NULL DEFAULT '',
		tenant_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE(sha256, tenant_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_manifest_sha ON file_manifest(sha256)`,
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.isPostgres() {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("schema migration failed", "error", err)
			return err
		}
	}
	return nil
}
