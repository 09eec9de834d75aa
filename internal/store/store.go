package store

import (
	"context"
	stdsql "database/sql"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	_ "modernc.org/sqlite"

	"github.com/fieldarchive/ingestor/internal/common"
)

// Store owns the shared database handle for the task queue, job tracking,
// and the file manifest. The dialect drives placeholder generation in the
// ent sql builder so the same queries run on sqlite and postgres.
type Store struct {
	db      *stdsql.DB
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool // nil for sqlite
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the database named by cfg.DSN and applies schema
// migrations. A postgres:// DSN selects pgx; anything else is treated as a
// sqlite file path.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger, now: time.Now}

	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			logger.Error("failed to parse postgres dsn", "error", err)
			return nil, err
		}
		pc.MaxConns = cfg.MaxConns
		pc.MaxConnLifetime = cfg.MaxConnLifetime
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		pc.ConnConfig.RuntimeParams["application_name"] = "ingestor"

		dialTimeout := cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = 10 * time.Second
		}
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)
		s.dialect = dialect.Postgres
	} else {
		db, err := stdsql.Open("sqlite", cfg.DSN+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
		if err != nil {
			logger.Error("failed to open sqlite database", "path", cfg.DSN, "error", err)
			return nil, err
		}
		// A single writer avoids SQLITE_BUSY under concurrent claims.
		db.SetMaxOpenConns(1)
		s.db = db
		s.dialect = dialect.SQLite
	}

	s.drv = entsql.OpenDB(s.dialect, s.db)
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("store opened", "dialect", s.dialect)
	return s, nil
}

// Close releases the database connections.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// HealthCheck pings the database to catch DSN issues early.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.db.PingContext(ctx)
}

// Tasks returns the task queue facade.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

// Jobs returns the job tracking facade.
func (s *Store) Jobs() *JobStore { return &JobStore{s: s} }

// Manifest returns the content-hash manifest facade.
func (s *Store) Manifest() *ManifestStore { return &ManifestStore{s: s} }

// builder returns a dialect-aware sql builder.
func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

func (s *Store) isPostgres() bool { return s.dialect == dialect.Postgres }

// exec runs a statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertReturningID runs an insert and returns the new row id. Postgres has
// no LastInsertId, so that dialect goes through RETURNING.
func (s *Store) insertReturningID(ctx context.Context, ins *entsql.InsertBuilder) (int64, error) {
	if s.isPostgres() {
		ins.Returning("id")
		query, args := ins.Query()
		var id int64
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	query, args := ins.Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
