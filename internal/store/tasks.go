package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"
	"unicode/utf8"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/fieldarchive/ingestor/constants"
)

// TaskStore implements the durable lease queue over the tasks table.
//
// Claiming is a conditional UPDATE guarded by status='pending', so at most
// one caller wins a row even when many workers poll the same store. A worker
// that dies mid-task leaves its lease to expire; LeaseOne recycles expired
// leases back to pending before retrying the claim. This is at-least-once
// delivery: downstream writes must be safe to repeat.
type TaskStore struct {
	s *Store
}

var taskColumns = []string{
	"id", "file_path", "theme", "intent_json", "job_id", "status",
	"attempts", "last_error", "leased_at", "tenant_id", "created_at", "updated_at",
}

// maxClaimAttempts bounds the claim/recycle loop under pathological
// contention. Recursion is deliberately avoided here.
const maxClaimAttempts = 8

// maxErrorLen caps last_error so operator triage text stays bounded.
const maxErrorLen = 2000

// EnqueueParams describes one task submission.
type EnqueueParams struct {
	FilePath string
	Theme    string
	JobID    int64
	TenantID string
	Intent   *Intent
}

// Enqueue inserts a pending task and returns its id.
func (ts *TaskStore) Enqueue(ctx context.Context, p EnqueueParams) (int64, error) {
	if p.FilePath == "" {
		return 0, errors.New("enqueue: file_path is required")
	}
	if err := p.Intent.Validate(); err != nil {
		return 0, err
	}
	intentJSON, err := p.Intent.marshal()
	if err != nil {
		return 0, err
	}
	now := ts.s.now().Unix()

	ins := ts.s.builder().Insert("tasks").
		Columns("file_path", "theme", "intent_json", "job_id", "tenant_id", "status", "created_at", "updated_at").
		Values(p.FilePath, p.Theme, intentJSON, p.JobID, p.TenantID, string(constants.TaskStatusPending), now, now)

	id, err := ts.s.insertReturningID(ctx, ins)
	if err != nil {
		ts.s.logger.Error("task enqueue failed", "file_path", p.FilePath, "error", err)
		return 0, err
	}
	ts.s.logger.Info("task enqueued", "task_id", id, "file_path", p.FilePath, "theme", p.Theme, "job_id", p.JobID)
	return id, nil
}

// LeaseParams controls a single claim attempt.
type LeaseParams struct {
	VisibilityTimeout time.Duration
	TenantID          string
	AllowUnscoped     bool
}

// LeaseOne atomically claims the oldest pending task matching the tenant
// filter. Returns (nil, nil) when no work is available. When the pending set
// is empty it recycles at most one expired lease per loop iteration and
// retries, up to maxClaimAttempts.
func (ts *TaskStore) LeaseOne(ctx context.Context, p LeaseParams) (*Task, error) {
	if p.VisibilityTimeout <= 0 {
		p.VisibilityTimeout = 5 * time.Minute
	}
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		now := ts.s.now().Unix()

		id, ok, err := ts.oldestPending(ctx, p)
		if err != nil {
			return nil, err
		}
		if ok {
			upd := ts.s.builder().Update("tasks").
				Set("status", string(constants.TaskStatusLeased)).
				Set("leased_at", now).
				Set("updated_at", now).
				Add("attempts", 1).
				Where(entsql.And(
					entsql.EQ("id", id),
					entsql.EQ("status", string(constants.TaskStatusPending)),
				))
			query, args := upd.Query()
			n, err := ts.s.exec(ctx, query, args)
			if err != nil {
				return nil, err
			}
			if n == 1 {
				task, err := ts.Get(ctx, id, "")
				if err != nil {
					return nil, err
				}
				ts.s.logger.Info("task leased", "task_id", id, "attempts", task.Attempts)
				return task, nil
			}
			// Another worker won the row between select and update.
			continue
		}

		recycled, err := ts.recycleExpired(ctx, p, now)
		if err != nil {
			return nil, err
		}
		if !recycled {
			return nil, nil
		}
	}
	return nil, nil
}

func (ts *TaskStore) tenantPred(p LeaseParams) *entsql.Predicate {
	if p.TenantID == "" {
		return nil
	}
	if p.AllowUnscoped {
		return entsql.Or(entsql.EQ("tenant_id", p.TenantID), entsql.EQ("tenant_id", ""))
	}
	return entsql.EQ("tenant_id", p.TenantID)
}

func (ts *TaskStore) oldestPending(ctx context.Context, p LeaseParams) (int64, bool, error) {
	preds := []*entsql.Predicate{entsql.EQ("status", string(constants.TaskStatusPending))}
	if tp := ts.tenantPred(p); tp != nil {
		preds = append(preds, tp)
	}
	sel := ts.s.builder().Select("id").From(entsql.Table("tasks")).
		Where(entsql.And(preds...)).
		OrderBy("created_at", "id").
		Limit(1)
	query, args := sel.Query()

	var id int64
	err := ts.s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// recycleExpired flips exactly one expired lease back to pending.
func (ts *TaskStore) recycleExpired(ctx context.Context, p LeaseParams, now int64) (bool, error) {
	cutoff := now - int64(p.VisibilityTimeout.Seconds())
	preds := []*entsql.Predicate{
		entsql.EQ("status", string(constants.TaskStatusLeased)),
		entsql.LT("leased_at", cutoff),
	}
	if tp := ts.tenantPred(p); tp != nil {
		preds = append(preds, tp)
	}
	sel := ts.s.builder().Select("id").From(entsql.Table("tasks")).
		Where(entsql.And(preds...)).
		OrderBy("leased_at", "id").
		Limit(1)
	query, args := sel.Query()

	var id int64
	err := ts.s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	upd := ts.s.builder().Update("tasks").
		Set("status", string(constants.TaskStatusPending)).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.TaskStatusLeased)),
			entsql.LT("leased_at", cutoff),
		))
	query, args = upd.Query()
	n, err := ts.s.exec(ctx, query, args)
	if err != nil {
		return false, err
	}
	if n == 1 {
		ts.s.logger.Warn("recycled expired lease", "task_id", id, "cutoff", cutoff)
	}
	return n == 1, nil
}

// Complete marks a task done. Unknown ids and tenant mismatches are no-ops.
func (ts *TaskStore) Complete(ctx context.Context, taskID int64, tenantID string) error {
	return ts.setTerminal(ctx, taskID, tenantID, constants.TaskStatusDone, "")
}

// Flag marks a task failed with a truncated error for operator triage.
// Unknown ids and tenant mismatches are no-ops.
func (ts *TaskStore) Flag(ctx context.Context, taskID int64, errText, tenantID string) error {
	errText = truncateUTF8(errText, maxErrorLen)
	return ts.setTerminal(ctx, taskID, tenantID, constants.TaskStatusFlagged, errText)
}

func (ts *TaskStore) setTerminal(ctx context.Context, taskID int64, tenantID string, status constants.TaskStatus, errText string) error {
	upd := ts.s.builder().Update("tasks").
		Set("status", string(status)).
		Set("last_error", errText).
		Set("updated_at", ts.s.now().Unix()).
		Where(entsql.And(
			entsql.EQ("id", taskID),
			entsql.EQ("tenant_id", tenantID),
		))
	query, args := upd.Query()
	n, err := ts.s.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if n == 0 {
		ts.s.logger.Debug("terminal update matched no rows", "task_id", taskID, "tenant_id", tenantID, "status", status)
		return nil
	}
	ts.s.logger.Info("task status updated", "task_id", taskID, "status", status)
	return nil
}

// ResetToPending is the explicit operator action that requeues a flagged
// task. It clears last_error; attempts are preserved.
func (ts *TaskStore) ResetToPending(ctx context.Context, taskID int64) error {
	upd := ts.s.builder().Update("tasks").
		Set("status", string(constants.TaskStatusPending)).
		Set("last_error", "").
		Set("updated_at", ts.s.now().Unix()).
		Where(entsql.EQ("id", taskID))
	query, args := upd.Query()
	_, err := ts.s.exec(ctx, query, args)
	return err
}

// UpdatePath rewrites a task's file path after a processed-file move.
func (ts *TaskStore) UpdatePath(ctx context.Context, taskID int64, filePath, tenantID string) error {
	upd := ts.s.builder().Update("tasks").
		Set("file_path", filePath).
		Set("updated_at", ts.s.now().Unix()).
		Where(entsql.And(
			entsql.EQ("id", taskID),
			entsql.EQ("tenant_id", tenantID),
		))
	query, args := upd.Query()
	_, err := ts.s.exec(ctx, query, args)
	return err
}

// Get fetches one task. tenantID "" skips the tenant check.
func (ts *TaskStore) Get(ctx context.Context, taskID int64, tenantID string) (*Task, error) {
	preds := []*entsql.Predicate{entsql.EQ("id", taskID)}
	if tenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", tenantID))
	}
	sel := ts.s.builder().Select(taskColumns...).From(entsql.Table("tasks")).
		Where(entsql.And(preds...))
	query, args := sel.Query()

	row := ts.s.db.QueryRowContext(ctx, query, args...)
	task, err := scanTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// ListFilter narrows task listings.
type ListFilter struct {
	TenantID string
	Status   constants.TaskStatus
	Theme    string
	Limit    int
}

// List returns tasks newest-first.
func (ts *TaskStore) List(ctx context.Context, f ListFilter) ([]*Task, error) {
	var preds []*entsql.Predicate
	if f.TenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", f.TenantID))
	}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	if f.Theme != "" {
		preds = append(preds, entsql.ContainsFold("theme", f.Theme))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	sel := ts.s.builder().Select(taskColumns...).From(entsql.Table("tasks")).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(limit)
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	return ts.queryTasks(ctx, sel)
}

// ListFlagged returns flagged tasks newest-first.
func (ts *TaskStore) ListFlagged(ctx context.Context, tenantID string, limit int) ([]*Task, error) {
	return ts.List(ctx, ListFilter{TenantID: tenantID, Status: constants.TaskStatusFlagged, Limit: limit})
}

// TasksForJob returns all tasks belonging to a job, newest-first.
func (ts *TaskStore) TasksForJob(ctx context.Context, jobID int64, tenantID string) ([]*Task, error) {
	preds := []*entsql.Predicate{entsql.EQ("job_id", jobID)}
	if tenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", tenantID))
	}
	sel := ts.s.builder().Select(taskColumns...).From(entsql.Table("tasks")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	return ts.queryTasks(ctx, sel)
}

// Counts aggregates task counts by status.
func (ts *TaskStore) Counts(ctx context.Context, tenantID string) (StatusCounts, error) {
	sel := ts.s.builder().
		Select("status", entsql.Count("*")).
		From(entsql.Table("tasks")).
		GroupBy("status")
	if tenantID != "" {
		sel.Where(entsql.EQ("tenant_id", tenantID))
	}
	return ts.queryCounts(ctx, sel)
}

// CountsForJob aggregates a single job's task counts by status.
func (ts *TaskStore) CountsForJob(ctx context.Context, jobID int64, tenantID string) (StatusCounts, error) {
	preds := []*entsql.Predicate{entsql.EQ("job_id", jobID)}
	if tenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", tenantID))
	}
	sel := ts.s.builder().
		Select("status", entsql.Count("*")).
		From(entsql.Table("tasks")).
		Where(entsql.And(preds...)).
		GroupBy("status")
	return ts.queryCounts(ctx, sel)
}

// LastErrorForJob returns the most recent non-empty task error for a job.
func (ts *TaskStore) LastErrorForJob(ctx context.Context, jobID int64, tenantID string) (string, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("job_id", jobID),
		entsql.NEQ("last_error", ""),
	}
	if tenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", tenantID))
	}
	sel := ts.s.builder().Select("last_error").From(entsql.Table("tasks")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("updated_at"), entsql.Desc("id")).
		Limit(1)
	query, args := sel.Query()

	var lastErr string
	err := ts.s.db.QueryRowContext(ctx, query, args...).Scan(&lastErr)
	if errors.Is(err, stdsql.ErrNoRows) {
		return "", nil
	}
	return lastErr, err
}

func (ts *TaskStore) queryTasks(ctx context.Context, sel *entsql.Selector) ([]*Task, error) {
	query, args := sel.Query()
	rows, err := ts.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (ts *TaskStore) queryCounts(ctx context.Context, sel *entsql.Selector) (StatusCounts, error) {
	query, args := sel.Query()
	rows, err := ts.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// rowScanner lets scanTask work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t          Task
		intentJSON string
		status     string
		leasedAt   int64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(
		&t.ID, &t.FilePath, &t.Theme, &intentJSON, &t.JobID, &status,
		&t.Attempts, &t.LastError, &leasedAt, &t.TenantID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Intent = unmarshalIntent(intentJSON)
	t.Status = constants.TaskStatus(status)
	if leasedAt > 0 {
		t.LeasedAt = time.Unix(leasedAt, 0)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

// truncateUTF8 cuts s at max bytes, backing up so a multibyte rune is
// never split at the boundary.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
