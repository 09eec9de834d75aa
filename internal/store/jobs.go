package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/fieldarchive/ingestor/constants"
)

// JobStore tracks ingestion batches. A job groups the tasks created by one
// submission and carries the callback endpoint notified per finished task.
type JobStore struct {
	s *Store
}

var jobColumns = []string{
	"id", "status", "last_error", "callback_url", "callback_attempts",
	"last_callback_status", "tenant_id", "created_at", "updated_at",
}

// Create inserts a pending job and returns its id.
func (js *JobStore) Create(ctx context.Context, callbackURL, tenantID string) (int64, error) {
	now := js.s.now().Unix()
	ins := js.s.builder().Insert("jobs").
		Columns("status", "callback_url", "tenant_id", "created_at", "updated_at").
		Values(string(constants.JobStatusPending), callbackURL, tenantID, now, now)

	id, err := js.s.insertReturningID(ctx, ins)
	if err != nil {
		js.s.logger.Error("job create failed", "error", err)
		return 0, err
	}
	js.s.logger.Info("job created", "job_id", id, "has_callback", callbackURL != "")
	return id, nil
}

// SetStatus moves a job to the given status, recording the error text for
// flagged jobs. Error text is truncated like task errors.
func (js *JobStore) SetStatus(ctx context.Context, jobID int64, status constants.JobStatus, errText string) error {
	if len(errText) > maxErrorLen {
		errText = errText[:maxErrorLen]
	}
	upd := js.s.builder().Update("jobs").
		Set("status", string(status)).
		Set("last_error", errText).
		Set("updated_at", js.s.now().Unix()).
		Where(entsql.EQ("id", jobID))
	query, args := upd.Query()
	_, err := js.s.exec(ctx, query, args)
	if err != nil {
		return err
	}
	js.s.logger.Info("job status updated", "job_id", jobID, "status", status)
	return nil
}

// RecordCallbackStatus stores the outcome of a webhook delivery attempt.
// Status is free-form: an HTTP status code as text, or an error class.
func (js *JobStore) RecordCallbackStatus(ctx context.Context, jobID int64, status string) error {
	upd := js.s.builder().Update("jobs").
		Set("last_callback_status", status).
		Set("updated_at", js.s.now().Unix()).
		Add("callback_attempts", 1).
		Where(entsql.EQ("id", jobID))
	query, args := upd.Query()
	_, err := js.s.exec(ctx, query, args)
	return err
}

// Get fetches one job. tenantID "" skips the tenant check.
func (js *JobStore) Get(ctx context.Context, jobID int64, tenantID string) (*Job, error) {
	preds := []*entsql.Predicate{entsql.EQ("id", jobID)}
	if tenantID != "" {
		preds = append(preds, entsql.EQ("tenant_id", tenantID))
	}
	sel := js.s.builder().Select(jobColumns...).From(entsql.Table("jobs")).
		Where(entsql.And(preds...))
	query, args := sel.Query()

	job, err := scanJob(js.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// List returns jobs newest-first.
func (js *JobStore) List(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	sel := js.s.builder().Select(jobColumns...).From(entsql.Table("jobs")).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(limit)
	if tenantID != "" {
		sel.Where(entsql.EQ("tenant_id", tenantID))
	}
	query, args := sel.Query()

	rows, err := js.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j         Job
		status    string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&j.ID, &status, &j.LastError, &j.CallbackURL, &j.CallbackAttempts,
		&j.LastCallbackStatus, &j.TenantID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = constants.JobStatus(status)
	j.CreatedAt = time.Unix(createdAt, 0)
	j.UpdatedAt = time.Unix(updatedAt, 0)
	return &j, nil
}
