package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/store"
)

// Event is the webhook payload sent when a task reaches a terminal state.
// error_summary falls back to error when no shorter form is available.
type Event struct {
	JobID        int64  `json:"job_id"`
	TaskID       int64  `json:"task_id"`
	Status       string `json:"status"`
	Theme        string `json:"theme"`
	FilePath     string `json:"file_path"`
	Error        string `json:"error"`
	ErrorSummary string `json:"error_summary"`
	Timestamp    string `json:"timestamp"`
	DocType      string `json:"doc_type"`
	InferredDate string `json:"inferred_date"`
	Title        string `json:"title"`
	DocID        string `json:"doc_id"`
}

// Notifier delivers job callbacks. Delivery is fire-and-forget: one
// attempt, outcome recorded on the job, never an error back to the
// pipeline.
type Notifier struct {
	client *http.Client
	secret string
	jobs   *store.JobStore
	logger *slog.Logger
	now    func() time.Time
}

// New builds a notifier. jobs receives the delivery outcome per job.
func New(cfg common.WebhookConfig, jobs *store.JobStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		secret: cfg.Secret,
		jobs:   jobs,
		logger: logger.With("component", "notify"),
		now:    time.Now,
	}
}

// Send posts the event to the job's callback URL. A job without a callback
// URL is a no-op.
func (n *Notifier) Send(ctx context.Context, job *store.Job, ev Event) {
	if job == nil || job.CallbackURL == "" {
		return
	}
	if ev.ErrorSummary == "" {
		ev.ErrorSummary = ev.Error
	}
	if ev.Timestamp == "" {
		ev.Timestamp = fmt.Sprintf("%d", n.now().Unix())
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("callback payload marshal failed", "job_id", job.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		n.recordStatus(ctx, job.ID, "failed: "+err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Archive-Token", n.secret)
		req.Header.Set("X-Archive-Signature", "sha256="+Signature(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("callback delivery failed", "job_id", job.ID, "error", err)
		n.recordStatus(ctx, job.ID, "failed: "+err.Error())
		return
	}
	defer resp.Body.Close()
	n.logger.Info("callback delivered", "job_id", job.ID, "task_id", ev.TaskID, "code", resp.StatusCode)
	n.recordStatus(ctx, job.ID, fmt.Sprintf("%d", resp.StatusCode))
}

func (n *Notifier) recordStatus(ctx context.Context, jobID int64, status string) {
	if n.jobs == nil {
		return
	}
	if err := n.jobs.RecordCallbackStatus(ctx, jobID, status); err != nil {
		n.logger.Warn("failed to record callback status", "job_id", jobID, "error", err)
	}
}

// Signature computes the hex HMAC-SHA256 of body keyed by secret. Receivers
// verify the X-Archive-Signature header with the same construction.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
