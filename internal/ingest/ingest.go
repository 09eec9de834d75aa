package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/store"
)

// Service accepts document submissions: static checks, content-hash
// dedupe, job creation, and enqueue.
type Service struct {
	store  *store.Store
	cfg    common.IngestConfig
	logger *slog.Logger
}

// NewService builds the ingest service.
func NewService(st *store.Store, cfg common.IngestConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cfg: cfg, logger: logger.With("component", "ingest")}
}

// SubmitParams describes one file submission.
type SubmitParams struct {
	FilePath    string
	Theme       string
	TenantID    string
	CallbackURL string
	Intent      *store.Intent
	// Force re-enqueues a file even when its hash is already in the
	// manifest.
	Force bool
}

// SubmitResult reports the enqueue outcome. When Deduped is set no task
// was created and ExistingPath points at the previously ingested copy.
type SubmitResult struct {
	TaskID       int64
	JobID        int64
	SHA256       string
	Deduped      bool
	ExistingPath string
}

// Submit validates the file, dedupes by content hash, and enqueues a
// pending task. A callback URL creates a job wrapping the task.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	ext := constants.NormalizeExt(filepath.Ext(p.FilePath))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, common.NewAppError("UNSUPPORTED_TYPE",
			fmt.Sprintf("extension %q is not allowed", ext), common.ErrInvalidInput)
	}

	info, err := os.Stat(p.FilePath)
	if err != nil {
		return nil, common.NewAppError("FILE_NOT_FOUND", p.FilePath, err)
	}
	if s.cfg.MaxUploadMB > 0 && info.Size() > int64(s.cfg.MaxUploadMB)*1024*1024 {
		return nil, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("%s exceeds %d MB", filepath.Base(p.FilePath), s.cfg.MaxUploadMB),
			common.ErrInvalidInput)
	}

	sum, err := hashFile(p.FilePath)
	if err != nil {
		return nil, err
	}

	if !p.Force {
		existing, err := s.store.Manifest().Find(ctx, sum, p.TenantID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("duplicate submission skipped",
				"file_path", p.FilePath, "sha256", sum, "existing_path", existing.FilePath)
			return &SubmitResult{SHA256: sum, Deduped: true, ExistingPath: existing.FilePath}, nil
		}
	}

	var jobID int64
	if p.CallbackURL != "" {
		jobID, err = s.store.Jobs().Create(ctx, p.CallbackURL, p.TenantID)
		if err != nil {
			return nil, err
		}
	}

	taskID, err := s.store.Tasks().Enqueue(ctx, store.EnqueueParams{
		FilePath: p.FilePath,
		Theme:    p.Theme,
		JobID:    jobID,
		TenantID: p.TenantID,
		Intent:   p.Intent,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Manifest().Record(ctx, store.ManifestEntry{
		SHA256:       sum,
		FilePath:     p.FilePath,
		OriginalName: filepath.Base(p.FilePath),
		SizeBytes:    info.Size(),
		Theme:        p.Theme,
		TenantID:     p.TenantID,
	}); err != nil {
		// The task is queued; a stale manifest only weakens dedupe.
		s.logger.Warn("failed to record manifest entry", "sha256", sum, "error", err)
	}

	return &SubmitResult{TaskID: taskID, JobID: jobID, SHA256: sum}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
