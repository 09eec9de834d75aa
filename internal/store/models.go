package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/common"
)

// Task is one unit of processing work referencing a file on disk.
type Task struct {
	ID        int64
	FilePath  string
	Theme     string
	Intent    *Intent
	JobID     int64 // 0 when the task is not part of a job
	Status    constants.TaskStatus
	Attempts  int
	LastError string
	LeasedAt  time.Time // zero when never leased
	TenantID  string    // "" means unscoped
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job groups tasks submitted together and carries callback state.
type Job struct {
	ID                 int64
	Status             constants.JobStatus
	LastError          string
	CallbackURL        string
	CallbackAttempts   int
	LastCallbackStatus string
	TenantID           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ManifestEntry records a previously ingested file by content hash,
// used to dedupe re-uploads per tenant.
type ManifestEntry struct {
	ID           int64
	SHA256       string
	FilePath     string
	OriginalName string
	SizeBytes    int64
	Theme        string
	TenantID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Intent carries typed per-task overrides, validated at enqueue time.
// Nil pointer fields mean "use the configured default".
type Intent struct {
	LLMMode           string   `json:"llm_mode,omitempty"`
	SummaryEnabled    *bool    `json:"summary_enabled,omitempty"`
	PrefilterMinChars *int     `json:"prefilter_min_chars,omitempty"`
	PrefilterKeywords []string `json:"prefilter_keywords,omitempty"`
}

// Validate rejects malformed overrides before they reach the queue.
func (in *Intent) Validate() error {
	if in == nil {
		return nil
	}
	var problems []string
	switch in.LLMMode {
	case "", "sync", "batch":
	default:
		problems = append(problems, fmt.Sprintf("llm_mode must be sync or batch, got %q", in.LLMMode))
	}
	if in.PrefilterMinChars != nil && *in.PrefilterMinChars < 0 {
		problems = append(problems, "prefilter_min_chars must be >= 0")
	}
	if len(problems) > 0 {
		return &common.ValidationError{Problems: problems}
	}
	return nil
}

func (in *Intent) marshal() (string, error) {
	if in == nil {
		return "", nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalIntent(raw string) *Intent {
	if raw == "" {
		return nil
	}
	var in Intent
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		// Malformed intent JSON degrades to defaults rather than failing the task.
		return nil
	}
	return &in
}

// StatusCounts maps a status string to the number of tasks in it.
type StatusCounts map[string]int64
