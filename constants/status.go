package constants

// TaskStatus is the canonical status for rows in tasks.
type TaskStatus string

// Stable values (store these exact strings in DB).
const (
	TaskStatusPending TaskStatus = "pending" // waiting for a worker
	TaskStatusLeased  TaskStatus = "leased"  // claimed by a worker, lease active
	TaskStatusDone    TaskStatus = "done"    // terminal success
	TaskStatusFlagged TaskStatus = "flagged" // terminal failure, needs operator reset
)

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFlagged    JobStatus = "flagged"
)

// ExtractionSource names the strategy that produced extracted text.
const (
	SourceDirect  = "direct"
	SourceFastOCR = "fast-ocr"
	SourceVLMOCR  = "vlm-ocr"
	SourceNone    = "none"
)
