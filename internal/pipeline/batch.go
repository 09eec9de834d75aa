package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/enrich"
	"github.com/fieldarchive/ingestor/internal/index"
)

// Backfill handles summaries for documents processed in batch LLM mode.
// Prepare exports chat requests for docs without summaries as JSONL for
// an OpenAI-compatible Batch API; Ingest reads a sanitized
// {doc_id, summary} mapping back into the index. Raw provider output
// stays outside the pipeline so it can be reviewed before ingestion.
type Backfill struct {
	cfg    *common.Config
	index  *index.Index
	logger *slog.Logger
	now    func() time.Time
}

func NewBackfill(cfg *common.Config, ix *index.Index, logger *slog.Logger) *Backfill {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfill{cfg: cfg, index: ix, logger: logger, now: time.Now}
}

// batchRequest is one line of the prepared JSONL, shaped for the
// /v1/batches endpoint.
type batchRequest struct {
	CustomID string    `json:"custom_id"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Body     batchBody `json:"body"`
}

type batchBody struct {
	Model       string         `json:"model"`
	Messages    []batchMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
}

type batchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prepare writes a JSONL request file for up to limit unsummarized docs
// and returns its path with the number of requests written. An empty
// path means nothing is pending. Docs whose file is gone are skipped.
func (b *Backfill) Prepare(ctx context.Context, limit int) (string, int, error) {
	docs, err := b.index.PendingSummaries(ctx, limit)
	if err != nil {
		return "", 0, err
	}
	if len(docs) == 0 {
		return "", 0, nil
	}

	dir := filepath.Join(b.cfg.Paths.Workspace, "batches")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, fmt.Sprintf("chat_batch_%d.jsonl", b.now().Unix()))

	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	written := 0
	for _, doc := range docs {
		raw, err := os.ReadFile(doc.FilePath)
		if err != nil {
			b.logger.Warn("skipping doc with unreadable file", "doc_id", doc.ID, "path", doc.FilePath, "error", err)
			continue
		}
		content := enrich.Redact(string(raw))
		if max := b.cfg.LLM.InputMaxChars; max > 0 && len(content) > max {
			content = content[:max]
		}
		req := batchRequest{
			CustomID: fmt.Sprintf("doc-%d", doc.ID),
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: batchBody{
				Model: b.cfg.LLM.Model,
				Messages: []batchMessage{
					{Role: "system", Content: enrich.SummarizePrompt},
					{Role: "user", Content: content},
				},
				Temperature: b.cfg.LLM.Temperature,
				MaxTokens:   b.cfg.LLM.MaxTokens,
			},
		}
		line, err := json.Marshal(req)
		if err != nil {
			return "", 0, err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
		written++
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	if written == 0 {
		os.Remove(path)
		return "", 0, nil
	}
	return path, written, nil
}

// Ingest reads {"doc_id": N, "summary": "..."} lines and writes each
// summary into the index, noting the update in the theme notebook.
// Malformed or empty lines are skipped. Returns the number updated.
func (b *Backfill) Ingest(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	updated := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var entry struct {
			DocID   int64  `json:"doc_id"`
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			b.logger.Warn("skipping malformed summary line", "error", err)
			continue
		}
		summary := strings.TrimSpace(entry.Summary)
		if entry.DocID <= 0 || summary == "" {
			continue
		}
		if err := b.index.UpdateSummary(ctx, entry.DocID, summary); err != nil {
			return updated, err
		}
		b.noteSummary(ctx, entry.DocID, summary)
		updated++
	}
	if err := sc.Err(); err != nil {
		return updated, err
	}
	return updated, nil
}

// noteSummary appends the late-arriving summary to the theme notebook,
// best-effort like the rest of the notebook writes.
func (b *Backfill) noteSummary(ctx context.Context, docID int64, summary string) {
	doc, err := b.index.Doc(ctx, docID)
	if err != nil || doc == nil {
		return
	}
	theme := doc.Theme
	if theme == "" {
		theme = "general"
	}
	title := doc.Title
	if title == "" {
		title = filepath.Base(doc.FilePath)
	}
	if err := os.MkdirAll(b.cfg.Paths.RefinedDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(b.cfg.Paths.RefinedDir, "Refined_"+theme+".md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n\n### Updated summary for doc %d — %s\n\n**Batch LLM summary:** %s\n", docID, title, summary)
}
