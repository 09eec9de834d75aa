package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/enrich"
	"github.com/fieldarchive/ingestor/internal/extract"
	"github.com/fieldarchive/ingestor/internal/geo"
	"github.com/fieldarchive/ingestor/internal/index"
	"github.com/fieldarchive/ingestor/internal/notify"
	"github.com/fieldarchive/ingestor/internal/store"
)

// Processor drives one task end to end: extract, enrich, index, notify.
// Everything after validation is best-effort; only extraction and
// validation failures flag a task.
type Processor struct {
	cfg      *common.Config
	store    *store.Store
	extract  *extract.Extractor
	index    *index.Index
	llm      *enrich.Client
	embedder *enrich.Embedder
	scorer   *enrich.Scorer
	aois     *geo.AOIStore
	pois     *geo.POIStore
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// ProcessorDeps bundles the collaborators wired at process entry.
type ProcessorDeps struct {
	Store     *store.Store
	Extractor *extract.Extractor
	Index     *index.Index
	LLM       *enrich.Client
	Embedder  *enrich.Embedder
	Scorer    *enrich.Scorer
	AOIs      *geo.AOIStore
	POIs      *geo.POIStore
	Notifier  *notify.Notifier
}

// NewProcessor builds a processor from explicit dependencies.
func NewProcessor(cfg *common.Config, deps ProcessorDeps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		store:    deps.Store,
		extract:  deps.Extractor,
		index:    deps.Index,
		llm:      deps.LLM,
		embedder: deps.Embedder,
		scorer:   deps.Scorer,
		aois:     deps.AOIs,
		pois:     deps.POIs,
		notifier: deps.Notifier,
		logger:   logger.With("component", "pipeline"),
		now:      time.Now,
	}
}

// RunOnce leases and processes at most one task. Reports whether a task
// was claimed. Processing failures flag the task and are not returned as
// errors; only lease-level failures are.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	task, err := p.store.Tasks().LeaseOne(ctx, store.LeaseParams{
		VisibilityTimeout: p.cfg.Worker.VisibilityTimeout,
		TenantID:          p.cfg.Worker.TenantID,
		AllowUnscoped:     p.cfg.Worker.AllowUnscoped,
	})
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	start := p.now()
	out, err := p.process(ctx, task)
	if err != nil {
		p.flag(ctx, task, err)
		return true, nil
	}

	if err := p.store.Tasks().Complete(ctx, task.ID, task.TenantID); err != nil {
		p.logger.Error("failed to mark task done", "task_id", task.ID, "error", err)
	}
	if task.JobID != 0 {
		if err := p.store.Jobs().SetStatus(ctx, task.JobID, constants.JobStatusDone, ""); err != nil {
			p.logger.Error("failed to mark job done", "job_id", task.JobID, "error", err)
		}
		p.sendCallback(ctx, task, "done", "", out)
	}
	p.logger.Info("completed task",
		"task_id", task.ID,
		"file", filepath.Base(out.filePath),
		"duration", p.now().Sub(start).String())
	return true, nil
}

// outcome carries what the callback and logs need after processing.
type outcome struct {
	filePath string
	md       enrich.Metadata
}

func (p *Processor) flag(ctx context.Context, task *store.Task, cause error) {
	errText := cause.Error()
	if err := p.store.Tasks().Flag(ctx, task.ID, errText, task.TenantID); err != nil {
		p.logger.Error("failed to flag task", "task_id", task.ID, "error", err)
	}
	if task.JobID != 0 {
		if err := p.store.Jobs().SetStatus(ctx, task.JobID, constants.JobStatusFlagged, errText); err != nil {
			p.logger.Error("failed to flag job", "job_id", task.JobID, "error", err)
		}
		p.sendCallback(ctx, task, "flagged", errText, &outcome{filePath: task.FilePath})
	}
	p.logger.Error("flagged task", "task_id", task.ID, "file", filepath.Base(task.FilePath), "error", errText)
}

func (p *Processor) sendCallback(ctx context.Context, task *store.Task, status, errText string, out *outcome) {
	if p.notifier == nil {
		return
	}
	job, err := p.store.Jobs().Get(ctx, task.JobID, task.TenantID)
	if err != nil || job == nil {
		return
	}
	p.notifier.Send(ctx, job, notify.Event{
		JobID:        task.JobID,
		TaskID:       task.ID,
		Status:       status,
		Theme:        task.Theme,
		FilePath:     out.filePath,
		Error:        errText,
		DocType:      out.md.DocType,
		InferredDate: out.md.InferredDate,
		Title:        out.md.Title,
		DocID:        out.md.DocID,
	})
}

func (p *Processor) process(ctx context.Context, task *store.Task) (*outcome, error) {
	if task.JobID != 0 {
		if err := p.store.Jobs().SetStatus(ctx, task.JobID, constants.JobStatusProcessing, ""); err != nil {
			p.logger.Warn("failed to mark job processing", "job_id", task.JobID, "error", err)
		}
	}

	result, _, err := p.extract.Process(ctx, task.FilePath)
	if err != nil {
		return nil, err
	}
	text := result.Text

	raw, err := os.ReadFile(task.FilePath)
	if err != nil {
		raw = nil
	}
	md := enrich.InferMetadata(task.FilePath, task.Theme, text, raw)

	period := p.periodInfo(md)

	if problems := enrich.ValidateRecord(text, md); len(problems) > 0 {
		return nil, &common.ValidationError{Problems: problems}
	}

	llmMode := p.cfg.LLM.Mode
	summaryEnabled := p.cfg.LLM.SummaryEnabled
	if task.Intent != nil {
		if task.Intent.LLMMode != "" {
			llmMode = task.Intent.LLMMode
		}
		if task.Intent.SummaryEnabled != nil {
			summaryEnabled = *task.Intent.SummaryEnabled
		}
	}

	var summary string
	if p.llm != nil && summaryEnabled && llmMode == "sync" &&
		enrich.ShouldUseLLM(text, p.cfg.Prefilter, task.Intent) {
		summary = p.llm.Summarize(ctx, text)
	}

	var forensic map[string]any
	if p.llm != nil && p.cfg.LLM.ForensicEnabled && llmMode == "sync" && !p.llm.Offline() {
		forensic = p.llm.AnalyzeForensic(ctx, text, md)
	}

	doc := p.buildDocument(task, md, summary, forensic)
	docID, err := p.index.AddDocument(ctx, doc, text)
	if err != nil {
		return nil, err
	}

	if p.embedder != nil {
		if vec := p.embedder.Embed(ctx, clipForEmbedding(text, p.cfg.LLM.InputMaxChars)); vec != nil {
			if err := p.index.StoreEmbedding(ctx, docID, task.TenantID, vec); err != nil {
				p.logger.Warn("failed to store embedding", "doc_id", docID, "error", err)
			}
		}
	}

	coords := geo.ExtractCoords(text, 0)

	if p.cfg.Ingest.PlaceSuggest {
		for _, ps := range enrich.ExtractPlaceSuggestions(text, p.cfg.Ingest.Gazetteer, 0) {
			if _, err := p.index.AddSuggestion(ctx, index.Suggestion{
				DocID: docID, TaskID: task.ID, Label: ps.Name,
				Lat: ps.Lat, Lon: ps.Lon, Score: ps.Score, Source: ps.Source,
				TenantID: task.TenantID,
			}); err != nil {
				p.logger.Warn("failed to record place suggestion", "doc_id", docID, "error", err)
			}
		}
	}

	insights := enrich.DeriveInsights(text, md, coords)
	var llmInsights map[string]any
	if p.llm != nil && p.cfg.LLM.InsightsEnabled && llmMode == "sync" && !p.llm.Offline() {
		llmInsights = p.llm.ExtractInsights(ctx, text)
	}

	var relevancy *enrich.RelevancyResult
	if p.scorer != nil {
		relevancy = p.scorer.Score(ctx, text, task.Theme)
	}

	if err := p.index.AddGeoPoints(ctx, docID, task.ID, task.Theme, md.Title, coords, task.TenantID); err != nil {
		p.logger.Warn("failed to store geo points", "doc_id", docID, "error", err)
	}

	geoTags := p.deriveGeoTags(ctx, docID, task.TenantID)

	p.emitArtifacts(task, artifact{
		TaskID:         task.ID,
		FilePath:       task.FilePath,
		Theme:          task.Theme,
		Metadata:       md,
		Source:         result.Source,
		Note:           result.Note,
		Pages:          result.Pages,
		Period:         period,
		Summary:        summary,
		Insights:       insights,
		LLMInsights:    llmInsights,
		Relevancy:      relevancy,
		GeoTags:        geoTags,
		Forensic:       forensic,
		ContentPreview: preview(text, 1000),
	}, text)

	filePath := p.maybeMoveProcessed(ctx, task, docID, md)

	return &outcome{filePath: filePath, md: md}, nil
}

// buildDocument folds forensic fields over the inferred metadata; the
// model may refine the doc type but never replaces the hashes.
func (p *Processor) buildDocument(task *store.Task, md enrich.Metadata, summary string, forensic map[string]any) index.Document {
	doc := index.Document{
		TaskID:       task.ID,
		FilePath:     task.FilePath,
		StableID:     md.DocID,
		Provenance:   md.Provenance,
		SHA256:       md.SHA256,
		Theme:        task.Theme,
		Title:        md.Title,
		Summary:      summary,
		DocType:      md.DocType,
		InferredDate: md.InferredDate,
		TenantID:     task.TenantID,
	}
	if forensic == nil {
		return doc
	}
	if v, ok := forensic["record_type"].(string); ok && v != "" {
		doc.DocType = v
	}
	if v, ok := forensic["breach_category"].(string); ok {
		doc.BreachCategory = v
	}
	if v, ok := forensic["reliability"].(string); ok {
		doc.Reliability = v
	}
	if v, ok := forensic["key_quote"].(string); ok {
		doc.KeyQuote = v
	}
	if v, ok := forensic["privileged"].(bool); ok {
		doc.Privileged = v
	}
	if entities, ok := forensic["entities"].(map[string]any); ok {
		if buf, err := jsonMarshal(entities); err == nil {
			doc.EntitiesJSON = buf
		}
	}
	return doc
}

// periodInfo is the soft temporal gate: documents outside the project
// period are annotated, never rejected.
type periodInfo struct {
	Year         int  `json:"year,omitempty"`
	WithinPeriod bool `json:"within_project_period"`
	StartYear    int  `json:"project_start_year,omitempty"`
	EndYear      int  `json:"project_end_year,omitempty"`
}

func (p *Processor) periodInfo(md enrich.Metadata) *periodInfo {
	startYear := p.cfg.Project.StartYear
	endYear := p.cfg.Project.EndYear
	if startYear == 0 && endYear == 0 {
		return nil
	}
	info := &periodInfo{WithinPeriod: true, StartYear: startYear, EndYear: endYear}
	if len(md.InferredDate) >= 4 {
		if year, err := strconv.Atoi(md.InferredDate[:4]); err == nil {
			info.Year = year
			if startYear > 0 && year < startYear {
				info.WithinPeriod = false
			}
			if endYear > 0 && year > endYear {
				info.WithinPeriod = false
			}
		}
	}
	return info
}

func (p *Processor) deriveGeoTags(ctx context.Context, docID int64, tenantID string) *geo.Tags {
	if p.aois == nil || p.pois == nil {
		return nil
	}
	points, err := p.index.GeoForDoc(ctx, docID, tenantID)
	if err != nil {
		p.logger.Warn("geo tag derivation failed", "doc_id", docID, "error", err)
		return nil
	}
	pts := make([]geo.Point, 0, len(points))
	for _, gp := range points {
		pts = append(pts, geo.Point{Lat: gp.Lat, Lon: gp.Lon})
	}
	aoiFeatures, err := p.aois.Features(tenantID)
	if err != nil {
		p.logger.Warn("failed to load areas of interest", "error", err)
		return nil
	}
	poiFeatures, err := p.pois.Features(tenantID, geo.OfficeTheme)
	if err != nil {
		p.logger.Warn("failed to load offices", "error", err)
		return nil
	}
	gctx := geo.BuildContext(docID, pts, aoiFeatures, poiFeatures, 3)
	scope := geo.Scope{
		AOIThemes:   p.cfg.Project.AOIThemes,
		AOICodes:    p.cfg.Project.AOICodes,
		AOINames:    p.cfg.Project.AOINames,
		BandNumbers: p.cfg.Project.BandNumbers,
	}
	tags := geo.DeriveTags(gctx, scope)
	return &tags
}

// maybeMoveProcessed relocates the source file after successful indexing
// and rewrites every stored path that referenced it.
func (p *Processor) maybeMoveProcessed(ctx context.Context, task *store.Task, docID int64, md enrich.Metadata) string {
	filePath := task.FilePath
	if !p.cfg.Worker.MoveProcessed {
		return filePath
	}
	if _, err := os.Stat(filePath); err != nil {
		return filePath
	}
	ext := filepath.Ext(filePath)
	stem := filepath.Base(filePath[:len(filePath)-len(ext)])
	if filepath.Base(filepath.Dir(filePath)) == "Processed" || strings.HasSuffix(stem, "_processed") {
		return filePath
	}

	targetDir := p.cfg.Worker.ProcessedDir
	if targetDir == "" {
		targetDir = filepath.Join(filepath.Dir(filePath), "Processed")
	} else if !filepath.IsAbs(targetDir) {
		targetDir = filepath.Join(p.cfg.Paths.Workspace, targetDir)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		p.logger.Warn("failed to create processed dir", "dir", targetDir, "error", err)
		return filePath
	}
	target := uniqueProcessedPath(targetDir, stem, ext)
	if err := os.Rename(filePath, target); err != nil {
		p.logger.Warn("failed to move processed file", "task_id", task.ID, "error", err)
		return filePath
	}
	if err := p.store.Tasks().UpdatePath(ctx, task.ID, target, task.TenantID); err != nil {
		p.logger.Warn("failed to update task path", "task_id", task.ID, "error", err)
	}
	if _, err := p.index.UpdateDocPath(ctx, docID, target, task.TenantID); err != nil {
		p.logger.Warn("failed to update doc path", "doc_id", docID, "error", err)
	}
	if err := p.store.Manifest().UpdatePath(ctx, md.SHA256, task.TenantID, target); err != nil {
		p.logger.Warn("failed to update manifest path", "sha256", md.SHA256, "error", err)
	}
	p.logger.Info("moved processed file", "task_id", task.ID, "target", target)
	return target
}

func uniqueProcessedPath(dir, stem, ext string) string {
	candidate := filepath.Join(dir, stem+"_processed"+ext)
	for idx := 1; ; idx++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_processed_%d%s", stem, idx, ext))
	}
}

func clipForEmbedding(text string, max int) string {
	if max <= 0 {
		max = 8000
	}
	if len(text) > max {
		return text[:max]
	}
	return text
}

func preview(text string, max int) string {
	if len(text) > max {
		return text[:max]
	}
	return text
}
