package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldarchive/ingestor/internal/enrich"
	"github.com/fieldarchive/ingestor/internal/geo"
	"github.com/fieldarchive/ingestor/internal/store"
)

// artifact is the per-task JSON record written to staging. The markdown
// notebook renders a human-readable cut of the same data.
type artifact struct {
	TaskID         int64                   `json:"task_id"`
	FilePath       string                  `json:"file_path"`
	Theme          string                  `json:"theme"`
	Metadata       enrich.Metadata         `json:"metadata"`
	Source         string                  `json:"source,omitempty"`
	Note           string                  `json:"note,omitempty"`
	Pages          int                     `json:"pages,omitempty"`
	Period         *periodInfo             `json:"period,omitempty"`
	Summary        string                  `json:"summary,omitempty"`
	Insights       enrich.Insights         `json:"insights"`
	LLMInsights    map[string]any          `json:"llm_insights,omitempty"`
	Relevancy      *enrich.RelevancyResult `json:"relevancy,omitempty"`
	GeoTags        *geo.Tags               `json:"geo_tags,omitempty"`
	Forensic       map[string]any          `json:"forensic,omitempty"`
	ContentPreview string                  `json:"content_preview"`
}

// emitArtifacts writes the JSON record and appends the theme notebook.
// Both are best-effort; a full staging disk does not fail the task.
func (p *Processor) emitArtifacts(task *store.Task, a artifact, content string) {
	if err := os.MkdirAll(p.cfg.Paths.Staging, 0o755); err == nil {
		buf, err := json.MarshalIndent(a, "", "  ")
		if err == nil {
			path := filepath.Join(p.cfg.Paths.Staging, fmt.Sprintf("%d.json", task.ID))
			if err := os.WriteFile(path, buf, 0o644); err != nil {
				p.logger.Warn("failed to write task artifact", "task_id", task.ID, "error", err)
			}
		}
	}
	if err := p.appendNotebook(task, a, content); err != nil {
		p.logger.Warn("failed to append theme notebook", "task_id", task.ID, "error", err)
	}
}

func (p *Processor) appendNotebook(task *store.Task, a artifact, content string) error {
	theme := task.Theme
	if theme == "" {
		theme = "general"
	}
	if err := os.MkdirAll(p.cfg.Paths.RefinedDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(p.cfg.Paths.RefinedDir, "Refined_"+theme+".md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	title := a.Metadata.Title
	if title == "" {
		title = filepath.Base(task.FilePath)
	}
	fmt.Fprintf(&b, "\n\n## Task %d — %s\n", task.ID, title)
	fmt.Fprintf(&b, "- Source: %s\n", filepath.Base(task.FilePath))
	fmt.Fprintf(&b, "- Theme: %s\n", theme)
	if a.Metadata.DocType != "" {
		fmt.Fprintf(&b, "- Doc type: %s\n", a.Metadata.DocType)
	}
	if a.Metadata.InferredDate != "" {
		fmt.Fprintf(&b, "- Date: %s\n", a.Metadata.InferredDate)
	}
	if a.Forensic != nil {
		if v, ok := a.Forensic["record_type"].(string); ok && v != "" {
			fmt.Fprintf(&b, "- Record type (AI): %s\n", v)
		}
		if v, ok := a.Forensic["breach_category"].(string); ok && v != "" {
			fmt.Fprintf(&b, "- Theme/breach (AI): %s\n", v)
		}
		if v, ok := a.Forensic["reliability"].(string); ok && v != "" {
			fmt.Fprintf(&b, "- Reliability (AI): %s\n", v)
		}
		if v, ok := a.Forensic["privileged"].(bool); ok {
			fmt.Fprintf(&b, "- Privileged (AI): %t\n", v)
		}
		if v, ok := a.Forensic["key_quote"].(string); ok && v != "" {
			fmt.Fprintf(&b, "- Key quote: %s\n", v)
		}
	}
	if a.Summary != "" {
		fmt.Fprintf(&b, "\n**Summary:** %s\n", a.Summary)
	} else {
		b.WriteString("\n**Summary:** (not generated)\n")
	}
	if a.Relevancy != nil {
		fmt.Fprintf(&b, "\n**Relevancy:** %d/100 — %s\n", a.Relevancy.Score, a.Relevancy.Rationale)
		if len(a.Relevancy.Tags) > 0 {
			fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(a.Relevancy.Tags, ", "))
		}
	}
	b.WriteString("\n**Insights (heuristic):**\n")
	if len(a.Insights.TopTerms) > 0 {
		fmt.Fprintf(&b, "- Top terms: %s\n", strings.Join(a.Insights.TopTerms, ", "))
	}
	if a.Insights.HasGeo {
		fmt.Fprintf(&b, "- Coordinates: %d found\n", a.Insights.CoordCount)
	}
	fmt.Fprintf(&b, "\nPreview:\n\n```\n%s\n```\n", preview(content, 500))

	_, err = f.WriteString(b.String())
	return err
}

func jsonMarshal(v any) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
