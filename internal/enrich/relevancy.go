package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fieldarchive/ingestor/internal/common"
)

// RelevancyResult grades a document against the configured targets.
type RelevancyResult struct {
	Score     int      `json:"score"`
	Rationale string   `json:"rationale"`
	Tags      []string `json:"tags"`
}

const relevancyPrompt = "You are a relevancy grader. Given OCR text and desired targets/themes, " +
	"return JSON with fields: score (0-100), rationale (one sentence), tags (array of key terms). " +
	"Be concise."

// relevancySchema rejects malformed model responses before they are
// trusted; any violation falls back to the heuristic score.
const relevancySchema = `{
	"type": "object",
	"required": ["score", "rationale", "tags"],
	"properties": {
		"score": {"type": "integer", "minimum": 0, "maximum": 100},
		"rationale": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

// Scorer grades relevancy heuristically, with an optional model path.
type Scorer struct {
	cfg     common.RelevancyConfig
	targets []string
	llm     *Client
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// NewScorer builds a relevancy scorer. llm may be nil or offline; the
// heuristic path then always applies.
func NewScorer(cfg common.RelevancyConfig, llm *Client, logger *slog.Logger) (*Scorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := jsonschema.CompileString("relevancy.json", relevancySchema)
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			targets = append(targets, t)
		}
	}
	return &Scorer{cfg: cfg, targets: targets, llm: llm, schema: schema, logger: logger}, nil
}

// Score grades text against the targets. Nil when scoring is disabled.
// A failed or invalid model response falls back to the heuristic.
func (s *Scorer) Score(ctx context.Context, text, theme string) *RelevancyResult {
	if !s.cfg.Enabled {
		return nil
	}
	if s.llm != nil && !s.llm.Offline() {
		if res := s.llmScore(ctx, text, theme); res != nil {
			return res
		}
	}
	return s.heuristic(text)
}

func (s *Scorer) heuristic(text string) *RelevancyResult {
	if len(s.targets) == 0 {
		return &RelevancyResult{Score: 50, Rationale: "No targets configured; neutral score.", Tags: []string{}}
	}
	lower := strings.ToLower(text)
	var hits []string
	for _, t := range s.targets {
		if strings.Contains(lower, t) {
			hits = append(hits, t)
		}
	}
	coverage := float64(len(hits)) / float64(len(s.targets))
	score := int(30 + coverage*70)
	if score > 100 {
		score = 100
	}
	if score < 10 {
		score = 10
	}
	if hits == nil {
		hits = []string{}
	}
	return &RelevancyResult{
		Score:     score,
		Rationale: fmt.Sprintf("Matched %d/%d target terms.", len(hits), len(s.targets)),
		Tags:      hits,
	}
}

func (s *Scorer) llmScore(ctx context.Context, text, theme string) *RelevancyResult {
	targets := "unspecified"
	if len(s.targets) > 0 {
		targets = strings.Join(s.targets, ", ")
	}
	if theme == "" {
		theme = "none provided"
	}
	user := fmt.Sprintf("Targets/themes: %s. Theme: %s.\nText:\n%s", targets, theme, Redact(s.llm.clip(text)))

	raw := s.llm.chatJSON(ctx, relevancyPrompt, user)
	if raw == nil {
		return nil
	}
	if err := s.schema.Validate(map[string]any(raw)); err != nil {
		s.logger.Warn("relevancy response failed schema validation", "error", err)
		return nil
	}

	// Round-trip through JSON to map the validated payload onto the typed
	// result.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var res RelevancyResult
	if err := json.Unmarshal(buf, &res); err != nil {
		s.logger.Warn("relevancy response unmarshal failed", "error", err)
		return nil
	}
	if res.Tags == nil {
		res.Tags = []string{}
	}
	return &res
}
