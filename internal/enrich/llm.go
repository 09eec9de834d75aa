package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fieldarchive/ingestor/internal/common"
)

// SummarizePrompt is shared with the batch backfill so externally
// processed summaries match the synchronous path.
const SummarizePrompt = "Summarize the document in 3 sentences, factual and concise."

const forensicPrompt = "ROLE: Forensic clerk. Extract strictly factual metadata as JSON. " +
	"Forbidden words in summaries/opinions: suggests, implies, likely, appears, seems, probably. " +
	"Normalize entities to consistent names when possible (people, locations, organizations). " +
	"Classify breach_category from: Land_Reduction_Trespass, Governance_Sovereignty, Fiduciary_Duty_Negligence, " +
	"Water_Rights_Fishing, Coercion_Duress, None. " +
	"Reliability: Verified, Unverified, Reconstructed. " +
	"privileged: true/false. " +
	"key_quote: verbatim supporting quote if present."

const insightsPrompt = "You extract structured insights from documents. " +
	"Respond with a single JSON object with keys: " +
	"topics (array of short strings), " +
	"entities (array of short strings), " +
	"risks (array of short strings). " +
	"Do not include any commentary outside the JSON."

// Client wraps the enrichment model. Every call is best-effort: offline
// mode and failures degrade to nil results, never to pipeline errors. PII
// is redacted before any text leaves the process.
type Client struct {
	model  llms.Model
	cfg    common.LLMConfig
	logger *slog.Logger
}

// NewClient builds an enrichment client. In offline mode no connection is
// configured and all calls return their zero result.
func NewClient(cfg common.LLMConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg, logger: logger.With("component", "enrich-llm")}
	if cfg.Offline {
		return c, nil
	}
	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	c.model = model
	return c, nil
}

// Offline reports whether model calls are disabled.
func (c *Client) Offline() bool { return c.model == nil }

// Summarize returns a short factual summary, or a leading snippet when the
// model is unreachable. Offline mode returns "".
func (c *Client) Summarize(ctx context.Context, content string) string {
	if c.Offline() {
		return ""
	}
	out, err := c.chat(ctx, SummarizePrompt, Redact(c.clip(content)), c.cfg.Temperature)
	if err != nil {
		c.logger.Warn("summarize failed, falling back to snippet", "error", err)
		return snippet(content, 400)
	}
	return strings.TrimSpace(out)
}

// AnalyzeForensic extracts structured factual metadata. Nil on any failure.
func (c *Client) AnalyzeForensic(ctx context.Context, content string, md Metadata) map[string]any {
	if c.Offline() {
		return nil
	}
	user := fmt.Sprintf(
		"FILE: %s\nDATE: %s\n\nExtract JSON with keys: record_type, breach_category, reliability, privileged (boolean), key_quote, entities (object with people, locations, organizations arrays).\nDocument:\n%s",
		md.Provenance, md.InferredDate, Redact(c.clip(content)),
	)
	return c.chatJSON(ctx, forensicPrompt, user)
}

// ExtractInsights asks the model for topics/entities/risks. Nil on any
// failure.
func (c *Client) ExtractInsights(ctx context.Context, content string) map[string]any {
	if c.Offline() {
		return nil
	}
	return c.chatJSON(ctx, insightsPrompt, Redact(c.clip(content)))
}

func (c *Client) chatJSON(ctx context.Context, system, user string) map[string]any {
	out, err := c.chat(ctx, system, user, c.cfg.Temperature)
	if err != nil {
		c.logger.Warn("model call failed", "error", err)
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(stripFences(out)), &parsed); err != nil {
		c.logger.Warn("model returned unparseable json", "error", err)
		return nil
	}
	return parsed
}

func (c *Client) chat(ctx context.Context, system, user string, temperature float64) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	reqID := uuid.NewString()
	c.logger.Debug("llm request", "req_id", reqID, "input_len", len(user))

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		c.logger.Error("llm request failed", "req_id", reqID, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	out := resp.Choices[0].Content
	c.logger.Debug("llm response", "req_id", reqID, "output_len", len(out))
	return out, nil
}

func (c *Client) clip(content string) string {
	max := c.cfg.InputMaxChars
	if max <= 0 {
		max = 8000
	}
	if len(content) > max {
		return content[:max]
	}
	return content
}

// stripFences removes a leading ```json code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(strings.TrimPrefix(s, "json"))
	return s
}

func snippet(content string, max int) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
