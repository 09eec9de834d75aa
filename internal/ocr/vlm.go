package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fieldarchive/ingestor/constants"
)

// VLMConfig points at an OpenAI-compatible vision model endpoint
// (e.g. vllm serve).
type VLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int    // per transcription call
	AutoContext bool   // scout pass before transcription
	SelfCorrect bool   // extra refinement pass
	Context     string // manual context override; skips the scout pass
}

// VLM transcribes pages through a vision-language model. It decodes
// greedily (temperature 0, top-k 1, no repetition penalty) so output stays
// verbatim, and repairs degenerate repetition in post-processing instead.
type VLM struct {
	client llms.Model
	cfg    VLMConfig
	logger *slog.Logger
}

func NewVLM(cfg VLMConfig, logger *slog.Logger) (*VLM, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vlm: base url is required")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "none"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return &VLM{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "vlm-ocr"),
	}, nil
}

func (v *VLM) Name() string { return constants.SourceVLMOCR }

// ExtractText runs the multi-pass transcription protocol: an optional
// entity scout, the context-aware transcription, a strict retry when the
// output reads like a summary, and an optional self-correction pass.
func (v *VLM) ExtractText(ctx context.Context, imagePath string) (string, error) {
	dataURL, err := makeDataURL(imagePath)
	if err != nil {
		return "", err
	}

	prompt := verbatimPrompt
	switch {
	case v.cfg.Context != "":
		prompt = contextualPrompt(v.cfg.Context)
	case v.cfg.AutoContext:
		entities, err := v.generate(ctx, dataURL, scoutPrompt(),
			llms.WithTemperature(0), llms.WithTopK(1), llms.WithMaxTokens(512))
		if err != nil {
			v.logger.Warn("scout pass failed, transcribing without context", "error", err)
		} else if strings.TrimSpace(entities) != "" {
			v.logger.Info("scout pass found hints", "hints", truncate(strings.ReplaceAll(entities, "\n", " "), 100))
			prompt = contextualPrompt(entities)
		}
	}

	raw, err := v.generate(ctx, dataURL, prompt, v.transcribeOpts()...)
	if err != nil {
		return "", err
	}
	result := ScrubPromptLeak(CleanRepeats(raw))

	if LooksLikeSummary(result) {
		v.logger.Warn("output looks like a summary, retrying with strict prompt", "image", filepath.Base(imagePath))
		strict, err := v.generate(ctx, dataURL, verbatimPrompt, v.transcribeOpts()...)
		if err == nil {
			result = ScrubPromptLeak(CleanRepeats(strict))
		}
	}

	if v.cfg.SelfCorrect {
		sample := result
		if len(sample) > 2000 {
			sample = sample[:2000]
		}
		corrected, err := v.generate(ctx, dataURL, selfCorrectionPrompt(sample),
			llms.WithTemperature(0), llms.WithTopK(1),
			llms.WithRepetitionPenalty(1.05), llms.WithMaxTokens(2*v.cfg.MaxTokens))
		if err != nil {
			v.logger.Warn("self-correction pass failed, keeping transcription", "error", err)
		} else if strings.TrimSpace(corrected) != "" {
			result = CleanRepeats(corrected)
		}
	}

	return result, nil
}

func (v *VLM) transcribeOpts() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(0),
		llms.WithTopK(1),
		// Penalizing repetition corrupts verbatim transcription; degenerate
		// loops are handled by CleanRepeats instead.
		llms.WithRepetitionPenalty(1.0),
		llms.WithMaxTokens(v.cfg.MaxTokens),
	}
}

func (v *VLM) generate(ctx context.Context, dataURL, prompt string, opts ...llms.CallOption) (string, error) {
	reqID := uuid.NewString()
	v.logger.Debug("vlm request", "req_id", reqID, "prompt_len", len(prompt))

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.ImageURLPart(dataURL),
				llms.TextPart(prompt),
			},
		},
	}
	resp, err := v.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		v.logger.Error("vlm request failed", "req_id", reqID, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vlm: model returned no choices")
	}
	out := resp.Choices[0].Content
	v.logger.Debug("vlm response", "req_id", reqID, "output_len", len(out))
	return out, nil
}

func makeDataURL(imagePath string) (string, error) {
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(imagePath)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".tif", ".tiff":
		mime = "image/tiff"
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
