package ocr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel returns canned responses in order and records the text
// part of every prompt it saw.
type scriptedModel struct {
	responses []string
	prompts   []string
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tp.Text)
			}
		}
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func fakePage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page-1.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o644))
	return path
}

func newTestVLM(model llms.Model, cfg VLMConfig) *VLM {
	return &VLM{client: model, cfg: cfg, logger: slog.New(slog.DiscardHandler)}
}

func TestVLMAutoContext(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"People: James Teit. Places: Spences Bridge. Type: letter.",
		"Dear Sir, I have the honour to report on the survey.",
	}}
	v := newTestVLM(model, VLMConfig{AutoContext: true, MaxTokens: 4096})

	text, err := v.ExtractText(context.Background(), fakePage(t))
	require.NoError(t, err)
	assert.Equal(t, "Dear Sir, I have the honour to report on the survey.", text)

	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[0], "Do not transcribe the full document yet")
	assert.Contains(t, model.prompts[1], "DETECTED CONTEXT:")
	assert.Contains(t, model.prompts[1], "James Teit")
}

func TestVLMSummaryGuardrail(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"The document is a letter describing a land survey.",
		"Dear Sir, the survey of the reserve is complete.",
	}}
	v := newTestVLM(model, VLMConfig{MaxTokens: 4096})

	text, err := v.ExtractText(context.Background(), fakePage(t))
	require.NoError(t, err)
	assert.Equal(t, "Dear Sir, the survey of the reserve is complete.", text)

	// Single pass plus one strict retry, both on the verbatim prompt.
	require.Len(t, model.prompts, 2)
	assert.Equal(t, verbatimPrompt, model.prompts[0])
	assert.Equal(t, verbatimPrompt, model.prompts[1])
}

func TestVLMSelfCorrect(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"Dear Sir, the svrvey is complete.",
		"Dear Sir, the survey is complete.",
	}}
	v := newTestVLM(model, VLMConfig{SelfCorrect: true, MaxTokens: 4096})

	text, err := v.ExtractText(context.Background(), fakePage(t))
	require.NoError(t, err)
	assert.Equal(t, "Dear Sir, the survey is complete.", text)

	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[1], "A previous OCR attempt produced this text")
	assert.Contains(t, model.prompts[1], "svrvey")
}

func TestVLMManualContextSkipsScout(t *testing.T) {
	model := &scriptedModel{responses: []string{
		"Dear Sir, I enclose the minutes of the meeting.",
	}}
	v := newTestVLM(model, VLMConfig{AutoContext: true, Context: "Letter from A. W. Vowell", MaxTokens: 4096})

	text, err := v.ExtractText(context.Background(), fakePage(t))
	require.NoError(t, err)
	assert.Equal(t, "Dear Sir, I enclose the minutes of the meeting.", text)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "A. W. Vowell")
}
