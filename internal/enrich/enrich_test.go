package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/geo"
	"github.com/fieldarchive/ingestor/internal/store"
)

func intPtr(v int) *int { return &v }

func TestShouldUseLLM(t *testing.T) {
	cfg := common.PrefilterConfig{MinChars: 20, Keywords: []string{"treaty", "reserve"}}

	assert.False(t, ShouldUseLLM("short", cfg, nil), "below min chars")
	assert.False(t, ShouldUseLLM("long enough but nothing matches here", cfg, nil))
	assert.True(t, ShouldUseLLM("long enough and mentions the Treaty lands", cfg, nil))

	// No keywords configured means length is the only gate.
	open := common.PrefilterConfig{MinChars: 5}
	assert.True(t, ShouldUseLLM("plain content", open, nil))
}

func TestShouldUseLLMIntentOverrides(t *testing.T) {
	cfg := common.PrefilterConfig{MinChars: 1000, Keywords: []string{"nothing"}}
	intent := &store.Intent{
		PrefilterMinChars: intPtr(5),
		PrefilterKeywords: []string{"survey"},
	}
	assert.True(t, ShouldUseLLM("survey notes", cfg, intent))
	assert.False(t, ShouldUseLLM("no match", cfg, intent))
}

func TestInferMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "survey_report_2021-06-15.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	md := InferMetadata(path, "ALC_Confirmed", "content body", []byte("content body"))

	assert.Equal(t, "survey_report_2021-06-15", md.Title)
	assert.Equal(t, "ALC_Confirmed", md.Theme)
	assert.Equal(t, int64(1), md.SizeBytes)
	assert.Equal(t, "pdf", md.Extension)
	assert.Equal(t, "2021-06-15", md.InferredDate, "file name date wins")
	assert.Equal(t, "report", md.DocType)
	assert.Len(t, md.DocID, 40)
	assert.Len(t, md.SHA256, 64)
	assert.Equal(t, path, md.Provenance)
}

func TestInferMetadataDateFromContent(t *testing.T) {
	md := InferMetadata("/nonexistent/notes.txt", "", "signed on 2019/03/02 at noon", nil)
	assert.Equal(t, "2019-03-02", md.InferredDate)
}

func TestInferMetadataRejectsImpossibleDate(t *testing.T) {
	md := InferMetadata("/nonexistent/memo_2021-02-31.txt", "", "no dates here", nil)
	assert.Empty(t, md.InferredDate)
}

func TestInferMetadataStableDocID(t *testing.T) {
	a := InferMetadata("/a/one.txt", "", "same bytes", nil)
	b := InferMetadata("/b/two.txt", "", "same bytes", nil)
	assert.Equal(t, a.DocID, b.DocID, "doc id follows content, not path")
}

func TestValidateRecord(t *testing.T) {
	good := Metadata{DocID: "abc", Extension: "pdf"}
	assert.Empty(t, ValidateRecord("this content is long enough", good))

	problems := ValidateRecord("tiny", Metadata{})
	assert.Contains(t, problems, "content too short to index")
	assert.Contains(t, problems, "missing doc_id")
	assert.Contains(t, problems, "missing extension")
	assert.NotContains(t, problems, "empty content")

	problems = ValidateRecord("   ", good)
	assert.Contains(t, problems, "empty content")
}

func TestRedact(t *testing.T) {
	in := "contact jane.doe@example.org or call +1 604-555-0199 today"
	out := Redact(in)
	assert.NotContains(t, out, "jane.doe@example.org")
	assert.NotContains(t, out, "604-555-0199")
	assert.Contains(t, out, "[EMAIL_REDACTED]")
	assert.Contains(t, out, "[PHONE_REDACTED]")
}

func TestDeriveInsights(t *testing.T) {
	text := "treaty treaty treaty survey survey boundary the and for was"
	coords := []geo.Point{
		{Lat: 50, Lon: -120}, {Lat: 51, Lon: -121}, {Lat: 52, Lon: -122},
		{Lat: 53, Lon: -123}, {Lat: 54, Lon: -124}, {Lat: 55, Lon: -125},
	}
	ins := DeriveInsights(text, Metadata{Theme: "BC_SOI", DocType: "report"}, coords)

	assert.Equal(t, []string{"treaty", "survey", "boundary"}, ins.TopTerms, "counts then first appearance")
	assert.True(t, ins.HasGeo)
	assert.Equal(t, 6, ins.CoordCount)
	assert.Len(t, ins.SampleCoords, 5)
	assert.Equal(t, "BC_SOI", ins.Theme)
	assert.Equal(t, "report", ins.DocType)
}

func TestDeriveInsightsNoGeo(t *testing.T) {
	ins := DeriveInsights("short words only", Metadata{}, nil)
	assert.False(t, ins.HasGeo)
	assert.Empty(t, ins.SampleCoords)
}

func TestExtractPlaceSuggestionsBuiltin(t *testing.T) {
	text := "The meeting was held in Vancouver, not in Vancouverite style, with Kamloops absent."
	found := ExtractPlaceSuggestions(text, "", 0)
	require.Len(t, found, 1, "word boundary match only")
	assert.Equal(t, "Vancouver", found[0].Name)
	assert.InDelta(t, 49.2827, found[0].Lat, 1e-6)
	assert.Equal(t, "gazetteer", found[0].Source)
}

func TestExtractPlaceSuggestionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "places.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,lat,lon\nkamloops,50.6745,-120.3273\n"), 0o644))

	found := ExtractPlaceSuggestions("survey near Kamloops lake", path, 0)
	require.Len(t, found, 1)
	assert.Equal(t, "Kamloops", found[0].Name)
	assert.InDelta(t, -120.3273, found[0].Lon, 1e-6)

	// A file table replaces the builtin one entirely.
	assert.Empty(t, ExtractPlaceSuggestions("Vancouver office", path, 0))
}

func TestExtractPlaceSuggestionsLimit(t *testing.T) {
	text := "Vancouver Victoria Calgary Edmonton Winnipeg"
	found := ExtractPlaceSuggestions(text, "", 2)
	assert.Len(t, found, 2)
}

func newTestScorer(t *testing.T, cfg common.RelevancyConfig, llm *Client) *Scorer {
	t.Helper()
	s, err := NewScorer(cfg, llm, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func TestScoreDisabled(t *testing.T) {
	s := newTestScorer(t, common.RelevancyConfig{Enabled: false}, nil)
	assert.Nil(t, s.Score(context.Background(), "anything", ""))
}

func TestScoreHeuristicNeutral(t *testing.T) {
	s := newTestScorer(t, common.RelevancyConfig{Enabled: true}, nil)
	res := s.Score(context.Background(), "anything", "")
	require.NotNil(t, res)
	assert.Equal(t, 50, res.Score)
	assert.NotNil(t, res.Tags)
}

func TestScoreHeuristicCoverage(t *testing.T) {
	cfg := common.RelevancyConfig{Enabled: true, Targets: []string{"treaty", "reserve", "survey", "boundary"}}
	s := newTestScorer(t, cfg, nil)

	res := s.Score(context.Background(), "the Treaty and the survey", "")
	require.NotNil(t, res)
	// 2/4 coverage: 30 + 0.5*70 = 65.
	assert.Equal(t, 65, res.Score)
	assert.Equal(t, "Matched 2/4 target terms.", res.Rationale)
	assert.ElementsMatch(t, []string{"treaty", "survey"}, res.Tags)

	res = s.Score(context.Background(), "nothing of interest", "")
	require.NotNil(t, res)
	assert.Equal(t, 30, res.Score)

	res = s.Score(context.Background(), "treaty reserve survey boundary", "")
	require.NotNil(t, res)
	assert.Equal(t, 100, res.Score)
}

// scriptedChat feeds canned replies to the enrichment client in order.
type scriptedChat struct {
	replies []string
	calls   int
}

func (m *scriptedChat) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.calls >= len(m.replies) {
		return nil, fmt.Errorf("no scripted reply for call %d", m.calls)
	}
	reply := m.replies[m.calls]
	m.calls++
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply}},
	}, nil
}

func (m *scriptedChat) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, opts...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newScriptedClient(t *testing.T, replies ...string) *Client {
	t.Helper()
	c, err := NewClient(common.LLMConfig{Offline: true}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	c.model = &scriptedChat{replies: replies}
	return c
}

func TestScoreLLMValidResponse(t *testing.T) {
	llm := newScriptedClient(t, "```json\n{\"score\": 87, \"rationale\": \"Strong match.\", \"tags\": [\"treaty\"]}\n```")
	cfg := common.RelevancyConfig{Enabled: true, Targets: []string{"treaty"}}
	s := newTestScorer(t, cfg, llm)

	res := s.Score(context.Background(), "the treaty text", "BC_SOI")
	require.NotNil(t, res)
	assert.Equal(t, 87, res.Score)
	assert.Equal(t, "Strong match.", res.Rationale)
	assert.Equal(t, []string{"treaty"}, res.Tags)
}

func TestScoreLLMInvalidFallsBackToHeuristic(t *testing.T) {
	// Score out of range fails schema validation.
	llm := newScriptedClient(t, `{"score": 400, "rationale": "bad", "tags": []}`)
	cfg := common.RelevancyConfig{Enabled: true, Targets: []string{"treaty"}}
	s := newTestScorer(t, cfg, llm)

	res := s.Score(context.Background(), "the treaty text", "")
	require.NotNil(t, res)
	assert.Equal(t, 100, res.Score, "heuristic takes over")
	assert.Equal(t, "Matched 1/1 target terms.", res.Rationale)
}

func TestScoreLLMGarbageFallsBackToHeuristic(t *testing.T) {
	llm := newScriptedClient(t, "I think this document is quite relevant.")
	cfg := common.RelevancyConfig{Enabled: true}
	s := newTestScorer(t, cfg, llm)

	res := s.Score(context.Background(), "anything", "")
	require.NotNil(t, res)
	assert.Equal(t, 50, res.Score)
}

func TestClientOffline(t *testing.T) {
	c, err := NewClient(common.LLMConfig{Offline: true}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.True(t, c.Offline())
	assert.Empty(t, c.Summarize(context.Background(), "content"))
	assert.Nil(t, c.AnalyzeForensic(context.Background(), "content", Metadata{}))
	assert.Nil(t, c.ExtractInsights(context.Background(), "content"))
}

func TestSummarizeFallsBackToSnippet(t *testing.T) {
	c := newTestSummarizeClient(t)
	out := c.Summarize(context.Background(), "first   sentence here.  second sentence.")
	assert.Equal(t, "first sentence here. second sentence.", out)
}

func newTestSummarizeClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(common.LLMConfig{Offline: true}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	// A model with no scripted replies errors on every call.
	c.model = &scriptedChat{}
	return c
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}

func TestEmbedderDisabled(t *testing.T) {
	e, err := NewEmbedder(common.EmbeddingsConfig{Enabled: false}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Nil(t, e.Embed(context.Background(), "text"), "nil receiver is safe")
}
