package enrich

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fieldarchive/ingestor/internal/common"
)

// Embedder wraps the optional embeddings backend. Embedding is an
// enrichment: it logs failures and returns nil, never an error.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewEmbedder builds the embedder, or returns nil when disabled.
func NewEmbedder(cfg common.EmbeddingsConfig, logger *slog.Logger) (*Embedder, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Embedder{embedder: embedder, logger: logger.With("component", "embedder")}, nil
}

// Embed returns the vector for text, or nil on any failure.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if e == nil || e.embedder == nil {
		return nil
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.logger.Warn("embedding failed", "error", err)
		return nil
	}
	if len(vectors) == 0 {
		return nil
	}
	return vectors[0]
}
