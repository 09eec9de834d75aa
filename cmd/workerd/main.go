package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/enrich"
	"github.com/fieldarchive/ingestor/internal/extract"
	"github.com/fieldarchive/ingestor/internal/geo"
	"github.com/fieldarchive/ingestor/internal/index"
	"github.com/fieldarchive/ingestor/internal/notify"
	"github.com/fieldarchive/ingestor/internal/ocr"
	"github.com/fieldarchive/ingestor/internal/pipeline"
	"github.com/fieldarchive/ingestor/internal/store"
)

// workerd runs the processing pool. All collaborators are constructed
// here and injected; nothing below main reaches for globals.
func main() {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.HealthCheck(ctx, 3*time.Second); err != nil {
		logger.Error("store health check failed", "error", err)
		os.Exit(1)
	}

	ix, err := index.Open(ctx, cfg.IndexPath(), logger)
	if err != nil {
		logger.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer ix.Close()

	runner := ocr.ExecRunner{}
	fast := ocr.NewTesseract(ocr.TesseractConfig{
		Binary: cfg.OCR.Tesseract,
		Lang:   cfg.OCR.Lang,
	}, runner, logger)

	var vlm ocr.Backend
	if cfg.OCR.VLMEnabled {
		v, err := ocr.NewVLM(ocr.VLMConfig{
			BaseURL:     cfg.OCR.VLMBaseURL,
			Model:       cfg.OCR.VLMModel,
			APIKey:      cfg.OCR.VLMAPIKey,
			MaxTokens:   cfg.OCR.VLMMaxTokens,
			AutoContext: cfg.OCR.AutoContext,
			SelfCorrect: cfg.OCR.SelfCorrect,
		}, logger)
		if err != nil {
			logger.Error("failed to build vlm backend", "error", err)
			os.Exit(1)
		}
		vlm = v
	}

	extractor := extract.NewExtractor(extract.Config{
		Pdftotext:  cfg.OCR.Pdftotext,
		Pdftoppm:   cfg.OCR.Pdftoppm,
		Magick:     cfg.OCR.Magick,
		DPI:        cfg.OCR.DPI,
		MaxPages:   cfg.OCR.MaxPages,
		Preprocess: cfg.OCR.Preprocess,
		CharLimit:  cfg.Worker.CharLimit,
		StagingDir: cfg.Paths.Staging,
	}, runner, fast, vlm, logger)

	llm, err := enrich.NewClient(cfg.LLM, logger)
	if err != nil {
		logger.Error("failed to build llm client", "error", err)
		os.Exit(1)
	}
	embedder, err := enrich.NewEmbedder(cfg.Embeddings, logger)
	if err != nil {
		logger.Error("failed to build embedder", "error", err)
		os.Exit(1)
	}
	scorer, err := enrich.NewScorer(cfg.Relevancy, llm, logger)
	if err != nil {
		logger.Error("failed to build relevancy scorer", "error", err)
		os.Exit(1)
	}

	proc := pipeline.NewProcessor(cfg, pipeline.ProcessorDeps{
		Store:     st,
		Extractor: extractor,
		Index:     ix,
		LLM:       llm,
		Embedder:  embedder,
		Scorer:    scorer,
		AOIs:      geo.NewAOIStore(cfg.Paths.IndexDir),
		POIs:      geo.NewPOIStore(cfg.Paths.IndexDir),
		Notifier:  notify.New(cfg.Webhook, st.Jobs(), logger),
	}, logger)

	logger.Info("workerd starting",
		"pool_size", cfg.Worker.PoolSize,
		"tenant", cfg.Worker.TenantID,
		"vlm_enabled", cfg.OCR.VLMEnabled)

	if err := pipeline.NewRunner(proc, cfg.Worker, logger).Run(ctx); err != nil {
		logger.Error("runner exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("workerd stopped")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("ARCHIVE_LOG_LEVEL"); v != "" {
		_ = level.UnmarshalText([]byte(v))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
