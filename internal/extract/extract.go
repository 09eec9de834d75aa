package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fieldarchive/ingestor/constants"
	"github.com/fieldarchive/ingestor/internal/ocr"
)

// Config tunes the extraction strategies.
type Config struct {
	Pdftotext  string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm   string // binary name or absolute path; if empty -> "pdftoppm"
	Magick     string // binary name or absolute path; if empty -> "magick"
	DPI        int    // rasterization DPI for scanned PDFs, default 400
	MaxPages   int    // 0 = no limit
	Preprocess bool   // contrast enhancement before OCR
	CharLimit  int    // truncation ceiling for staged text, default 200k
	StagingDir string
}

// Result is the outcome of one extraction.
type Result struct {
	Text   string
	Source string // constants.SourceDirect | SourceFastOCR | SourceVLMOCR | SourceNone
	Note   string // quality warnings for operator triage, "" when clean
	Pages  int
}

// Extractor picks a strategy per file format: direct text layers first,
// OCR only when there is nothing cheaper.
type Extractor struct {
	cfg    Config
	runner ocr.Runner
	fast   ocr.Backend
	vlm    ocr.Backend // nil when the VLM backend is disabled
	logger *slog.Logger
}

func NewExtractor(cfg Config, runner ocr.Runner, fast, vlm ocr.Backend, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ocr.ExecRunner{}
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Magick == "" {
		cfg.Magick = "magick"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 400
	}
	if cfg.CharLimit <= 0 {
		cfg.CharLimit = 200_000
	}
	return &Extractor{cfg: cfg, runner: runner, fast: fast, vlm: vlm, logger: logger}
}

// Extract picks a strategy based on file extension.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting extraction", "path", path, "ext", ext)
	switch constants.MapExtToFormat(ext) {
	case constants.PDF:
		return e.extractPDF(ctx, path)
	case constants.DOCX:
		return e.extractDOCX(path)
	case constants.XLSX:
		return e.extractXLSX(path)
	case constants.IMAGE:
		return e.extractImage(ctx, path)
	case constants.TEXT:
		return e.extractRaw(path)
	default:
		return Result{Source: constants.SourceNone}, fmt.Errorf("unsupported extension: %q", ext)
	}
}

// Process extracts, truncates to the character ceiling, and writes the text
// to staging as <stem>.txt. Returns the staged path alongside the result.
func (e *Extractor) Process(ctx context.Context, path string) (Result, string, error) {
	res, err := e.Extract(ctx, path)
	if err != nil {
		return res, "", err
	}
	if len(res.Text) > e.cfg.CharLimit {
		res.Text = truncateUTF8(res.Text, e.cfg.CharLimit)
		if res.Note == "" {
			res.Note = "truncated to character ceiling"
		}
	}
	if err := os.MkdirAll(e.cfg.StagingDir, 0o755); err != nil {
		return res, "", err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	staged := filepath.Join(e.cfg.StagingDir, stem+".txt")
	if err := os.WriteFile(staged, []byte(res.Text), 0o644); err != nil {
		return res, "", err
	}
	return res, staged, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (Result, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, _, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err == nil && strings.TrimSpace(string(out)) != "" {
		// A form-feed \f is used as page separator by default
		pages := 1 + strings.Count(string(out), "\f")
		return Result{Text: string(out), Source: constants.SourceDirect, Pages: pages}, nil
	}

	res, err := e.pdfOCR(ctx, path)
	if err == nil {
		return res, nil
	}
	e.logger.Error("pdf ocr fallback failed, returning raw decode", "path", path, "error", err)

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return Result{Source: constants.SourceNone, Note: "pdf decode failed"}, readErr
	}
	return Result{Text: string(raw), Source: constants.SourceNone, Note: "pdf decode failed"}, nil
}

func (e *Extractor) pdfOCR(ctx context.Context, path string) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "fa-pp-*")
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 400 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return Result{}, fmt.Errorf("pdftoppm: %w (%s)", err, strings.TrimSpace(string(errb)))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return Result{}, fmt.Errorf("pdftoppm rendered no pages")
	}

	var parts []string
	source := constants.SourceFastOCR
	note := ""
	for i, img := range matches {
		pageText, pageSource, pageNote, err := e.ocrPage(ctx, img)
		if err != nil {
			// One bad page never sinks the document.
			e.logger.Warn("page ocr failed", "path", path, "page", i+1, "error", err)
			parts = append(parts, fmt.Sprintf("[page %d: ocr failed]", i+1))
			continue
		}
		parts = append(parts, pageText)
		source = pageSource
		if pageNote != "" && note == "" {
			note = pageNote
		}
	}
	return Result{
		Text:   strings.Join(parts, "\n\n"),
		Source: source,
		Note:   note,
		Pages:  len(matches),
	}, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (Result, error) {
	text, source, note, err := e.ocrPage(ctx, path)
	if err != nil {
		return Result{Source: constants.SourceNone}, err
	}
	return Result{Text: text, Source: source, Note: note, Pages: 1}, nil
}

// ocrPage runs the fast engine on one page image and escalates to the VLM
// when the output quality is poor. The escalated text is kept only when it
// does not score worse than the fast engine's.
func (e *Extractor) ocrPage(ctx context.Context, path string) (text, source, note string, err error) {
	ocrPath, cleanup := e.preprocess(ctx, path)
	defer cleanup()

	text, err = e.fast.ExtractText(ctx, ocrPath)
	if err != nil {
		if e.vlm == nil {
			return "", "", "", err
		}
		e.logger.Warn("fast ocr failed, trying vlm", "path", path, "error", err)
		text, err = e.vlm.ExtractText(ctx, ocrPath)
		if err != nil {
			return "", "", "", err
		}
		return text, e.vlm.Name(), "fast ocr unavailable", nil
	}

	score, length := Quality(text)
	if score >= QualityFloor && length >= MinPrintable {
		return text, e.fast.Name(), "", nil
	}

	if e.vlm != nil {
		e.logger.Info("escalating to vlm", "path", path, "score", score, "printable_len", length)
		vlmText, vlmErr := e.vlm.ExtractText(ctx, ocrPath)
		if vlmErr != nil {
			e.logger.Error("vlm escalation failed, keeping fast ocr output", "path", path, "error", vlmErr)
		} else if vlmScore, _ := Quality(vlmText); strings.TrimSpace(vlmText) != "" && vlmScore >= score {
			return vlmText, e.vlm.Name(), "escalated to vlm (low fast ocr quality)", nil
		}
	}
	return text, e.fast.Name(), "low ocr quality", nil
}

// preprocess applies grayscale and local contrast enhancement through
// ImageMagick. Falls back to the original image when the tool is missing
// or fails.
func (e *Extractor) preprocess(ctx context.Context, path string) (string, func()) {
	noop := func() {}
	if !e.cfg.Preprocess {
		return path, noop
	}
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".preprocessed.png"
	_, _, err := e.runner.Run(ctx, e.cfg.Magick, path, "-colorspace", "Gray", "-clahe", "25x25%+128+2", out)
	if err != nil {
		e.logger.Debug("image preprocessing failed, using original", "path", path, "error", err)
		return path, noop
	}
	return out, func() { _ = os.Remove(out) }
}

func (e *Extractor) extractRaw(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Source: constants.SourceNone, Note: "raw text read failed"}, err
	}
	return Result{Text: string(data), Source: constants.SourceDirect, Pages: 1}, nil
}

// truncateUTF8 cuts s at max bytes, backing up so a multibyte rune is
// never split at the boundary.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
