package common

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig
	Paths      PathsConfig
	Worker     WorkerConfig
	OCR        OCRConfig
	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Prefilter  PrefilterConfig
	Relevancy  RelevancyConfig
	Webhook    WebhookConfig
	Ingest     IngestConfig
	Project    ProjectConfig
}

// DatabaseConfig selects the backing store. A postgres:// DSN selects pgx;
// anything else is treated as a sqlite file path.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// PathsConfig holds the workspace directory layout.
type PathsConfig struct {
	Workspace  string
	Incoming   string
	Staging    string
	RefinedDir string
	IndexDir   string
	LogDir     string
}

// IndexPath is the sqlite file backing the document index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.IndexDir, "index.db")
}

// WorkerConfig holds queue polling and lease parameters.
type WorkerConfig struct {
	TenantID          string
	AllowUnscoped     bool
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	PoolSize          int
	MaxDocsPerRun     int
	CharLimit         int
	MoveProcessed     bool
	ProcessedDir      string
}

// OCRConfig holds OCR engine selection and tuning.
type OCRConfig struct {
	Pdftotext    string
	Pdftoppm     string
	Tesseract    string
	Magick       string
	Lang         string
	DPI          int
	MaxPages     int
	VLMEnabled   bool
	VLMBaseURL   string
	VLMModel     string
	VLMAPIKey    string
	VLMMaxTokens int
	AutoContext  bool
	SelfCorrect  bool
	Preprocess   bool
}

// LLMConfig holds the enrichment model settings.
type LLMConfig struct {
	Offline         bool
	BaseURL         string
	Model           string
	APIKey          string
	Mode            string // "sync" | "batch"
	Temperature     float64
	MaxTokens       int
	InputMaxChars   int
	SummaryEnabled  bool
	ForensicEnabled bool
	InsightsEnabled bool
	Timeout         time.Duration
}

// EmbeddingsConfig holds the optional embeddings backend.
type EmbeddingsConfig struct {
	Enabled bool
	BaseURL string
	Model   string
}

// PrefilterConfig gates paid model calls.
type PrefilterConfig struct {
	MinChars int
	Keywords []string
}

// RelevancyConfig holds relevancy scoring settings.
type RelevancyConfig struct {
	Enabled bool
	Targets []string
	Model   string
}

// WebhookConfig holds callback delivery settings.
type WebhookConfig struct {
	Secret  string
	Timeout time.Duration
}

// IngestConfig holds static enqueue checks.
type IngestConfig struct {
	MaxUploadMB int
	Gazetteer   string
	PlaceSuggest bool
}

// ProjectConfig scopes geo tagging to a project's areas of interest.
type ProjectConfig struct {
	AOIThemes   []string
	AOICodes    []string
	AOINames    []string
	BandNumbers []string
	StartYear   int
	EndYear     int
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	workspace := getEnv("ARCHIVE_WORKSPACE", "./workspace")
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("ARCHIVE_DB_DSN", filepath.Join(workspace, "queue.db")),
			MaxConns:        getEnvAsInt32("ARCHIVE_DB_MAX_CONNS", 10),
			MaxConnLifetime: getEnvAsDuration("ARCHIVE_DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("ARCHIVE_DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("ARCHIVE_DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Paths: PathsConfig{
			Workspace:  workspace,
			Incoming:   getEnv("ARCHIVE_INCOMING_DIR", filepath.Join(workspace, "incoming")),
			Staging:    getEnv("ARCHIVE_STAGING_DIR", filepath.Join(workspace, "staging")),
			RefinedDir: getEnv("ARCHIVE_REFINED_DIR", filepath.Join(workspace, "refined")),
			IndexDir:   getEnv("ARCHIVE_INDEX_DIR", filepath.Join(workspace, "index")),
			LogDir:     getEnv("ARCHIVE_LOG_DIR", filepath.Join(workspace, "logs")),
		},
		Worker: WorkerConfig{
			TenantID:          getEnv("ARCHIVE_WORKER_TENANT", ""),
			AllowUnscoped:     getEnvAsBool("ARCHIVE_WORKER_ALLOW_UNSCOPED", true),
			PollInterval:      getEnvAsDuration("ARCHIVE_WORKER_POLL_INTERVAL", 2*time.Second),
			VisibilityTimeout: getEnvAsDuration("ARCHIVE_LEASE_VISIBILITY_TIMEOUT", 5*time.Minute),
			PoolSize:          getEnvAsInt("ARCHIVE_WORKER_POOL_SIZE", 2),
			MaxDocsPerRun:     getEnvAsInt("ARCHIVE_MAX_DOCS_PER_RUN", 0),
			CharLimit:         getEnvAsInt("ARCHIVE_WORKER_CHAR_LIMIT", 200_000),
			MoveProcessed:     getEnvAsBool("ARCHIVE_MOVE_PROCESSED", false),
			ProcessedDir:      getEnv("ARCHIVE_PROCESSED_DIR", ""),
		},
		OCR: OCRConfig{
			Pdftotext:    getEnv("ARCHIVE_PDFTOTEXT", "pdftotext"),
			Pdftoppm:     getEnv("ARCHIVE_PDFTOPPM", "pdftoppm"),
			Tesseract:    getEnv("ARCHIVE_TESSERACT", "tesseract"),
			Magick:       getEnv("ARCHIVE_MAGICK", "magick"),
			Lang:         getEnv("ARCHIVE_TESSERACT_LANG", "eng"),
			DPI:          getEnvAsInt("ARCHIVE_OCR_DPI", 400),
			MaxPages:     getEnvAsInt("ARCHIVE_OCR_MAX_PAGES", 0),
			VLMEnabled:   getEnvAsBool("ARCHIVE_VLM_ENABLED", false),
			VLMBaseURL:   getEnv("ARCHIVE_VLM_BASE_URL", ""),
			VLMModel:     getEnv("ARCHIVE_VLM_MODEL", "tencent/HunyuanOCR"),
			VLMAPIKey:    getEnv("ARCHIVE_VLM_API_KEY", "none"),
			VLMMaxTokens: getEnvAsInt("ARCHIVE_VLM_MAX_TOKENS", 8192),
			AutoContext:  getEnvAsBool("ARCHIVE_VLM_AUTO_CONTEXT", true),
			SelfCorrect:  getEnvAsBool("ARCHIVE_VLM_SELF_CORRECT", false),
			Preprocess:   getEnvAsBool("ARCHIVE_OCR_PREPROCESS", true),
		},
		LLM: LLMConfig{
			Offline:         getEnvAsBool("ARCHIVE_LLM_OFFLINE", true),
			BaseURL:         getEnv("ARCHIVE_LLM_BASE_URL", ""),
			Model:           getEnv("ARCHIVE_LLM_MODEL", ""),
			APIKey:          getEnv("ARCHIVE_LLM_API_KEY", "none"),
			Mode:            getEnv("ARCHIVE_LLM_MODE", "sync"),
			Temperature:     getEnvAsFloat64("ARCHIVE_LLM_TEMPERATURE", 0.2),
			MaxTokens:       getEnvAsInt("ARCHIVE_LLM_MAX_TOKENS", 512),
			InputMaxChars:   getEnvAsInt("ARCHIVE_LLM_INPUT_MAX_CHARS", 8000),
			SummaryEnabled:  getEnvAsBool("ARCHIVE_SUMMARY_ENABLED", true),
			ForensicEnabled: getEnvAsBool("ARCHIVE_LLM_FORENSIC_ENABLED", false),
			InsightsEnabled: getEnvAsBool("ARCHIVE_LLM_INSIGHTS_ENABLED", false),
			Timeout:         getEnvAsDuration("ARCHIVE_LLM_TIMEOUT", 45*time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Enabled: getEnvAsBool("ARCHIVE_EMBEDDINGS_ENABLED", false),
			BaseURL: getEnv("ARCHIVE_EMBEDDINGS_BASE_URL", ""),
			Model:   getEnv("ARCHIVE_EMBEDDINGS_MODEL", ""),
		},
		Prefilter: PrefilterConfig{
			MinChars: getEnvAsInt("ARCHIVE_PREFILTER_MIN_CHARS", 0),
			Keywords: splitCSV(getEnv("ARCHIVE_PREFILTER_KEYWORDS", "")),
		},
		Relevancy: RelevancyConfig{
			Enabled: getEnvAsBool("ARCHIVE_RELEVANCY_ENABLED", false),
			Targets: splitCSV(getEnv("ARCHIVE_RELEVANCY_TARGETS", "")),
			Model:   getEnv("ARCHIVE_RELEVANCY_MODEL", ""),
		},
		Webhook: WebhookConfig{
			Secret:  getEnv("ARCHIVE_WEBHOOK_SECRET", ""),
			Timeout: getEnvAsDuration("ARCHIVE_WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Ingest: IngestConfig{
			MaxUploadMB:  getEnvAsInt("ARCHIVE_MAX_UPLOAD_MB", 100),
			Gazetteer:    getEnv("ARCHIVE_PLACE_GAZETTEER", ""),
			PlaceSuggest: getEnvAsBool("ARCHIVE_PLACE_SUGGEST_ENABLED", false),
		},
		Project: ProjectConfig{
			AOIThemes:   splitCSV(getEnv("ARCHIVE_PROJECT_AOI_THEMES", "")),
			AOICodes:    splitCSV(getEnv("ARCHIVE_PROJECT_AOI_CODES", "")),
			AOINames:    splitCSV(getEnv("ARCHIVE_PROJECT_AOI_NAMES", "")),
			BandNumbers: splitCSV(getEnv("ARCHIVE_PROJECT_BAND_NUMBERS", "")),
			StartYear:   getEnvAsInt("ARCHIVE_PROJECT_START_YEAR", 0),
			EndYear:     getEnvAsInt("ARCHIVE_PROJECT_END_YEAR", 0),
		},
	}
}

// Validate checks the loaded configuration for unusable combinations.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "ARCHIVE_DB_DSN is required", ErrInvalidInput)
	}
	if c.OCR.VLMEnabled && c.OCR.VLMBaseURL == "" {
		return NewAppError("CONFIG_ERROR", "ARCHIVE_VLM_BASE_URL is required when the VLM backend is enabled", ErrInvalidInput)
	}
	if !c.LLM.Offline && c.LLM.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "ARCHIVE_LLM_BASE_URL is required when the LLM is online", ErrInvalidInput)
	}
	if c.LLM.Mode != "sync" && c.LLM.Mode != "batch" {
		return NewAppError("CONFIG_ERROR", "ARCHIVE_LLM_MODE must be sync or batch", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
