/**
 * Configuration for the OCR ensemble worker
 *
 * Loads configuration from environment variables. The ocrctl CLI can overlay
 * a YAML file on top of the environment with LoadFile.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/validation"
)

// Config holds worker configuration
type Config struct {
	// Pipeline identity
	PipelineVersion string `yaml:"pipeline_version"`

	// Redis configuration
	RedisURL         string `yaml:"redis_url"`
	OCRQueueName     string `yaml:"ocr_queue_name"`
	HandoffQueueName string `yaml:"handoff_queue_name"`

	// PostgreSQL configuration
	DatabaseURL string `yaml:"database_url"`

	// OCR backend
	LLMServiceURL     string `yaml:"llm_service_url"`
	LLMServiceAPIKey  string `yaml:"llm_service_api_key"`
	LLMTimeoutSeconds int    `yaml:"llm_timeout_seconds"`

	// Ensemble
	OCREngines           []string `yaml:"engines"`
	OCRLocalEngines      []string `yaml:"local_engines"` // served in-process by Tesseract
	OCRPrompt            string   `yaml:"prompt"`
	OCRMaxTokens         int      `yaml:"max_tokens"`
	OCRDPI               int      `yaml:"dpi"`
	OCRMaxPages          int      `yaml:"max_pages"`
	OCRPageConcurrency   int      `yaml:"page_concurrency"`
	OCRMinCharsPerPage   int      `yaml:"min_chars_per_page"`
	OCRMinAlphaRatio     float64  `yaml:"min_alpha_ratio"`
	OCRMinPrintableRatio float64  `yaml:"min_printable_ratio"`
	DropFailingEngines   bool     `yaml:"drop_failing_engines"`

	// Extracted text validation before handoff
	MinExtractedChars      int     `yaml:"min_extracted_chars"`
	MinExtractedAlphaRatio float64 `yaml:"min_extracted_alpha_ratio"`

	// Tesseract configuration
	TesseractLanguages []string `yaml:"tesseract_languages"`

	// Artifact storage for consensus text
	ArtifactAPIURL string `yaml:"artifact_api_url"`

	// Worker configuration
	WorkerConcurrency int   `yaml:"worker_concurrency"`
	MaxFileSize       int64 `yaml:"max_file_size"`
	ProcessingTimeout int   `yaml:"processing_timeout_ms"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := fromEnv()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile loads the environment configuration and overlays the YAML file at path.
// Nothing is validated: callers apply their own overrides first and then check
// what they need (ValidateEnsemble for OCR runs).
func LoadFile(path string) (*Config, error) {
	cfg := fromEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		PipelineVersion:        getEnvOrDefault("PIPELINE_VERSION", ""),
		RedisURL:               getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		OCRQueueName:           getEnvOrDefault("OCR_QUEUE_NAME", "ocr"),
		HandoffQueueName:       getEnvOrDefault("HANDOFF_QUEUE_NAME", "extraction:jobs"),
		DatabaseURL:            getEnvOrDefault("DATABASE_URL", ""),
		LLMServiceURL:          getEnvOrDefault("LLM_SERVICE_URL", ""),
		LLMServiceAPIKey:       getEnvOrDefault("LLM_SERVICE_API_KEY", ""),
		LLMTimeoutSeconds:      getEnvAsIntOrDefault("LLM_TIMEOUT_SECONDS", 900),
		OCREngines:             getEnvAsListOrDefault("OCR_ENGINES", nil),
		OCRLocalEngines:        getEnvAsListOrDefault("OCR_LOCAL_ENGINES", nil),
		OCRPrompt:              getEnvOrDefault("OCR_PROMPT", ocr.DefaultPrompt),
		OCRMaxTokens:           getEnvAsIntOrDefault("OCR_MAX_TOKENS", ocr.DefaultMaxTokens),
		OCRDPI:                 getEnvAsIntOrDefault("OCR_DPI", ocr.DefaultDPI),
		OCRMaxPages:            getEnvAsIntOrDefault("OCR_MAX_PAGES", 0),
		OCRPageConcurrency:     getEnvAsIntOrDefault("OCR_PAGE_CONCURRENCY", 1),
		OCRMinCharsPerPage:     getEnvAsIntOrDefault("OCR_MIN_CHARS_PER_PAGE", 40),
		OCRMinAlphaRatio:       getEnvAsFloatOrDefault("OCR_MIN_ALPHA_RATIO", 0.10),
		OCRMinPrintableRatio:   getEnvAsFloatOrDefault("OCR_MIN_PRINTABLE_RATIO", 0.85),
		DropFailingEngines:     getEnvAsBoolOrDefault("OCR_DROP_FAILING_ENGINES", false),
		MinExtractedChars:      getEnvAsIntOrDefault("MIN_EXTRACTED_CHARS", 200),
		MinExtractedAlphaRatio: getEnvAsFloatOrDefault("MIN_EXTRACTED_ALPHA_RATIO", 0.15),
		TesseractLanguages:     getEnvAsListOrDefault("TESSERACT_LANGUAGES", []string{"eng"}),
		ArtifactAPIURL:         getEnvOrDefault("ARTIFACT_API_URL", ""),
		WorkerConcurrency:      getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:            getEnvAsInt64OrDefault("MAX_FILE_SIZE", 524288000), // 500MB
		ProcessingTimeout:      getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 3600000), // 1 hour
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:              getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// Validate checks if configuration is valid for the worker
func (c *Config) Validate() error {
	if c.PipelineVersion == "" {
		return fmt.Errorf("PIPELINE_VERSION is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return c.ValidateEnsemble()
}

// ValidateEnsemble checks the settings that drive rendering and OCR.
func (c *Config) ValidateEnsemble() error {
	if len(c.OCREngines) == 0 {
		return fmt.Errorf("OCR_ENGINES must list at least one engine")
	}

	if c.LLMServiceURL == "" && len(c.remoteEngines()) > 0 {
		return fmt.Errorf("LLM_SERVICE_URL is required for engines %v", c.remoteEngines())
	}

	if c.LLMTimeoutSeconds < 1 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", c.LLMTimeoutSeconds)
	}

	if c.OCRDPI < 1 || c.OCRDPI > 1200 {
		return fmt.Errorf("OCR_DPI must be between 1 and 1200, got %d", c.OCRDPI)
	}

	if c.OCRMaxPages < 0 {
		return fmt.Errorf("OCR_MAX_PAGES must be >= 0, got %d", c.OCRMaxPages)
	}

	if c.OCRPageConcurrency < 1 || c.OCRPageConcurrency > 64 {
		return fmt.Errorf("OCR_PAGE_CONCURRENCY must be between 1 and 64, got %d", c.OCRPageConcurrency)
	}

	if err := c.EnsembleConfig().Validate(); err != nil {
		return err
	}

	return nil
}

// EnsembleConfig builds the ensemble settings.
func (c *Config) EnsembleConfig() ocr.EnsembleConfig {
	engines := make([]ocr.EngineSpec, len(c.OCREngines))
	for i, name := range c.OCREngines {
		engines[i] = ocr.EngineSpec{Name: name}
	}
	return ocr.EnsembleConfig{
		Engines: engines,
		Gate: ocr.QualityGate{
			MinCharsPerPage:   c.OCRMinCharsPerPage,
			MinAlphaRatio:     c.OCRMinAlphaRatio,
			MinPrintableRatio: c.OCRMinPrintableRatio,
		},
		Prompt:      c.OCRPrompt,
		MaxTokens:   c.OCRMaxTokens,
		Concurrency: c.OCRPageConcurrency,
	}
}

// RenderOptions builds the rasterization settings.
func (c *Config) RenderOptions() ocr.RenderOptions {
	return ocr.RenderOptions{DPI: c.OCRDPI, MaxPages: c.OCRMaxPages}
}

// ValidationOptions builds the merged-text validation thresholds.
func (c *Config) ValidationOptions() validation.Options {
	return validation.Options{MinChars: c.MinExtractedChars, MinAlphaRatio: c.MinExtractedAlphaRatio}
}

// LLMTimeout returns the OCR backend request timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// IsLocalEngine reports whether the named engine runs in-process.
func (c *Config) IsLocalEngine(name string) bool {
	for _, local := range c.OCRLocalEngines {
		if local == name {
			return true
		}
	}
	return false
}

func (c *Config) remoteEngines() []string {
	var remote []string
	for _, name := range c.OCREngines {
		if !c.IsLocalEngine(name) {
			remote = append(remote, name)
		}
	}
	return remote
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma separated variable, dropping blanks.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
