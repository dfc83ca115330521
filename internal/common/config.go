package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Logging     LoggingConfig    `toml:"logging"`
	LLM         LLMConfig        `toml:"llm"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	Embeddings  EmbeddingsConfig `toml:"embeddings"`
	Pipeline    PipelineConfig   `toml:"pipeline"`
	Refinement  RefinementConfig `toml:"refinement"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Documents string `toml:"documents"` // Directory for uploaded document blobs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "250ms" - how often workers poll for jobs
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - job lease duration before redelivery
	MaxAttempts       int    `toml:"max_attempts"`       // Default attempts before dead-letter
	BackoffBase       string `toml:"backoff_base"`       // Retry backoff base, e.g. "2s"
	BackoffMax        string `toml:"backoff_max"`        // Retry backoff cap, e.g. "60s"
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for the completion gateway
type LLMConfig struct {
	DefaultProvider LLMProvider   `toml:"default_provider"` // "gemini" or "claude" (default: "gemini")
	APIKey          string        `toml:"api_key"`          // Gateway API key (LLM_API_KEY)
	BaseURL         string        `toml:"base_url"`         // Optional API base override (LLM_BASE_URL)
	MaxRetries      int           `toml:"max_retries"`      // Local retries per model (default: 1)
	TokenCap        int           `toml:"token_cap"`        // Per-call token cap; requests above are refused
	Models          StageModels   `toml:"models"`           // Per-stage model ids plus escalation ladder
	Timeouts        StageTimeouts `toml:"timeouts"`         // Per-stage call timeouts
}

// StageModels holds per-stage model ids and the escalation ladder
type StageModels struct {
	Summarization string `toml:"summarization"`
	Analysis      string `toml:"analysis"`
	Structure     string `toml:"structure"`
	Lesson        string `toml:"lesson"`
	Judge         string `toml:"judge"`
	Fallback      string `toml:"fallback"`  // second rung of the escalation ladder
	Emergency     string `toml:"emergency"` // last rung of the escalation ladder
}

// StageTimeouts holds per-stage LLM call timeouts as duration strings
type StageTimeouts struct {
	Summarization string `toml:"summarization"` // default "60s"
	Analysis      string `toml:"analysis"`      // default "60s"
	Lesson        string `toml:"lesson"`        // default "120s"
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // default: "gemini-3-flash-preview"
	Timeout     string  `toml:"timeout"`     // operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // minimum interval between calls (default: "4s")
	Temperature float32 `toml:"temperature"` // default: 0.7
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // default: "claude-haiku-3-5-20241022"
	MaxTokens   int     `toml:"max_tokens"`  // default: 8192
	Timeout     string  `toml:"timeout"`     // default: "5m"
	RateLimit   string  `toml:"rate_limit"`  // default: "1s"
	Temperature float32 `toml:"temperature"` // default: 0.7
}

// EmbeddingsConfig selects the embedding backend
type EmbeddingsConfig struct {
	Provider   string `toml:"provider"`   // "gemini" or "offline" (deterministic, test only)
	Model      string `toml:"model"`      // default: "gemini-embedding-001"
	Dimensions int    `toml:"dimensions"` // default: 768
}

// PipelineConfig tunes the stage workers
type PipelineConfig struct {
	ChunkSize             int    `toml:"chunk_size"`              // default: 1500 chars
	ChunkOverlap          int    `toml:"chunk_overlap"`           // default: 200 chars
	MaxGenerationAttempts int    `toml:"max_generation_attempts"` // full lesson regenerations (default: 3)
	JobDeadline           string `toml:"job_deadline"`            // soft per-job deadline (default: "10m")
}

// RefinementConfig tunes the targeted-refinement loop of the lesson graph
type RefinementConfig struct {
	MaxIterations         int             `toml:"max_iterations"`          // refinement loop cap (default: 2)
	MaxConcurrentPatchers int             `toml:"max_concurrent_patchers"` // batcher concurrency N (default: 3)
	AdjacentSectionGap    int             `toml:"adjacent_section_gap"`    // default: 1
	JudgeAcceptScore      float64         `toml:"judge_accept_score"`      // acceptance threshold (default: 0.80)
	TokenBudget           int             `toml:"token_budget"`            // per-lesson refinement budget
	PreferSurgical        bool            `toml:"prefer_surgical"`
	TokenCosts            TokenCostConfig `toml:"token_costs"`
}

// TokenCostConfig bounds estimated executor token spend
type TokenCostConfig struct {
	Patcher         TokenRange `toml:"patcher"`
	SectionExpander TokenRange `toml:"section_expander"`
	FullRegenerate  TokenRange `toml:"full_regenerate"`
}

// TokenRange is a min/max token estimate
type TokenRange struct {
	Min int `toml:"min"`
	Max int `toml:"max"`
}

// SchedulerConfig controls housekeeping jobs
type SchedulerConfig struct {
	Enabled         bool   `toml:"enabled"`
	RequeueSchedule string `toml:"requeue_schedule"`  // cron spec for expired-lease sweep
	DeadLetterTTL   string `toml:"dead_letter_ttl"`   // retention for dead-letter jobs
	CleanupSchedule string `toml:"cleanup_schedule"`  // cron spec for dead-letter GC
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in doceo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/doceo",
			},
			Filesystem: FilesystemConfig{
				Documents: "./data/documents",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "250ms",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxAttempts:       3,
			BackoffBase:       "2s",
			BackoffMax:        "60s",
			QueueName:         "doceo",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
			MaxRetries:      1,
			TokenCap:        32000,
			Models: StageModels{
				Summarization: "gemini-3-flash-preview",
				Analysis:      "gemini-3-flash-preview",
				Structure:     "gemini-3-flash-preview",
				Lesson:        "claude-sonnet-4-20250514",
				Judge:         "gemini-3-flash-preview",
				Fallback:      "claude-haiku-3-5-20241022",
				Emergency:     "gemini-3-flash-preview",
			},
			Timeouts: StageTimeouts{
				Summarization: "60s",
				Analysis:      "60s",
				Lesson:        "120s",
			},
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "5m",
			RateLimit:   "4s",
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "gemini",
			Model:      "gemini-embedding-001",
			Dimensions: 768,
		},
		Pipeline: PipelineConfig{
			ChunkSize:             1500,
			ChunkOverlap:          200,
			MaxGenerationAttempts: 3,
			JobDeadline:           "10m",
		},
		Refinement: RefinementConfig{
			MaxIterations:         2,
			MaxConcurrentPatchers: 3,
			AdjacentSectionGap:    1,
			JudgeAcceptScore:      0.80,
			TokenBudget:           24000,
			PreferSurgical:        true,
			TokenCosts: TokenCostConfig{
				Patcher:         TokenRange{Min: 200, Max: 1200},
				SectionExpander: TokenRange{Min: 800, Max: 3000},
				FullRegenerate:  TokenRange{Min: 3000, Max: 9000},
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			RequeueSchedule: "*/1 * * * *",
			DeadLetterTTL:   "168h",
			CleanupSchedule: "0 * * * *",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Both the documented external names (LLM_API_KEY, MAX_RETRIES, REFINEMENT_*)
// and DOCEO_-prefixed variants are recognized.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DOCEO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// LLM gateway
	if v := firstEnv("LLM_API_KEY", "DOCEO_LLM_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := firstEnv("LLM_BASE_URL", "DOCEO_LLM_BASE_URL"); v != "" {
		config.LLM.BaseURL = v
	}
	if v := firstEnv("GEMINI_API_KEY", "DOCEO_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := firstEnv("ANTHROPIC_API_KEY", "DOCEO_CLAUDE_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := firstEnv("MAX_RETRIES", "DOCEO_LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.LLM.MaxRetries = n
		}
	}

	// Storage paths (METADATA_URL / QUEUE_URL / VECTOR_URL collapse onto the
	// embedded store path in this deployment)
	if v := firstEnv("METADATA_URL", "DOCEO_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}

	// Queue
	if v := os.Getenv("DOCEO_QUEUE_POLL_INTERVAL"); v != "" {
		config.Queue.PollInterval = v
	}
	if v := os.Getenv("DOCEO_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("DOCEO_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxAttempts = n
		}
	}

	// Logging
	if v := os.Getenv("DOCEO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("DOCEO_LOG_OUTPUT"); v != "" {
		outputs := []string{}
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Refinement
	if v := firstEnv("REFINEMENT_MAX_ITERATIONS", "DOCEO_REFINEMENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Refinement.MaxIterations = n
		}
	}
	if v := firstEnv("REFINEMENT_MAX_CONCURRENT_PATCHERS", "DOCEO_REFINEMENT_MAX_CONCURRENT_PATCHERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Refinement.MaxConcurrentPatchers = n
		}
	}
	if v := firstEnv("REFINEMENT_ADJACENT_SECTION_GAP", "DOCEO_REFINEMENT_ADJACENT_SECTION_GAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Refinement.AdjacentSectionGap = n
		}
	}
}

// firstEnv returns the first non-empty value among the named variables
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"queue.backoff_base":       c.Queue.BackoffBase,
		"queue.backoff_max":        c.Queue.BackoffMax,
		"pipeline.job_deadline":    c.Pipeline.JobDeadline,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Refinement.AdjacentSectionGap < 0 {
		return fmt.Errorf("refinement.adjacent_section_gap must be non-negative, got %d", c.Refinement.AdjacentSectionGap)
	}
	if c.Refinement.MaxConcurrentPatchers <= 0 {
		return fmt.Errorf("refinement.max_concurrent_patchers must be positive, got %d", c.Refinement.MaxConcurrentPatchers)
	}
	if c.Refinement.JudgeAcceptScore <= 0 || c.Refinement.JudgeAcceptScore > 1 {
		return fmt.Errorf("refinement.judge_accept_score must be in (0,1], got %v", c.Refinement.JudgeAcceptScore)
	}
	return nil
}

// Duration parses a duration config field, falling back to def on error
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
