package mentormatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the MentorMatch engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.mentormatch/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" env:"DB_PATH"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name" env:"DB_NAME"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.mentormatch/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" env:"STORAGE_DIR"`

	// MediaDir is where uploaded files referenced as /media/<name> live.
	MediaDir string `json:"media_dir" yaml:"media_dir" env:"MEDIA_DIR"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"` // debug, info, warn, error

	// LLM providers. Chat is optional: without it every ranking uses the
	// similarity policy.
	Chat      LLMConfig `json:"chat" yaml:"chat" envPrefix:"CHAT_"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding" envPrefix:"EMBED_"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" env:"EMBEDDING_DIM"`

	// Ranking
	TopN       int `json:"top_n" yaml:"top_n" env:"TOP_N"`
	MinLLMPool int `json:"min_llm_pool" yaml:"min_llm_pool" env:"MIN_LLM_POOL"`
	// PoolLimit caps the pool handed to the ranker. Zero means 20, or 40
	// when the pool consists of roles.
	PoolLimit         int     `json:"pool_limit" yaml:"pool_limit" env:"POOL_LIMIT"`
	LLMTimeoutSeconds int     `json:"llm_timeout_seconds" yaml:"llm_timeout_seconds" env:"LLM_TIMEOUT_SECONDS"`
	LLMRetries        int     `json:"llm_retries" yaml:"llm_retries" env:"LLM_RETRIES"`
	Temperature       float64 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	RankConcurrency   int     `json:"rank_concurrency" yaml:"rank_concurrency" env:"RANK_CONCURRENCY"` // Max parallel subjects in RankAll (default 4)

	// RefreshOnWrite re-embeds an entity whenever it is written.
	RefreshOnWrite bool `json:"refresh_on_write" yaml:"refresh_on_write" env:"REFRESH_ON_WRITE"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" env:"PROVIDER"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom, local
	Model    string `json:"model" yaml:"model" env:"MODEL"`
	BaseURL  string `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey   string `json:"api_key" yaml:"api_key" env:"API_KEY"`
}

// Enabled reports whether the endpoint is usable for chat: a provider
// is named and it either has credentials or runs without them.
func (c LLMConfig) Enabled() bool {
	switch c.Provider {
	case "", "local", "hashing":
		return false
	case "ollama", "lmstudio":
		return true
	case "custom":
		return c.BaseURL != ""
	default:
		return c.APIKey != ""
	}
}

// DefaultConfig returns a Config that runs fully offline: no chat model
// and the local hashing embedder.
// Database is stored in ~/.mentormatch/mentormatch.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "mentormatch",
		StorageDir: "home",
		MediaDir:   "media",
		LogLevel:   "info",
		Embedding: LLMConfig{
			Provider: "local",
		},
		EmbeddingDim:      1536,
		TopN:              5,
		MinLLMPool:        5,
		LLMTimeoutSeconds: 20,
		Temperature:       0.2,
		RankConcurrency:   4,
		RefreshOnWrite:    true,
	}
}

// LoadConfig reads a JSON or YAML file (by extension) over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "MENTORMATCH_"

// ApplyEnv overlays MENTORMATCH_* variables on cfg, then the legacy
// PROXY_API_KEY, PROXY_BASE_URL, PROXY_MODEL and MATCHING_LLM_TEMPERATURE
// names for fields still unset.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if key := os.Getenv("PROXY_API_KEY"); key != "" && cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = key
		if cfg.Chat.Provider == "" {
			cfg.Chat.Provider = "custom"
		}
	}
	if u := os.Getenv("PROXY_BASE_URL"); u != "" && cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = u
	}
	if m := os.Getenv("PROXY_MODEL"); m != "" && cfg.Chat.Model == "" {
		cfg.Chat.Model = m
	}
	if t := os.Getenv("MATCHING_LLM_TEMPERATURE"); t != "" && os.Getenv(EnvPrefix+"TEMPERATURE") == "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return fmt.Errorf("%w: MATCHING_LLM_TEMPERATURE: %v", ErrInvalidConfig, err)
		}
		cfg.Temperature = v
	}
	return nil
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	switch {
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidConfig, c.EmbeddingDim)
	case c.TopN < 0:
		return fmt.Errorf("%w: top_n must not be negative, got %d", ErrInvalidConfig, c.TopN)
	case c.MinLLMPool < 0:
		return fmt.Errorf("%w: min_llm_pool must not be negative, got %d", ErrInvalidConfig, c.MinLLMPool)
	case c.PoolLimit < 0:
		return fmt.Errorf("%w: pool_limit must not be negative, got %d", ErrInvalidConfig, c.PoolLimit)
	case c.LLMRetries < 0:
		return fmt.Errorf("%w: llm_retries must not be negative, got %d", ErrInvalidConfig, c.LLMRetries)
	case c.LLMTimeoutSeconds < 0:
		return fmt.Errorf("%w: llm_timeout_seconds must not be negative, got %d", ErrInvalidConfig, c.LLMTimeoutSeconds)
	case c.RankConcurrency < 0:
		return fmt.Errorf("%w: rank_concurrency must not be negative, got %d", ErrInvalidConfig, c.RankConcurrency)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level, info when unset or invalid.
func (c *Config) SlogLevel() slog.Level {
	l, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, s)
}

func (c *Config) llmTimeout() time.Duration {
	if c.LLMTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// poolLimit returns the pool cap for a pool of the given kind.
func (c *Config) poolLimit(roles bool) int {
	if c.PoolLimit > 0 {
		return c.PoolLimit
	}
	if roles {
		return 40
	}
	return 20
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "mentormatch"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".mentormatch", name+".db")
	}
}
