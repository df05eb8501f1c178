// Package config loads the flat configuration record described in spec §6.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// RoleFilter selects which message roles the extractor renders.
type RoleFilter string

const (
	RoleFilterUserOnly      RoleFilter = "user_only"
	RoleFilterAssistantOnly RoleFilter = "assistant_only"
	RoleFilterHybrid        RoleFilter = "hybrid"
)

// UpdateMode selects whether consolidation runs online or offline. Only
// offline is implemented by the core engine; online is reserved for hosts
// that wire their own trigger.
type UpdateMode string

const (
	UpdateModeOnline  UpdateMode = "online"
	UpdateModeOffline UpdateMode = "offline"
)

// RetrieveStrategy selects the retrieval algorithm. Only "embedding" is
// required by the core; the others are accepted for forward compatibility.
type RetrieveStrategy string

const (
	RetrieveStrategyEmbedding RetrieveStrategy = "embedding"
	RetrieveStrategyContext   RetrieveStrategy = "context"
	RetrieveStrategyHybrid    RetrieveStrategy = "hybrid"
)

// LLMConfig describes a chat-completion backend.
type LLMConfig struct {
	Backend   string `yaml:"backend"` // "openai" or "anthropic"
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// EmbedderConfig describes the embedding backend.
type EmbedderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// StoreConfig describes the fact-store backend.
type StoreConfig struct {
	Backend          string `yaml:"backend"` // "postgres", "qdrant", or "memory"
	ConnectionString string `yaml:"connection_string,omitempty"`
	Collection       string `yaml:"collection,omitempty"`
}

// RedisConfig describes the optional embedder cache overlay.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
	DB      int    `yaml:"db,omitempty"`
}

// S3Config describes the optional snapshot store.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

// ClickHouseConfig describes the optional audit sink.
type ClickHouseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn,omitempty"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// ConsolidatorConfig carries the two-phase procedure's parameters (§4.7).
type ConsolidatorConfig struct {
	TopK                       int     `yaml:"top_k,omitempty"`
	KeepTopN                   int     `yaml:"keep_top_n,omitempty"`
	ScoreThreshold             float64 `yaml:"score_threshold,omitempty"`
	RecomputeEmbeddingOnUpdate bool    `yaml:"recompute_embedding_on_update,omitempty"`
}

// Config is the flat configuration record of spec §6.
type Config struct {
	MessagesUse      RoleFilter       `yaml:"messages_use"`
	MetadataGenerate bool             `yaml:"metadata_generate"`
	TextSummary      bool             `yaml:"text_summary"`
	RetrieveStrategy RetrieveStrategy `yaml:"retrieve_strategy"`
	Update           UpdateMode       `yaml:"update"`
	LogLevel         string           `yaml:"log_level,omitempty"`

	LLM         LLMConfig          `yaml:"llm"`
	Embedder    EmbedderConfig     `yaml:"embedder"`
	Store       StoreConfig        `yaml:"store"`
	Redis       RedisConfig        `yaml:"redis,omitempty"`
	S3          S3Config           `yaml:"s3,omitempty"`
	ClickHouse  ClickHouseConfig   `yaml:"clickhouse,omitempty"`
	Telemetry   TelemetryConfig    `yaml:"telemetry,omitempty"`
	Consolidate ConsolidatorConfig `yaml:"consolidate,omitempty"`
}

// Load reads the YAML configuration at path, overlays the .env file in the
// current working directory (if present) and falls back to environment variables for API keys left
// blank in the YAML document.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("config: .env overlay not loaded")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if cfg.LLM.APIKey == "" {
		if cfg.LLM.Backend == "anthropic" {
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		} else {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = os.Getenv("EMBEDDINGS_API_KEY")
	}

	cfg.applyDefaults()

	log.Info().Str("path", path).Msg("config: loaded")
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MessagesUse == "" {
		c.MessagesUse = RoleFilterHybrid
	}
	if c.RetrieveStrategy == "" {
		c.RetrieveStrategy = RetrieveStrategyEmbedding
	}
	if c.Update == "" {
		c.Update = UpdateModeOffline
	}
	if c.Consolidate.TopK == 0 {
		c.Consolidate.TopK = 20
	}
	if c.Consolidate.KeepTopN == 0 {
		c.Consolidate.KeepTopN = 10
	}
	if c.Consolidate.ScoreThreshold == 0 {
		c.Consolidate.ScoreThreshold = 0.9
	}
}
