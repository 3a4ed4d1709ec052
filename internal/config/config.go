package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for mindrag
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Session   SessionConfig   `mapstructure:"session"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Router    RouterConfig    `mapstructure:"router"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Domains   []DomainConfig  `mapstructure:"domains"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, sqlite, badger
	BadgerPath    string        `mapstructure:"badger_path"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"` // openai, gemini
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	EmbeddingProvider string        `mapstructure:"embedding_provider"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	LLMModel          string        `mapstructure:"llm_model"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout"`
}

// VectorConfig holds vector store configuration
type VectorConfig struct {
	Backend        string `mapstructure:"backend"` // sqlite, weaviate
	WeaviateHost   string `mapstructure:"weaviate_host"`
	WeaviateScheme string `mapstructure:"weaviate_scheme"`
	WeaviateAPIKey string `mapstructure:"weaviate_api_key"`
}

// RouterConfig holds intent routing configuration
type RouterConfig struct {
	TopK               int     `mapstructure:"top_k"`
	FallbackConfidence float64 `mapstructure:"fallback_confidence"`
	HistoryWeight      float64 `mapstructure:"history_weight"`
	KeywordSaturation  int     `mapstructure:"keyword_saturation"`
}

// RetrievalConfig holds multi-store retrieval configuration
type RetrievalConfig struct {
	PerDomain       int           `mapstructure:"per_domain"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout"`
	ContextBudget   int           `mapstructure:"context_budget"`
	Normalization   string        `mapstructure:"normalization"` // minmax, fixed
	FixedMin        float64       `mapstructure:"fixed_min"`
	FixedMax        float64       `mapstructure:"fixed_max"`
	DedupeThreshold float64       `mapstructure:"dedupe_threshold"`
}

// PromptConfig holds prompt assembly configuration
type PromptConfig struct {
	SystemDirective string `mapstructure:"system_directive"`
	HistoryTurns    int    `mapstructure:"history_turns"`
	HistoryChars    int    `mapstructure:"history_chars"`
	MaxChars        int    `mapstructure:"max_chars"`
	MaxChunkChars   int    `mapstructure:"max_chunk_chars"`
}

// SafetyConfig holds crisis interception configuration
type SafetyConfig struct {
	Lexicon        []string `mapstructure:"lexicon"`
	CrisisResponse string   `mapstructure:"crisis_response"`
}

// PipelineConfig holds fallback replies and response decoration
type PipelineConfig struct {
	FallbackReply    string `mapstructure:"fallback_reply"`
	RejectedReply    string `mapstructure:"rejected_reply"`
	Disclaimer       string `mapstructure:"disclaimer"`
	AppendDisclaimer bool   `mapstructure:"append_disclaimer"`
}

// DomainConfig describes one knowledge domain
type DomainConfig struct {
	ID          string   `mapstructure:"id"`
	Description string   `mapstructure:"description"`
	Keywords    []string `mapstructure:"keywords"`
	Weight      float64  `mapstructure:"weight"`
	Style       bool     `mapstructure:"style"`
	Class       string   `mapstructure:"class"`
	ScaleMin    *float64 `mapstructure:"scale_min"`
	ScaleMax    *float64 `mapstructure:"scale_max"`
}

// IngestConfig holds chunking settings for loading domain corpora
type IngestConfig struct {
	ChunkSize    int   `mapstructure:"chunk_size"`
	ChunkOverlap int   `mapstructure:"chunk_overlap"`
	MaxFileSize  int64 `mapstructure:"max_file_size"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	ServiceName   string  `mapstructure:"service_name"`
	TraceExporter string  `mapstructure:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint  string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure  bool    `mapstructure:"otlp_insecure"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RequestsPerHour int  `mapstructure:"requests_per_hour"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MINDRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.fillContentDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/mindrag.db")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.badger_path", "./data/sessions")
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.sweep_schedule", "@every 1m")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.embedding_provider", "")
	v.SetDefault("llm.embedding_model", "nomic-embed-text")
	v.SetDefault("llm.llm_model", "qwen2.5:7b")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.retry_backoff", "1s")
	v.SetDefault("llm.embed_timeout", "10s")

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.weaviate_host", "localhost:8081")
	v.SetDefault("vector.weaviate_scheme", "http")
	v.SetDefault("vector.weaviate_api_key", "")

	v.SetDefault("router.top_k", 3)
	v.SetDefault("router.fallback_confidence", 0.5)
	v.SetDefault("router.history_weight", 0.5)
	v.SetDefault("router.keyword_saturation", 2)

	v.SetDefault("retrieval.per_domain", 3)
	v.SetDefault("retrieval.max_workers", 4)
	v.SetDefault("retrieval.search_timeout", "5s")
	v.SetDefault("retrieval.context_budget", 8000)
	v.SetDefault("retrieval.normalization", "minmax")
	v.SetDefault("retrieval.fixed_min", 0.0)
	v.SetDefault("retrieval.fixed_max", 1.0)
	v.SetDefault("retrieval.dedupe_threshold", 0.9)

	v.SetDefault("prompt.history_turns", 12)
	v.SetDefault("prompt.history_chars", 4000)
	v.SetDefault("prompt.max_chars", 16000)
	v.SetDefault("prompt.max_chunk_chars", 2000)

	v.SetDefault("pipeline.append_disclaimer", false)

	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 100)
	v.SetDefault("ingest.max_file_size", 10<<20)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_hour", 100)

	v.SetDefault("telemetry.service_name", "mindrag")
	v.SetDefault("telemetry.trace_exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Default returns the configuration used when no file or environment overrides exist
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.fillContentDefaults()
	return &cfg
}

func (c *Config) fillContentDefaults() {
	if len(c.Domains) == 0 {
		c.Domains = DefaultDomains()
	}
	if len(c.Safety.Lexicon) == 0 {
		c.Safety.Lexicon = DefaultLexicon()
	}
	if c.Safety.CrisisResponse == "" {
		c.Safety.CrisisResponse = DefaultCrisisResponse
	}
	if c.Prompt.SystemDirective == "" {
		c.Prompt.SystemDirective = DefaultSystemDirective
	}
	if c.Pipeline.FallbackReply == "" {
		c.Pipeline.FallbackReply = DefaultFallbackReply
	}
	if c.Pipeline.RejectedReply == "" {
		c.Pipeline.RejectedReply = DefaultRejectedReply
	}
	if c.Pipeline.Disclaimer == "" {
		c.Pipeline.Disclaimer = DefaultDisclaimer
	}
	if c.LLM.EmbeddingProvider == "" {
		c.LLM.EmbeddingProvider = c.LLM.Provider
	}
	for i := range c.Domains {
		if c.Domains[i].Weight == 0 {
			c.Domains[i].Weight = 1
		}
	}
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if len(c.Domains) == 0 {
		errs = append(errs, errors.New("at least one domain is required"))
	}
	seen := make(map[string]bool)
	styles := 0
	for _, d := range c.Domains {
		if d.ID == "" {
			errs = append(errs, errors.New("domain id is required"))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("duplicate domain id: %s", d.ID))
		}
		seen[d.ID] = true
		if d.Style {
			styles++
		}
		if d.Weight < 0 || d.Weight > 1 {
			errs = append(errs, fmt.Errorf("domain %s: weight must be in [0,1]", d.ID))
		}
		if d.ScaleMin != nil && d.ScaleMax != nil && *d.ScaleMax <= *d.ScaleMin {
			errs = append(errs, fmt.Errorf("domain %s: scale_max must exceed scale_min", d.ID))
		}
	}
	if styles != 1 {
		errs = append(errs, fmt.Errorf("exactly one style domain is required, found %d", styles))
	}
	if c.Router.TopK < 1 {
		errs = append(errs, errors.New("router.top_k must be at least 1"))
	}
	if c.Router.FallbackConfidence <= 0 || c.Router.FallbackConfidence > 1 {
		errs = append(errs, errors.New("router.fallback_confidence must be in (0,1]"))
	}
	if c.Retrieval.PerDomain < 1 {
		errs = append(errs, errors.New("retrieval.per_domain must be at least 1"))
	}
	if c.Retrieval.MaxWorkers < 1 {
		errs = append(errs, errors.New("retrieval.max_workers must be at least 1"))
	}
	switch c.Retrieval.Normalization {
	case "minmax":
	case "fixed":
		if c.Retrieval.FixedMax <= c.Retrieval.FixedMin {
			errs = append(errs, errors.New("retrieval.fixed_max must exceed retrieval.fixed_min"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown retrieval.normalization: %s", c.Retrieval.Normalization))
	}
	if c.Prompt.MaxChars > 0 && c.Prompt.MaxChars < len(c.Prompt.SystemDirective) {
		errs = append(errs, errors.New("prompt.max_chars is smaller than the system directive"))
	}
	if len(c.Safety.Lexicon) == 0 {
		errs = append(errs, errors.New("safety.lexicon must not be empty"))
	}
	if c.Ingest.ChunkSize < 1 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, errors.New("ingest.chunk_overlap must be smaller than ingest.chunk_size"))
	}
	switch c.Telemetry.TraceExporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry.trace_exporter: %s", c.Telemetry.TraceExporter))
	}
	if c.Session.IdleTTL <= 0 {
		errs = append(errs, errors.New("session.idle_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
