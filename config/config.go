package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research agent.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Search      SearchConfig      `mapstructure:"search"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Research    ResearchConfig    `mapstructure:"research"`
	Compression CompressionConfig `mapstructure:"compression"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ResearchModel  string        `mapstructure:"research_model"`
	SynthesisModel string        `mapstructure:"synthesis_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	SynthesisTemp  float64       `mapstructure:"synthesis_temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
	EmbeddingCache int           `mapstructure:"embedding_cache"`
	EmbeddingDims  int           `mapstructure:"embedding_dims"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	Provider        string        `mapstructure:"provider"` // brave, serper, searxng, arxiv, crossref
	BraveAPIKey     string        `mapstructure:"brave_api_key"`
	SerperAPIKey    string        `mapstructure:"serper_api_key"`
	SearxURL        string        `mapstructure:"searx_url"`
	ResultsPerQuery int           `mapstructure:"results_per_query"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// FetchConfig contains content fetch/extraction settings.
type FetchConfig struct {
	Fetcher  string        `mapstructure:"fetcher"` // readability, chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// ResearchConfig contains the cycle controller tuning knobs. The decay
// base, similarity threshold and weight floor are starting points, not
// load-bearing constants; the laws they parameterise are fixed in code.
type ResearchConfig struct {
	MaxCycles           int           `mapstructure:"max_cycles"`
	MinCycles           int           `mapstructure:"min_cycles"`
	QueriesPerCycle     int           `mapstructure:"queries_per_cycle"`
	PerQueryTimeout     time.Duration `mapstructure:"per_query_timeout"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	RepeatDecay         float64       `mapstructure:"repeat_decay"`
	WeightFloor         float64       `mapstructure:"weight_floor"`
	QueryWeight         float64       `mapstructure:"query_weight"`
	ContextWeight       float64       `mapstructure:"context_weight"`
	TopicRelevance      float64       `mapstructure:"topic_relevance"`
	BelongsThreshold    float64       `mapstructure:"belongs_threshold"`
	MergeSimilarity     float64       `mapstructure:"merge_similarity"`
	CompletionEvidence  int           `mapstructure:"completion_evidence"`
	IrrelevantAfter     int           `mapstructure:"irrelevant_after"`
	PriorityFloor       float64       `mapstructure:"priority_floor"`
	EmptyCycleLimit     int           `mapstructure:"empty_cycle_limit"`
	Interactive         bool          `mapstructure:"interactive"`
	ChunkLevel          string        `mapstructure:"chunk_level"` // phrase, sentence, paragraph
}

// CompressionConfig bounds the corpus handed to synthesis.
type CompressionConfig struct {
	TargetRatio float64 `mapstructure:"target_ratio"`
	TokenBudget int     `mapstructure:"token_budget"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN assembles a connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig contains knowledge archive settings
type ArchiveConfig struct {
	IndexPath string `mapstructure:"index_path"`
	TopK      int    `mapstructure:"top_k"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("delver")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DELVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")

	v.SetDefault("server.address", ":10020")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.research_model", "gpt-4o-mini")
	v.SetDefault("llm.synthesis_model", "")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.synthesis_temperature", 0.6)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.embedding_cache", 4096)
	v.SetDefault("llm.embedding_dims", 1536)

	v.SetDefault("search.provider", "searxng")
	v.SetDefault("search.searx_url", "http://localhost:8888/search")
	v.SetDefault("search.results_per_query", 3)
	v.SetDefault("search.timeout", "30s")

	v.SetDefault("fetch.fetcher", "readability")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_chars", 20000)

	v.SetDefault("research.max_cycles", 10)
	v.SetDefault("research.min_cycles", 3)
	v.SetDefault("research.queries_per_cycle", 3)
	v.SetDefault("research.per_query_timeout", "45s")
	v.SetDefault("research.similarity_threshold", 0.60)
	v.SetDefault("research.repeat_decay", 0.7)
	v.SetDefault("research.weight_floor", 0.05)
	v.SetDefault("research.query_weight", 0.5)
	v.SetDefault("research.context_weight", 0.5)
	v.SetDefault("research.topic_relevance", 0.55)
	v.SetDefault("research.belongs_threshold", 0.45)
	v.SetDefault("research.merge_similarity", 0.85)
	v.SetDefault("research.completion_evidence", 3)
	v.SetDefault("research.irrelevant_after", 3)
	v.SetDefault("research.priority_floor", 0.2)
	v.SetDefault("research.empty_cycle_limit", 3)
	v.SetDefault("research.interactive", false)
	v.SetDefault("research.chunk_level", "sentence")

	v.SetDefault("compression.target_ratio", 0.4)
	v.SetDefault("compression.token_budget", 4000)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)

	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.archive.index_path", "./data/archive.bleve")
	v.SetDefault("storage.archive.top_k", 6)
}

// overrideFromEnv maps well-known environment variables onto config keys
// so API keys never have to live in the config file.
func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		v.Set("llm.api_key", apiKey)
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		v.Set("llm.base_url", base)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		v.Set("search.brave_api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		v.Set("search.serper_api_key", apiKey)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		v.Set("storage.redis.port", port)
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		v.Set("storage.redis.password", pass)
	}
	if secret := os.Getenv("DELVER_JWT_SECRET"); secret != "" {
		v.Set("server.jwt_secret", secret)
	}
}

func validateConfig(cfg *Config) error {
	r := cfg.Research
	if r.MinCycles < 1 {
		return fmt.Errorf("research.min_cycles must be >= 1")
	}
	if r.MaxCycles < r.MinCycles {
		return fmt.Errorf("research.max_cycles (%d) must be >= research.min_cycles (%d)", r.MaxCycles, r.MinCycles)
	}
	if r.QueriesPerCycle < 1 {
		return fmt.Errorf("research.queries_per_cycle must be >= 1")
	}
	if r.RepeatDecay <= 0 || r.RepeatDecay >= 1 {
		return fmt.Errorf("research.repeat_decay must be in (0,1)")
	}
	if r.SimilarityThreshold <= 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("research.similarity_threshold must be in (0,1]")
	}
	if cfg.Compression.TargetRatio <= 0 || cfg.Compression.TargetRatio > 1 {
		return fmt.Errorf("compression.target_ratio must be in (0,1]")
	}
	switch r.ChunkLevel {
	case "phrase", "sentence", "paragraph":
	default:
		return fmt.Errorf("research.chunk_level must be phrase, sentence or paragraph")
	}
	return nil
}
