package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for agentrouter.
type Config struct {
	General   GeneralConfig    `mapstructure:"general"`
	LLM       LLMConfig        `mapstructure:"llm"`
	Router    RouterConfig     `mapstructure:"router"`
	Planner   PlannerConfig    `mapstructure:"planner"`
	Executor  ExecutorConfig   `mapstructure:"executor"`
	Workers   WorkersConfig    `mapstructure:"workers"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Server    ServerConfig     `mapstructure:"server"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLM backends.
const (
	ProviderOpenAI   = "openai"
	ProviderLMStudio = "lmstudio"
	ProviderOllama   = "ollama"
	ProviderHash     = "hash"
)

// LLMConfig selects the text generation and embedding backend.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai, lmstudio, ollama, hash
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	EmbeddingDims   int           `mapstructure:"embedding_dims"` // hash embedder only
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CacheEmbeddings bool          `mapstructure:"cache_embeddings"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

func (c LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderLMStudio, ProviderOllama, ProviderHash:
	default:
		return fmt.Errorf("llm.provider %q is not one of openai, lmstudio, ollama, hash", c.Provider)
	}
	if c.Provider == ProviderOpenAI && strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("llm.api_key required for the openai provider")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	return nil
}

// RouterConfig tunes the two few-shot classifiers.
type RouterConfig struct {
	SimilarityThreshold   float64 `mapstructure:"similarity_threshold"`
	MinConfidence         float64 `mapstructure:"min_confidence"`
	TopK                  int     `mapstructure:"top_k"`
	LowConfidenceOverride float64 `mapstructure:"low_confidence_override"`
	SeedsFile             string  `mapstructure:"seeds_file"`
}

func (c RouterConfig) Validate() error {
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("router.similarity_threshold must be within [-1, 1]")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("router.min_confidence must be within [0, 1]")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("router.top_k must be > 0")
	}
	return nil
}

// PlannerConfig controls plan validation.
type PlannerConfig struct {
	// StrictWorkers rejects plans naming an agent outside the known worker
	// kinds. Set planner.strict_workers=false to accept such plans instead;
	// the executor then records "Error: Unknown agent '<name>'" for those
	// tasks and runs the rest.
	StrictWorkers bool `mapstructure:"strict_workers"`
}

// ExecutorConfig controls plan execution.
type ExecutorConfig struct {
	Parallel       bool          `mapstructure:"parallel"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	StepTimeout    time.Duration `mapstructure:"step_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// Concurrency returns the worker limit passed to the executor; 1 means
// sequential execution.
func (c ExecutorConfig) Concurrency() int {
	if !c.Parallel || c.MaxConcurrency < 2 {
		return 1
	}
	return c.MaxConcurrency
}

// WorkersConfig enables and configures each worker.
type WorkersConfig struct {
	Coder   ToggleConfig        `mapstructure:"coder"`
	File    FileWorkerConfig    `mapstructure:"file"`
	Search  SearchWorkerConfig  `mapstructure:"search"`
	Browser BrowserWorkerConfig `mapstructure:"browser"`
}

// ToggleConfig is a worker with no settings beyond on or off.
type ToggleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// FileWorkerConfig sandboxes the file worker under Root.
type FileWorkerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Root    string `mapstructure:"root"`
}

// SearchWorkerConfig contains web search settings
type SearchWorkerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"` // duckduckgo, brave, serper
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Summarize  bool          `mapstructure:"summarize"`
}

// BrowserWorkerConfig contains page fetching settings
type BrowserWorkerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Fetcher   string        `mapstructure:"fetcher"` // chromedp, http
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
	Summarize bool          `mapstructure:"summarize"`
}

func (w WorkersConfig) Validate() error {
	if w.File.Enabled && strings.TrimSpace(w.File.Root) == "" {
		return fmt.Errorf("workers.file.root required when the file worker is enabled")
	}
	if w.Search.Enabled {
		switch w.Search.Provider {
		case "duckduckgo", "":
		case "brave", "serper":
			if strings.TrimSpace(w.Search.APIKey) == "" {
				return fmt.Errorf("workers.search.api_key required for provider %s", w.Search.Provider)
			}
		default:
			return fmt.Errorf("workers.search.provider %q unsupported", w.Search.Provider)
		}
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Redis       RedisConfig    `mapstructure:"redis"`
	HistoryPath string         `mapstructure:"history_path"` // empty keeps the search index in memory
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
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

// Enabled reports whether run persistence is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
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

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address    string        `mapstructure:"address"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	APIKeyHash string        `mapstructure:"api_key_hash"` // bcrypt hash of the key exchanged at /auth/token
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

func (s ServerConfig) Validate() error {
	if s.APIKeyHash != "" && s.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret required when server.api_key_hash is set")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// ScheduleConfig fires Query on a cron expression while the server runs.
type ScheduleConfig struct {
	Name  string `mapstructure:"name"`
	Cron  string `mapstructure:"cron"`
	Query string `mapstructure:"query"`
}

func (s ScheduleConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schedules[].name required")
	}
	if strings.TrimSpace(s.Cron) == "" || strings.TrimSpace(s.Query) == "" {
		return fmt.Errorf("schedule %s: cron and query required", s.Name)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 2*time.Minute)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.completion_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.embedding_dims", 512)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", time.Minute)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)

	v.SetDefault("router.similarity_threshold", 0.7)
	v.SetDefault("router.min_confidence", 0.1)
	v.SetDefault("router.top_k", 5)
	v.SetDefault("router.low_confidence_override", 0.3)

	v.SetDefault("planner.strict_workers", true)

	v.SetDefault("executor.max_concurrency", 4)
	v.SetDefault("executor.retry_delay", time.Second)

	v.SetDefault("workers.coder.enabled", true)
	v.SetDefault("workers.file.root", "./workspace")
	v.SetDefault("workers.search.provider", "duckduckgo")
	v.SetDefault("workers.search.max_results", 5)
	v.SetDefault("workers.search.timeout", 15*time.Second)
	v.SetDefault("workers.search.summarize", true)
	v.SetDefault("workers.browser.fetcher", "chromedp")
	v.SetDefault("workers.browser.timeout", 30*time.Second)
	v.SetDefault("workers.browser.max_chars", 20000)
	v.SetDefault("workers.browser.summarize", true)

	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.token_ttl", 12*time.Hour)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.service_name", "agentrouter")
}

// Load reads configuration from path, or from the default search paths when
// path is empty. Environment variables prefixed AGENTROUTER_ override file
// values, with dots replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AGENTROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points: any error is fatal.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// Normalize trims and lower-cases enumerated values.
func (c *Config) Normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Workers.Search.Provider = strings.ToLower(strings.TrimSpace(c.Workers.Search.Provider))
	c.Workers.Browser.Fetcher = strings.ToLower(strings.TrimSpace(c.Workers.Browser.Fetcher))
	c.General.LogLevel = strings.ToLower(strings.TrimSpace(c.General.LogLevel))
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.LLM, c.Router, c.Workers, c.Storage.Redis, c.Storage.Postgres, c.Server, c.Telemetry,
	}
	for _, s := range c.Schedules {
		validators = append(validators, s)
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
