// Package config builds the immutable configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/source"
	"github.com/dshills/vecsearch-mcp/internal/storage"
)

// EnvPrefix is prepended to every environment override, e.g. VECSEARCH_INDEX_PATH.
const EnvPrefix = "VECSEARCH"

// Config holds all application configuration.
type Config struct {
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Source    SourceConfig    `mapstructure:"source"`
	Search    SearchConfig    `mapstructure:"search"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type IndexConfig struct {
	Path      string       `mapstructure:"path"`
	ChunkSize int          `mapstructure:"chunk_size"`
	Workers   int          `mapstructure:"workers"`
	BatchSize int          `mapstructure:"batch_size"`
	Tuning    TuningConfig `mapstructure:"tuning"`
}

// TuningConfig mirrors storage.Tuning.
type TuningConfig struct {
	JournalMode string `mapstructure:"journal_mode"`
	Synchronous string `mapstructure:"synchronous"`
	CacheSize   int    `mapstructure:"cache_size"`
	TempStore   string `mapstructure:"temp_store"`
	PageSize    int    `mapstructure:"page_size"`
	MmapSize    int64  `mapstructure:"mmap_size"`
}

type EmbeddingConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Dimension     int           `mapstructure:"dimension"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	CacheSize     int           `mapstructure:"cache_size"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

type SourceConfig struct {
	UseFTP      bool      `mapstructure:"use_ftp"`
	FTP         FTPConfig `mapstructure:"ftp"`
	LocalDir    string    `mapstructure:"local_dir"`
	OnItemError string    `mapstructure:"on_item_error"` // skip|abort, empty selects the per-source default
}

type FTPConfig struct {
	Host     string        `mapstructure:"host"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Dir      string        `mapstructure:"dir"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	TopK          int           `mapstructure:"top_k"`
	SlowEmbedding time.Duration `mapstructure:"slow_embedding"`
	SlowStore     time.Duration `mapstructure:"slow_store"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	LogTiming     bool          `mapstructure:"log_timing"`
}

type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Stateless bool   `mapstructure:"stateless"`
	Endpoint  string `mapstructure:"endpoint"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Transports accepted by ServerConfig.Transport
const (
	TransportStdio = "stdio"
	TransportHTTP  = "streamable-http"
)

// legacyEnv maps keys to the environment names older deployments used.
var legacyEnv = map[string]string{
	"source.use_ftp":      "USE_FTP_SOURCE",
	"source.ftp.host":     "FTP_HOST",
	"source.ftp.user":     "FTP_USER",
	"source.ftp.password": "FTP_PASS",
	"source.ftp.dir":      "FTP_DATA_DIR",
	"source.local_dir":    "LOCAL_DIR",
}

func setDefaults(v *viper.Viper) {
	t := storage.DefaultTuning()

	v.SetDefault("index.path", "vecsearch.db")
	v.SetDefault("index.chunk_size", 500)
	v.SetDefault("index.workers", 0)
	v.SetDefault("index.batch_size", embedder.DefaultBatchSize)
	v.SetDefault("index.tuning.journal_mode", t.JournalMode)
	v.SetDefault("index.tuning.synchronous", t.Synchronous)
	v.SetDefault("index.tuning.cache_size", t.CacheSize)
	v.SetDefault("index.tuning.temp_store", t.TempStore)
	v.SetDefault("index.tuning.page_size", t.PageSize)
	v.SetDefault("index.tuning.mmap_size", t.MmapSize)

	v.SetDefault("embedding.provider", embedder.ProviderLocal)
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimension", 0) // provider default
	v.SetDefault("embedding.timeout", embedder.DefaultTimeout)
	v.SetDefault("embedding.rate_limit", 0)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheCapacity)
	v.SetDefault("embedding.max_concurrent", 0)

	v.SetDefault("source.use_ftp", false)
	v.SetDefault("source.ftp.host", "")
	v.SetDefault("source.ftp.user", "anonymous")
	v.SetDefault("source.ftp.password", "")
	v.SetDefault("source.ftp.dir", "/data")
	v.SetDefault("source.ftp.timeout", 30*time.Second)
	v.SetDefault("source.local_dir", "./data")
	v.SetDefault("source.on_item_error", "")

	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.slow_embedding", 100*time.Millisecond)
	v.SetDefault("search.slow_store", 50*time.Millisecond)
	v.SetDefault("search.query_timeout", 30*time.Second)
	v.SetDefault("search.log_timing", false)

	v.SetDefault("server.transport", TransportStdio)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.stateless", false)
	v.SetDefault("server.endpoint", "/mcp")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "vecsearch")
}

// Load reads configuration from defaults, an optional .env file, an optional
// config file and the environment, in increasing order of precedence. An
// empty path looks for vecsearch.{yaml,toml,json} in the working directory
// and $HOME/.config/vecsearch; a missing file there is not an error.
func Load(path string) (*Config, error) {
	// Existing environment variables win over .env entries
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("vecsearch")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/vecsearch")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Index.Path == "" {
		add("index.path is required")
	}
	if c.Index.ChunkSize <= 0 {
		add("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.Workers < 0 {
		add("index.workers must not be negative, got %d", c.Index.Workers)
	}
	if c.Index.BatchSize < 0 || c.Index.BatchSize > embedder.MaxBatchSize {
		add("index.batch_size must be between 0 and %d, got %d", embedder.MaxBatchSize, c.Index.BatchSize)
	}
	if err := c.StorageTuning().Validate(); err != nil {
		add("index.tuning: %w", err)
	}

	if !slices.Contains(embedder.SupportedProviders(), strings.ToLower(c.Embedding.Provider)) {
		add("embedding.provider %q is not one of %v", c.Embedding.Provider, embedder.SupportedProviders())
	}
	if c.Embedding.Dimension < 0 {
		add("embedding.dimension must not be negative, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.Timeout <= 0 {
		add("embedding.timeout must be positive")
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit must not be negative")
	}
	if c.Embedding.CacheSize <= 0 {
		add("embedding.cache_size must be positive, got %d", c.Embedding.CacheSize)
	}
	if c.Embedding.MaxConcurrent < 0 {
		add("embedding.max_concurrent must not be negative")
	}

	if c.Source.UseFTP {
		if c.Source.FTP.Host == "" {
			add("source.ftp.host is required when source.use_ftp is set")
		}
		if c.Source.FTP.Timeout <= 0 {
			add("source.ftp.timeout must be positive")
		}
	} else if c.Source.LocalDir == "" {
		add("source.local_dir is required")
	}
	if c.Source.OnItemError != "" {
		if _, err := source.ParsePolicy(c.Source.OnItemError); err != nil {
			add("source.on_item_error: %w", err)
		}
	}

	if c.Search.TopK <= 0 {
		add("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.SlowEmbedding < 0 || c.Search.SlowStore < 0 || c.Search.QueryTimeout < 0 {
		add("search durations must not be negative")
	}

	if c.Server.Transport != TransportStdio && c.Server.Transport != TransportHTTP {
		add("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Server.Transport)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port out of range: %d", c.Server.Port)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		add("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		add("tracing.sample_rate must be within [0, 1], got %g", c.Tracing.SampleRate)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// StorageTuning converts the tuning section.
func (c *Config) StorageTuning() storage.Tuning {
	t := c.Index.Tuning
	return storage.Tuning{
		JournalMode: strings.ToUpper(t.JournalMode),
		Synchronous: strings.ToUpper(t.Synchronous),
		CacheSize:   t.CacheSize,
		TempStore:   strings.ToUpper(t.TempStore),
		PageSize:    t.PageSize,
		MmapSize:    t.MmapSize,
	}
}

// EmbedderConfig converts the embedding section.
func (c *Config) EmbedderConfig() embedder.Config {
	e := c.Embedding
	return embedder.Config{
		Provider:  e.Provider,
		Model:     e.Model,
		BaseURL:   e.BaseURL,
		APIKey:    e.APIKey,
		Dimension: e.Dimension,
		Timeout:   e.Timeout,
		RateLimit: e.RateLimit,
	}
}

// CacheOptions converts the embedding cache settings.
func (c *Config) CacheOptions() embedder.CacheOptions {
	return embedder.CacheOptions{
		Capacity:      c.Embedding.CacheSize,
		MaxConcurrent: c.Embedding.MaxConcurrent,
		CallTimeout:   c.Embedding.Timeout,
	}
}

// ItemErrorPolicy returns the configured policy, or the source default:
// skip for a local directory, abort for FTP.
func (c *Config) ItemErrorPolicy() source.ItemErrorPolicy {
	if p, err := source.ParsePolicy(c.Source.OnItemError); err == nil && c.Source.OnItemError != "" {
		return p
	}
	if c.Source.UseFTP {
		return source.AbortOnItemError
	}
	return source.SkipOnItemError
}

// NewSource builds the configured data source.
func (c *Config) NewSource(logger *slog.Logger) source.DataSource {
	policy := c.ItemErrorPolicy()
	if c.Source.UseFTP {
		f := c.Source.FTP
		return source.NewFTP(f.Host, f.User, f.Password, f.Dir, f.Timeout, policy, logger)
	}
	return source.NewLocal(c.Source.LocalDir, policy, logger)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
