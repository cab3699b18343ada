// Package config provides configuration loading for cmssearch.
//
// Configuration is assembled from hardcoded defaults, an optional YAML or TOML
// file, and environment variables (highest precedence). See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete cmssearch configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Search      SearchConfig      `koanf:"search"`
	Webhook     WebhookConfig     `koanf:"webhook"`
	Vision      VisionConfig      `koanf:"vision"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	CMS         CMSConfig         `koanf:"cms"`
	Sync        SyncConfig        `koanf:"sync"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
	CORSOrigins     []string `koanf:"cors_origins"`
}

// SearchConfig holds query processor settings.
type SearchConfig struct {
	TopK    int      `koanf:"top_k"`
	Timeout Duration `koanf:"timeout"`
}

// WebhookConfig holds webhook authentication and limiting settings.
type WebhookConfig struct {
	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
	// RateLimit is requests per second allowed per client IP. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// VisionConfig holds image analysis settings. Analysis is disabled when APIKey is empty.
type VisionConfig struct {
	APIKey        Secret   `koanf:"api_key"`
	BaseURL       string   `koanf:"base_url"`
	Model         string   `koanf:"model"`
	MaxTokens     int      `koanf:"max_tokens"`
	Temperature   float64  `koanf:"temperature"`
	Attempts      int      `koanf:"attempts"`
	Backoff       Duration `koanf:"backoff"`
	RateLimitWait Duration `koanf:"rate_limit_wait"`
	Timeout       Duration `koanf:"timeout"`
	// RequestsPerSecond paces outbound analysis calls.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// Enabled reports whether image analysis credentials are configured.
func (v VisionConfig) Enabled() bool {
	return v.APIKey.IsSet()
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "fastembed", "tei" or "openai".
	Provider  string   `koanf:"provider"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	CacheDir  string   `koanf:"cache_dir"`
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	// Provider is one of "chromem" or "qdrant".
	Provider        string `koanf:"provider"`
	IndexName       string `koanf:"index_name"`
	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
	QdrantHost      string `koanf:"qdrant_host"`
	QdrantPort      int    `koanf:"qdrant_port"`
	QdrantAPIKey    Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS    bool   `koanf:"qdrant_use_tls"`
	// QdrantTimeout bounds each qdrant request attempt.
	QdrantTimeout Duration `koanf:"qdrant_timeout"`
}

// CMSConfig holds Contentstack delivery API settings.
type CMSConfig struct {
	APIKey        string   `koanf:"api_key"`
	DeliveryToken Secret   `koanf:"delivery_token"`
	Environment   string   `koanf:"environment"`
	Region        string   `koanf:"region"`
	BaseURL       string   `koanf:"base_url"`
	Timeout       Duration `koanf:"timeout"`
}

// SyncConfig holds bulk indexing settings.
type SyncConfig struct {
	ContentTypes []string `koanf:"content_types"`
	PageSize     int      `koanf:"page_size"`
	// RatePerSecond paces entry reindexing during bulk operations.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Locale        string  `koanf:"locale"`
}

// LoggingConfig holds the subset of logging settings exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "1M"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 20
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = Duration(45 * time.Second)
	}

	if cfg.Webhook.Username == "" {
		cfg.Webhook.Username = "contentstack_webhook"
	}
	if cfg.Webhook.RateBurst == 0 {
		cfg.Webhook.RateBurst = 20
	}

	if cfg.Vision.Model == "" {
		cfg.Vision.Model = "gpt-4o-mini"
	}
	if cfg.Vision.MaxTokens == 0 {
		cfg.Vision.MaxTokens = 300
	}
	if cfg.Vision.Temperature == 0 {
		cfg.Vision.Temperature = 0.3
	}
	if cfg.Vision.Attempts == 0 {
		cfg.Vision.Attempts = 3
	}
	if cfg.Vision.Backoff == 0 {
		cfg.Vision.Backoff = Duration(1500 * time.Millisecond)
	}
	if cfg.Vision.RateLimitWait == 0 {
		cfg.Vision.RateLimitWait = Duration(2 * time.Second)
	}
	if cfg.Vision.Timeout == 0 {
		cfg.Vision.Timeout = Duration(30 * time.Second)
	}
	if cfg.Vision.RequestsPerSecond == 0 {
		cfg.Vision.RequestsPerSecond = 2
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.Provider == "tei" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/cmssearch/models"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.IndexName == "" {
		cfg.VectorStore.IndexName = "cms_content"
	}
	if cfg.VectorStore.ChromemPath == "" {
		cfg.VectorStore.ChromemPath = "~/.local/share/cmssearch/index"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}
	if cfg.VectorStore.QdrantTimeout == 0 {
		cfg.VectorStore.QdrantTimeout = Duration(10 * time.Second)
	}

	if cfg.CMS.Region == "" {
		cfg.CMS.Region = "US"
	}
	if cfg.CMS.Timeout == 0 {
		cfg.CMS.Timeout = Duration(15 * time.Second)
	}

	if len(cfg.Sync.ContentTypes) == 0 {
		cfg.Sync.ContentTypes = []string{"article", "video", "product", "media"}
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 100
	}
	if cfg.Sync.RatePerSecond == 0 {
		cfg.Sync.RatePerSecond = 2
	}
	if cfg.Sync.Locale == "" {
		cfg.Sync.Locale = "en-us"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "cmssearch"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}

	switch c.Embeddings.Provider {
	case "fastembed":
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return errors.New("embeddings.base_url is required for the tei provider")
		}
	case "openai":
		if !c.Embeddings.APIKey.IsSet() {
			return errors.New("embeddings.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown embeddings provider %q (expected fastembed, tei or openai)", c.Embeddings.Provider)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider %q (expected chromem or qdrant)", c.VectorStore.Provider)
	}

	if c.Vision.Attempts < 1 {
		return fmt.Errorf("vision.attempts must be at least 1, got %d", c.Vision.Attempts)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}

	return nil
}
