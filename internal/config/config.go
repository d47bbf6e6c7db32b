// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent is a desktop browser string; several careers sites reject bot agents outright.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and outbound HTTP behavior.
type CrawlerConfig struct {
	Concurrency            int           `mapstructure:"concurrency"`
	RequestsPerSecond      float64       `mapstructure:"requests_per_second"`
	Burst                  int           `mapstructure:"burst"`
	UserAgent              string        `mapstructure:"user_agent"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	ProbeTimeout           time.Duration `mapstructure:"probe_timeout"`
	SuggestionProbeTimeout time.Duration `mapstructure:"suggestion_probe_timeout"`
	MaxBodyBytes           int           `mapstructure:"max_body_bytes"`
	RespectRobots          bool          `mapstructure:"respect_robots"`
	QueueDepth             int           `mapstructure:"queue_depth"`
	MaxRetries             int           `mapstructure:"max_retries"`
	// PerHostRPS caps requests to any single host on top of the global budget. 0 disables it.
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
	// RunTimeout bounds one (company, mode) run. 0 means no limit.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// FinalizeTimeout bounds the writes that complete a run after it was cancelled.
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout"`
	DequeueBackoff  time.Duration `mapstructure:"dequeue_backoff"`
}

// OracleConfig points at an OpenAI-compatible chat completions endpoint.
type OracleConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SampleBytes int           `mapstructure:"sample_bytes"`
}

// LifecycleConfig holds rule lifecycle constants. StaleAfter and Retention are independent.
type LifecycleConfig struct {
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	VerifyBatch       int           `mapstructure:"verify_batch"`
	Retention         time.Duration `mapstructure:"retention"`
	Smoothing         float64       `mapstructure:"smoothing"`
	ImprovementFactor float64       `mapstructure:"improvement_factor"`
}

// SeedCompany is a discovery target listed in config.
type SeedCompany struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
}

// ScheduleConfig holds cron specs for periodic triggers.
type ScheduleConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Discover      string        `mapstructure:"discover"`
	CrawlAll      string        `mapstructure:"crawl_all"`
	Verify        string        `mapstructure:"verify"`
	Cleanup       string        `mapstructure:"cleanup"`
	SeedCompanies []SeedCompany `mapstructure:"seed_companies"`
}

// DatabaseConfig selects and configures the repository backend.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// QueueConfig selects the run queue backend.
type QueueConfig struct {
	Driver   string `mapstructure:"driver"`
	RedisURL string `mapstructure:"redis_url"`
	RedisKey string `mapstructure:"redis_key"`
}

// StorageConfig configures the raw HTML archive.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	// Dir is the archive root for the local driver.
	Dir string `mapstructure:"dir"`
}

// PublisherConfig configures run-result notifications.
type PublisherConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAREERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)

	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.requests_per_second", 1.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.request_timeout", 30*time.Second)
	v.SetDefault("crawler.probe_timeout", 10*time.Second)
	v.SetDefault("crawler.suggestion_probe_timeout", 5*time.Second)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.per_host_rps", 0.0)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("crawler.run_timeout", 5*time.Minute)
	v.SetDefault("crawler.finalize_timeout", 10*time.Second)
	v.SetDefault("crawler.dequeue_backoff", 500*time.Millisecond)

	v.SetDefault("oracle.base_url", "https://api.openai.com/v1")
	v.SetDefault("oracle.model", "gpt-4")
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.sample_bytes", 8000)

	v.SetDefault("lifecycle.stale_after", 7*24*time.Hour)
	v.SetDefault("lifecycle.verify_batch", 10)
	v.SetDefault("lifecycle.retention", 90*24*time.Hour)
	v.SetDefault("lifecycle.smoothing", 0.3)
	v.SetDefault("lifecycle.improvement_factor", 1.1)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.discover", "0 2 * * *")
	v.SetDefault("schedule.crawl_all", "0 6 * * *")
	v.SetDefault("schedule.verify", "0 22 * * *")
	v.SetDefault("schedule.cleanup", "0 3 * * 0")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.redis_key", "careers:runs")
	v.SetDefault("storage.driver", "none")
	v.SetDefault("storage.prefix", "careers-pages")
	v.SetDefault("publisher.driver", "none")
	v.SetDefault("publisher.topic", "careers-crawl-results")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawler.requests_per_second must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 || c.Crawler.ProbeTimeout <= 0 || c.Crawler.SuggestionProbeTimeout <= 0 {
		return fmt.Errorf("crawler timeouts must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.PerHostRPS < 0 {
		return fmt.Errorf("crawler.per_host_rps must be >= 0")
	}
	if c.Crawler.RunTimeout < 0 {
		return fmt.Errorf("crawler.run_timeout must be >= 0")
	}
	if c.Crawler.FinalizeTimeout <= 0 {
		return fmt.Errorf("crawler.finalize_timeout must be > 0")
	}
	if c.Oracle.SampleBytes <= 0 {
		return fmt.Errorf("oracle.sample_bytes must be > 0")
	}
	if c.Lifecycle.Smoothing <= 0 || c.Lifecycle.Smoothing > 1 {
		return fmt.Errorf("lifecycle.smoothing must be in (0,1]")
	}
	if c.Lifecycle.ImprovementFactor < 1 {
		return fmt.Errorf("lifecycle.improvement_factor must be >= 1")
	}
	if c.Lifecycle.StaleAfter <= 0 || c.Lifecycle.Retention <= 0 {
		return fmt.Errorf("lifecycle.stale_after and lifecycle.retention must be > 0")
	}
	if c.Lifecycle.VerifyBatch <= 0 {
		return fmt.Errorf("lifecycle.verify_batch must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("queue.redis_url must be set for redis")
		}
	default:
		return fmt.Errorf("queue.driver %q not supported", c.Queue.Driver)
	}
	switch c.Storage.Driver {
	case "none", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for gcs")
		}
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir must be set for local")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", c.Storage.Driver)
	}
	switch c.Publisher.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("publisher.driver %q not supported", c.Publisher.Driver)
	}
	return nil
}
