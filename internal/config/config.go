// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the driver settings.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverNATS     = "nats"
	BlobNone       = "none"
	BlobMemory     = "memory"
	BlobLocal      = "local"
	BlobGCS        = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Events  EventsConfig  `mapstructure:"events"`
	Sources SourcesConfig `mapstructure:"sources"`
	Search  SearchConfig  `mapstructure:"search"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig guards the write endpoints with a shared key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoder and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs workers, the fetcher and page acceptance.
type CrawlerConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Proxies            []string      `mapstructure:"proxies"`
	ProxyCooldown      time.Duration `mapstructure:"proxy_cooldown"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	MinContentLength   int           `mapstructure:"min_content_length"`
	Language           string        `mapstructure:"language"`
	AcceptLanguage     string        `mapstructure:"accept_language"`
	RateLimitPerDomain float64       `mapstructure:"rate_limit_per_domain"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	ArchivePages       bool          `mapstructure:"archive_pages"`
}

// QueueConfig selects the job queue.
type QueueConfig struct {
	Driver string `mapstructure:"driver"`
	Depth  int    `mapstructure:"depth"`
}

// StorageConfig selects the stores and the raw page archive.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	Blob      string `mapstructure:"blob"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// NATSConfig names the server and subjects for jobs and events.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	JobsSubject   string        `mapstructure:"jobs_subject"`
	JobsStream    string        `mapstructure:"jobs_stream"`
	Consumer      string        `mapstructure:"consumer"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	EventsSubject string        `mapstructure:"events_subject"`
}

// EventsConfig sizes the event hub and picks its sinks.
type EventsConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	Log        bool `mapstructure:"log"`
	NATS       bool `mapstructure:"nats"`
	Prometheus bool `mapstructure:"prometheus"`
}

// SourcesConfig points at the YAML file crawl sources are seeded from.
type SourcesConfig struct {
	File string `mapstructure:"file"`
}

// SearchConfig sets search defaults for the HTTP surface.
type SearchConfig struct {
	PageSize       int    `mapstructure:"page_size"`
	HighlightStart string `mapstructure:"highlight_start"`
	HighlightEnd   string `mapstructure:"highlight_end"`
}

// Load builds a Config from an optional file and INGEST_* environment
// variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.proxies", []string{})
	v.SetDefault("crawler.proxy_cooldown", 5*time.Minute)
	v.SetDefault("crawler.request_timeout", 20*time.Second)
	v.SetDefault("crawler.backoff_base", 500*time.Millisecond)
	v.SetDefault("crawler.min_content_length", 100)
	v.SetDefault("crawler.language", "fa")
	v.SetDefault("crawler.accept_language", "fa-IR,fa;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("crawler.rate_limit_per_domain", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.archive_pages", false)
	v.SetDefault("queue.driver", DriverMemory)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.blob", BlobNone)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.jobs_subject", "ingest.jobs")
	v.SetDefault("nats.jobs_stream", "INGEST_JOBS")
	v.SetDefault("nats.consumer", "ingest-workers")
	v.SetDefault("nats.ack_wait", 15*time.Minute)
	v.SetDefault("nats.events_subject", "ingest.events")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("sources.file", "")
	v.SetDefault("events.log", true)
	v.SetDefault("events.nats", false)
	v.SetDefault("events.prometheus", true)
	v.SetDefault("search.page_size", 20)
	v.SetDefault("search.highlight_start", "<em>")
	v.SetDefault("search.highlight_end", "</em>")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be > 0"))
	}
	if c.Crawler.MinContentLength < 0 {
		errs = append(errs, errors.New("crawler.min_content_length must be >= 0"))
	}
	switch c.Queue.Driver {
	case DriverMemory:
		if c.Queue.Depth <= 0 {
			errs = append(errs, errors.New("queue.depth must be > 0"))
		}
	case DriverNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the nats queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.driver %q is not one of memory, nats", c.Queue.Driver))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, postgres", c.Storage.Driver))
	}
	switch c.Storage.Blob {
	case BlobNone, BlobMemory:
	case BlobLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local blob store"))
		}
	case BlobGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs blob store"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.blob %q is not one of none, memory, local, gcs", c.Storage.Blob))
	}
	if c.Crawler.ArchivePages && c.Storage.Blob == BlobNone {
		errs = append(errs, errors.New("crawler.archive_pages needs storage.blob"))
	}
	if c.Events.NATS && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required for the nats event sink"))
	}
	if c.Search.PageSize <= 0 {
		errs = append(errs, errors.New("search.page_size must be > 0"))
	}
	return errors.Join(errs...)
}

// UsesNATS reports whether any component needs a NATS connection.
func (c Config) UsesNATS() bool {
	return c.Queue.Driver == DriverNATS || c.Events.NATS
}
