// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	defaultBlockedDomains = []string{
		"estatesales.net", "estatesales.org", "godaddy.com",
		"hibid.com", "bluemoonestatesales.com", "galleryauctions.com",
		"facebook.com", "twitter.com", "linkedin.com", "instagram.com",
	}
	defaultNoisePatterns = []string{
		"wix", "example", "domain", "sentry",
		"webp", "jpg", "png", "gif", "svg",
	}
	defaultInvalidLocalParts = []string{
		"example", "test", "admin@admin", "noreply",
		"no-reply", "webmaster", "postmaster",
	}
	defaultSkipExtensions = []string{
		".jpg", ".jpeg", ".png", ".gif", ".pdf", ".doc", ".docx",
		".xlsx", ".xls", ".zip", ".rar", ".mp4", ".avi", ".mov",
	}
)

// Config captures all service configuration loaded via Viper. The Crawler
// section is loaded through the engine's own LoadConfig so the engine
// package keeps ownership of its keys.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   crawler.Config  `mapstructure:"-"`
}

// APIConfig controls the dashboard HTTP server.
type APIConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// WorkerConfig controls the job polling loop.
type WorkerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval"`
}

// StorageConfig selects and configures the job and blob stores.
type StorageConfig struct {
	JobStore  string         `mapstructure:"job_store"`
	BlobStore string         `mapstructure:"blob_store"`
	Prefix    string         `mapstructure:"prefix"`
	LocalDir  string         `mapstructure:"local_dir"`
	GCSBucket string         `mapstructure:"gcs_bucket"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
	Redis     RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig configures the Postgres job store pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig configures the Redis job store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PublisherConfig selects the completion event publisher.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds GCP Pub/Sub publisher settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Read prepares a Viper instance: environment binding, defaults, and an
// optional config file. When path is empty the usual search paths are
// consulted and a missing file is not an error.
func Read(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("EMAILHARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("emailharvester")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/emailharvester")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load builds a Config from the given Viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	engine, err := crawler.LoadConfig(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Crawler = engine

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers a default for every tunable so environment-only
// overrides stay visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.request_timeout", "60s")
	v.SetDefault("api.shutdown_timeout", "10s")
	v.SetDefault("api.max_body_bytes", 1<<20)

	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.error_backoff", "10s")
	v.SetDefault("worker.pause_poll_interval", "2s")

	v.SetDefault("crawler.user_agent", defaultUserAgent)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_urls_per_domain", 15)
	v.SetDefault("crawler.request_timeout", "10s")
	v.SetDefault("crawler.batch_size", 50)
	v.SetDefault("crawler.global_concurrency", 1000)
	v.SetDefault("crawler.site_concurrency", 50)
	v.SetDefault("crawler.polite", false)
	v.SetDefault("crawler.politeness_min", "1s")
	v.SetDefault("crawler.politeness_max", "3s")
	v.SetDefault("crawler.blocked_domains", defaultBlockedDomains)
	v.SetDefault("crawler.noise_patterns", defaultNoisePatterns)
	v.SetDefault("crawler.invalid_local_parts", defaultInvalidLocalParts)
	v.SetDefault("crawler.skip_extensions", defaultSkipExtensions)

	v.SetDefault("storage.job_store", "memory")
	v.SetDefault("storage.blob_store", "local")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.local_dir", "output")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "jobs")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime", "30m")
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "jobs")

	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.pubsub.topic", "")
	v.SetDefault("publisher.kafka.brokers", []string{})
	v.SetDefault("publisher.kafka.topic", "")

	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits. The crawler
// section validates itself during LoadConfig.
func (c Config) Validate() error {
	if c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be > 0")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be > 0")
	}
	if c.Worker.ErrorBackoff <= 0 {
		return fmt.Errorf("worker.error_backoff must be > 0")
	}
	if c.Worker.PausePollInterval <= 0 {
		return fmt.Errorf("worker.pause_poll_interval must be > 0")
	}

	switch c.Storage.JobStore {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when storage.job_store is postgres")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set when storage.job_store is redis")
		}
	default:
		return fmt.Errorf("storage.job_store must be one of memory, postgres, redis")
	}

	switch c.Storage.BlobStore {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.blob_store is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blob_store is gcs")
		}
	default:
		return fmt.Errorf("storage.blob_store must be one of memory, local, gcs")
	}

	switch c.Publisher.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.Topic == "" {
			return fmt.Errorf("publisher.pubsub.project_id and publisher.pubsub.topic must be set when publisher.backend is pubsub")
		}
	case "kafka":
		if len(c.Publisher.Kafka.Brokers) == 0 || c.Publisher.Kafka.Topic == "" {
			return fmt.Errorf("publisher.kafka.brokers and publisher.kafka.topic must be set when publisher.backend is kafka")
		}
	default:
		return fmt.Errorf("publisher.backend must be one of none, memory, pubsub, kafka")
	}

	return nil
}
