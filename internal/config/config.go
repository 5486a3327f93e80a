// Package config loads application configuration from config.yaml and
// LEADIMPORT_-prefixed environment variables, and initializes the global
// logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/server"
	"github.com/sells-group/lead-import/internal/store"
	"github.com/sells-group/lead-import/internal/worker"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig   `yaml:"store" mapstructure:"store"`
	Blob   BlobConfig    `yaml:"blob" mapstructure:"blob"`
	Queue  QueueConfig   `yaml:"queue" mapstructure:"queue"`
	Import worker.Config `yaml:"import" mapstructure:"import"`
	Server server.Config `yaml:"server" mapstructure:"server"`
	Log    LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// BlobConfig configures where uploaded files live.
type BlobConfig struct {
	Backend string        `yaml:"backend" mapstructure:"backend"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	S3      blob.S3Config `yaml:"s3" mapstructure:"s3"`
}

// QueueConfig configures the Redis queue and the webhook deliverer.
type QueueConfig struct {
	Redis queue.RedisConfig `yaml:"redis" mapstructure:"redis"`

	// WebhookBaseURL is where the delivery loop posts worker triggers,
	// normally this process's own listen address.
	WebhookBaseURL string `yaml:"webhook_base_url" mapstructure:"webhook_base_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("blob.backend", "s3")
	v.SetDefault("blob.dir", "./data/imports")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.pending_list", "import:pending")
	v.SetDefault("queue.redis.processing_list", "import:processing")
	v.SetDefault("queue.redis.failed_list", "import:failed")
	v.SetDefault("queue.redis.max_attempts", 5)
	v.SetDefault("queue.redis.deliveries_per_second", 10)
	v.SetDefault("import.chunk_size", 500)
	v.SetDefault("import.fetch_batch", 500)
	v.SetDefault("import.insert_batch", 100)
	v.SetDefault("import.max_chunks_per_invoke", 0)
	v.SetDefault("import.normalize.default_country_code", "1")
	v.SetDefault("import.normalize.postal_width", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_timeout", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields the given mode needs are present.
// Modes: "serve" (full pipeline), "migrate" (store only), "run" (local
// pipeline, no redis).
func (c *Config) Validate(mode string) error {
	var missing []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
	}
	requireBlob := func() {
		switch c.Blob.Backend {
		case "s3":
			if c.Blob.S3.Bucket == "" {
				missing = append(missing, "blob.s3.bucket is required")
			}
		case "local":
			if c.Blob.Dir == "" {
				missing = append(missing, "blob.dir is required")
			}
		default:
			missing = append(missing, "blob.backend must be s3 or local")
		}
	}

	switch mode {
	case "serve":
		requireStore()
		requireBlob()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
		if c.Server.WebhookSecret == "" {
			missing = append(missing, "server.webhook_secret is required")
		}
		if c.Queue.Redis.Addr == "" {
			missing = append(missing, "queue.redis.addr is required")
		}
		if c.Queue.WebhookBaseURL == "" {
			missing = append(missing, "queue.webhook_base_url is required")
		}
	case "migrate":
		requireStore()
	case "run":
		requireStore()
		requireBlob()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Import.ChunkSize < 0 || c.Import.FetchBatch < 0 || c.Import.InsertBatch < 0 {
		missing = append(missing, "import batch sizes must be >= 0")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
