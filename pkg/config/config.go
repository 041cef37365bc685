// Package config loads and validates application configuration from YAML or
// TOML files with environment-variable overrides. It provides typed structs
// for every subsystem (Server, Indexer, Search, Postgres, Kafka, Redis, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Indexer  IndexerConfig  `yaml:"indexer" toml:"indexer"`
	Search   SearchConfig   `yaml:"search" toml:"search"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka" toml:"kafka"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	// CORSOrigins lists the browser origins allowed to call the API. "*"
	// allows any; empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins" toml:"corsOrigins"`
	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rateLimit" toml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst" toml:"rateBurst"`
}

// PostgresConfig holds PostgreSQL connection parameters for the commit log.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port"`
	Database        string        `yaml:"database" toml:"database"`
	User            string        `yaml:"user" toml:"user"`
	Password        string        `yaml:"password" toml:"password"`
	SSLMode         string        `yaml:"sslMode" toml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" toml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled" toml:"enabled"`
	Brokers       []string    `yaml:"brokers" toml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup" toml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics" toml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest" toml:"documentIngest"`
	IndexCommitted string `yaml:"indexCommitted" toml:"indexCommitted"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	PoolSize int           `yaml:"poolSize" toml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL" toml:"cacheTTL"`
}

// IndexerConfig controls the write buffer, the commit cadence and the
// segment merge policy.
type IndexerConfig struct {
	DataDir                string        `yaml:"dataDir" toml:"dataDir"`
	SchemaFile             string        `yaml:"schemaFile" toml:"schemaFile"`
	Codec                  string        `yaml:"codec" toml:"codec"`
	CommitInterval         time.Duration `yaml:"commitInterval" toml:"commitInterval"`
	MaxBufferBytes         int64         `yaml:"maxBufferBytes" toml:"maxBufferBytes"`
	MergeInterval          time.Duration `yaml:"mergeInterval" toml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge" toml:"maxSegmentsBeforeMerge"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	DefaultFields        []string      `yaml:"defaultFields" toml:"defaultFields"`
	MaxResults           int           `yaml:"maxResults" toml:"maxResults"`
	DefaultLimit         int           `yaml:"defaultLimit" toml:"defaultLimit"`
	Timeout              time.Duration `yaml:"timeout" toml:"timeout"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries" toml:"maxConcurrentQueries"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// Load reads a YAML or TOML config file (if provided) and applies
// environment-variable overrides. It returns a Config populated with
// sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case ".yaml", ".yml", "":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("config file %s must be .toml, .yaml or .yml", path)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Indexer.DataDir == "" {
		errs = append(errs, errors.New("indexer.dataDir is required"))
	}
	if c.Indexer.CommitInterval <= 0 {
		errs = append(errs, errors.New("indexer.commitInterval must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rateLimit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rateBurst must be at least 1 when rateLimit is set"))
	}
	if c.Indexer.MaxSegmentsBeforeMerge < 2 {
		errs = append(errs, errors.New("indexer.maxSegmentsBeforeMerge must be at least 2"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		errs = append(errs, errors.New("search.defaultLimit must be positive and not exceed search.maxResults"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateBurst:       20,
		},
		Indexer: IndexerConfig{
			DataDir:                "data/index",
			Codec:                  "zstd",
			CommitInterval:         3 * time.Second,
			MaxBufferBytes:         64 << 20,
			MergeInterval:          30 * time.Second,
			MaxSegmentsBeforeMerge: 8,
		},
		Search: SearchConfig{
			DefaultFields:        []string{"title", "body", "tags", "features"},
			MaxResults:           100,
			DefaultLimit:         10,
			Timeout:              5 * time.Second,
			MaxConcurrentQueries: 64,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "snapsearch",
			User:            "snapsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "snapsearch-indexer",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexCommitted: "index.committed",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SNAP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	envInt("SNAP_SERVER_PORT", &cfg.Server.Port)
	envInt("SNAP_METRICS_PORT", &cfg.Metrics.Port)
	envString("SNAP_INDEXER_DATA_DIR", &cfg.Indexer.DataDir)
	envString("SNAP_INDEXER_SCHEMA_FILE", &cfg.Indexer.SchemaFile)
	envString("SNAP_INDEXER_CODEC", &cfg.Indexer.Codec)
	envDuration("SNAP_INDEXER_COMMIT_INTERVAL", &cfg.Indexer.CommitInterval)
	envDuration("SNAP_INDEXER_MERGE_INTERVAL", &cfg.Indexer.MergeInterval)
	envInt("SNAP_INDEXER_MAX_SEGMENTS", &cfg.Indexer.MaxSegmentsBeforeMerge)
	envBool("SNAP_POSTGRES_ENABLED", &cfg.Postgres.Enabled)
	envString("SNAP_POSTGRES_HOST", &cfg.Postgres.Host)
	envInt("SNAP_POSTGRES_PORT", &cfg.Postgres.Port)
	envString("SNAP_POSTGRES_DATABASE", &cfg.Postgres.Database)
	envString("SNAP_POSTGRES_USER", &cfg.Postgres.User)
	envString("SNAP_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	envString("SNAP_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	envBool("SNAP_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v := os.Getenv("SNAP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	envBool("SNAP_REDIS_ENABLED", &cfg.Redis.Enabled)
	envString("SNAP_REDIS_ADDR", &cfg.Redis.Addr)
	envString("SNAP_REDIS_PASSWORD", &cfg.Redis.Password)
	envString("SNAP_LOGGING_LEVEL", &cfg.Logging.Level)
	envString("SNAP_LOGGING_FORMAT", &cfg.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
