// Package config loads and validates the indexer configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (indexer, election, Kafka, Redis, Postgres, logging,
// metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Indexer  IndexerConfig  `yaml:"indexer"`
	Election ElectionConfig `yaml:"election"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
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
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexEvents    string `yaml:"indexEvents"`
	IndexCommitted string `yaml:"indexCommitted"`
}

// RedisConfig holds Redis connection parameters. CachePrefix is the key
// prefix of the search result cache invalidated after each commit.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"poolSize"`
	CachePrefix string `yaml:"cachePrefix"`
}

// IndexerConfig controls the write-coordination engine of every index.
type IndexerConfig struct {
	DataDir         string        `yaml:"dataDir"`
	Engine          string        `yaml:"engine"`
	Async           bool          `yaml:"async"`
	QueueCapacity   int           `yaml:"queueCapacity"`
	EnqueueTimeout  time.Duration `yaml:"enqueueTimeout"`
	CommitDebounce  time.Duration `yaml:"commitDebounce"`
	CommitMaxAge    time.Duration `yaml:"commitMaxAge"`
	WaitForQueue    bool          `yaml:"waitForQueue"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Indexes         []IndexConfig `yaml:"indexes"`
}

// IndexConfig names one index. Path defaults to DataDir/Name.
type IndexConfig struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Engine string `yaml:"engine"`
}

// ElectionConfig selects how the executive indexer is elected among
// processes sharing index storage.
type ElectionConfig struct {
	Mode           string        `yaml:"mode"`
	Identity       string        `yaml:"identity"`
	Dir            string        `yaml:"dir"`
	RenewInterval  time.Duration `yaml:"renewInterval"`
	StaleThreshold time.Duration `yaml:"staleThreshold"`
	OpTimeout      time.Duration `yaml:"opTimeout"`
}

// Election modes.
const (
	ElectionSingle   = "single"
	ElectionFile     = "file"
	ElectionRedis    = "redis"
	ElectionPostgres = "postgres"
)

// Storage engines.
const (
	EngineSegment = "segment"
	EnginePebble  = "pebble"
)

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server, which also serves
// the health probes.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with local-development defaults. The commit and
// election timings are the production recommendations.
func Default() *Config {
	return &Config{
		Indexer: IndexerConfig{
			DataDir:         "data/indexes",
			Engine:          EngineSegment,
			Async:           true,
			QueueCapacity:   1024,
			EnqueueTimeout:  5 * time.Second,
			CommitDebounce:  2 * time.Second,
			CommitMaxAge:    5 * time.Minute,
			WaitForQueue:    true,
			ShutdownTimeout: 2 * time.Minute,
		},
		Election: ElectionConfig{
			Mode:           ElectionSingle,
			RenewInterval:  10 * time.Minute,
			StaleThreshold: time.Hour,
			OpTimeout:      10 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchplatform",
			User:            "searchplatform",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchindexer-group",
			Topics: KafkaTopics{
				IndexEvents:    "index-events",
				IndexCommitted: "index.committed",
			},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			CachePrefix: "search:",
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

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	ix := c.Indexer
	if ix.DataDir == "" {
		problems = append(problems, "indexer.dataDir is required")
	}
	if !validEngine(ix.Engine) {
		problems = append(problems, fmt.Sprintf("indexer.engine %q is not one of segment, pebble", ix.Engine))
	}
	if ix.QueueCapacity <= 0 {
		problems = append(problems, "indexer.queueCapacity must be positive")
	}
	if ix.CommitDebounce <= 0 {
		problems = append(problems, "indexer.commitDebounce must be positive")
	}
	if ix.CommitMaxAge < ix.CommitDebounce {
		problems = append(problems, "indexer.commitMaxAge must not be shorter than commitDebounce")
	}
	seen := make(map[string]struct{}, len(ix.Indexes))
	for i, idx := range ix.Indexes {
		if idx.Name == "" {
			problems = append(problems, fmt.Sprintf("indexer.indexes[%d].name is required", i))
			continue
		}
		if _, dup := seen[idx.Name]; dup {
			problems = append(problems, fmt.Sprintf("indexer.indexes[%d]: duplicate name %q", i, idx.Name))
		}
		seen[idx.Name] = struct{}{}
		if idx.Engine != "" && !validEngine(idx.Engine) {
			problems = append(problems, fmt.Sprintf("indexer.indexes[%d].engine %q is not one of segment, pebble", i, idx.Engine))
		}
	}

	el := c.Election
	switch el.Mode {
	case ElectionSingle, ElectionRedis, ElectionPostgres:
	case ElectionFile:
		if el.Dir == "" {
			problems = append(problems, "election.dir is required in file mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("election.mode %q is not one of single, file, redis, postgres", el.Mode))
	}
	if el.Mode != ElectionSingle {
		if el.RenewInterval <= 0 {
			problems = append(problems, "election.renewInterval must be positive")
		}
		if el.StaleThreshold <= el.RenewInterval {
			problems = append(problems, "election.staleThreshold must exceed renewInterval")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IndexPath returns the physical location of the named index.
func (c IndexerConfig) IndexPath(idx IndexConfig) string {
	if idx.Path != "" {
		return idx.Path
	}
	return strings.TrimRight(c.DataDir, "/") + "/" + idx.Name
}

// IndexEngine returns the storage engine of the named index.
func (c IndexerConfig) IndexEngine(idx IndexConfig) string {
	if idx.Engine != "" {
		return idx.Engine
	}
	return c.Engine
}

func validEngine(name string) bool {
	return name == EngineSegment || name == EnginePebble
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("SP_INDEXER_ENGINE"); v != "" {
		cfg.Indexer.Engine = v
	}
	if v := os.Getenv("SP_INDEXER_ASYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Indexer.Async = b
		}
	}
	if v := os.Getenv("SP_INDEXER_COMMIT_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Indexer.CommitDebounce = d
		}
	}
	if v := os.Getenv("SP_INDEXER_COMMIT_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Indexer.CommitMaxAge = d
		}
	}
	if v := os.Getenv("SP_ELECTION_MODE"); v != "" {
		cfg.Election.Mode = v
	}
	if v := os.Getenv("SP_ELECTION_IDENTITY"); v != "" {
		cfg.Election.Identity = v
	}
	if v := os.Getenv("SP_ELECTION_DIR"); v != "" {
		cfg.Election.Dir = v
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
