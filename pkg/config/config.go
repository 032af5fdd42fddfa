// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Taxonomy, Facets, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`
	Facets   FacetsConfig   `yaml:"facets"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
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
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	FacetDocuments  string `yaml:"facetDocuments"`
	TaxonomyCommits string `yaml:"taxonomyCommits"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// LocalCacheSize bounds the in-process tier in front of Redis. Zero
	// disables it.
	LocalCacheSize int `yaml:"localCacheSize"`
}

// IndexerConfig controls where facet segments live and how often the
// in-memory buffer is flushed.
type IndexerConfig struct {
	DataDir         string        `yaml:"dataDir"`
	MaxBufferedDocs int           `yaml:"maxBufferedDocs"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
}

// TaxonomyConfig controls taxonomy storage and the writer/reader caches.
type TaxonomyConfig struct {
	Backend              string `yaml:"backend"`
	Dir                  string `yaml:"dir"`
	OpenMode             string `yaml:"openMode"`
	WriterCache          string `yaml:"writerCache"`
	CacheSize            int    `yaml:"cacheSize"`
	CacheMissesUntilFill int    `yaml:"cacheMissesUntilFill"`
}

// FacetsConfig describes how categories are laid out in the index.
type FacetsConfig struct {
	IndexField    string                     `yaml:"indexField"`
	PartitionSize int32                      `yaml:"partitionSize"`
	OrdinalPolicy string                     `yaml:"ordinalPolicy"`
	Delimiter     string                     `yaml:"delimiter"`
	Dimensions    map[string]DimensionConfig `yaml:"dimensions"`
}

// DimensionConfig overrides facet settings for one dimension.
type DimensionConfig struct {
	IndexField    string `yaml:"indexField"`
	OrdinalPolicy string `yaml:"ordinalPolicy"`
}

// SearchConfig controls facet counting limits.
type SearchConfig struct {
	DefaultTopN  int           `yaml:"defaultTopN"`
	MaxTopN      int           `yaml:"maxTopN"`
	CountTimeout time.Duration `yaml:"countTimeout"`
	// RefreshInterval is how often the searcher checks for new taxonomy
	// commits and segments without waiting for a commit event.
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	// CORSOrigins lists browser origins allowed to call the search API.
	// Empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
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

// Validate rejects values the services cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Taxonomy.Backend {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Errorf("taxonomy.backend: unknown backend %q", c.Taxonomy.Backend))
	}
	switch c.Taxonomy.OpenMode {
	case "create", "append", "create_or_append":
	default:
		errs = append(errs, fmt.Errorf("taxonomy.openMode: unknown mode %q", c.Taxonomy.OpenMode))
	}
	switch c.Taxonomy.WriterCache {
	case "lru", "complete":
	default:
		errs = append(errs, fmt.Errorf("taxonomy.writerCache: unknown cache %q", c.Taxonomy.WriterCache))
	}
	if c.Taxonomy.Backend == "file" && c.Taxonomy.Dir == "" {
		errs = append(errs, errors.New("taxonomy.dir: required for the file backend"))
	}
	if c.Indexer.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("indexer.flushInterval: must be positive, got %s", c.Indexer.FlushInterval))
	}
	if c.Facets.PartitionSize < 0 {
		errs = append(errs, fmt.Errorf("facets.partitionSize: must not be negative, got %d", c.Facets.PartitionSize))
	}
	if n := len([]rune(c.Facets.Delimiter)); n > 1 {
		errs = append(errs, fmt.Errorf("facets.delimiter: must be a single character, got %q", c.Facets.Delimiter))
	}
	if c.Search.MaxTopN > 0 && c.Search.DefaultTopN > c.Search.MaxTopN {
		errs = append(errs, fmt.Errorf("search.defaultTopN %d exceeds maxTopN %d", c.Search.DefaultTopN, c.Search.MaxTopN))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "facettaxonomy",
			User:            "facettaxonomy",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "facet-indexer-group",
			Topics: KafkaTopics{
				FacetDocuments:  "facet-documents",
				TaxonomyCommits: "taxonomy.commits",
			},
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			Password:       "",
			DB:             0,
			PoolSize:       10,
			CacheTTL:       60 * time.Second,
			LocalCacheSize: 1024,
		},
		Indexer: IndexerConfig{
			DataDir:         "./data/segments",
			MaxBufferedDocs: 10000,
			FlushInterval:   10 * time.Second,
		},
		Taxonomy: TaxonomyConfig{
			Backend:              "file",
			Dir:                  "./data/taxonomy",
			OpenMode:             "create_or_append",
			WriterCache:          "complete",
			CacheSize:            4096,
			CacheMissesUntilFill: 11,
		},
		Facets: FacetsConfig{
			IndexField:    "$facets",
			OrdinalPolicy: "ALL_BUT_DIMENSION",
		},
		Search: SearchConfig{
			DefaultTopN:     10,
			MaxTopN:         1000,
			CountTimeout:    5 * time.Second,
			RefreshInterval: 30 * time.Second,
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

// applyEnvOverrides reads FT_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FT_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FT_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FT_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FT_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FT_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FT_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FT_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FT_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("FT_TAXONOMY_BACKEND"); v != "" {
		cfg.Taxonomy.Backend = v
	}
	if v := os.Getenv("FT_TAXONOMY_DIR"); v != "" {
		cfg.Taxonomy.Dir = v
	}
	if v := os.Getenv("FT_TAXONOMY_OPEN_MODE"); v != "" {
		cfg.Taxonomy.OpenMode = v
	}
	if v := os.Getenv("FT_FACETS_PARTITION_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.Facets.PartitionSize = int32(n)
		}
	}
	if v := os.Getenv("FT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FT_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
