package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for Feedline.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Delivery    DeliveryConfig    `koanf:"delivery"`
	Collector   CollectorConfig   `koanf:"collector"`
	Verbs       VerbsConfig       `koanf:"verbs"`
	Principal   PrincipalConfig   `koanf:"principal"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RedisConfig holds the bucket-lease backend settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// AggregationConfig holds settings for the aggregation worker.
type AggregationConfig struct {
	// RulesDir contains the grouping-rule YAML files; their lexical order is
	// the claim precedence.
	RulesDir  string `koanf:"rules_dir"`
	Enabled   bool   `koanf:"enabled"`
	Interval  string `koanf:"interval"` // parsed as time.Duration in main
	BatchSize int    `koanf:"batch_size"`
	// ShardIndex/ShardCount split the queue by tenant partition across worker
	// processes; 0/1 is the single-worker deployment.
	ShardIndex int `koanf:"shard_index"`
	ShardCount int `koanf:"shard_count"`
}

// DeliveryConfig holds routing/bucketing settings.
type DeliveryConfig struct {
	BucketSlice string `koanf:"bucket_slice"` // width of time-sliced buckets
}

// CollectorConfig holds settings for the bucket collector.
type CollectorConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Interval    string `koanf:"interval"`
	LeaseTTL    string `koanf:"lease_ttl"`
	BucketLimit int    `koanf:"bucket_limit"`
	RecordLimit int    `koanf:"record_limit"`
}

// PrincipalConfig points at the principal directory dataset.
type PrincipalConfig struct {
	// DirectoryFile is a YAML snapshot of principals/follows/groups used by
	// the static directory. Empty means an empty permissive directory.
	DirectoryFile string `koanf:"directory_file"`
}

// VerbsConfig holds the verb registry settings.
type VerbsConfig struct {
	// Dir contains the verb definition YAML files. Empty or missing falls
	// back to the built-in verb set.
	Dir string `koanf:"dir"`
}

// Duration parses a config duration string, falling back when empty or
// invalid values would stall a component.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":              8080,
		"server.host":              "0.0.0.0",
		"server.max_body_size_mb":  1,
		"server.mode":              "release",
		"database.dsn":             "postgres://localhost:5432/feedline?sslmode=disable",
		"database.max_open_conns":  25,
		"database.max_idle_conns":  25,
		"database.auto_migrate":    true,
		"redis.addr":               "localhost:6379",
		"redis.password":           "",
		"redis.db":                 0,
		"aggregation.rules_dir":    "./config/rules",
		"aggregation.enabled":      true,
		"aggregation.interval":     "5s",
		"aggregation.batch_size":   500,
		"aggregation.shard_index":  0,
		"aggregation.shard_count":  1,
		"delivery.bucket_slice":    "5m",
		"collector.enabled":        true,
		"collector.interval":       "30s",
		"collector.lease_ttl":      "2m",
		"collector.bucket_limit":   50,
		"collector.record_limit":   5000,
		"verbs.dir":                "./config/verbs",
		"principal.directory_file": "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// FEEDLINE_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("FEEDLINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FEEDLINE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot possibly run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	if c.Collector.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when the collector is enabled")
	}
	if c.Aggregation.BatchSize <= 0 {
		return fmt.Errorf("aggregation.batch_size must be positive")
	}
	if c.Aggregation.ShardCount < 1 {
		return fmt.Errorf("aggregation.shard_count must be at least 1")
	}
	if c.Aggregation.ShardIndex < 0 || c.Aggregation.ShardIndex >= c.Aggregation.ShardCount {
		return fmt.Errorf("aggregation.shard_index %d is out of range for %d shards",
			c.Aggregation.ShardIndex, c.Aggregation.ShardCount)
	}
	return nil
}
