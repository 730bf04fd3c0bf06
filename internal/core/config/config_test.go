package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.Mode)
	require.True(t, cfg.Database.AutoMigrate)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 500, cfg.Aggregation.BatchSize)
	require.Equal(t, "5m", cfg.Delivery.BucketSlice)
	require.True(t, cfg.Collector.Enabled)
	require.Equal(t, 50, cfg.Collector.BucketLimit)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  mode: debug
aggregation:
  rules_dir: /etc/feedline/rules
  batch_size: 100
collector:
  lease_ttl: 5m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.Equal(t, "/etc/feedline/rules", cfg.Aggregation.RulesDir)
	require.Equal(t, 100, cfg.Aggregation.BatchSize)
	require.Equal(t, "5m", cfg.Collector.LeaseTTL)
	// untouched keys keep their defaults
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("FEEDLINE_SERVER__PORT", "7070")
	t.Setenv("FEEDLINE_REDIS__ADDR", "redis.internal:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"collector without redis", func(c *Config) { c.Redis.Addr = "" }},
		{"non-positive batch size", func(c *Config) { c.Aggregation.BatchSize = -1 }},
		{"zero shard count", func(c *Config) { c.Aggregation.ShardCount = 0 }},
		{"shard index beyond count", func(c *Config) {
			c.Aggregation.ShardCount = 2
			c.Aggregation.ShardIndex = 2
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelper(t *testing.T) {
	require.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	require.Equal(t, time.Minute, Duration("", time.Minute))
	require.Equal(t, time.Minute, Duration("not-a-duration", time.Minute))
	require.Equal(t, time.Minute, Duration("-3s", time.Minute))
}
