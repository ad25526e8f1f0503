package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "sql", cfg.Cart.Backend)
	assert.Equal(t, "conceal", cfg.AccessPolicy)
	assert.True(t, cfg.ClearCartOnCheckout)
	assert.Equal(t, 15*time.Minute, cfg.Cart.CacheTTL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
http_port: "9090"
request_timeout: 3s
access_policy: reveal
db:
  driver: postgres
  host: db.internal
  port: 6432
  name: orders
kafka:
  brokers: ["k1:9092"]
  topic: events
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("CLEAR_CART_ON_CHECKOUT", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.HTTPPort, "env beats file")
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "reveal", cfg.AccessPolicy)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 6432, cfg.DB.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "events", cfg.Kafka.Topic)
	assert.False(t, cfg.ClearCartOnCheckout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout, "untouched default survives")
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "unknown db driver"},
		{"unknown cart backend", func(c *Config) { c.Cart.Backend = "redis" }, "unknown cart backend"},
		{"unknown access policy", func(c *Config) { c.AccessPolicy = "open" }, "unknown access policy"},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, "unknown log format"},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }, "request timeout must be positive"},
		{"negative outbox interval", func(c *Config) { c.Kafka.OutboxInterval = -time.Second }, "outbox interval must be positive"},
		{"postgres without host", func(c *Config) {
			c.DB.Driver = "postgres"
			c.DB.Host = ""
		}, "postgres requires"},
		{"mongo without uri", func(c *Config) {
			c.Cart.Backend = "mongo"
			c.Cart.MongoURI = ""
		}, "mongo cart backend requires"},
		{"brokers without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"k:9092"}
			c.Kafka.Topic = ""
		}, "kafka topic is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
