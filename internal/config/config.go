// Package config loads the service configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
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

type Config struct {
	HTTPPort string `yaml:"http_port"`
	GRPCPort string `yaml:"grpc_port"`

	DB    DBConfig    `yaml:"db"`
	Cart  CartConfig  `yaml:"cart"`
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`

	RequestTimeout      time.Duration `yaml:"request_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// AccessPolicy is "conceal" or "reveal".
	AccessPolicy        string `yaml:"access_policy"`
	ClearCartOnCheckout bool   `yaml:"clear_cart_on_checkout"`

	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	StdoutTracing bool   `yaml:"stdout_tracing"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
}

type DBConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver         string `yaml:"driver"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Name           string `yaml:"name"`
	SQLitePath     string `yaml:"sqlite_path"`
	MigrationsPath string `yaml:"migrations_path"`
}

type CartConfig struct {
	// Backend is "sql" or "mongo".
	Backend  string        `yaml:"backend"`
	MongoURI string        `yaml:"mongo_uri"`
	MongoDB  string        `yaml:"mongo_db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RedisConfig leaves the cart cache disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// KafkaConfig leaves outbox publishing disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	OutboxInterval time.Duration `yaml:"outbox_interval"`
}

func Default() *Config {
	return &Config{
		HTTPPort: "8080",
		GRPCPort: "50060",
		DB: DBConfig{
			Driver:         "sqlite",
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "postgres",
			Name:           "ecommerce",
			SQLitePath:     "orders.db",
			MigrationsPath: "./internal/repository/migrations",
		},
		Cart: CartConfig{
			Backend:  "sql",
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "cart_db",
			CacheTTL: 15 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:          "orders-outbox",
			OutboxInterval: time.Second,
		},
		RequestTimeout:      10 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		AccessPolicy:        "conceal",
		ClearCartOnCheckout: true,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides and
// validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)

	c.DB.Driver = getEnv("DB_DRIVER", c.DB.Driver)
	c.DB.Host = getEnv("DB_HOST", c.DB.Host)
	c.DB.Port = getEnvInt("DB_PORT", c.DB.Port, &errs)
	c.DB.User = getEnv("DB_USER", c.DB.User)
	c.DB.Password = getEnv("DB_PASSWORD", c.DB.Password)
	c.DB.Name = getEnv("DB_NAME", c.DB.Name)
	c.DB.SQLitePath = getEnv("SQLITE_PATH", c.DB.SQLitePath)
	c.DB.MigrationsPath = getEnv("MIGRATIONS_PATH", c.DB.MigrationsPath)

	c.Cart.Backend = getEnv("CART_BACKEND", c.Cart.Backend)
	c.Cart.MongoURI = getEnv("MONGO_URI", c.Cart.MongoURI)
	c.Cart.MongoDB = getEnv("MONGO_DB", c.Cart.MongoDB)
	c.Cart.CacheTTL = getEnvDuration("CART_CACHE_TTL", c.Cart.CacheTTL, &errs)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.OutboxInterval = getEnvDuration("OUTBOX_INTERVAL", c.Kafka.OutboxInterval, &errs)

	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout, &errs)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout, &errs)
	c.HealthCheckInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", c.HealthCheckInterval, &errs)

	c.AccessPolicy = getEnv("ORDER_ACCESS_POLICY", c.AccessPolicy)
	c.ClearCartOnCheckout = getEnvBool("CLEAR_CART_ON_CHECKOUT", c.ClearCartOnCheckout, &errs)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.StdoutTracing = getEnvBool("STDOUT_TRACING", c.StdoutTracing, &errs)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	return errors.Join(errs...)
}

// Validate rejects unknown enum values, missing required settings and
// non-positive intervals.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case "postgres":
		if c.DB.Host == "" || c.DB.Name == "" {
			errs = append(errs, errors.New("postgres requires db host and name"))
		}
		if c.DB.Port <= 0 {
			errs = append(errs, fmt.Errorf("invalid db port %d", c.DB.Port))
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite requires a database path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DB.Driver))
	}
	if c.DB.MigrationsPath == "" {
		errs = append(errs, errors.New("migrations path is required"))
	}

	switch c.Cart.Backend {
	case "sql":
	case "mongo":
		if c.Cart.MongoURI == "" || c.Cart.MongoDB == "" {
			errs = append(errs, errors.New("mongo cart backend requires uri and database"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cart backend %q", c.Cart.Backend))
	}

	switch c.AccessPolicy {
	case "conceal", "reveal":
	default:
		errs = append(errs, fmt.Errorf("unknown access policy %q", c.AccessPolicy))
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}

	for name, d := range map[string]time.Duration{
		"request timeout":       c.RequestTimeout,
		"shutdown timeout":      c.ShutdownTimeout,
		"health check interval": c.HealthCheckInterval,
		"outbox interval":       c.Kafka.OutboxInterval,
		"cart cache ttl":        c.Cart.CacheTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
