// Package config loads server configuration.
//
// Precedence, lowest first:
//  1. built-in defaults
//  2. the YAML file named by $SHIELD_CONFIG_FILE, if set
//  3. environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pstrings "idshield/pkg/platform/strings"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
)

// Config is the full server configuration.
type Config struct {
	Server    Server          `yaml:"server"`
	Cipher    CipherConfig    `yaml:"cipher"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Results   ResultsConfig   `yaml:"results"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CipherConfig holds passphrases and key-derivation cost. Passphrases are
// usually left out of the file and supplied through the environment.
type CipherConfig struct {
	EnvelopePassphrase string `yaml:"envelope_passphrase"`
	FieldPassphrase    string `yaml:"field_passphrase"`
	KDFIterations      int    `yaml:"kdf_iterations"`
	KDFWorkers         int    `yaml:"kdf_workers"`
	AllowLegacy        bool   `yaml:"allow_legacy"`
}

type PipelineConfig struct {
	DuplicateBackend string        `yaml:"duplicate_backend"`
	IndexTimeout     time.Duration `yaml:"index_timeout"`
	DemoFallback     bool          `yaml:"demo_fallback"`
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PostgresConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type ResultsConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// EventsConfig selects where stage events go. With no brokers they are
// logged only.
type EventsConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RateLimitConfig caps submissions per client IP over a sliding window.
// Requests of zero disables the limiter. KeyPrefix namespaces window keys
// in Redis.
type RateLimitConfig struct {
	Requests  int           `yaml:"requests"`
	Window    time.Duration `yaml:"window"`
	Backend   string        `yaml:"backend"`
	KeyPrefix string        `yaml:"key_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":4002",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Cipher: CipherConfig{
			KDFIterations: 100_000,
		},
		Pipeline: PipelineConfig{
			DuplicateBackend: BackendMemory,
			IndexTimeout:     2 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix:    "shield:fp:",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Results: ResultsConfig{
			Backend:    BackendNone,
			SQLitePath: "./data/identity_shield.db",
		},
		Events: EventsConfig{
			Topic:         "idshield.stage-events",
			BufferSize:    10_000,
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:    time.Minute,
			Backend:   BackendMemory,
			KeyPrefix: "shield:rl:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// FromEnv builds the configuration from defaults, the optional YAML file and
// environment variables, then validates it.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load is FromEnv with an injectable environment lookup.
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := getenv("SHIELD_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := envReader{getenv: getenv}

	env.str("SHIELD_ADDR", &c.Server.Addr)
	env.duration("SHIELD_REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	env.duration("SHIELD_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	env.str("SHIELD_ENVELOPE_PASSPHRASE", &c.Cipher.EnvelopePassphrase)
	env.str("SHIELD_FIELD_PASSPHRASE", &c.Cipher.FieldPassphrase)
	env.integer("SHIELD_KDF_ITERATIONS", &c.Cipher.KDFIterations)
	env.integer("SHIELD_KDF_WORKERS", &c.Cipher.KDFWorkers)
	env.boolean("SHIELD_ALLOW_LEGACY_CIPHER", &c.Cipher.AllowLegacy)

	env.str("SHIELD_DUP_BACKEND", &c.Pipeline.DuplicateBackend)
	env.duration("SHIELD_INDEX_TIMEOUT", &c.Pipeline.IndexTimeout)
	env.boolean("SHIELD_DEMO_FALLBACK", &c.Pipeline.DemoFallback)

	env.str("REDIS_URL", &c.Redis.URL)
	env.str("DATABASE_URL", &c.Postgres.URL)

	env.str("SHIELD_RESULTS_BACKEND", &c.Results.Backend)
	env.str("SHIELD_SQLITE_PATH", &c.Results.SQLitePath)

	if brokers := getenv("KAFKA_BROKERS"); brokers != "" {
		c.Events.Brokers = pstrings.SplitList(brokers)
	}
	env.str("SHIELD_STAGE_TOPIC", &c.Events.Topic)

	env.integer("SHIELD_RATE_LIMIT", &c.RateLimit.Requests)
	env.duration("SHIELD_RATE_WINDOW", &c.RateLimit.Window)
	env.str("SHIELD_RATE_BACKEND", &c.RateLimit.Backend)

	env.str("LOG_LEVEL", &c.Log.Level)
	env.str("LOG_FORMAT", &c.Log.Format)

	return env.err
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Pipeline.DuplicateBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("config: REDIS_URL is required for the redis duplicate backend")
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres duplicate backend")
		}
	default:
		return fmt.Errorf("config: unknown duplicate backend %q", c.Pipeline.DuplicateBackend)
	}

	switch c.Results.Backend {
	case BackendNone:
	case BackendSQLite:
		if c.Results.SQLitePath == "" {
			return fmt.Errorf("config: SHIELD_SQLITE_PATH is required for the sqlite results backend")
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres results backend")
		}
	default:
		return fmt.Errorf("config: unknown results backend %q", c.Results.Backend)
	}

	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	if c.RateLimit.Requests > 0 {
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("config: rate window must be positive")
		}
		switch c.RateLimit.Backend {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.URL == "" {
				return fmt.Errorf("config: REDIS_URL is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("config: unknown rate limit backend %q", c.RateLimit.Backend)
		}
	}

	if c.Cipher.KDFIterations < 1 {
		return fmt.Errorf("config: kdf iterations must be positive")
	}
	if c.Cipher.KDFWorkers < 0 {
		return fmt.Errorf("config: kdf workers must not be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server address is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("config: stage topic is required when KAFKA_BROKERS is set")
	}
	return nil
}

// envReader applies env overrides and keeps the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s: %w", key, err)
	}
}
