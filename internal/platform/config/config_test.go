package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":4002", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Pipeline.DuplicateBackend)
	assert.Equal(t, BackendNone, cfg.Results.Backend)
	assert.False(t, cfg.Pipeline.DemoFallback)
	assert.False(t, cfg.Cipher.AllowLegacy)
	assert.Zero(t, cfg.RateLimit.Requests, "rate limiting is off unless configured")
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"SHIELD_ADDR":                ":9000",
		"SHIELD_ENVELOPE_PASSPHRASE": "secret",
		"SHIELD_KDF_ITERATIONS":      "5000",
		"SHIELD_ALLOW_LEGACY_CIPHER": "true",
		"SHIELD_DEMO_FALLBACK":       "1",
		"SHIELD_REQUEST_TIMEOUT":     "3s",
		"SHIELD_DUP_BACKEND":         "redis",
		"REDIS_URL":                  "redis://localhost:6379/0",
		"SHIELD_RESULTS_BACKEND":     "sqlite",
		"SHIELD_SQLITE_PATH":         "/tmp/shield.db",
		"KAFKA_BROKERS":              "a:9092, b:9092,a:9092",
		"LOG_LEVEL":                  "debug",
		"SHIELD_RATE_LIMIT":          "30",
		"SHIELD_RATE_WINDOW":         "10s",
		"SHIELD_RATE_BACKEND":        "redis",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Cipher.EnvelopePassphrase)
	assert.Equal(t, 5000, cfg.Cipher.KDFIterations)
	assert.True(t, cfg.Cipher.AllowLegacy)
	assert.True(t, cfg.Pipeline.DemoFallback)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, BackendRedis, cfg.Pipeline.DuplicateBackend)
	assert.Equal(t, "/tmp/shield.db", cfg.Results.SQLitePath)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, RateLimitConfig{Requests: 30, Window: 10 * time.Second, Backend: BackendRedis, KeyPrefix: "shield:rl:"}, cfg.RateLimit)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shield.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7000"
  request_timeout: 4s
cipher:
  kdf_iterations: 2000
pipeline:
  duplicate_backend: postgres
  demo_fallback: true
postgres:
  url: postgres://file/db
events:
  brokers: [k1:9092]
log:
  format: text
`), 0o600))

	cfg, err := Load(envMap(map[string]string{
		"SHIELD_CONFIG_FILE":   path,
		"SHIELD_ADDR":          ":7001",
		"SHIELD_DEMO_FALLBACK": "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, 4*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 2000, cfg.Cipher.KDFIterations)
	assert.Equal(t, BackendPostgres, cfg.Pipeline.DuplicateBackend)
	assert.False(t, cfg.Pipeline.DemoFallback)
	assert.Equal(t, []string{"k1:9092"}, cfg.Events.Brokers)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "unset file keys keep defaults")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad integer", env: map[string]string{"SHIELD_KDF_ITERATIONS": "lots"}},
		{name: "bad bool", env: map[string]string{"SHIELD_DEMO_FALLBACK": "maybe"}},
		{name: "bad duration", env: map[string]string{"SHIELD_REQUEST_TIMEOUT": "soon"}},
		{name: "unknown duplicate backend", env: map[string]string{"SHIELD_DUP_BACKEND": "etcd"}},
		{name: "redis without url", env: map[string]string{"SHIELD_DUP_BACKEND": "redis"}},
		{name: "postgres without url", env: map[string]string{"SHIELD_DUP_BACKEND": "postgres"}},
		{name: "unknown results backend", env: map[string]string{"SHIELD_RESULTS_BACKEND": "csv"}},
		{name: "postgres results without url", env: map[string]string{"SHIELD_RESULTS_BACKEND": "postgres"}},
		{name: "negative rate limit", env: map[string]string{"SHIELD_RATE_LIMIT": "-1"}},
		{name: "rate limit without window", env: map[string]string{"SHIELD_RATE_LIMIT": "5", "SHIELD_RATE_WINDOW": "0s"}},
		{name: "redis rate limit without url", env: map[string]string{"SHIELD_RATE_LIMIT": "5", "SHIELD_RATE_BACKEND": "redis"}},
		{name: "unknown rate limit backend", env: map[string]string{"SHIELD_RATE_LIMIT": "5", "SHIELD_RATE_BACKEND": "etcd"}},
		{name: "zero iterations", env: map[string]string{"SHIELD_KDF_ITERATIONS": "0"}},
		{name: "missing file", env: map[string]string{"SHIELD_CONFIG_FILE": "/does/not/exist.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SHIELD_ADDR", ":4100")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":4100", cfg.Server.Addr)
}
