package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, "environment: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "localhost:50051", cfg.MLEngine.Addr())
	assert.Equal(t, 5000, cfg.MLEngine.TimeoutMs)
	assert.Equal(t, 300, cfg.WebSocket.DebounceMs)
	assert.Equal(t, 300, cfg.WebSocket.StaleAfterSec)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.WindowSec)
	assert.Equal(t, 100, cfg.RateLimit.StandardLimit)
	assert.Equal(t, 10, cfg.RateLimit.AuthLimit)
	assert.Equal(t, 30, cfg.RateLimit.PricingLimit)
	assert.Equal(t, 200, cfg.RateLimit.AdminLimit)
	assert.Equal(t, 10, cfg.RateLimit.ViolationThreshold)
	assert.Equal(t, 3600, cfg.RateLimit.BlockDurationSec)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 8080
ml_engine:
  host: ml.internal
  timeout_ms: 2500
websocket:
  debounce_ms: 150
rate_limit:
  pricing_limit: 12
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ml.internal:50051", cfg.MLEngine.Addr())
	assert.Equal(t, 2500, cfg.MLEngine.TimeoutMs)
	assert.Equal(t, 150, cfg.WebSocket.DebounceMs)
	assert.Equal(t, 12, cfg.RateLimit.PricingLimit)
	// untouched sections keep their defaults
	assert.Equal(t, 100, cfg.RateLimit.StandardLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Name:     "guardquote",
		Username: "svc",
		Password: "pw",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=pw dbname=guardquote sslmode=require",
		d.DSN())
}
