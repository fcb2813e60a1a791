package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 60*time.Second, cfg.OAuth.Skew)
	assert.Contains(t, cfg.Catalog.Aliases["Pollo Pepper"], "peper pollo")
	assert.Contains(t, cfg.Customers.Sentinels, "NULL")
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
service:
  name: voice-gateway
upstream:
  timeout: 7s
  store_id: store-1
catalog:
  ttl: 2m
  aliases:
    Yuca Frita: ["yuca fries", "yoga frita"]
pending:
  max_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("LOYVERSE_REFRESH_TOKEN", "rt-env")
	t.Setenv("PORT", "8081")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "voice-gateway", cfg.Service.Name)
	assert.Equal(t, ":8081", cfg.Service.Addr)
	assert.Equal(t, 7*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "store-1", cfg.Upstream.StoreID)
	assert.Equal(t, 2*time.Minute, cfg.Catalog.TTL)
	assert.Equal(t, []string{"yuca fries", "yoga frita"}, cfg.Catalog.Aliases["Yuca Frita"])
	assert.Contains(t, cfg.Catalog.Aliases, "Pepper Steak", "file aliases extend the defaults")
	assert.Equal(t, 3, cfg.Pending.MaxAttempts)
	assert.Equal(t, "rt-env", cfg.OAuth.RefreshToken)
}

func TestLoadUsesEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  env: staging\n"), 0o644))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Service.Env)
}

func TestLoadRejectsOutOfRangeTimeout(t *testing.T) {
	t.Setenv("LOYVERSE_TIMEOUT", "30s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream.timeout")
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "http")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Pending.MaxAttempts = 0
	cfg.Catalog.TTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending.max_attempts")
	assert.Contains(t, err.Error(), "catalog.ttl")
}
