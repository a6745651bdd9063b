package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"LISTEN_ADDR", "BASE_URL", "CONTAINER_PROXY_URL", "DEFAULT_MODEL",
		"AUTH_TOKEN", "PROXY_JWT_SECRET", "ANTHROPIC_API_KEY", "GITHUB_TOKEN",
		"ANTHROPIC_BASE_URL", "GITHUB_BASE_URL", "OBJECT_STORE_BACKEND",
		"MONGO_URI", "MONGO_DATABASE", "MONGO_COLLECTION", "REDIS_URL",
		"WORKFLOW_ENGINE", "TEMPORAL_HOST_PORT", "TEMPORAL_NAMESPACE",
		"TEMPORAL_TASK_QUEUE", "PROXY_RATE_LIMIT_RPS", "PROXY_RATE_LIMIT_BURST",
		"SWEEP_INTERVAL", "SWEEP_GRACE", "CONFIG_FILE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFailsWithoutRequiredSecrets(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadAppliesDefaultsAndRequiredEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "tok")
	t.Setenv("PROXY_JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, cfg.BaseURL, cfg.ContainerProxyURL)
	assert.Equal(t, "memory", cfg.ObjectStoreBackend)
	assert.Equal(t, "inmem", cfg.WorkflowEngine)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "tok")
	t.Setenv("PROXY_JWT_SECRET", "secret")
	t.Setenv("OBJECT_STORE_BACKEND", "sqlite")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadYAMLOverlayOverridesEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "tok")
	t.Setenv("PROXY_JWT_SECRET", "secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseUrl: https://ctl.example.com\ndefaultModel: claude-opus\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://ctl.example.com", cfg.BaseURL)
	assert.Equal(t, "claude-opus", cfg.DefaultModel)
	// Untouched by the overlay, still the env-derived default.
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadReadsConfigFileEnvVar(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "tok")
	t.Setenv("PROXY_JWT_SECRET", "secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":9999\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}
