package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Triplestore.MaxConcurrent)
	assert.Equal(t, 120*time.Second, cfg.Triplestore.Timeout.Duration())
	assert.Equal(t, "document_chunks", cfg.Vector.Collection)
	assert.Equal(t, 10000, cfg.Audit.BatchSize)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9191
triplestore:
  base_url: http://graphdb:7200
  repository: prod
  timeout: 45s
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "http://graphdb:7200", cfg.Triplestore.BaseURL)
	assert.Equal(t, "prod", cfg.Triplestore.Repository)
	assert.Equal(t, 45*time.Second, cfg.Triplestore.Timeout.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("TRIPLESTORE_MAX_CONCURRENT", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Triplestore.MaxConcurrent)
}

func TestLogLevelShorthand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Triplestore.Repository = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Embedding.Dimension = 768
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "shout"
	assert.Error(t, cfg.Validate())
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "triplestore.base_url", envTransform("TRIPLESTORE_BASE_URL"))
	assert.Equal(t, "embedding.dimension", envTransform("EMBEDDING_DIMENSION"))
	assert.Equal(t, "logging.level", envTransform("LOG_LEVEL"))
	assert.Equal(t, "path", envTransform("PATH"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
}
