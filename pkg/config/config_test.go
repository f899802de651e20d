package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":1234", cfg.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Webhook.Debounce())
	assert.Equal(t, 2*time.Second, cfg.Webhook.MaxDebounce())
	assert.Equal(t, 5*time.Second, cfg.Webhook.Retry())
	assert.Equal(t, 10*time.Second, cfg.Presence.IdleTimeout())
	assert.Equal(t, 2*time.Second, cfg.Presence.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.Presence.Retention())
	assert.Equal(t, 30*time.Second, cfg.Room.Grace())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: ":9000"
webhook:
  url: "https://backend.example.com/api/study-designs/map/"
  secret: "some-secret"
  debounce_ms: 250
  max_debounce_ms: 1000
  retry_ms: 3000
presence:
  idle_timeout_ms: 5000
  sweep_interval_ms: 1000
  retention_ms: 15000
room:
  grace_ms: 10000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "https://backend.example.com/api/study-designs/map/", cfg.Webhook.URL)
	assert.Equal(t, "some-secret", cfg.Webhook.Secret)
	assert.Equal(t, 250*time.Millisecond, cfg.Webhook.Debounce())
	assert.Equal(t, time.Second, cfg.Webhook.MaxDebounce())
	assert.Equal(t, 5*time.Second, cfg.Presence.IdleTimeout())
	assert.Equal(t, 10*time.Second, cfg.Room.Grace())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("WEBHOOK_URL", "http://localhost:8000/api/study-designs/map/")
	t.Setenv("WEBHOOK_SECRET", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8000/api/study-designs/map/", cfg.Webhook.URL)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
}

func TestListenAddrBeatsPort(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
}

func TestValidationRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	// max debounce below debounce
	content := `
webhook:
  debounce_ms: 2000
  max_debounce_ms: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	// malformed URL
	content = `
webhook:
  url: "not a url"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
