package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 6, cfg.Engine.Recovery.CodeDigits)
	assert.Equal(t, 3*time.Hour, cfg.Engine.External.TopItemsTTL)
	assert.True(t, cfg.Engine.Metrics.Enabled)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gosession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9000"
redis:
  addrs: ["redis-a:6379", "redis-b:6379"]
store:
  driver: bolt
  path: /var/lib/gosession/principals.db
engine:
  token:
    access_secret: from-file-access
    renewal_secret: from-file-renewal
    access_ttl: 5m
  external:
    now_playing_ttl: 45s
`), 0o600))

	t.Setenv("GOSESSION_ENGINE__TOKEN__ACCESS_SECRET", "from-env-access")
	t.Setenv("GOSESSION_ENGINE__RATE_LIMIT__LOGIN_MAX_FAILURES", "9")
	t.Setenv("GOSESSION_SMTP__HOST", "smtp.example.com")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"redis-a:6379", "redis-b:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, "bolt", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/gosession/principals.db", cfg.Store.Path)
	assert.Equal(t, "from-env-access", cfg.Engine.Token.AccessSecret)
	assert.Equal(t, "from-file-renewal", cfg.Engine.Token.RenewalSecret)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Token.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.Token.RenewalTTL, "untouched defaults survive")
	assert.Equal(t, 45*time.Second, cfg.Engine.External.NowPlayingTTL)
	assert.Equal(t, 9, cfg.Engine.RateLimit.LoginMaxFailures)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("GOSESSION_STORE__DRIVER", "mongo")
	_, err := loadConfig("")
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "engine.token.access_secret", envKey("GOSESSION_ENGINE__TOKEN__ACCESS_SECRET"))
	assert.Equal(t, "http.addr", envKey("GOSESSION_HTTP__ADDR"))
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(os.Stderr, logConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	_, err = newLogger(os.Stderr, logConfig{Level: "loud"})
	require.Error(t, err)
	_, err = newLogger(os.Stderr, logConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
}
