package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "depot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServer_DefaultsNeedSecret(t *testing.T) {
	_, err := LoadServer("", env(nil))
	assert.ErrorContains(t, err, EnvSecret)

	cfg, err := LoadServer("", env(map[string]string{EnvSecret: "s3cret"}))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.QueueCapacity)
	assert.Equal(t, 5*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "admin", cfg.Admin)
	assert.Empty(t, cfg.AdminPassword, "no admin password by default")
	assert.Equal(t, filepath.Join("data", "depot.db"), cfg.DBPath())
}

func TestLoadServer_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
listen: 0.0.0.0:9000
secret: from-file
queue_capacity: 4
token_ttl: 90s
rate_limit:
  rps: 5
  burst: 10
`)
	cfg, err := LoadServer(path, env(map[string]string{
		EnvListen:        "127.0.0.1:9999",
		EnvAdmin:         "root",
		EnvAdminPassword: "pw",
	}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen, "env wins over file")
	assert.Equal(t, "from-file", cfg.Secret)
	assert.Equal(t, "root", cfg.Admin)
	assert.Equal(t, "pw", cfg.AdminPassword)
	assert.Equal(t, 4, cfg.QueueCapacity)
	assert.Equal(t, 90*time.Second, cfg.TokenTTL)
	assert.Equal(t, RateLimit{RPS: 5, Burst: 10}, cfg.RateLimit)
	assert.Equal(t, 32, cfg.Workers, "unset keys keep defaults")
}

func TestLoadServer_RejectsUnknownKeysAndBadValues(t *testing.T) {
	_, err := LoadServer(writeFile(t, "secret: x\nqueue_size: 3\n"), env(nil))
	assert.Error(t, err)

	_, err = LoadServer(writeFile(t, "secret: x\nqueue_capacity: 0\n"), env(nil))
	assert.ErrorContains(t, err, "queue_capacity")

	_, err = LoadServer(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadServer_EmptyFile(t *testing.T) {
	cfg, err := LoadServer(writeFile(t, ""), env(map[string]string{EnvSecret: "x"}))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer().Listen, cfg.Listen)
}

func TestLoadClient(t *testing.T) {
	cfg, err := LoadClient("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BreakerThreshold)
	assert.Equal(t, 20*time.Second, cfg.BreakerCooldown)

	path := writeFile(t, "timeout: 250ms\nbreaker_threshold: 5\n")
	cfg, err = LoadClient(path, env(map[string]string{EnvServer: "10.0.0.1:7070"}))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7070", cfg.Server)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 5, cfg.BreakerThreshold)

	_, err = LoadClient(writeFile(t, "timeout: -1s\n"), env(nil))
	assert.Error(t, err)
}
