package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/parley-ai/parley/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: sqlite
auth:
  hmac_secret_env: PARLEY_TEST_SECRET
agent:
  name: analyst
  instruction: "Answer questions about the org."
  model:
    provider: anthropic
    model: claude-sonnet-4-5
retry:
  max_attempts: 5
  base_delay: 50ms
`)
	t.Setenv("PARLEY_TEST_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Address())
	assert.Equal(t, "sessions.db", cfg.Storage.DSN)
	assert.Equal(t, "s3cret", cfg.Auth.HMACSecret)
	assert.Equal(t, "analyst", cfg.Agent.Name)

	policy := cfg.Retry.Policy()
	assert.EqualValues(t, 5, policy.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, time.Second, policy.MaxDelay)
}

func TestLoad_DevModeEnvOverride(t *testing.T) {
	path := writeConfig(t, `
agent:
  name: analyst
  model:
    provider: openai
    model: gpt-4o
`)
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Auth.DevMode)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Agent.Name = "analyst"
		c.Agent.Model.Provider = "anthropic"
		c.Agent.Model.Model = "claude-sonnet-4-5"
		c.Auth.HMACSecret = "s"
		c.SetDefaults()
		return c
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("missing agent name", func(t *testing.T) {
		c := base()
		c.Agent.Name = ""
		err := c.Validate()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
	})

	t.Run("unknown storage driver", func(t *testing.T) {
		c := base()
		c.Storage.Driver = "mongodb"
		err := c.Validate()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
	})

	t.Run("postgres needs dsn", func(t *testing.T) {
		c := base()
		c.Storage.Driver = "postgres"
		c.Storage.DSN = ""
		err := c.Validate()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
	})

	t.Run("no auth without dev mode", func(t *testing.T) {
		c := base()
		c.Auth.HMACSecret = ""
		err := c.Validate()
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
	})

	t.Run("dev mode allows missing auth", func(t *testing.T) {
		c := base()
		c.Auth.HMACSecret = ""
		c.Auth.DevMode = true
		require.NoError(t, c.Validate())
	})
}
