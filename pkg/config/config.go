// Package config loads the service configuration from YAML with
// environment-variable resolution for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/llm"
	"github.com/parley-ai/parley/pkg/runtime"
	"github.com/parley-ai/parley/pkg/session"
)

// Config is the top-level service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Agent   AgentConfig   `yaml:"agent"`
	Retry   RetryConfig   `yaml:"retry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the host:port listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Driver is "sqlite", "postgres" or "memory".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

// AuthConfig configures request authentication. Exactly one of JWKSURL
// or HMACSecret selects the verifier; DevMode downgrades auth failures
// to a synthetic identity and must stay off in production.
type AuthConfig struct {
	JWKSURL       string `yaml:"jwks_url,omitempty"`
	Issuer        string `yaml:"issuer,omitempty"`
	Audience      string `yaml:"audience,omitempty"`
	HMACSecret    string `yaml:"hmac_secret,omitempty"`
	HMACSecretEnv string `yaml:"hmac_secret_env,omitempty"`
	DevMode       bool   `yaml:"dev_mode"`
}

// AgentConfig describes the served agent and its model.
type AgentConfig struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Instruction string             `yaml:"instruction,omitempty"`
	Version     string             `yaml:"version,omitempty"`
	URL         string             `yaml:"url,omitempty"`
	Model       llm.ProviderConfig `yaml:"model"`
	// OutputSchema optionally constrains the final response shape.
	OutputSchema  map[string]any `yaml:"output_schema,omitempty"`
	MaxIterations int            `yaml:"max_iterations,omitempty"`
}

// RetryConfig bounds the per-turn retry on transient validation errors.
type RetryConfig struct {
	MaxAttempts uint          `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
}

// Policy builds the retry policy, falling back to defaults per field.
func (r RetryConfig) Policy() runtime.RetryPolicy {
	policy := runtime.DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay > 0 {
		policy.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	return policy
}

// Load reads and validates a config file.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Auth.HMACSecretEnv != "" {
		config.Auth.HMACSecret = os.Getenv(config.Auth.HMACSecretEnv)
	}
	// DEV_MODE=true in the environment forces the bypass on for local
	// runs without editing the config file.
	if os.Getenv("DEV_MODE") == "true" {
		config.Auth.DevMode = true
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = session.DriverSQLite
	}
	if c.Storage.Driver == session.DriverSQLite && c.Storage.DSN == "" {
		c.Storage.DSN = "sessions.db"
	}
	if c.Agent.Version == "" {
		c.Agent.Version = "0.1.0"
	}
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "agent.name is required", nil)
	}
	if c.Agent.Model.Provider == "" || c.Agent.Model.Model == "" {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "agent.model.provider and agent.model.model are required", nil)
	}
	switch c.Storage.Driver {
	case session.DriverSQLite, session.DriverPostgres, "memory":
	default:
		return apperrors.New(apperrors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported storage driver %q", c.Storage.Driver), nil)
	}
	if c.Storage.Driver == session.DriverPostgres && c.Storage.DSN == "" {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, "storage.dsn is required for postgres", nil)
	}
	if c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" && !c.Auth.DevMode {
		return apperrors.New(apperrors.ErrCodeInvalidConfig,
			"auth requires jwks_url or an hmac secret unless dev_mode is on", nil)
	}
	return nil
}
