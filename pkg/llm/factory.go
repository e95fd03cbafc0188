package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"

	apperrors "github.com/parley-ai/parley/pkg/errors"
)

// Provider identifies a model backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ProviderConfig selects and configures a model backend.
type ProviderConfig struct {
	Provider Provider `json:"provider" yaml:"provider"`
	Model    string   `json:"model" yaml:"model"`
	// APIKey falls back to the provider's conventional environment
	// variable when empty.
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
}

// NewClient creates a client for the configured provider.
func NewClient(cfg ProviderConfig, log logr.Logger) (Client, error) {
	if cfg.Model == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "model name is required", nil)
	}
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderAnthropic:
		return NewAnthropicClient(keyOrEnv(cfg.APIKey, "ANTHROPIC_API_KEY"), cfg.Model, log)
	case ProviderOpenAI:
		return NewOpenAIClient(keyOrEnv(cfg.APIKey, "OPENAI_API_KEY"), cfg.Model, cfg.BaseURL, log)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported provider %q", cfg.Provider), nil)
	}
}

func keyOrEnv(key, envVar string) string {
	if key != "" {
		return key
	}
	return os.Getenv(envVar)
}
