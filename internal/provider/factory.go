// Package provider implements the streaming chat clients for the
// supported LLM APIs.
package provider

import (
	"fmt"
	"os"
	"strings"

	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/retry"
	"github.com/joss/sagi/pkg/llm"
)

// Config holds provider configuration.
type Config struct {
	BaseURL      string
	DefaultModel string
	HTTPClient   HTTPClient
	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Options
}

// ConfigOption modifies provider configuration.
type ConfigOption func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) ConfigOption {
	return func(c *Config) { c.BaseURL = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client HTTPClient) ConfigOption {
	return func(c *Config) { c.HTTPClient = client }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) ConfigOption {
	return func(c *Config) { c.DefaultModel = model }
}

// WithRateLimit paces requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
		c.Burst = burst
	}
}

// WithRetry overrides the retry policy for the initial request.
func WithRetry(opts retry.Options) ConfigOption {
	return func(c *Config) { c.Retry = opts }
}

func buildConfig(id domain.ProviderID, opts []ConfigOption) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = envBaseURL(id)
	}
	return cfg
}

// Settings configures one provider in NewRegistry.
type Settings struct {
	BaseURL           string
	Model             string
	RequestsPerSecond float64
	Burst             int
}

// NewRegistry builds a registry with every supported provider. Entries in
// settings override the built-in defaults; shared options apply to all.
func NewRegistry(settings map[domain.ProviderID]Settings, shared ...ConfigOption) *llm.Registry {
	opts := func(id domain.ProviderID) []ConfigOption {
		out := append([]ConfigOption{}, shared...)
		s, ok := settings[id]
		if !ok {
			return out
		}
		if s.BaseURL != "" {
			out = append(out, WithBaseURL(s.BaseURL))
		}
		if s.Model != "" {
			out = append(out, WithDefaultModel(s.Model))
		}
		if s.RequestsPerSecond > 0 {
			out = append(out, WithRateLimit(s.RequestsPerSecond, s.Burst))
		}
		return out
	}
	return llm.NewRegistry(
		NewOpenAI(opts(domain.ProviderOpenAI)...),
		NewZai(opts(domain.ProviderZai)...),
		NewAnthropic(opts(domain.ProviderAnthropic)...),
	)
}

// ParseID maps user-facing aliases to a provider id.
func ParseID(s string) (domain.ProviderID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "gpt":
		return domain.ProviderOpenAI, nil
	case "anthropic", "claude":
		return domain.ProviderAnthropic, nil
	case "zai", "z.ai", "glm":
		return domain.ProviderZai, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", s)
	}
}

// EnvKey returns the API key for a provider from the environment.
func EnvKey(id domain.ProviderID) string {
	switch id {
	case domain.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case domain.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case domain.ProviderZai:
		if k := os.Getenv("ZAI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("ZHIPU_API_KEY")
	}
	return ""
}

// envBaseURL returns environment variable for base URL.
func envBaseURL(id domain.ProviderID) string {
	switch id {
	case domain.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_BASE_URL")
	case domain.ProviderOpenAI:
		return os.Getenv("OPENAI_BASE_URL")
	case domain.ProviderZai:
		return os.Getenv("ZAI_BASE_URL")
	}
	return ""
}
