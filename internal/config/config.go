// Package config loads the sagi configuration from a JSON or YAML file and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joss/sagi/internal/domain"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig              `json:"server" yaml:"server"`
	Permissions PermissionsConfig         `json:"permissions" yaml:"permissions"`
	Providers   map[string]ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Agent       AgentConfig               `json:"agent" yaml:"agent"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Log         LogConfig                 `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr        string   `json:"addr" yaml:"addr"`
	CORSOrigins []string `json:"corsOrigins,omitempty" yaml:"cors_origins,omitempty"`
	// JWTSecret enables bearer auth on /rpc and /chat when set.
	JWTSecret string `json:"jwtSecret,omitempty" yaml:"jwt_secret,omitempty"`
}

type PermissionsConfig struct {
	DefaultMode    string   `json:"defaultMode" yaml:"default_mode"`
	SafeTools      []string `json:"safeTools,omitempty" yaml:"safe_tools,omitempty"`
	SessionIdleTTL Duration `json:"sessionIdleTTL,omitempty" yaml:"session_idle_ttl,omitempty"`
	// BlockedCommands are extra regular expressions refused in every mode.
	BlockedCommands []string `json:"blockedCommands,omitempty" yaml:"blocked_commands,omitempty"`
}

type ProviderConfig struct {
	BaseURL           string  `json:"baseURL,omitempty" yaml:"base_url,omitempty"`
	Model             string  `json:"model,omitempty" yaml:"model,omitempty"`
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

type AgentConfig struct {
	MaxRounds     int    `json:"maxRounds" yaml:"max_rounds"`
	MaxTokens     int    `json:"maxTokens" yaml:"max_tokens"`
	RetryAttempts int    `json:"retryAttempts" yaml:"retry_attempts"`
	// ContextTokens bounds the prior history sent to the model. Zero sends
	// all of it.
	ContextTokens int    `json:"contextTokens,omitempty" yaml:"context_tokens,omitempty"`
	SystemPrompt  string `json:"systemPrompt,omitempty" yaml:"system_prompt,omitempty"`
	WorkDir       string `json:"workDir,omitempty" yaml:"work_dir,omitempty"`
	// LogFile receives the per-turn JSON log when set.
	LogFile string `json:"logFile,omitempty" yaml:"log_file,omitempty"`
}

type StorageConfig struct {
	// DataDir holds sagi.db. ":memory:" keeps history in memory.
	DataDir string `json:"dataDir" yaml:"data_dir"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Permissions: PermissionsConfig{
			DefaultMode: string(domain.ModeAsk),
		},
		Providers: map[string]ProviderConfig{},
		Agent: AgentConfig{
			MaxRounds:     8,
			MaxTokens:     8192,
			RetryAttempts: 3,
			ContextTokens: 100000,
		},
		Storage: StorageConfig{
			DataDir: GetPaths().Data,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path, or the first default config file that exists when path
// is empty, then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range GetPaths().ConfigFiles {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".json", "":
		err = json.Unmarshal(data, c)
	default:
		return fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with SAGI_* and provider base URL variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("SAGI_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SAGI_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("SAGI_DEFAULT_MODE"); v != "" {
		c.Permissions.DefaultMode = v
	}
	if v := os.Getenv("SAGI_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SAGI_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("SAGI_MAX_ROUNDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SAGI_MAX_ROUNDS: %w", err)
		}
		c.Agent.MaxRounds = n
	}
	if v := os.Getenv("SAGI_SESSION_IDLE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SAGI_SESSION_IDLE_TTL: %w", err)
		}
		c.Permissions.SessionIdleTTL = Duration{d}
	}

	for id, key := range map[domain.ProviderID]string{
		domain.ProviderOpenAI:    "OPENAI_BASE_URL",
		domain.ProviderAnthropic: "ANTHROPIC_BASE_URL",
		domain.ProviderZai:       "ZAI_BASE_URL",
	} {
		if v := os.Getenv(key); v != "" {
			if c.Providers == nil {
				c.Providers = map[string]ProviderConfig{}
			}
			p := c.Providers[string(id)]
			p.BaseURL = v
			c.Providers[string(id)] = p
		}
	}
	return nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := domain.ParseMode(c.Permissions.DefaultMode); err != nil {
		errs = append(errs, fmt.Errorf("permissions.default_mode: %w", err))
	}
	if c.Permissions.SessionIdleTTL.Duration < 0 {
		errs = append(errs, errors.New("permissions.session_idle_ttl must not be negative"))
	}
	for _, expr := range c.Permissions.BlockedCommands {
		if _, err := regexp.Compile(expr); err != nil {
			errs = append(errs, fmt.Errorf("permissions.blocked_commands: %w", err))
		}
	}
	for name, p := range c.Providers {
		switch domain.ProviderID(name) {
		case domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderZai:
		default:
			errs = append(errs, fmt.Errorf("providers.%s: unknown provider", name))
		}
		if p.RequestsPerSecond < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.requests_per_second must not be negative", name))
		}
	}
	if c.Agent.MaxRounds < 1 {
		errs = append(errs, errors.New("agent.max_rounds must be at least 1"))
	}
	if c.Agent.ContextTokens < 0 {
		errs = append(errs, errors.New("agent.context_tokens must not be negative"))
	}
	if c.Agent.RetryAttempts < 1 {
		errs = append(errs, errors.New("agent.retry_attempts must be at least 1"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Save writes the configuration as YAML or JSON depending on the extension.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Duration is a time.Duration written as a Go duration string ("30m").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30m\"")
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
