package config

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"
)

// Supported AI providers.
var validProviders = []string{"openai", "anthropic", "gemini"}

// Config represents the main jobats configuration
type Config struct {
	// Dispatcher retry and queue settings
	Dispatcher DispatcherConfig `json:"dispatcher" mapstructure:"dispatcher"`

	// AI provider profiles and request defaults
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Request journal
	Journal JournalConfig `json:"journal" mapstructure:"journal"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// DispatcherConfig holds retry and queue settings
type DispatcherConfig struct {
	DefaultMaxRetries int `json:"default_max_retries" mapstructure:"default_max_retries"`
	BaseDelayMs       int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs        int `json:"max_delay_ms" mapstructure:"max_delay_ms"`
	WarnAfterMs       int `json:"warn_after_ms" mapstructure:"warn_after_ms"` // 0 disables
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	DefaultProfile string      `json:"default_profile" mapstructure:"default_profile"`
	Profiles       []AIProfile `json:"profiles" mapstructure:"profiles"`
	Temperature    float64     `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int         `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt   string      `json:"system_prompt" mapstructure:"system_prompt"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int      `json:"port" mapstructure:"port"`
	Host              string   `json:"host" mapstructure:"host"`
	SharedSecret      string   `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int      `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int      `json:"max_concurrent" mapstructure:"max_concurrent"`
	AllowedOrigins    []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`

	// Extra expressions masked in log output, on top of the built-in credential patterns.
	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
}

// JournalConfig holds settled-request history settings
type JournalConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			DefaultMaxRetries: 3,
			BaseDelayMs:       1000,
			MaxDelayMs:        30000,
			WarnAfterMs:       60000,
		},
		AI: AIConfig{
			Profiles:    []AIProfile{},
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		Gateway: GatewayConfig{
			Port:              18790,
			Host:              "127.0.0.1",
			RequestsPerMinute: 120,
			MaxConcurrent:     10,
			AllowedOrigins:    []string{},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Journal: JournalConfig{
			Enabled:       true,
			RetentionDays: 30,
			PruneSchedule: "@hourly",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "jobats",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Profile looks up an AI profile by ID.
func (c *Config) Profile(id string) (AIProfile, bool) {
	for _, p := range c.AI.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return AIProfile{}, false
}

// Secrets lists the credential values held by the config, for log redaction.
func (c *Config) Secrets() []string {
	secrets := []string{c.Gateway.SharedSecret}
	for _, p := range c.AI.Profiles {
		secrets = append(secrets, p.APIKey)
	}
	return secrets
}

// DefaultProfileID returns the configured default, or the first profile.
func (c *Config) DefaultProfileID() string {
	if c.AI.DefaultProfile != "" {
		return c.AI.DefaultProfile
	}
	if len(c.AI.Profiles) > 0 {
		return c.AI.Profiles[0].ID
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if !contains(validProviders, profile.Provider) {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: openai, anthropic, gemini)", profile.ID, profile.Provider)
		}
	}
	if c.AI.DefaultProfile != "" && !seen[c.AI.DefaultProfile] {
		return fmt.Errorf("default AI profile %s is not defined", c.AI.DefaultProfile)
	}

	if c.Dispatcher.DefaultMaxRetries < 0 {
		return fmt.Errorf("dispatcher.default_max_retries must be >= 0")
	}
	if c.Dispatcher.BaseDelayMs <= 0 {
		return fmt.Errorf("dispatcher.base_delay_ms must be > 0")
	}
	if c.Dispatcher.MaxDelayMs < c.Dispatcher.BaseDelayMs {
		return fmt.Errorf("dispatcher.max_delay_ms must be >= base_delay_ms")
	}
	if c.Dispatcher.WarnAfterMs < 0 {
		return fmt.Errorf("dispatcher.warn_after_ms must be >= 0")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	for _, pattern := range c.Logging.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("logging.redact_patterns: %w", err)
		}
	}

	if c.Journal.Enabled {
		if c.Journal.RetentionDays < 0 {
			return fmt.Errorf("journal.retention_days must be >= 0")
		}
		if c.Journal.PruneSchedule != "" {
			if _, err := cron.ParseStandard(c.Journal.PruneSchedule); err != nil {
				return fmt.Errorf("journal.prune_schedule: %w", err)
			}
		}
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
