package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const appName = "codereview"

// Provider types.
type ProviderType string

const (
	ProviderTypeOpenAI       ProviderType = "openai"
	ProviderTypeOpenAICompat ProviderType = "openai-compat"
	ProviderTypeAnthropic    ProviderType = "anthropic"
	ProviderTypeGemini       ProviderType = "gemini"
	ProviderTypeOllama       ProviderType = "ollama"
	ProviderTypeRemote       ProviderType = "remote"
	ProviderTypeDebug        ProviderType = "debug"
)

var knownTypes = map[ProviderType]bool{
	ProviderTypeOpenAI:       true,
	ProviderTypeOpenAICompat: true,
	ProviderTypeAnthropic:    true,
	ProviderTypeGemini:       true,
	ProviderTypeOllama:       true,
	ProviderTypeRemote:       true,
	ProviderTypeDebug:        true,
}

// Provider choices understood by the turn controller.
const (
	ChoiceHosted = "hosted"
	ChoiceLocal  = "local"
)

const DefaultSystemPrompt = "You are a code reviewer. Please analyze this code for bugs and suggest improvements:"

const DefaultServeSystemPrompt = "You are an AI that analyzes code and returns structured feedback including errors, improvements, and best practices."

type Config struct {
	HostedProvider      string                    `mapstructure:"hosted_provider" yaml:"hosted_provider"`
	LocalProvider       string                    `mapstructure:"local_provider" yaml:"local_provider"`
	DefaultChoice       string                    `mapstructure:"default_choice" yaml:"default_choice"`
	SystemPrompt        string                    `mapstructure:"system_prompt" yaml:"system_prompt"`
	KeepPartialOnCancel bool                      `mapstructure:"keep_partial_on_cancel" yaml:"keep_partial_on_cancel"`
	LogLevel            string                    `mapstructure:"log_level" yaml:"log_level"`
	Providers           map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	History             HistoryConfig             `mapstructure:"history" yaml:"history"`
	Serve               ServeConfig               `mapstructure:"serve" yaml:"serve"`
}

type ProviderConfig struct {
	Type        ProviderType `mapstructure:"type" yaml:"type,omitempty"`
	APIKey      string       `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string       `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL     string       `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Temperature float32      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	TopP        float32      `mapstructure:"top_p" yaml:"top_p,omitempty"`
	// Provider selects the backend on a remote server.
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"`
}

type HistoryConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxCount   int    `mapstructure:"max_count" yaml:"max_count"`
}

type ServeConfig struct {
	Addr         string  `mapstructure:"addr" yaml:"addr"`
	Token        string  `mapstructure:"token" yaml:"token,omitempty"`
	RateLimit    float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst        int     `mapstructure:"burst" yaml:"burst"`
	SystemPrompt string  `mapstructure:"system_prompt" yaml:"system_prompt"`
	Provider     string  `mapstructure:"provider" yaml:"provider,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hosted_provider", "openai")
	v.SetDefault("local_provider", "ollama")
	v.SetDefault("default_choice", ChoiceLocal)
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("keep_partial_on_cancel", false)
	v.SetDefault("log_level", "warn")

	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.temperature", 0.7)
	v.SetDefault("providers.openai.top_p", 0.95)
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.ollama.model", "llama3.2")
	v.SetDefault("providers.ollama.temperature", 0.7)
	v.SetDefault("providers.ollama.top_p", 0.95)
	v.SetDefault("providers.debug.type", string(ProviderTypeDebug))

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.max_age_days", 0)
	v.SetDefault("history.max_count", 0)

	v.SetDefault("serve.addr", "127.0.0.1:8080")
	v.SetDefault("serve.rate_limit", 2.0)
	v.SetDefault("serve.burst", 5)
	v.SetDefault("serve.system_prompt", DefaultServeSystemPrompt)
}

// Load reads config.yaml from the user config dir (or the working directory).
// A missing file is not an error.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("CODEREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve expands magic values and falls back to well-known env vars for
// API keys.
func (c *Config) resolve() error {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, p := range c.Providers {
		key, err := ResolveValue(p.APIKey)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", name, err)
		}
		baseURL, err := ResolveValue(p.BaseURL)
		if err != nil {
			return fmt.Errorf("provider %s base_url: %w", name, err)
		}
		p.APIKey = key
		p.BaseURL = baseURL
		if p.APIKey == "" {
			p.APIKey = envAPIKey(InferProviderType(name, p))
		}
		c.Providers[name] = p
	}
	token, err := ResolveValue(c.Serve.Token)
	if err != nil {
		return fmt.Errorf("serve token: %w", err)
	}
	c.Serve.Token = token
	return nil
}

func envAPIKey(t ProviderType) string {
	switch t {
	case ProviderTypeOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderTypeAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderTypeGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// InferProviderType returns the configured type, the name itself when it is
// a known type, or openai-compat for anything with a base URL.
func InferProviderType(name string, p ProviderConfig) ProviderType {
	if p.Type != "" {
		return p.Type
	}
	if t := ProviderType(name); knownTypes[t] {
		return t
	}
	if p.BaseURL != "" {
		return ProviderTypeOpenAICompat
	}
	return ""
}

// ProviderFor maps a choice ("hosted", "local") to a provider name; any
// other value is returned unchanged.
func (c *Config) ProviderFor(choice string) string {
	switch choice {
	case ChoiceHosted:
		return c.HostedProvider
	case ChoiceLocal:
		return c.LocalProvider
	}
	return choice
}

// ProviderNames returns configured provider names, sorted.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(configDir, appName), nil
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// GetDataDir returns the directory for local data such as chat history.
func GetDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// Exists returns true if a config file exists.
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	return &cfg
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyOverrides applies command-line provider/model overrides. A provider
// of type ollama replaces the local provider, anything else the hosted one.
// The model override targets the named provider, or the hosted provider when
// none is given.
func (c *Config) ApplyOverrides(provider, model string) {
	target := c.HostedProvider
	if provider != "" {
		target = provider
		if InferProviderType(provider, c.Providers[provider]) == ProviderTypeOllama {
			c.LocalProvider = provider
		} else {
			c.HostedProvider = provider
		}
	}
	if model == "" || target == "" {
		return
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	p := c.Providers[target]
	p.Model = model
	c.Providers[target] = p
}
