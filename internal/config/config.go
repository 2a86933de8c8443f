// Package config handles configuration for boltchat.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/diogo/boltchat/internal/models"
)

// HomeEnv overrides the configuration directory
const HomeEnv = "BOLTCHAT_HOME"

// APIKeyEnvVars are checked in order for a credential supplied by the environment
var APIKeyEnvVars = []string{"OPENAI_API_KEY", "EXPO_PUBLIC_OPENAI_API_KEY"}

// Storage backends
const (
	StorageJSON   = "json"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Credential backends
const (
	CredentialMemory  = "memory"
	CredentialKeyring = "keyring"
)

// MarkdownConfig configures markdown rendering options
type MarkdownConfig struct {
	Style            string `json:"style"`              // "dark", "light", "notty" or "auto"
	EnableEmoji      bool   `json:"enable_emoji"`       // Convert :emoji: to unicode
	PreserveNewLines bool   `json:"preserve_newlines"`  // Preserve original line breaks
	TableWrap        bool   `json:"table_wrap"`         // Enable word wrap in table cells
	InlineTableLinks bool   `json:"inline_table_links"` // Render links inline in tables
}

// Config represents the user configuration
type Config struct {
	Model          string `json:"model"`
	Endpoint       string `json:"endpoint"`
	MaxTokens      int    `json:"max_tokens"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// SystemPrompt replaces the built-in assistant persona when set
	SystemPrompt string `json:"system_prompt,omitempty"`
	// Storage selects where conversations are kept: json, sqlite or memory
	Storage string `json:"storage"`
	// CredentialBackend selects where the API key is kept: keyring or memory.
	// With memory the key only lives for the process (env or build-time key).
	CredentialBackend string         `json:"credential_backend"`
	LogLevel          string         `json:"log_level"`
	CopyToClipboard   bool           `json:"copy_to_clipboard"`
	Markdown          MarkdownConfig `json:"markdown,omitempty"`
}

// DefaultMarkdownConfig returns the default markdown configuration
func DefaultMarkdownConfig() MarkdownConfig {
	return MarkdownConfig{
		Style:            "dark",
		EnableEmoji:      true,
		PreserveNewLines: true,
		TableWrap:        true,
		InlineTableLinks: false,
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Model:             models.DefaultModel.Name,
		Endpoint:          models.EndpointChatCompletions,
		MaxTokens:         models.DefaultMaxTokens,
		TimeoutSeconds:    models.DefaultTimeoutSeconds,
		Storage:           StorageJSON,
		CredentialBackend: CredentialKeyring,
		LogLevel:          "info",
		CopyToClipboard:   false,
		Markdown:          DefaultMarkdownConfig(),
	}
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	switch c.Storage {
	case StorageJSON, StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q (use json, sqlite or memory)", c.Storage)
	}
	switch c.CredentialBackend {
	case CredentialKeyring, CredentialMemory:
	default:
		return fmt.Errorf("unknown credential_backend %q (use keyring or memory)", c.CredentialBackend)
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", c.Endpoint)
	}
	return nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".boltchat"), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	// conversations are private
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// GetLogPath returns the path to the log file
func GetLogPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "boltchat.log"), nil
}

// LoadConfig loads the configuration from disk
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	configPath, err := GetConfigPath()
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to disk
func SaveConfig(cfg Config) error {
	configDir, err := EnsureConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "config.json")

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// EnvAPIKey returns the first non-empty API key found in the environment
func EnvAPIKey() (value, source string) {
	for _, name := range APIKeyEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, name
		}
	}
	return "", ""
}

// setters maps a config key to a function that parses and applies a value
var setters = map[string]func(*Config, string) error{
	"model": func(c *Config, v string) error {
		c.Model = v
		return nil
	},
	"endpoint": func(c *Config, v string) error {
		c.Endpoint = v
		return nil
	},
	"max_tokens": func(c *Config, v string) error {
		return setInt(&c.MaxTokens, v)
	},
	"timeout_seconds": func(c *Config, v string) error {
		return setInt(&c.TimeoutSeconds, v)
	},
	"system_prompt": func(c *Config, v string) error {
		c.SystemPrompt = v
		return nil
	},
	"storage": func(c *Config, v string) error {
		c.Storage = strings.ToLower(v)
		return nil
	},
	"credential_backend": func(c *Config, v string) error {
		c.CredentialBackend = strings.ToLower(v)
		return nil
	},
	"log_level": func(c *Config, v string) error {
		c.LogLevel = strings.ToLower(v)
		return nil
	},
	"copy_to_clipboard": func(c *Config, v string) error {
		return setBool(&c.CopyToClipboard, v)
	},
	"markdown.style": func(c *Config, v string) error {
		c.Markdown.Style = v
		return nil
	},
	"markdown.enable_emoji": func(c *Config, v string) error {
		return setBool(&c.Markdown.EnableEmoji, v)
	},
	"markdown.preserve_newlines": func(c *Config, v string) error {
		return setBool(&c.Markdown.PreserveNewLines, v)
	},
	"markdown.table_wrap": func(c *Config, v string) error {
		return setBool(&c.Markdown.TableWrap, v)
	},
	"markdown.inline_table_links": func(c *Config, v string) error {
		return setBool(&c.Markdown.InlineTableLinks, v)
	},
}

// Keys returns the settable configuration keys, sorted
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set parses value for key and applies it to cfg. The result is validated
// and cfg is left unchanged on error.
func Set(cfg *Config, key, value string) error {
	setter, ok := setters[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown config key %q (available: %s)", key, strings.Join(Keys(), ", "))
	}

	updated := *cfg
	if err := setter(&updated, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	*cfg = updated
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%q is not a number", v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%q is not true or false", v)
	}
	*dst = b
	return nil
}
