// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Transport names accepted by chat.transport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Config is the main configuration structure.
type Config struct {
	API  APIConfig  `toml:"api" json:"api"`
	Chat ChatConfig `toml:"chat" json:"chat"`
	Log  LogConfig  `toml:"log" json:"log"`
}

// APIConfig holds backend connection settings.
type APIConfig struct {
	// BaseURL is the REST and SSE base URL.
	BaseURL string `toml:"base_url" json:"base_url"`

	// WSURL is the WebSocket base URL. Derived from BaseURL when empty.
	WSURL string `toml:"ws_url" json:"ws_url,omitempty"`

	TimeoutSecs       int     `toml:"timeout_secs" json:"timeout_secs"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
	MaxRetries        int     `toml:"max_retries" json:"max_retries"`
}

// ChatConfig holds chat session settings.
type ChatConfig struct {
	// Transport is "sse" or "ws".
	Transport string `toml:"transport" json:"transport"`

	ReconnectAttempts    int `toml:"reconnect_attempts" json:"reconnect_attempts"`
	ReconnectDelayMs     int `toml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
	TitleMaxLength       int `toml:"title_max_length" json:"title_max_length"`
	BootstrapConcurrency int `toml:"bootstrap_concurrency" json:"bootstrap_concurrency"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`

	// File receives log output. Empty means stderr.
	File string `toml:"file" json:"file,omitempty"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "http://localhost:8000",
			TimeoutSecs:       30,
			RequestsPerSecond: 10,
			Burst:             20,
			MaxRetries:        3,
		},
		Chat: ChatConfig{
			Transport:            TransportSSE,
			ReconnectAttempts:    3,
			ReconnectDelayMs:     3000,
			TitleMaxLength:       40,
			BootstrapConcurrency: 4,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.TimeoutSecs == 0 {
		cfg.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if cfg.API.RequestsPerSecond == 0 {
		cfg.API.RequestsPerSecond = defaults.API.RequestsPerSecond
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = defaults.API.Burst
	}

	if cfg.Chat.Transport == "" {
		cfg.Chat.Transport = defaults.Chat.Transport
	}
	if cfg.Chat.ReconnectAttempts == 0 {
		cfg.Chat.ReconnectAttempts = defaults.Chat.ReconnectAttempts
	}
	if cfg.Chat.ReconnectDelayMs == 0 {
		cfg.Chat.ReconnectDelayMs = defaults.Chat.ReconnectDelayMs
	}
	if cfg.Chat.TitleMaxLength == 0 {
		cfg.Chat.TitleMaxLength = defaults.Chat.TitleMaxLength
	}
	if cfg.Chat.BootstrapConcurrency == 0 {
		cfg.Chat.BootstrapConcurrency = defaults.Chat.BootstrapConcurrency
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// SocketURL returns the configured WebSocket base URL, or one derived from
// the API base URL by swapping http for ws and https for wss.
func (c *Config) SocketURL() string {
	if c.API.WSURL != "" {
		return c.API.WSURL
	}
	return api.DeriveSocketURL(c.API.BaseURL)
}

// Timeout returns the REST request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// ReconnectDelay returns the fixed delay between socket reconnects.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Chat.ReconnectDelayMs) * time.Millisecond
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the privia configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".privia"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.privia. See LoadDir.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, err
	}
	return LoadDir(dir)
}

// LoadDir tries config.toml then config.json in dir and falls back to
// defaults. Environment overrides are applied last. A file that fails to
// parse is reported alongside the defaults; an invalid result is an error.
func LoadDir(dir string) (*Config, error) {
	var loadErr error

	for _, name := range []string{"config.toml", "config.json"} {
		path := filepath.Join(dir, name)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		loadErr = err
		break
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file with full
// validation. Files ending in .json are JSON; anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	} else {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to ~/.privia/config.toml.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file.
// SECURITY: Created with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# privia configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("error encoding config: %v", err)
	}
	return buf.String()
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	errs = append(errs, validateURL("api.base_url", c.API.BaseURL, "http", "https")...)
	if c.API.WSURL != "" {
		errs = append(errs, validateURL("api.ws_url", c.API.WSURL, "ws", "wss")...)
	}
	if c.API.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "api.timeout_secs", Message: "must not be negative"})
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "api.requests_per_second", Message: "must not be negative"})
	}
	if c.API.Burst < 0 {
		errs = append(errs, ValidationError{Field: "api.burst", Message: "must not be negative"})
	}
	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retries",
			Message: fmt.Sprintf("%d out of range, must be between 0 and 10", c.API.MaxRetries),
		})
	}

	switch strings.ToLower(c.Chat.Transport) {
	case TransportSSE, TransportWebSocket:
	default:
		errs = append(errs, ValidationError{
			Field:   "chat.transport",
			Message: fmt.Sprintf("invalid transport '%s', must be one of: sse, ws", c.Chat.Transport),
		})
	}
	if c.Chat.ReconnectAttempts < 0 {
		errs = append(errs, ValidationError{Field: "chat.reconnect_attempts", Message: "must not be negative"})
	}
	if c.Chat.ReconnectDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "chat.reconnect_delay_ms", Message: "must not be negative"})
	}
	if c.Chat.TitleMaxLength < 0 {
		errs = append(errs, ValidationError{Field: "chat.title_max_length", Message: "must not be negative"})
	}
	if c.Chat.BootstrapConcurrency < 0 {
		errs = append(errs, ValidationError{Field: "chat.bootstrap_concurrency", Message: "must not be negative"})
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) ValidateErrors {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ValidateErrors{{Field: field, Message: fmt.Sprintf("invalid URL '%s'", raw)}}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return ValidateErrors{{
		Field:   field,
		Message: fmt.Sprintf("unsupported scheme '%s', must be one of: %s", u.Scheme, strings.Join(schemes, ", ")),
	}}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PRIVIA_API_URL: overrides api.base_url
//   - PRIVIA_WS_URL: overrides api.ws_url
//   - PRIVIA_TRANSPORT: overrides chat.transport
//   - PRIVIA_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PRIVIA_API_URL"); v != "" {
		c.API.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("PRIVIA_WS_URL"); v != "" {
		c.API.WSURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("PRIVIA_TRANSPORT"); v != "" {
		c.Chat.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("PRIVIA_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}
