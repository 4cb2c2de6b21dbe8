package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envBotFrameworkAppID       = "BOTFRAMEWORK_APP_ID"
	envBotFrameworkAppPassword = "BOTFRAMEWORK_APP_PASSWORD"
	envTelegramBotToken        = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom       = "TELEGRAM_ALLOW_FROM"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Backend  BackendConfig  `json:"backend"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	BotFramework BotFrameworkConfig `json:"botframework"`
	Telegram     TelegramConfig     `json:"telegram"`
}

// BotFrameworkConfig configures the Microsoft Bot Framework channel.
//
// AppID and AppPassword are the Azure bot registration credentials used for
// the outbound client-credentials token exchange.
type BotFrameworkConfig struct {
	Enabled     bool   `json:"enabled"`
	AppID       string `json:"app_id"`
	AppPassword string `json:"app_password"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// BackendConfig configures the conversational backend the gateway forwards
// normalized messages to.
type BackendConfig struct {
	BaseURL               string `json:"base_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration errors that must stop startup.
//
// Channel credentials are only required for channels that are enabled.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is required")
	}

	if cfg.Channels.BotFramework.Enabled {
		if strings.TrimSpace(cfg.Channels.BotFramework.AppID) == "" {
			return errors.New("channels.botframework.app_id is required")
		}
		if strings.TrimSpace(cfg.Channels.BotFramework.AppPassword) == "" {
			return errors.New("channels.botframework.app_password is required")
		}
	}

	if cfg.Channels.Telegram.Enabled && strings.TrimSpace(cfg.Channels.Telegram.Token) == "" {
		return errors.New("channels.telegram.token is required")
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if appID := strings.TrimSpace(os.Getenv(envBotFrameworkAppID)); appID != "" {
		cfg.Channels.BotFramework.AppID = appID
	}

	if appPassword := strings.TrimSpace(os.Getenv(envBotFrameworkAppPassword)); appPassword != "" {
		cfg.Channels.BotFramework.AppPassword = appPassword
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is BOTGATE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("BOTGATE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("BOTGATE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
