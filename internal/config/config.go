package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for GemDesk.
type Config struct {
	General  GeneralConfig  `json:"general"`
	CRM      CRMConfig      `json:"crm"`
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Notify   NotifyConfig   `json:"notify"`
	Demo     DemoConfig     `json:"demo"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
	BusSize  int    `json:"busSize"`           // inbound message buffer
}

// CRMConfig points at the remote business-data API that owns leads,
// orders, and the send endpoint.
type CRMConfig struct {
	APIBase          string `json:"apiBase"`
	APIToken         string `json:"apiToken,omitempty"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
	RefreshIntervalS int    `json:"refreshIntervalSeconds"` // lead/order cache poll
}

type ChannelsConfig struct {
	WhatsApp  MetaWebhookConfig `json:"whatsapp"`
	Instagram MetaWebhookConfig `json:"instagram"`
	Web       WebConfig         `json:"web"`
	Webhook   WebhookConfig     `json:"webhook"`
}

// MetaWebhookConfig configures one Meta Graph webhook surface.
// WhatsApp and Instagram share the same verification and signature scheme.
type MetaWebhookConfig struct {
	Enabled     bool   `json:"enabled"`
	AppSecret   string `json:"appSecret,omitempty"`
	VerifyToken string `json:"verifyToken,omitempty"`
	Path        string `json:"path,omitempty"`
}

// WebhookConfig is the HTTP listener the channel webhooks mount on.
type WebhookConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WebConfig configures the dashboard websocket feed.
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// NotifyConfig configures the notification deriver and staff alert sinks.
type NotifyConfig struct {
	RefreshCron string         `json:"refreshCron"` // day-boundary re-derivation
	Alerts      AlertsConfig   `json:"alerts"`
}

type AlertsConfig struct {
	MinPriority string              `json:"minPriority"` // high | medium | low
	Telegram    TelegramAlertConfig `json:"telegram,omitempty"`
	Slack       SlackAlertConfig    `json:"slack,omitempty"`
	Discord     DiscordAlertConfig  `json:"discord,omitempty"`
}

type TelegramAlertConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

type SlackAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type DiscordAlertConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// DemoConfig configures the offline inbound-message simulator.
// Only the demo command wires it; gateway ignores this section.
type DemoConfig struct {
	IntervalSeconds int    `json:"intervalSeconds"`
	FixturesPath    string `json:"fixturesPath,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.gemdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gemdesk"
	}
	return filepath.Join(home, ".gemdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Demo.FixturesPath = ExpandPath(cfg.Demo.FixturesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.BusSize < 1 {
		errs = append(errs, "general.busSize must be >= 1")
	}

	if cfg.CRM.APIBase == "" {
		errs = append(errs, "crm.apiBase is required")
	}
	if cfg.CRM.TimeoutSeconds < 1 {
		errs = append(errs, "crm.timeoutSeconds must be >= 1")
	}
	if cfg.CRM.RefreshIntervalS < 1 {
		errs = append(errs, "crm.refreshIntervalSeconds must be >= 1")
	}

	if cfg.Channels.Webhook.Port < 0 || cfg.Channels.Webhook.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.VerifyToken == "" {
		errs = append(errs, "channels.whatsapp.verifyToken is required when enabled")
	}
	if cfg.Channels.Instagram.Enabled && cfg.Channels.Instagram.VerifyToken == "" {
		errs = append(errs, "channels.instagram.verifyToken is required when enabled")
	}

	switch cfg.Notify.Alerts.MinPriority {
	case "high", "medium", "low":
		// valid
	default:
		errs = append(errs, "notify.alerts.minPriority must be one of: high, medium, low")
	}

	if cfg.Demo.IntervalSeconds < 1 {
		errs = append(errs, "demo.intervalSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
