package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattmezza/callwatch/internal/states"
	"github.com/mattmezza/callwatch/internal/util"
	"gopkg.in/yaml.v3"
)

// DefaultMaxSelected bounds the state filter when the config file does not say otherwise.
const DefaultMaxSelected = 4

type Config struct {
	APIURL                string                      `yaml:"api_url"`
	IntervalSeconds       int                         `yaml:"interval_seconds"`
	HealthIntervalSeconds int                         `yaml:"health_interval_seconds"`
	RequestTimeoutStr     string                      `yaml:"request_timeout"`
	StorePath             string                      `yaml:"store_path"`
	PlayerCommand         []string                    `yaml:"player_command"`
	MetricsListen         string                      `yaml:"metrics_listen"`
	HistorySize           int                         `yaml:"history_size"`
	Filter                FilterConfig                `yaml:"filter"`
	Alerts                AlertConfig                 `yaml:"alerts"`
	NotificationChannels  []NotificationChannelConfig `yaml:"notification_channels"`
	Templates             TemplateConfig              `yaml:"templates"`
	PollInterval          time.Duration               `yaml:"-"` // Derived
	HealthInterval        time.Duration               `yaml:"-"` // Derived
	RequestTimeout        time.Duration               `yaml:"-"` // Derived
}

type FilterConfig struct {
	// MaxSelected bounds the selection. Absent means DefaultMaxSelected, 0 means unbounded.
	MaxSelected   *int     `yaml:"max_selected"`
	DefaultStates []string `yaml:"default_states"`
}

// Bound returns the effective selection bound, 0 meaning unbounded.
func (fc FilterConfig) Bound() int {
	if fc.MaxSelected == nil {
		return DefaultMaxSelected
	}
	return *fc.MaxSelected
}

type AlertConfig struct {
	Sound                  string        `yaml:"sound"` // "bell", "command", "off"
	SoundCommand           []string      `yaml:"sound_command"`
	BorderDurationStr      string        `yaml:"border_duration"`
	TitleBlinkCycles       int           `yaml:"title_blink_cycles"`
	TitleBlinkIntervalStr  string        `yaml:"title_blink_interval"`
	ActiveBlinkIntervalStr string        `yaml:"active_blink_interval"`
	Channels               []string      `yaml:"channels"` // empty means every configured channel
	BorderDuration         time.Duration `yaml:"-"`
	TitleBlinkInterval     time.Duration `yaml:"-"`
	ActiveBlinkInterval    time.Duration `yaml:"-"`
}

type NotificationChannelConfig struct {
	Name   string                 `yaml:"name"`
	Type   string                 `yaml:"type"` // "email", "telegram", "desktop", "stdout"
	Config map[string]interface{} `yaml:"config"`
}

type EmailChannelConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUsername string   `yaml:"smtp_username"`
	SMTPPassword string   `yaml:"smtp_password"` // Will be populated from ENV
	SMTPFrom     string   `yaml:"smtp_from"`
	SMTPTo       []string `yaml:"smtp_to"`
	SMTPUseTLS   bool     `yaml:"smtp_use_tls"`
}

type TelegramChannelConfig struct {
	BotToken string `yaml:"bot_token"` // Will be populated from ENV
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

type DesktopChannelConfig struct {
	Command []string `yaml:"command"`
}

type TemplateConfig struct {
	NewCall string `yaml:"new_call"`
}

const defaultNewCallTemplate = `NEW FIRE CALL: {{.Agency}} - {{.Location}} ({{.State}}). Time: {{.Timestamp}}{{if .Transcript}}. Transcript: {{.Transcript}}{{end}}`

// DefaultConfig returns a Config populated with all default values, before derivation.
func DefaultConfig() *Config {
	return &Config{
		APIURL:                "http://localhost:5000",
		IntervalSeconds:       30,
		HealthIntervalSeconds: 20,
		RequestTimeoutStr:     "10s",
		StorePath:             "~/.callwatch/prefs.db",
		HistorySize:           60,
		Filter: FilterConfig{
			DefaultStates: []string{"New Jersey", "New York", "Texas", "Illinois"},
		},
		Alerts: AlertConfig{
			Sound:                  "bell",
			BorderDurationStr:      "3s",
			TitleBlinkCycles:       3,
			TitleBlinkIntervalStr:  "500ms",
			ActiveBlinkIntervalStr: "1s",
		},
		Templates: TemplateConfig{NewCall: defaultNewCallTemplate},
	}
}

// LoadConfig reads the YAML file at filePath on top of DefaultConfig and validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML from %s: %w", filePath, err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like LoadConfig but falls back to the defaults when
// filePath does not exist.
func LoadOrDefault(filePath string) (*Config, error) {
	cfg, err := LoadConfig(filePath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = DefaultConfig()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) finalize() error {
	var err error

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	u, err := url.Parse(cfg.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api_url %q", cfg.APIURL)
	}

	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 30
	}
	cfg.PollInterval = time.Duration(cfg.IntervalSeconds) * time.Second
	if cfg.HealthIntervalSeconds <= 0 {
		cfg.HealthIntervalSeconds = 20
	}
	cfg.HealthInterval = time.Duration(cfg.HealthIntervalSeconds) * time.Second
	if cfg.RequestTimeout, err = util.DurationOr(cfg.RequestTimeoutStr, 10*time.Second); err != nil {
		return fmt.Errorf("invalid request_timeout: %w", err)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 60
	}

	if cfg.StorePath, err = expandPath(cfg.StorePath); err != nil {
		return err
	}

	if cfg.Filter.MaxSelected != nil && *cfg.Filter.MaxSelected < 0 {
		return fmt.Errorf("filter.max_selected must not be negative, got %d", *cfg.Filter.MaxSelected)
	}
	if cfg.Filter.DefaultStates, err = states.NormalizeAll(cfg.Filter.DefaultStates); err != nil {
		return fmt.Errorf("filter.default_states: %w", err)
	}
	if bound := cfg.Filter.Bound(); bound > 0 && len(cfg.Filter.DefaultStates) > bound {
		return fmt.Errorf("filter.default_states has %d states, more than max_selected %d", len(cfg.Filter.DefaultStates), bound)
	}

	if err := cfg.Alerts.finalize(); err != nil {
		return err
	}

	channelNames := make(map[string]bool)
	for i := range cfg.NotificationChannels {
		nc := &cfg.NotificationChannels[i]
		if nc.Name == "" {
			return fmt.Errorf("notification channel at index %d missing name", i)
		}
		channelNames[nc.Name] = true
		// Naming convention: CALLWATCH_<SENSITIVE_FIELD_NAME>_<CHANNEL_NAME_UPPERCASE>
		// e.g., CALLWATCH_SMTP_PASSWORD_DISPATCH_EMAIL
		envVarPrefix := "CALLWATCH_"
		channelNameUpper := strings.ToUpper(strings.ReplaceAll(nc.Name, "-", "_"))

		switch nc.Type {
		case "email":
			passwordEnvKey := fmt.Sprintf("%sSMTP_PASSWORD_%s", envVarPrefix, channelNameUpper)
			if pass := os.Getenv(passwordEnvKey); pass != "" {
				if nc.Config == nil {
					nc.Config = make(map[string]interface{})
				}
				nc.Config["smtp_password"] = pass
			} else if p, ok := nc.Config["smtp_password"]; ok && p != "" {
				fmt.Printf("Warning: SMTP password for channel '%s' found in config file. It should be set via ENV var %s.\n", nc.Name, passwordEnvKey)
			}
		case "telegram":
			tokenEnvKey := fmt.Sprintf("%sTELEGRAM_TOKEN_%s", envVarPrefix, channelNameUpper)
			if token := os.Getenv(tokenEnvKey); token != "" {
				if nc.Config == nil {
					nc.Config = make(map[string]interface{})
				}
				nc.Config["bot_token"] = token
			} else if tok, ok := nc.Config["bot_token"]; ok && tok != "" {
				fmt.Printf("Warning: Telegram bot token for channel '%s' found in config file. It should be set via ENV var %s.\n", nc.Name, tokenEnvKey)
			}
		case "desktop", "stdout":
		default:
			return fmt.Errorf("notification channel '%s' has unknown type '%s'", nc.Name, nc.Type)
		}
	}
	for _, name := range cfg.Alerts.Channels {
		if !channelNames[name] {
			return fmt.Errorf("alerts.channels references unknown notification channel '%s'", name)
		}
	}

	if strings.TrimSpace(cfg.Templates.NewCall) == "" {
		cfg.Templates.NewCall = defaultNewCallTemplate
	}
	return nil
}

func (ac *AlertConfig) finalize() error {
	var err error
	switch ac.Sound {
	case "":
		ac.Sound = "bell"
	case "bell", "off":
	case "command":
		if len(ac.SoundCommand) == 0 {
			return fmt.Errorf("alerts.sound is 'command' but alerts.sound_command is empty")
		}
	default:
		return fmt.Errorf("alerts.sound has invalid value '%s'", ac.Sound)
	}
	if ac.BorderDuration, err = util.DurationOr(ac.BorderDurationStr, 3*time.Second); err != nil {
		return fmt.Errorf("invalid alerts.border_duration: %w", err)
	}
	if ac.TitleBlinkInterval, err = util.DurationOr(ac.TitleBlinkIntervalStr, 500*time.Millisecond); err != nil {
		return fmt.Errorf("invalid alerts.title_blink_interval: %w", err)
	}
	if ac.ActiveBlinkInterval, err = util.DurationOr(ac.ActiveBlinkIntervalStr, time.Second); err != nil {
		return fmt.Errorf("invalid alerts.active_blink_interval: %w", err)
	}
	if ac.TitleBlinkCycles <= 0 {
		ac.TitleBlinkCycles = 3
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Helper to get typed Email config
func GetEmailChannelConfig(nc NotificationChannelConfig) (*EmailChannelConfig, error) {
	if nc.Type != "email" {
		return nil, fmt.Errorf("not an email channel")
	}
	var emailCfg EmailChannelConfig
	if host, ok := nc.Config["smtp_host"].(string); ok {
		emailCfg.SMTPHost = host
	} else {
		return nil, fmt.Errorf("channel '%s': smtp_host missing or not a string", nc.Name)
	}
	if port, ok := nc.Config["smtp_port"].(int); ok {
		emailCfg.SMTPPort = port
	} else {
		return nil, fmt.Errorf("channel '%s': smtp_port missing or not an int", nc.Name)
	}
	if user, ok := nc.Config["smtp_username"].(string); ok {
		emailCfg.SMTPUsername = user
	}
	if pass, ok := nc.Config["smtp_password"].(string); ok {
		emailCfg.SMTPPassword = pass
	}
	if from, ok := nc.Config["smtp_from"].(string); ok {
		emailCfg.SMTPFrom = from
	} else {
		return nil, fmt.Errorf("channel '%s': smtp_from missing or not a string", nc.Name)
	}
	if toVal, ok := nc.Config["smtp_to"].([]interface{}); ok {
		for _, t := range toVal {
			if tStr, ok := t.(string); ok {
				emailCfg.SMTPTo = append(emailCfg.SMTPTo, tStr)
			}
		}
	} else {
		return nil, fmt.Errorf("channel '%s': smtp_to missing or not a list of strings", nc.Name)
	}
	if useTLS, ok := nc.Config["smtp_use_tls"].(bool); ok {
		emailCfg.SMTPUseTLS = useTLS
	}

	if emailCfg.SMTPHost == "" || emailCfg.SMTPPort == 0 || emailCfg.SMTPFrom == "" || len(emailCfg.SMTPTo) == 0 {
		return nil, fmt.Errorf("channel '%s': one or more required email config fields are missing (host, port, from, to)", nc.Name)
	}
	return &emailCfg, nil
}

// Helper to get typed Telegram config
func GetTelegramChannelConfig(nc NotificationChannelConfig) (*TelegramChannelConfig, error) {
	if nc.Type != "telegram" {
		return nil, fmt.Errorf("not a telegram channel")
	}
	var telegramCfg TelegramChannelConfig
	if token, ok := nc.Config["bot_token"].(string); ok {
		telegramCfg.BotToken = token
	}
	if chatID, ok := nc.Config["chat_id"].(string); ok {
		telegramCfg.ChatID = chatID
	} else {
		return nil, fmt.Errorf("channel '%s': chat_id missing or not a string", nc.Name)
	}
	if base, ok := nc.Config["api_base"].(string); ok {
		telegramCfg.APIBase = base
	}

	if telegramCfg.BotToken == "" || telegramCfg.ChatID == "" {
		return nil, fmt.Errorf("channel '%s': bot_token (from ENV) or chat_id are missing", nc.Name)
	}
	return &telegramCfg, nil
}

// GetDesktopChannelConfig defaults the command to notify-send.
func GetDesktopChannelConfig(nc NotificationChannelConfig) (*DesktopChannelConfig, error) {
	if nc.Type != "desktop" {
		return nil, fmt.Errorf("not a desktop channel")
	}
	desktopCfg := DesktopChannelConfig{Command: []string{"notify-send", "--app-name=callwatch"}}
	if raw, ok := nc.Config["command"]; ok {
		list, ok := raw.([]interface{})
		if !ok || len(list) == 0 {
			return nil, fmt.Errorf("channel '%s': command must be a non-empty list of strings", nc.Name)
		}
		desktopCfg.Command = desktopCfg.Command[:0]
		for _, part := range list {
			s, ok := part.(string)
			if !ok {
				return nil, fmt.Errorf("channel '%s': command must be a list of strings", nc.Name)
			}
			desktopCfg.Command = append(desktopCfg.Command, s)
		}
	}
	return &desktopCfg, nil
}
