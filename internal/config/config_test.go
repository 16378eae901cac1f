package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "full_config",
			yaml: `
api_url: "http://dispatch.local:8080/"
interval_seconds: 5
health_interval_seconds: 15
request_timeout: "2s"
store_path: "/tmp/callwatch/prefs.db"
player_command: ["mpv", "--no-video"]
metrics_listen: ":9464"
filter:
  max_selected: 2
  default_states: ["tx", "new york"]
alerts:
  sound: "command"
  sound_command: ["aplay", "-q"]
  border_duration: "1500ms"
  title_blink_cycles: 5
  title_blink_interval: "250ms"
  active_blink_interval: "2s"
  channels: ["ops"]
notification_channels:
  - name: "ops"
    type: "stdout"
templates:
  new_call: "Call: {{ .Agency }}"
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://dispatch.local:8080", cfg.APIURL)
				assert.Equal(t, 5*time.Second, cfg.PollInterval)
				assert.Equal(t, 15*time.Second, cfg.HealthInterval)
				assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
				assert.Equal(t, "/tmp/callwatch/prefs.db", cfg.StorePath)
				assert.Equal(t, []string{"mpv", "--no-video"}, cfg.PlayerCommand)
				assert.Equal(t, 2, cfg.Filter.Bound())
				assert.Equal(t, []string{"Texas", "New York"}, cfg.Filter.DefaultStates)
				assert.Equal(t, "command", cfg.Alerts.Sound)
				assert.Equal(t, 1500*time.Millisecond, cfg.Alerts.BorderDuration)
				assert.Equal(t, 5, cfg.Alerts.TitleBlinkCycles)
				assert.Equal(t, 250*time.Millisecond, cfg.Alerts.TitleBlinkInterval)
				assert.Equal(t, 2*time.Second, cfg.Alerts.ActiveBlinkInterval)
				assert.Equal(t, "Call: {{ .Agency }}", cfg.Templates.NewCall)
			},
		},
		{
			name: "minimal_config_with_defaults",
			yaml: `
notification_channels: []
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://localhost:5000", cfg.APIURL)
				assert.Equal(t, 30*time.Second, cfg.PollInterval)
				assert.Equal(t, 20*time.Second, cfg.HealthInterval)
				assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
				assert.Equal(t, DefaultMaxSelected, cfg.Filter.Bound())
				assert.Equal(t, []string{"New Jersey", "New York", "Texas", "Illinois"}, cfg.Filter.DefaultStates)
				assert.Equal(t, "bell", cfg.Alerts.Sound)
				assert.Equal(t, 3*time.Second, cfg.Alerts.BorderDuration)
				assert.Equal(t, 3, cfg.Alerts.TitleBlinkCycles)
				assert.Equal(t, defaultNewCallTemplate, cfg.Templates.NewCall)
				assert.Equal(t, 60, cfg.HistorySize)
			},
		},
		{
			name: "unbounded_filter",
			yaml: `
filter:
  max_selected: 0
  default_states: ["AL", "AK", "AZ", "AR", "CA"]
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Filter.Bound())
				assert.Len(t, cfg.Filter.DefaultStates, 5)
			},
		},
		{
			name: "too_many_default_states",
			yaml: `
filter:
  default_states: ["AL", "AK", "AZ", "AR", "CA"]
`,
			wantErr: true,
		},
		{
			name: "unknown_default_state",
			yaml: `
filter:
  default_states: ["Narnia"]
`,
			wantErr: true,
		},
		{
			name:    "negative_bound",
			yaml:    "filter:\n  max_selected: -1\n",
			wantErr: true,
		},
		{
			name:    "invalid_yaml",
			yaml:    "api_url: [",
			wantErr: true,
		},
		{
			name:    "invalid_api_url",
			yaml:    `api_url: "not a url"`,
			wantErr: true,
		},
		{
			name:    "invalid_border_duration",
			yaml:    "alerts:\n  border_duration: \"3 seconds\"\n",
			wantErr: true,
		},
		{
			name:    "sound_command_without_command",
			yaml:    "alerts:\n  sound: command\n",
			wantErr: true,
		},
		{
			name:    "invalid_sound",
			yaml:    "alerts:\n  sound: siren\n",
			wantErr: true,
		},
		{
			name: "unknown_channel_type",
			yaml: `
notification_channels:
  - name: "pager"
    type: "pager"
`,
			wantErr: true,
		},
		{
			name: "missing_channel_name",
			yaml: `
notification_channels:
  - type: "stdout"
`,
			wantErr: true,
		},
		{
			name: "alert_channel_not_configured",
			yaml: `
alerts:
  channels: ["missing"]
`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tc.yaml))
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".callwatch", "prefs.db"), cfg.StorePath)

	_, err = LoadOrDefault(writeConfig(t, "api_url: ["))
	assert.Error(t, err)
}

func TestSecretsFromEnvironment(t *testing.T) {
	t.Setenv("CALLWATCH_SMTP_PASSWORD_DISPATCH_EMAIL", "s3cret")
	t.Setenv("CALLWATCH_TELEGRAM_TOKEN_OPS", "123:abc")

	cfg, err := LoadConfig(writeConfig(t, `
notification_channels:
  - name: "dispatch-email"
    type: "email"
    config:
      smtp_host: "smtp.example.com"
      smtp_port: 587
      smtp_from: "callwatch@example.com"
      smtp_to: ["chief@example.com"]
  - name: "ops"
    type: "telegram"
    config:
      chat_id: "42"
`))
	require.NoError(t, err)

	emailCfg, err := GetEmailChannelConfig(cfg.NotificationChannels[0])
	require.NoError(t, err)
	assert.Equal(t, "s3cret", emailCfg.SMTPPassword)
	assert.Equal(t, []string{"chief@example.com"}, emailCfg.SMTPTo)

	telegramCfg, err := GetTelegramChannelConfig(cfg.NotificationChannels[1])
	require.NoError(t, err)
	assert.Equal(t, "123:abc", telegramCfg.BotToken)
	assert.Equal(t, "42", telegramCfg.ChatID)
}

func TestGetTelegramChannelConfigWithoutToken(t *testing.T) {
	_, err := GetTelegramChannelConfig(NotificationChannelConfig{
		Name:   "ops",
		Type:   "telegram",
		Config: map[string]interface{}{"chat_id": "42"},
	})
	assert.Error(t, err)
}

func TestGetEmailChannelConfigWrongType(t *testing.T) {
	_, err := GetEmailChannelConfig(NotificationChannelConfig{Name: "x", Type: "stdout"})
	assert.Error(t, err)
}

func TestGetDesktopChannelConfig(t *testing.T) {
	cfg, err := GetDesktopChannelConfig(NotificationChannelConfig{Name: "desk", Type: "desktop"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notify-send", "--app-name=callwatch"}, cfg.Command)

	cfg, err = GetDesktopChannelConfig(NotificationChannelConfig{
		Name:   "desk",
		Type:   "desktop",
		Config: map[string]interface{}{"command": []interface{}{"osascript", "-e"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"osascript", "-e"}, cfg.Command)

	_, err = GetDesktopChannelConfig(NotificationChannelConfig{
		Name:   "desk",
		Type:   "desktop",
		Config: map[string]interface{}{"command": "notify-send"},
	})
	assert.Error(t, err)
}
