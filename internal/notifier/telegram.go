package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mattmezza/callwatch/internal/config"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

type TelegramNotifier struct {
	name   string
	config config.TelegramChannelConfig
	client *http.Client
}

func NewTelegramNotifier(name string, cfg config.TelegramChannelConfig) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram notifier '%s' is missing bot_token (from ENV) or chat_id", name)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTelegramAPIBase
	}
	return &TelegramNotifier{
		name:   name,
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (tn *TelegramNotifier) Name() string {
	return tn.name
}

type telegramButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type telegramMessage struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ParseMode   string `json:"parse_mode"`
	ReplyMarkup *struct {
		InlineKeyboard [][]telegramButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

// Send posts the rendered message with parse_mode MarkdownV2, so the plain
// template output is escaped first. Calls with audio get a "Play audio" button.
func (tn *TelegramNotifier) Send(data NotificationData, templates NotificationTemplates) error {
	rawMessage, err := renderTemplate("telegram_message", templates.NewCallTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to render Telegram template for call '%s': %w", data.CallID, err)
	}

	msg := telegramMessage{
		ChatID:    tn.config.ChatID,
		Text:      escapeTextForMarkdownV2(rawMessage),
		ParseMode: "MarkdownV2",
	}
	if data.AudioURL != "" {
		msg.ReplyMarkup = &struct {
			InlineKeyboard [][]telegramButton `json:"inline_keyboard"`
		}{InlineKeyboard: [][]telegramButton{{{Text: "▶ Play audio", URL: data.AudioURL}}}}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Telegram message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(tn.config.APIBase, "/"), tn.config.BotToken)
	resp, err := tn.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram sendMessage for call '%s': %w", data.CallID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram sendMessage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(reply)))
	}
	return nil
}

// escapeTextForMarkdownV2 escapes text for Telegram MarkdownV2.
// Telegram requires escaping: _ * [ ] ( ) ~ ` > # + - = | { } . ! and the backslash itself.
func escapeTextForMarkdownV2(text string) string {
	const escapeChars = "\\_*[]()~`>#+-=|{}.!"
	var result strings.Builder
	for _, r := range text {
		if strings.ContainsRune(escapeChars, r) {
			result.WriteByte('\\')
		}
		result.WriteRune(r)
	}
	return result.String()
}
