package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trading-signalv1/internal/logger"
)

// sendMessage is the Bot API sendMessage request body.
type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TelegramNotifier sends alerts via Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
	log      *slog.Logger
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   "https://api.telegram.org",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.Component("telegram"),
	}
}

// WithAPIURL points the notifier at another Bot API host.
func (t *TelegramNotifier) WithAPIURL(u string) *TelegramNotifier {
	t.apiURL = u
	return t
}

// Send posts the alert to the configured chat as a MarkdownV2 message.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(sendMessage{
		ChatID:    t.chatID,
		Text:      formatTelegram(alert),
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	t.log.Info("alert sent", slog.String("kind", string(alert.Kind)), slog.String("instrument", alert.Instrument))
	return nil
}

// formatTelegram renders an alert as a MarkdownV2 degraded-mode report.
func formatTelegram(alert Alert) string {
	emoji := "✅"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", emoji, escapeMarkdown(alert.Title))
	if alert.Instrument != "" {
		fmt.Fprintf(&b, "Instrument: `%s`\n", escapeMarkdown(alert.Instrument))
	}
	switch alert.Mode {
	case ModeFallback:
		b.WriteString("Signals: fallback engine\n")
	case ModeAdvisory:
		b.WriteString("Signals: advisory service\n")
	}
	if !alert.RetryAt.IsZero() {
		fmt.Fprintf(&b, "Advisory retry: %s UTC\n", escapeMarkdown(alert.RetryAt.UTC().Format("15:04:05")))
	}
	if !alert.At.IsZero() {
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(alert.At.UTC().Format(time.RFC3339)))
	}
	b.WriteString("\n")
	b.WriteString(escapeMarkdown(alert.Message))
	return b.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
