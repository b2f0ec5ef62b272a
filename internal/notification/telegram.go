package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// TelegramNotifier posts alerts to one chat through the Bot API, formatted
// as MarkdownV2.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string // overridden in tests
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: sendTimeout},
	}
}

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := t.baseURL + "/bot" + t.botToken + "/sendMessage"
	msg := sendMessage{ChatID: t.chatID, Text: formatTelegram(alert), ParseMode: "MarkdownV2"}
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram %s: %w", alert.Title, err)
	}
	log.Printf("[notify] telegram: %s %s", alert.Level, alert.Title)
	return nil
}

var levelIcons = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// formatTelegram renders: icon + bold title, the message, then the
// security code and market on a trailing line when present.
func formatTelegram(a Alert) string {
	var b strings.Builder
	icon, ok := levelIcons[a.Level]
	if !ok {
		icon = levelIcons[AlertInfo]
	}
	b.WriteString(icon + " *" + escapeMarkdown(a.Title) + "*")
	if a.Message != "" {
		b.WriteString("\n\n" + escapeMarkdown(a.Message))
	}
	var tags []string
	if a.SecurityID != "" {
		tags = append(tags, "`"+escapeMarkdown(a.SecurityID)+"`")
	}
	if a.Market != "" {
		tags = append(tags, "\\#"+escapeMarkdown(a.Market))
	}
	if len(tags) > 0 {
		b.WriteString("\n\n" + strings.Join(tags, " "))
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`, "~", `\~`, "`", "\\`",
	">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`,
	".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
