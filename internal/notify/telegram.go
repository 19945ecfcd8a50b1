package notify

import (
	"context"
	"html"
	"net/http"
	"strings"
)

// TelegramSender delivers alerts through the Bot API sendMessage method.
// Info alerts are sent silently; warnings and failures ring.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  newHTTPClient(),
	}
}

// WithBaseURL points the sender at another Bot API host.
func (t *TelegramSender) WithBaseURL(u string) *TelegramSender {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, t.client, t.Name(), t.baseURL+"/bot"+t.token+"/sendMessage", telegramMessage{
		ChatID:              t.chatID,
		Text:                telegramText(a),
		ParseMode:           "HTML",
		DisableNotification: a.Severity == SeverityInfo,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }

// telegramText renders a as HTML: bold title, summary, then one line per field.
func telegramText(a Alert) string {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(a.Title) + "</b>\n")
	b.WriteString(html.EscapeString(a.Summary))
	for _, f := range a.Fields {
		if f.Value == "" {
			continue
		}
		b.WriteString("\n<i>" + html.EscapeString(f.Name) + ":</i> " + html.EscapeString(f.Value))
	}
	return b.String()
}
