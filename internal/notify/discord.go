package notify

import (
	"context"
	"net/http"
	"time"
)

// Embed colours per severity.
var discordColors = map[Severity]int{
	SeverityInfo:     0x2ECC71,
	SeverityWarning:  0xF1C40F,
	SeverityCritical: 0xE74C3C,
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts to a Discord webhook as one embed each.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, username: "brokergw", client: newHTTPClient()}
}

func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: d.username,
		Embeds:   []discordEmbed{embedFor(a)},
	})
}

func (d *DiscordSender) Name() string { return "discord" }

func embedFor(a Alert) discordEmbed {
	e := discordEmbed{
		Title:       a.Title,
		Description: a.Summary,
		Color:       discordColors[a.Severity],
	}
	for _, f := range a.Fields {
		// Discord rejects embeds with empty field values.
		if f.Value == "" {
			continue
		}
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	if !a.Time.IsZero() {
		e.Timestamp = a.Time.UTC().Format(time.RFC3339)
	}
	return e
}
