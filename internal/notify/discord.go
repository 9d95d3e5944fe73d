package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Discord caps message content at 2000 characters.
const discordLimit = 2000

// DiscordSender posts alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send renders the title in bold above the message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := truncate(fmt.Sprintf("**%s**\n%s", title, message), discordLimit)
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{"content": content})
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
