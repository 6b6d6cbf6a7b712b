// Package notify delivers agent notifications to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/listingdesk/internal/config"
)

// Severity hints, mapped to platform colours.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeveritySuccess = "success"
)

var severityColors = map[string]string{
	SeverityInfo:    "#439fe0",
	SeverityWarning: "#daa038",
	SeveritySuccess: "#36a64f",
}

// Notification is one message to an agent.
type Notification struct {
	AgentID   string
	ContactID string
	Title     string
	Body      string
	Severity  string
	Fields    []Field
}

// Field is a key-value pair shown with the notification.
type Field struct {
	Name  string
	Value string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every backend and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the process log. It is the fallback when no
// chat backend is configured.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, n Notification) error {
	log.Printf("notify: agent=%s contact=%s %s: %s", n.AgentID, n.ContactID, n.Title, n.Body)
	return nil
}

// FromConfig builds a Notifier for every enabled backend, or Log when
// none is.
func FromConfig(cfg config.NotifyConfig) (Notifier, error) {
	var m Multi
	if cfg.Slack.Enabled() {
		s, err := NewSlack(SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		m = append(m, s)
	}
	if cfg.Discord.Enabled() {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		m = append(m, d)
	}
	if cfg.Telegram.Enabled() {
		t, err := NewTelegram(TelegramOpts{BotToken: cfg.Telegram.BotToken, ChatID: cfg.Telegram.ChatID})
		if err != nil {
			return nil, err
		}
		m = append(m, t)
	}
	if len(m) == 0 {
		return Log{}, nil
	}
	return m, nil
}

// PlainText renders n for platforms without rich attachments.
func PlainText(n Notification) string {
	var b strings.Builder
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}
	for _, f := range n.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}
	return b.String()
}

func colorFor(severity string) string {
	if c, ok := severityColors[severity]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}
