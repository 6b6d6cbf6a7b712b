package notify

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/bwmarrin/discordgo"
)

const discordBaseBackoff = 2 * time.Second

// discordSession abstracts the discordgo.Session method we use.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session.
	Session discordSession
}

// Discord posts notifications as embeds over the REST API.
type Discord struct {
	sess        discordSession
	channelID   string
	baseBackoff time.Duration
}

// NewDiscord creates a Discord notifier. No gateway connection is opened.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord: channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord: create session: %w", err)
		}
		sess = s
	}
	return &Discord{sess: sess, channelID: opts.ChannelID, baseBackoff: discordBaseBackoff}, nil
}

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, n Notification) error {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       parseHexColor(colorFor(n.Severity)),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}

	for attempt := 0; ; attempt++ {
		_, err := d.sess.ChannelMessageSendComplex(d.channelID, data)
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 || attempt == maxRetries {
			return fmt.Errorf("notify: discord: send message: %w", err)
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * d.baseBackoff
		log.Printf("notify: discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}
