package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/listingdesk/internal/config"
)

// --- Mocks ---

type mockSlackClient struct {
	mu       sync.Mutex
	channels []string
	errs     []error
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	m.channels = append(m.channels, channelID)
	return channelID, "1234567890.123456", nil
}

type mockDiscordSession struct {
	sent     []*discordgo.MessageSend
	channels []string
	failures int
}

func (m *mockDiscordSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.failures > 0 {
		m.failures--
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
	}
	m.channels = append(m.channels, channelID)
	m.sent = append(m.sent, data)
	return &discordgo.Message{ID: "m1"}, nil
}

type mockTelegramBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	m.sent = append(m.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: 1}, nil
}

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

var sample = Notification{
	AgentID:   "agent-a",
	ContactID: "c1",
	Title:     "New lead: Jane Citizen",
	Body:      "Enquired about 12 Smith St",
	Severity:  SeverityInfo,
	Fields:    []Field{{Name: "Source", Value: "rea"}},
}

// --- Slack ---

func TestNewSlack_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token or client")
	}
	if _, err := NewSlack(SlackOpts{Client: &mockSlackClient{}}); err == nil {
		t.Error("expected error without channel")
	}
}

func TestSlack_Notify(t *testing.T) {
	client := &mockSlackClient{}
	s, err := NewSlack(SlackOpts{Client: client, ChannelID: "C123"})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	if err := s.Notify(context.Background(), sample); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(client.channels) != 1 || client.channels[0] != "C123" {
		t.Errorf("channels = %v, want [C123]", client.channels)
	}
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, _ := NewSlack(SlackOpts{Client: client, ChannelID: "C1"})
	if err := s.Notify(context.Background(), sample); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(client.channels) != 1 {
		t.Errorf("posted = %d, want 1 after retry", len(client.channels))
	}
}

func TestSlack_NonRateLimitErrorNotRetried(t *testing.T) {
	client := &mockSlackClient{errs: []error{errors.New("channel_not_found"), nil}}
	s, _ := NewSlack(SlackOpts{Client: client, ChannelID: "C1"})
	err := s.Notify(context.Background(), sample)
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v, want channel_not_found", err)
	}
	if len(client.channels) != 0 {
		t.Errorf("posted = %d, want 0", len(client.channels))
	}
}

// --- Discord ---

func TestDiscord_NotifyEmbed(t *testing.T) {
	sess := &mockDiscordSession{}
	d, err := NewDiscord(DiscordOpts{Session: sess, ChannelID: "D1"})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	if err := d.Notify(context.Background(), sample); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sess.sent))
	}
	embed := sess.sent[0].Embeds[0]
	if embed.Title != sample.Title {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != 0x439fe0 {
		t.Errorf("Color = %#x, want 0x439fe0", embed.Color)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "rea" {
		t.Errorf("Fields = %+v", embed.Fields)
	}
}

func TestDiscord_RetriesRateLimit(t *testing.T) {
	sess := &mockDiscordSession{failures: 2}
	d, _ := NewDiscord(DiscordOpts{Session: sess, ChannelID: "D1"})
	d.baseBackoff = time.Millisecond
	if err := d.Notify(context.Background(), sample); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(sess.sent))
	}
}

func TestDiscord_GivesUp(t *testing.T) {
	sess := &mockDiscordSession{failures: maxRetries + 1}
	d, _ := NewDiscord(DiscordOpts{Session: sess, ChannelID: "D1"})
	d.baseBackoff = time.Millisecond
	if err := d.Notify(context.Background(), sample); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"FFFFFF", 0xffffff},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

// --- Telegram ---

func TestTelegram_Notify(t *testing.T) {
	bot := &mockTelegramBot{}
	tg, err := NewTelegram(TelegramOpts{Bot: bot, ChatID: 42})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Notify(context.Background(), sample); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 {
		t.Errorf("ChatID = %d, want 42", msg.ChatID)
	}
	want := "New lead: Jane Citizen\nEnquired about 12 Smith St\nSource: rea"
	if msg.Text != want {
		t.Errorf("Text = %q, want %q", msg.Text, want)
	}
}

func TestTelegram_RequiresChat(t *testing.T) {
	if _, err := NewTelegram(TelegramOpts{Bot: &mockTelegramBot{}}); err == nil {
		t.Error("expected error without chat id")
	}
}

// --- Multi ---

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("b down")}
	c := &recordingNotifier{err: errors.New("c down")}
	err := Multi{a, b, c}.Notify(context.Background(), sample)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "b down") || !strings.Contains(err.Error(), "c down") {
		t.Errorf("err = %q, want both failures", err)
	}
	for i, n := range []*recordingNotifier{a, b, c} {
		if len(n.got) != 1 {
			t.Errorf("notifier %d got %d notifications, want 1", i, len(n.got))
		}
	}
}

func TestFromConfig_NoneEnabledLogs(t *testing.T) {
	n, err := FromConfig(config.NotifyConfig{})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := n.(Log); !ok {
		t.Errorf("FromConfig = %T, want Log", n)
	}
	if err := n.Notify(context.Background(), sample); err != nil {
		t.Errorf("Log.Notify: %v", err)
	}
}

func TestFromConfig_SlackAndDiscord(t *testing.T) {
	n, err := FromConfig(config.NotifyConfig{
		Slack:   config.SlackConfig{BotToken: "xoxb-1", ChannelID: "C1"},
		Discord: config.DiscordConfig{BotToken: "d-token", ChannelID: "D1"},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	m, ok := n.(Multi)
	if !ok || len(m) != 2 {
		t.Fatalf("FromConfig = %#v, want Multi of 2", n)
	}
}
