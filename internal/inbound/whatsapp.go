package inbound

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/channel"
)

// WhatsApp normalizes WhatsApp Business Cloud API webhook batches.
type WhatsApp struct{}

// Provider implements Normalizer.
func (WhatsApp) Provider() string { return ProviderWhatsApp }

// Normalize implements Normalizer.
func (WhatsApp) Normalize(raw Raw) ([]Message, error) {
	p, err := decodeWhatsApp(raw.Body)
	if err != nil {
		return nil, err
	}
	return NormalizeWhatsApp(p, raw.ReceivedAt), nil
}

// IdentityFields implements Normalizer. A WhatsApp id is a phone number, so
// it is probed both as a phone and as the whatsapp identifier.
func (WhatsApp) IdentityFields(msg Message) IdentitySet {
	set := genericIdentity(msg)
	if msg.Sender.Phone == "" && msg.Sender.SocialID != "" {
		set.Phones = []string{msg.Sender.SocialID}
	}
	return set
}

// WhatsAppWebhook is the Cloud API callback envelope.
type WhatsAppWebhook struct {
	Object string          `json:"object"`
	Entry  []WhatsAppEntry `json:"entry"`
}

// WhatsAppEntry is one business account worth of changes.
type WhatsAppEntry struct {
	ID      string           `json:"id"`
	Changes []WhatsAppChange `json:"changes"`
}

// WhatsAppChange wraps the value object of one change notification.
type WhatsAppChange struct {
	Field string        `json:"field"`
	Value WhatsAppValue `json:"value"`
}

// WhatsAppValue holds messages, sender profiles and delivery statuses.
type WhatsAppValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []WhatsAppMessage `json:"messages"`
	Statuses []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Recipient string `json:"recipient_id"`
		Errors    []struct {
			Code int `json:"code"`
		} `json:"errors"`
	} `json:"statuses"`
}

// WhatsAppMessage is one inbound message of any type.
type WhatsAppMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // unix seconds
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *whatsAppMedia `json:"image,omitempty"`
	Document *whatsAppMedia `json:"document,omitempty"`
	Audio    *whatsAppMedia `json:"audio,omitempty"`
	Video    *whatsAppMedia `json:"video,omitempty"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
	} `json:"location,omitempty"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button,omitempty"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type whatsAppMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

func decodeWhatsApp(body []byte) (WhatsAppWebhook, error) {
	var p WhatsAppWebhook
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("inbound: whatsapp: decode: %w", err)
	}
	return p, nil
}

// NormalizeWhatsApp flattens a callback batch into Messages, attaching the
// sender's profile name when the batch includes it.
func NormalizeWhatsApp(p WhatsAppWebhook, receivedAt time.Time) []Message {
	var out []Message
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.From == "" {
					continue
				}
				msg := newMessage(channel.WhatsApp, receivedAt)
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && secs > 0 {
					msg.ReceivedAt = time.Unix(secs, 0).UTC()
				}
				phone := m.From
				if !strings.HasPrefix(phone, "+") {
					phone = "+" + phone
				}
				msg.Sender = Sender{Phone: phone, SocialID: m.From, Name: orUnknown(names[m.From])}
				msg.ExternalID = m.ID
				msg.Content = whatsAppContent(m)
				msg.Metadata["message_type"] = m.Type
				setMeta(msg.Metadata, "phone_number_id", change.Value.Metadata.PhoneNumberID)
				setMeta(msg.Metadata, "display_phone_number", change.Value.Metadata.DisplayPhoneNumber)
				out = append(out, msg)
			}
		}
	}
	return out
}

func whatsAppContent(m WhatsAppMessage) Content {
	var c Content
	media := func(md *whatsAppMedia) {
		c.Text = md.Caption
		c.Attachments = append(c.Attachments, Attachment{ID: md.ID, ContentType: md.MimeType, Name: md.Filename})
	}
	switch {
	case m.Text != nil:
		c.Text = m.Text.Body
	case m.Image != nil:
		media(m.Image)
	case m.Document != nil:
		media(m.Document)
	case m.Audio != nil:
		media(m.Audio)
	case m.Video != nil:
		media(m.Video)
	case m.Location != nil:
		c.Text = fmt.Sprintf("Location: %g,%g", m.Location.Latitude, m.Location.Longitude)
		if m.Location.Name != "" {
			c.Text += " (" + m.Location.Name + ")"
		}
	case m.Button != nil:
		c.Text = m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		c.Text = m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		c.Text = m.Interactive.ListReply.Title
	}
	return c
}

var whatsAppStatus = map[string]string{
	"sent":      "pending",
	"delivered": "delivered",
	"read":      "read",
	"failed":    "failed",
}

// WhatsAppStatuses extracts delivery receipts from a callback body.
func WhatsAppStatuses(body []byte) ([]StatusUpdate, error) {
	p, err := decodeWhatsApp(body)
	if err != nil {
		return nil, err
	}
	var out []StatusUpdate
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, s := range change.Value.Statuses {
				status, ok := whatsAppStatus[s.Status]
				if !ok || s.ID == "" {
					continue
				}
				u := StatusUpdate{Channel: channel.WhatsApp, ExternalID: s.ID, Status: status}
				if len(s.Errors) > 0 {
					u.ErrorCode = strconv.Itoa(s.Errors[0].Code)
				}
				out = append(out, u)
			}
		}
	}
	return out, nil
}
