package inbound

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/listingdesk/internal/channel"
)

// Meta normalizes Facebook Messenger and Instagram DM webhook batches.
type Meta struct{}

// Provider implements Normalizer.
func (Meta) Provider() string { return ProviderMeta }

// Normalize implements Normalizer.
func (Meta) Normalize(raw Raw) ([]Message, error) {
	var p MetaWebhook
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return nil, fmt.Errorf("inbound: meta: decode: %w", err)
	}
	return NormalizeMeta(p, raw.ReceivedAt), nil
}

// IdentityFields implements Normalizer.
func (Meta) IdentityFields(msg Message) IdentitySet {
	return genericIdentity(msg)
}

// MetaWebhook is the Messenger Platform callback envelope.
type MetaWebhook struct {
	Object string      `json:"object"` // "page" or "instagram"
	Entry  []MetaEntry `json:"entry"`
}

// MetaEntry is one page/account worth of events.
type MetaEntry struct {
	ID        string          `json:"id"`
	Time      int64           `json:"time"`
	Messaging []MetaMessaging `json:"messaging"`
}

// MetaMessaging is one messaging event.
type MetaMessaging struct {
	Sender    metaParty    `json:"sender"`
	Recipient metaParty    `json:"recipient"`
	Timestamp int64        `json:"timestamp"` // milliseconds
	Message   *MetaMessage `json:"message,omitempty"`
}

type metaParty struct {
	ID string `json:"id"`
}

// MetaMessage is the message part of a messaging event.
type MetaMessage struct {
	MID         string           `json:"mid"`
	Text        string           `json:"text"`
	IsEcho      bool             `json:"is_echo"`
	Attachments []metaAttachment `json:"attachments"`
}

type metaAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

// NormalizeMeta flattens a callback batch into Messages. Echoes of our own
// sends and events without a message (reads, deliveries) are skipped.
func NormalizeMeta(p MetaWebhook, receivedAt time.Time) []Message {
	ch := channel.FacebookMessenger
	if p.Object == "instagram" {
		ch = channel.InstagramDM
	}

	var out []Message
	for _, entry := range p.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho || ev.Sender.ID == "" {
				continue
			}
			msg := newMessage(ch, receivedAt)
			if ev.Timestamp > 0 {
				msg.ReceivedAt = time.UnixMilli(ev.Timestamp).UTC()
			}
			msg.Sender = Sender{SocialID: ev.Sender.ID, Name: DefaultSenderName}
			msg.ExternalID = ev.Message.MID
			msg.Content.Text = ev.Message.Text
			for _, a := range ev.Message.Attachments {
				msg.Content.Attachments = append(msg.Content.Attachments, Attachment{
					URL:         a.Payload.URL,
					ContentType: a.Type,
				})
			}
			setMeta(msg.Metadata, "page_id", ev.Recipient.ID)
			setMeta(msg.Metadata, "entry_id", entry.ID)
			setMeta(msg.Metadata, "conversation_id", ev.Sender.ID)
			out = append(out, msg)
		}
	}
	return out
}
