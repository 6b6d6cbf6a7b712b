// Package inbound normalizes provider webhook payloads into one canonical
// inbound message shape.
package inbound

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/channel"
)

// DefaultSenderName is used when a provider does not supply a sender name.
const DefaultSenderName = "Unknown"

// Message is a normalized inbound message. It is created per webhook call
// and consumed immediately; it is never stored as-is.
type Message struct {
	Channel    channel.Channel
	Direction  string // always "inbound"
	Sender     Sender
	Content    Content
	Metadata   map[string]string
	ExternalID string
	ReceivedAt time.Time
}

// Sender carries whatever identity fields the provider supplied.
type Sender struct {
	Email    string
	Phone    string
	SocialID string
	Name     string
}

// Content is the message body in every form the provider offered.
type Content struct {
	Text        string
	HTML        string
	Subject     string
	Attachments []Attachment
}

// Attachment references provider-hosted media.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Name        string `json:"name,omitempty"`
}

// HasIdentity reports whether at least one identity field is present.
func (s Sender) HasIdentity() bool {
	return s.Email != "" || s.Phone != "" || s.SocialID != ""
}

// Validate checks the invariants every normalized message must satisfy.
func (m Message) Validate() error {
	if !m.Channel.Valid() {
		return fmt.Errorf("inbound: invalid channel %q", m.Channel)
	}
	if !m.Sender.HasIdentity() {
		return fmt.Errorf("inbound: %s message has no sender identity", m.Channel)
	}
	return nil
}

// IdentitySet is the set of identifiers a message carries, grouped the way
// the identity resolver probes them.
type IdentitySet struct {
	Phones []string
	Emails []string
	Social map[string]string // identifier kind -> id
}

// Empty reports whether the set has no identifiers at all.
func (s IdentitySet) Empty() bool {
	return len(s.Phones) == 0 && len(s.Emails) == 0 && len(s.Social) == 0
}

// Raw is an undecoded webhook request: JSON bodies arrive in Body, form
// posts in Form. ReceivedAt is the fallback timestamp when the payload
// does not carry one.
type Raw struct {
	Body       []byte
	Form       url.Values
	ReceivedAt time.Time
}

func newMessage(ch channel.Channel, receivedAt time.Time) Message {
	return Message{
		Channel:    ch,
		Direction:  "inbound",
		Metadata:   map[string]string{},
		ReceivedAt: receivedAt,
	}
}

// orUnknown substitutes the default sender name for blank names.
func orUnknown(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultSenderName
	}
	return name
}

// setMeta stores v under k when v is non-empty.
func setMeta(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
