package inbound

import (
	"fmt"
	"strings"

	"github.com/zulandar/listingdesk/internal/channel"
)

// Normalizer turns one provider's webhook payload into normalized messages
// and knows which identity fields those messages carry.
type Normalizer interface {
	// Provider is the webhook source name, e.g. "twilio_sms".
	Provider() string

	// Normalize decodes raw. Batching providers return several messages;
	// callbacks that carry no message (e.g. a ringing call) return none.
	Normalize(raw Raw) ([]Message, error)

	// IdentityFields extracts the identifiers of msg for identity resolution.
	IdentityFields(msg Message) IdentitySet
}

// Provider names.
const (
	ProviderTwilioSMS   = "twilio_sms"
	ProviderTwilioVoice = "twilio_voice"
	ProviderMeta        = "meta"
	ProviderWhatsApp    = "whatsapp"
	ProviderEmail       = "email"
)

var providers = map[string]Normalizer{
	ProviderTwilioSMS:   TwilioSMS{},
	ProviderTwilioVoice: TwilioVoice{},
	ProviderMeta:        Meta{},
	ProviderWhatsApp:    WhatsApp{},
	ProviderEmail:       Email{},
}

var byChannel = map[channel.Channel]Normalizer{
	channel.SMS:               TwilioSMS{},
	channel.PhoneCall:         TwilioVoice{},
	channel.InstagramDM:       Meta{},
	channel.FacebookMessenger: Meta{},
	channel.WhatsApp:          WhatsApp{},
	channel.Email:             Email{},
	channel.DomainEnquiry:     Email{},
	channel.REAEnquiry:        Email{},
}

// ForProvider returns the normalizer registered for a webhook source.
func ForProvider(name string) (Normalizer, error) {
	n, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("inbound: no normalizer for provider %q", name)
	}
	return n, nil
}

// IdentityFor extracts the identity set of msg using the normalizer that
// owns its channel, falling back to every populated sender field.
func IdentityFor(msg Message) IdentitySet {
	if n, ok := byChannel[msg.Channel]; ok {
		return n.IdentityFields(msg)
	}
	return genericIdentity(msg)
}

// genericIdentity uses every populated sender field.
func genericIdentity(msg Message) IdentitySet {
	set := IdentitySet{}
	if msg.Sender.Phone != "" {
		set.Phones = []string{msg.Sender.Phone}
	}
	if msg.Sender.Email != "" {
		set.Emails = []string{strings.ToLower(msg.Sender.Email)}
	}
	if kind := msg.Channel.SocialKind(); kind != "" && msg.Sender.SocialID != "" {
		set.Social = map[string]string{kind: msg.Sender.SocialID}
	}
	return set
}
