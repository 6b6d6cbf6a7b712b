// Package channel defines the closed set of communication channels and the
// static lookup tables keyed by them.
package channel

import (
	"fmt"
	"strings"
)

// Channel is one inbound/outbound communication surface.
type Channel string

// The channel set is closed; Parse rejects anything else.
const (
	Email              Channel = "email"
	SMS                Channel = "sms"
	PhoneCall          Channel = "phone_call"
	WhatsApp           Channel = "whatsapp"
	InstagramDM        Channel = "instagram_dm"
	FacebookMessenger  Channel = "facebook_messenger"
	DomainEnquiry      Channel = "domain_enquiry"
	REAEnquiry         Channel = "rea_enquiry"
	LinkedIn           Channel = "linkedin"
	InternalNote       Channel = "internal_note"
	PortalNotification Channel = "portal_notification"
)

// info is the static per-channel table.
type info struct {
	label        string
	activityType string
	leadSource   string
	socialKind   string // ContactIdentifier kind for social ids, "" if none
	sendable     bool
}

var table = map[Channel]info{
	Email:              {label: "Email", activityType: "email", leadSource: "email", sendable: true},
	SMS:                {label: "SMS", activityType: "sms", leadSource: "sms", sendable: true},
	PhoneCall:          {label: "Phone call", activityType: "call", leadSource: "phone"},
	WhatsApp:           {label: "WhatsApp", activityType: "whatsapp", leadSource: "whatsapp", socialKind: "whatsapp", sendable: true},
	InstagramDM:        {label: "Instagram DM", activityType: "social", leadSource: "instagram", socialKind: "instagram", sendable: true},
	FacebookMessenger:  {label: "Facebook Messenger", activityType: "social", leadSource: "facebook", socialKind: "facebook", sendable: true},
	DomainEnquiry:      {label: "Domain enquiry", activityType: "enquiry", leadSource: "domain", sendable: true},
	REAEnquiry:         {label: "REA enquiry", activityType: "enquiry", leadSource: "realestate.com.au", sendable: true},
	LinkedIn:           {label: "LinkedIn", activityType: "social", leadSource: "linkedin"},
	InternalNote:       {label: "Internal note", activityType: "note", leadSource: "other"},
	PortalNotification: {label: "Portal notification", activityType: "note", leadSource: "other"},
}

// All returns every channel in a stable order.
func All() []Channel {
	return []Channel{
		Email, SMS, PhoneCall, WhatsApp, InstagramDM, FacebookMessenger,
		DomainEnquiry, REAEnquiry, LinkedIn, InternalNote, PortalNotification,
	}
}

// Parse converts s to a Channel, rejecting values outside the closed set.
func Parse(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("channel: unknown channel %q", s)
	}
	return c, nil
}

// Valid reports whether c is a member of the closed channel set.
func (c Channel) Valid() bool {
	_, ok := table[c]
	return ok
}

func (c Channel) String() string { return string(c) }

// Label is the human-readable channel name used in activity titles.
func (c Channel) Label() string {
	if i, ok := table[c]; ok {
		return i.label
	}
	return string(c)
}

// ActivityType is the timeline activity type for messages on c.
func (c Channel) ActivityType() string {
	if i, ok := table[c]; ok {
		return i.activityType
	}
	return "note"
}

// LeadSource is the default contact source for first contact on c.
func (c Channel) LeadSource() string {
	if i, ok := table[c]; ok {
		return i.leadSource
	}
	return "other"
}

// SocialKind is the identifier kind carrying a social id on c, or "".
func (c Channel) SocialKind() string {
	return table[c].socialKind
}

// Sendable reports whether messages on c can be dispatched to a provider.
// Portal enquiries are answered by email.
func (c Channel) Sendable() bool {
	return table[c].sendable
}

// IsEnquiry reports whether c is a property-portal enquiry channel.
func (c Channel) IsEnquiry() bool {
	return c == DomainEnquiry || c == REAEnquiry
}
