package inbound

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/zulandar/listingdesk/internal/channel"
)

// Email normalizes forwarded inbound email payloads. Portal enquiries are
// reclassified onto their enquiry channel.
type Email struct{}

// Provider implements Normalizer.
func (Email) Provider() string { return ProviderEmail }

// Normalize implements Normalizer.
func (Email) Normalize(raw Raw) ([]Message, error) {
	var e ForwardedEmail
	if err := json.Unmarshal(raw.Body, &e); err != nil {
		return nil, fmt.Errorf("inbound: email: decode: %w", err)
	}
	return []Message{ClassifyEmail(e, raw.ReceivedAt).Message}, nil
}

// IdentityFields implements Normalizer. Enquiries may carry a phone number
// alongside the enquirer's email.
func (Email) IdentityFields(msg Message) IdentitySet {
	return genericIdentity(msg)
}

// ForwardedEmail is the generic forwarded-email payload.
type ForwardedEmail struct {
	From       string   `json:"from" binding:"required"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	TextBody   string   `json:"textBody"`
	HTMLBody   string   `json:"htmlBody"`
	MessageID  string   `json:"messageId"`
	ThreadID   string   `json:"threadId,omitempty"`
	ReceivedAt string   `json:"receivedAt,omitempty"` // RFC 3339
}

// EmailKind classifies an inbound email.
type EmailKind string

// Email kinds.
const (
	EmailGeneric       EmailKind = "generic"
	EmailPortalEnquiry EmailKind = "portal_enquiry"
)

// PortalEnquiry is the structured part of a property-portal enquiry email.
type PortalEnquiry struct {
	Portal          channel.Channel
	ListingID       string
	PropertyAddress string
	EnquirerName    string
	EnquirerEmail   string
	EnquirerPhone   string
	Message         string
}

// EmailResult is the outcome of classifying an email.
type EmailResult struct {
	Kind    EmailKind
	Message Message
	Enquiry *PortalEnquiry // set when Kind is EmailPortalEnquiry
}

// NormalizeEmail maps a forwarded email to a generic email Message.
func NormalizeEmail(e ForwardedEmail, receivedAt time.Time) Message {
	msg := newMessage(channel.Email, receivedAt)
	if t, err := time.Parse(time.RFC3339, e.ReceivedAt); err == nil {
		msg.ReceivedAt = t
	}
	name, addr := parseAddress(e.From)
	msg.Sender = Sender{Email: addr, Name: orUnknown(name)}
	msg.Content = Content{
		Subject: e.Subject,
		Text:    e.TextBody,
		HTML:    e.HTMLBody,
	}
	if strings.TrimSpace(msg.Content.Text) == "" && e.HTMLBody != "" {
		msg.Content.Text = HTMLToText(e.HTMLBody)
	}
	msg.ExternalID = strings.Trim(strings.TrimSpace(e.MessageID), "<>")
	setMeta(msg.Metadata, "thread_id", e.ThreadID)
	setMeta(msg.Metadata, "to", strings.Join(e.To, ", "))
	return msg
}

// portalDomains maps sender domains to enquiry channels.
var portalDomains = []struct {
	suffix string
	portal channel.Channel
}{
	{"domain.com.au", channel.DomainEnquiry},
	{"realestate.com.au", channel.REAEnquiry},
	{"rea-group.com", channel.REAEnquiry},
}

var (
	enquiryFieldRe = regexp.MustCompile(`(?im)^[ \t]*(name|full name|email|email address|phone|mobile|phone number|message|comments|property|property address|address|listing id|property id)[ \t]*:[ \t]*(.+?)[ \t]*$`)
	listingURLRe   = regexp.MustCompile(`(?i)(?:realestate\.com\.au|domain\.com\.au)/[^\s"'<>]*?-(\d{6,})\b`)
	subjectAddrRe  = regexp.MustCompile(`(?i)enquiry (?:on|for|about)\s+(.+)$`)
)

// ClassifyEmail decides whether e is a generic email or a portal enquiry.
// For an enquiry the message moves to the portal's channel and its sender
// identity becomes the enquirer. An enquiry without any enquirer identity
// stays generic so it does not attach to the portal's sending address.
func ClassifyEmail(e ForwardedEmail, receivedAt time.Time) EmailResult {
	msg := NormalizeEmail(e, receivedAt)
	res := EmailResult{Kind: EmailGeneric, Message: msg}

	portal, ok := portalFor(msg.Sender.Email)
	if !ok {
		return res
	}
	enq := parseEnquiry(msg.Content.Subject, msg.Content.Text)
	enq.Portal = portal
	if enq.EnquirerEmail == "" && enq.EnquirerPhone == "" {
		return res
	}

	msg.Metadata["portal_sender"] = msg.Sender.Email
	msg.Metadata["portal"] = string(portal)
	setMeta(msg.Metadata, "listing_id", enq.ListingID)
	setMeta(msg.Metadata, "property_address", enq.PropertyAddress)
	msg.Channel = portal
	msg.Sender = Sender{
		Email: enq.EnquirerEmail,
		Phone: enq.EnquirerPhone,
		Name:  orUnknown(enq.EnquirerName),
	}
	if enq.Message != "" {
		msg.Content.Text = enq.Message
	}
	res.Kind = EmailPortalEnquiry
	res.Message = msg
	res.Enquiry = &enq
	return res
}

func portalFor(addr string) (channel.Channel, bool) {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return "", false
	}
	domain := addr[at+1:]
	for _, p := range portalDomains {
		if domain == p.suffix || strings.HasSuffix(domain, "."+p.suffix) {
			return p.portal, true
		}
	}
	return "", false
}

func parseEnquiry(subject, body string) PortalEnquiry {
	var enq PortalEnquiry
	for _, m := range enquiryFieldRe.FindAllStringSubmatch(body, -1) {
		key, val := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		switch key {
		case "name", "full name":
			enq.EnquirerName = val
		case "email", "email address":
			_, enq.EnquirerEmail = parseAddress(val)
		case "phone", "mobile", "phone number":
			enq.EnquirerPhone = val
		case "message", "comments":
			enq.Message = val
		case "property", "property address", "address":
			enq.PropertyAddress = val
		case "listing id", "property id":
			enq.ListingID = val
		}
	}
	if enq.ListingID == "" {
		if m := listingURLRe.FindStringSubmatch(body); m != nil {
			enq.ListingID = m[1]
		}
	}
	if enq.PropertyAddress == "" {
		if m := subjectAddrRe.FindStringSubmatch(strings.TrimSpace(subject)); m != nil {
			enq.PropertyAddress = strings.TrimSpace(m[1])
		}
	}
	return enq
}

// parseAddress splits an RFC 5322 address into display name and
// lower-cased address, tolerating bare or malformed input.
func parseAddress(s string) (name, addr string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Name, strings.ToLower(a.Address)
	}
	if i, j := strings.LastIndex(s, "<"), strings.LastIndex(s, ">"); i >= 0 && j > i {
		return strings.Trim(strings.TrimSpace(s[:i]), `"`), strings.ToLower(strings.TrimSpace(s[i+1 : j]))
	}
	return "", strings.ToLower(s)
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// HTMLToText renders an HTML body as readable plain text.
func HTMLToText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(tagRe.ReplaceAllString(html, " "))
	}
	return strings.TrimSpace(md)
}
