package inbound

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/channel"
)

// TwilioSMS normalizes Twilio inbound SMS/MMS webhooks (form posts).
type TwilioSMS struct{}

// Provider implements Normalizer.
func (TwilioSMS) Provider() string { return ProviderTwilioSMS }

// Normalize implements Normalizer.
func (TwilioSMS) Normalize(raw Raw) ([]Message, error) {
	if raw.Form == nil {
		return nil, fmt.Errorf("inbound: twilio sms: form payload required")
	}
	return []Message{NormalizeSMS(raw.Form, raw.ReceivedAt)}, nil
}

// IdentityFields implements Normalizer.
func (TwilioSMS) IdentityFields(msg Message) IdentitySet {
	return genericIdentity(msg)
}

// maxTwilioMedia is the most media items Twilio attaches to one message.
const maxTwilioMedia = 10

// NormalizeSMS maps a Twilio messaging webhook to a Message. Missing
// fields become empty values; it never fails.
func NormalizeSMS(form url.Values, receivedAt time.Time) Message {
	msg := newMessage(channel.SMS, receivedAt)
	msg.Sender = Sender{
		Phone: strings.TrimSpace(form.Get("From")),
		Name:  DefaultSenderName,
	}
	msg.Content.Text = form.Get("Body")
	msg.ExternalID = form.Get("MessageSid")
	if msg.ExternalID == "" {
		msg.ExternalID = form.Get("SmsSid")
	}

	n, _ := strconv.Atoi(form.Get("NumMedia"))
	n = min(max(n, 0), maxTwilioMedia)
	for i := 0; i < n; i++ {
		u := form.Get(fmt.Sprintf("MediaUrl%d", i))
		if u == "" {
			continue
		}
		msg.Content.Attachments = append(msg.Content.Attachments, Attachment{
			URL:         u,
			ContentType: form.Get(fmt.Sprintf("MediaContentType%d", i)),
		})
	}

	setMeta(msg.Metadata, "to", form.Get("To"))
	setMeta(msg.Metadata, "account_sid", form.Get("AccountSid"))
	setMeta(msg.Metadata, "from_city", form.Get("FromCity"))
	setMeta(msg.Metadata, "from_state", form.Get("FromState"))
	setMeta(msg.Metadata, "from_country", form.Get("FromCountry"))
	if n > 0 {
		msg.Metadata["num_media"] = strconv.Itoa(n)
	}
	return msg
}

// terminalCallStatuses are the Twilio call states that produce a record.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
	"failed":    true,
}

// TwilioVoice normalizes Twilio voice status callbacks (form posts).
type TwilioVoice struct{}

// Provider implements Normalizer.
func (TwilioVoice) Provider() string { return ProviderTwilioVoice }

// Normalize implements Normalizer. Non-terminal call states yield no message.
func (TwilioVoice) Normalize(raw Raw) ([]Message, error) {
	if raw.Form == nil {
		return nil, fmt.Errorf("inbound: twilio voice: form payload required")
	}
	msg, ok := NormalizeCallStatus(raw.Form, raw.ReceivedAt)
	if !ok {
		return nil, nil
	}
	return []Message{msg}, nil
}

// IdentityFields implements Normalizer.
func (TwilioVoice) IdentityFields(msg Message) IdentitySet {
	return genericIdentity(msg)
}

// NormalizeCallStatus maps a voice status callback to a phone_call Message.
// The second return is false for non-terminal states (queued, ringing,
// in-progress), which are acknowledged but not recorded.
func NormalizeCallStatus(form url.Values, receivedAt time.Time) (Message, bool) {
	status := strings.ToLower(form.Get("CallStatus"))
	if !terminalCallStatuses[status] {
		return Message{}, false
	}

	direction := strings.ToLower(form.Get("Direction"))
	counterpart := form.Get("From")
	if strings.HasPrefix(direction, "outbound") {
		counterpart = form.Get("To")
	}

	msg := newMessage(channel.PhoneCall, receivedAt)
	msg.Sender = Sender{Phone: strings.TrimSpace(counterpart), Name: orUnknown(form.Get("CallerName"))}
	msg.ExternalID = form.Get("CallSid")

	duration, _ := strconv.Atoi(form.Get("CallDuration"))
	msg.Content.Text = callSummary(status, duration)

	msg.Metadata["call_status"] = status
	msg.Metadata["duration_seconds"] = strconv.Itoa(duration)
	setMeta(msg.Metadata, "call_direction", direction)
	setMeta(msg.Metadata, "recording_url", form.Get("RecordingUrl"))
	setMeta(msg.Metadata, "recording_sid", form.Get("RecordingSid"))
	setMeta(msg.Metadata, "to", form.Get("To"))
	if ts := form.Get("Timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			msg.ReceivedAt = t
		}
	}
	return msg, true
}

func callSummary(status string, seconds int) string {
	switch status {
	case "completed":
		return fmt.Sprintf("Call completed (%s)", time.Duration(seconds)*time.Second)
	case "no-answer":
		return "Missed call (no answer)"
	case "busy":
		return "Missed call (line busy)"
	case "canceled":
		return "Call cancelled before answer"
	default:
		return "Call failed"
	}
}

// StatusUpdate is a provider delivery receipt for a previously sent message.
type StatusUpdate struct {
	Channel    channel.Channel
	ExternalID string
	Status     string // pending, delivered, read, failed
	ErrorCode  string
}

// twilioMessageStatus maps Twilio MessageStatus values onto message statuses.
var twilioMessageStatus = map[string]string{
	"accepted":    "pending",
	"queued":      "pending",
	"sending":     "pending",
	"sent":        "pending",
	"delivered":   "delivered",
	"read":        "read",
	"undelivered": "failed",
	"failed":      "failed",
}

// NormalizeSMSStatus maps a Twilio status callback to a StatusUpdate. The
// second return is false when the callback carries no usable status.
func NormalizeSMSStatus(form url.Values) (StatusUpdate, bool) {
	sid := form.Get("MessageSid")
	status, ok := twilioMessageStatus[strings.ToLower(form.Get("MessageStatus"))]
	if sid == "" || !ok {
		return StatusUpdate{}, false
	}
	return StatusUpdate{
		Channel:    channel.SMS,
		ExternalID: sid,
		Status:     status,
		ErrorCode:  form.Get("ErrorCode"),
	}, true
}
