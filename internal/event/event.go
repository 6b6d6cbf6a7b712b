// Package event defines the domain events that drive workflows.
package event

import (
	"fmt"
	"time"

	"github.com/zulandar/listingdesk/internal/apperr"
)

// Type identifies a domain event. Workflow triggers use the same names.
type Type string

// Event types.
const (
	NewMessage      Type = "new_message"
	NewLead         Type = "new_lead"
	StageChange     Type = "stage_change"
	FieldChange     Type = "field_change"
	TimeBased       Type = "time_based"
	NoActivity      Type = "no_activity"
	DateApproaching Type = "date_approaching"
	FormSubmitted   Type = "form_submitted"
)

var known = map[Type]bool{
	NewMessage: true, NewLead: true, StageChange: true, FieldChange: true,
	TimeBased: true, NoActivity: true, DateApproaching: true, FormSubmitted: true,
}

// ParseType validates s as an event type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !known[t] {
		return "", fmt.Errorf("event: unknown type %q", s)
	}
	return t, nil
}

// Event is one domain occurrence. Data carries type-specific parameters,
// e.g. from_stage/to_stage for stage_change.
type Event struct {
	Type          Type           `json:"type" binding:"required"`
	ContactID     string         `json:"contactId,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt,omitempty"`
}

// Validate checks that the event is well formed.
func (e Event) Validate() error {
	ve := &apperr.ValidationError{}
	if !known[e.Type] {
		ve.Add("type", fmt.Sprintf("unknown event type %q", e.Type))
	}
	switch e.Type {
	case NewMessage, NewLead, StageChange, FieldChange, NoActivity, FormSubmitted:
		if e.ContactID == "" && e.TransactionID == "" {
			ve.Add("contactId", "is required for "+string(e.Type))
		}
	}
	if e.Type == FieldChange && e.DataString("field") == "" {
		ve.Add("data.field", "is required for field_change")
	}
	return ve.Err()
}

// DataString returns Data[key] as a string, or "".
func (e Event) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	switch v := e.Data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func newEvent(t Type, contactID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: t, ContactID: contactID, Data: data, OccurredAt: time.Now()}
}

// NewMessageEvent is raised for every freshly stored inbound message.
func NewMessageEvent(contactID, messageID, ch string) Event {
	return newEvent(NewMessage, contactID, map[string]any{"message_id": messageID, "channel": ch})
}

// NewLeadEvent is raised when a contact was created from first contact.
func NewLeadEvent(contactID, source string) Event {
	return newEvent(NewLead, contactID, map[string]any{"source": source})
}

// StageChangeEvent is raised when a contact moves between pipeline stages.
func StageChangeEvent(contactID, from, to string) Event {
	return newEvent(StageChange, contactID, map[string]any{"from_stage": from, "to_stage": to})
}

// FieldChangeEvent is raised when a contact field is updated.
func FieldChangeEvent(contactID, field string, value any) Event {
	return newEvent(FieldChange, contactID, map[string]any{"field": field, "value": value})
}

// FormSubmittedEvent is raised for portal enquiries and web forms.
func FormSubmittedEvent(contactID, formID string, data map[string]any) Event {
	ev := newEvent(FormSubmitted, contactID, data)
	ev.Data["form_id"] = formID
	return ev
}
