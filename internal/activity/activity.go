// Package activity writes human-readable timeline entries for contacts.
package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PreviewRunes is the maximum length of a message preview in a timeline entry.
const PreviewRunes = 200

// Logger records Activity rows.
type Logger struct {
	db *gorm.DB
}

// NewLogger creates a Logger.
func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

// Entry is a free-form timeline entry.
type Entry struct {
	ContactID   string
	AgentID     string
	Type        string
	Title       string
	Description string
	MessageID   *string
	PropertyID  *string
	Metadata    map[string]any
}

// Log writes e.
func (l *Logger) Log(ctx context.Context, e Entry) (*models.Activity, error) {
	if e.ContactID == "" {
		return nil, fmt.Errorf("activity: contactID is required")
	}
	if e.Title == "" {
		return nil, fmt.Errorf("activity: title is required")
	}
	a := models.Activity{
		ContactID:   e.ContactID,
		AgentID:     e.AgentID,
		Type:        e.Type,
		Title:       e.Title,
		Description: e.Description,
		MessageID:   e.MessageID,
		PropertyID:  e.PropertyID,
		Metadata:    datatypes.JSONMap(e.Metadata),
	}
	if a.Type == "" {
		a.Type = "note"
	}
	if err := l.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, fmt.Errorf("activity: log: %w", err)
	}
	return &a, nil
}

// LogMessage writes the timeline entry for a stored message, e.g.
// "SMS received" or "Email sent". Callers treat its error as non-fatal.
func (l *Logger) LogMessage(ctx context.Context, m *models.ConversationMessage) (*models.Activity, error) {
	ch := channel.Channel(m.Channel)
	meta := map[string]any{
		"channel":   m.Channel,
		"direction": m.Direction,
		"status":    m.Status,
	}
	if m.ExternalID != nil {
		meta["external_id"] = *m.ExternalID
	}
	return l.Log(ctx, Entry{
		ContactID:   m.ContactID,
		AgentID:     m.AgentID,
		Type:        ch.ActivityType(),
		Title:       MessageTitle(ch, m.Direction),
		Description: Preview(messageText(m)),
		MessageID:   &m.ID,
		PropertyID:  m.PropertyID,
		Metadata:    meta,
	})
}

// MessageTitle is the timeline title for a message on ch.
func MessageTitle(ch channel.Channel, direction string) string {
	verb := "received"
	if direction == models.DirectionOutbound {
		verb = "sent"
	}
	return ch.Label() + " " + verb
}

// Preview shortens s to PreviewRunes runes on a rune boundary.
func Preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= PreviewRunes {
		return s
	}
	return string(r[:PreviewRunes-1]) + "…"
}

func messageText(m *models.ConversationMessage) string {
	if m.Body != "" {
		return m.Body
	}
	return m.Subject
}
