// Package conversation persists canonical conversation messages exactly
// once per (channel, external id) and maintains contact recency.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/inbound"
	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultListLimit caps ListForContact when no limit is given.
const DefaultListLimit = 50

// Store persists ConversationMessages.
type Store struct {
	db         *gorm.DB
	unassigned string
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB                *gorm.DB
	UnassignedAgentID string // defaults to "unassigned"
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("conversation: store: db is required")
	}
	unassigned := opts.UnassignedAgentID
	if unassigned == "" {
		unassigned = "unassigned"
	}
	return &Store{db: opts.DB, unassigned: unassigned}, nil
}

// RecordInbound stores msg for contactID. The agent is the contact's
// current assignee. When (channel, external id) was already stored the
// existing row is returned with created=false and nothing else happens.
// After a fresh insert the contact's last-contact time is advanced.
func (s *Store) RecordInbound(ctx context.Context, contactID string, msg inbound.Message) (*models.ConversationMessage, bool, error) {
	if contactID == "" {
		return nil, false, fmt.Errorf("conversation: record inbound: %w", apperr.Invalid("contactId", "is required"))
	}
	if !msg.Channel.Valid() {
		return nil, false, fmt.Errorf("conversation: record inbound: %w", apperr.Invalid("channel", "is not a known channel"))
	}

	agentID, err := s.agentFor(ctx, contactID)
	if err != nil {
		return nil, false, err
	}

	row := models.ConversationMessage{
		Channel:     string(msg.Channel),
		Direction:   models.DirectionInbound,
		ContactID:   contactID,
		AgentID:     agentID,
		Subject:     msg.Content.Subject,
		Body:        msg.Content.Text,
		HTML:        msg.Content.HTML,
		Attachments: attachmentsJSON(msg.Content.Attachments),
		Metadata:    metadataMap(msg.Metadata),
		ExternalID:  optional(msg.ExternalID),
		ThreadID:    msg.Metadata["thread_id"],
		Status:      models.MessageStatusDelivered,
		ReceivedAt:  msg.ReceivedAt,
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if row.ExternalID != nil && db.IsUniqueViolation(err) {
			prior, ferr := s.byExternalID(ctx, msg.Channel, *row.ExternalID)
			if ferr != nil {
				return nil, false, ferr
			}
			return prior, false, nil
		}
		return nil, false, fmt.Errorf("conversation: record inbound: %w", err)
	}

	s.touchContact(ctx, contactID, row.ReceivedAt)
	return &row, true, nil
}

// OutboundRecord describes a message sent to a contact.
type OutboundRecord struct {
	ContactID     string
	AgentID       string
	Channel       channel.Channel
	Subject       string
	Body          string
	HTML          string
	PropertyID    *string
	TransactionID *string
	ExternalID    string // provider message id, when the send succeeded
	ThreadID      string
	Status        string // delivered or failed
	Metadata      map[string]any
}

// RecordOutbound stores an agent- or workflow-authored message. Outbound
// messages are always marked read.
func (s *Store) RecordOutbound(ctx context.Context, rec OutboundRecord) (*models.ConversationMessage, error) {
	if rec.ContactID == "" {
		return nil, fmt.Errorf("conversation: record outbound: %w", apperr.Invalid("contactId", "is required"))
	}
	status := rec.Status
	if status == "" {
		status = models.MessageStatusPending
	}
	row := models.ConversationMessage{
		Channel:       string(rec.Channel),
		Direction:     models.DirectionOutbound,
		ContactID:     rec.ContactID,
		AgentID:       rec.AgentID,
		Subject:       rec.Subject,
		Body:          rec.Body,
		HTML:          rec.HTML,
		Metadata:      datatypes.JSONMap(rec.Metadata),
		ExternalID:    optional(rec.ExternalID),
		ThreadID:      rec.ThreadID,
		PropertyID:    rec.PropertyID,
		TransactionID: rec.TransactionID,
		Status:        status,
		IsRead:        true,
		ReceivedAt:    time.Now(),
	}
	if row.AgentID == "" {
		row.AgentID = s.unassigned
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if row.ExternalID != nil && db.IsUniqueViolation(err) {
			return s.byExternalID(ctx, rec.Channel, *row.ExternalID)
		}
		return nil, fmt.Errorf("conversation: record outbound: %w", err)
	}
	return &row, nil
}

// Get returns a message by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ConversationMessage, error) {
	var m models.ConversationMessage
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if db.IsNotFound(err) {
		return nil, fmt.Errorf("conversation: message %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", id, err)
	}
	return &m, nil
}

// ListForContact returns a contact's messages, newest first.
func (s *Store) ListForContact(ctx context.Context, contactID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var msgs []models.ConversationMessage
	if err := s.db.WithContext(ctx).Where("contact_id = ?", contactID).
		Order("created_at DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("conversation: list %s: %w", contactID, err)
	}
	return msgs, nil
}

// MarkRead sets the read flag on a message.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.ConversationMessage{}).
		Where("id = ?", id).Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("conversation: mark read %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation: message %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// SoftDelete hides a message. Rows are never removed physically, so a
// redelivery of a deleted message is still recognised as a duplicate.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ConversationMessage{})
	if result.Error != nil {
		return fmt.Errorf("conversation: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation: message %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *Store) byExternalID(ctx context.Context, ch channel.Channel, externalID string) (*models.ConversationMessage, error) {
	var m models.ConversationMessage
	err := s.db.WithContext(ctx).Unscoped().
		Where("channel = ? AND external_id = ?", string(ch), externalID).First(&m).Error
	if err != nil {
		return nil, fmt.Errorf("conversation: load %s/%s: %w", ch, externalID, err)
	}
	return &m, nil
}

func (s *Store) agentFor(ctx context.Context, contactID string) (string, error) {
	var c models.Contact
	err := s.db.WithContext(ctx).Select("id", "assigned_agent_id").Where("id = ?", contactID).First(&c).Error
	if db.IsNotFound(err) {
		return "", fmt.Errorf("conversation: contact %s: %w", contactID, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("conversation: load contact %s: %w", contactID, err)
	}
	if c.AssignedAgentID == "" {
		return s.unassigned, nil
	}
	return c.AssignedAgentID, nil
}

// touchContact advances last_contact_at; it never moves backwards.
func (s *Store) touchContact(ctx context.Context, contactID string, at time.Time) {
	err := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("id = ? AND (last_contact_at IS NULL OR last_contact_at < ?)", contactID, at).
		Update("last_contact_at", at).Error
	if err != nil {
		log.Printf("conversation: update last contact for %s: %v", contactID, err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func attachmentsJSON(atts []inbound.Attachment) datatypes.JSON {
	if len(atts) == 0 {
		return nil
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func metadataMap(m map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
