package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses.
const (
	MessageStatusPending   = "pending"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// ConversationMessage is the durable canonical record of one message on
// any channel. (Channel, ExternalID) is unique when ExternalID is set and
// is the idempotency key for webhook redeliveries.
type ConversationMessage struct {
	ID            string            `gorm:"primaryKey;size:36"`
	Channel       string            `gorm:"size:32;not null;index;uniqueIndex:idx_message_channel_external,priority:1"`
	Direction     string            `gorm:"size:8;not null"`
	ContactID     string            `gorm:"size:36;not null;index:idx_message_contact_created,priority:1"`
	AgentID       string            `gorm:"size:64;not null;index"`
	Subject       string            `gorm:"size:512"`
	Body          string            `gorm:"type:text"`
	HTML          string            `gorm:"type:text"`
	Attachments   datatypes.JSON    `gorm:"type:json"`
	Metadata      datatypes.JSONMap `gorm:"type:json"`
	ExternalID    *string           `gorm:"size:255;uniqueIndex:idx_message_channel_external,priority:2"`
	ThreadID      string            `gorm:"size:255"`
	PropertyID    *string           `gorm:"size:36;index"`
	TransactionID *string           `gorm:"size:36;index"`
	Status        string            `gorm:"size:16;not null;default:pending"`
	IsRead        bool              `gorm:"default:false;index"`
	ReceivedAt    time.Time
	CreatedAt     time.Time `gorm:"index:idx_message_contact_created,priority:2"`
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (m *ConversationMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = newID()
	}
	return nil
}
