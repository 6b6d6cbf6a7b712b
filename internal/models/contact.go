package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contact is a CRM person record. Identity matching never reads the
// free-text Email/Phone fields here; see ContactChannels.
type Contact struct {
	ID              string                      `gorm:"primaryKey;size:36"`
	FirstName       string                      `gorm:"size:128;not null;default:Unknown"`
	LastName        string                      `gorm:"size:128;not null;default:Unknown"`
	Email           string                      `gorm:"size:255"`
	Phone           string                      `gorm:"size:32"`
	Source          string                      `gorm:"size:64;index"`
	Stage           string                      `gorm:"size:32;default:new;index"`
	Status          string                      `gorm:"size:16;default:active"`
	Tags            datatypes.JSONSlice[string] `gorm:"type:json"`
	AssignedAgentID string                      `gorm:"size:64;not null;index"`
	BudgetMin       *float64
	BudgetMax       *float64
	Suburb          string     `gorm:"size:128"`
	Notes           string     `gorm:"type:text"`
	LastContactAt   *time.Time `gorm:"index"`
	NextFollowUpAt  *time.Time
	SettlementDate  *time.Time
	DateOfBirth     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BeforeCreate assigns a UUID when the caller did not.
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = newID()
	}
	return nil
}

// HasTag reports whether tag is present on the contact.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ContactChannels is the identity index owned 1:1 by a Contact.
type ContactChannels struct {
	ContactID      string                      `gorm:"primaryKey;size:36"`
	Emails         datatypes.JSONSlice[string] `gorm:"type:json"`
	Phones         datatypes.JSONSlice[string] `gorm:"type:json"`
	InstagramID    *string                     `gorm:"size:128"`
	FacebookID     *string                     `gorm:"size:128"`
	WhatsAppNumber *string                     `gorm:"column:whatsapp_number;size:32"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName keeps the plural table name explicit.
func (ContactChannels) TableName() string { return "contact_channels" }

// Identifier kinds stored in ContactIdentifier.Kind.
const (
	IdentifierPhone     = "phone"
	IdentifierEmail     = "email"
	IdentifierInstagram = "instagram"
	IdentifierFacebook  = "facebook"
	IdentifierWhatsApp  = "whatsapp"
)

// ContactIdentifier is one normalized identity key of a ContactChannels
// row. (Kind, Value) is unique across all contacts, which is what guards
// concurrent first-contact creation for the same sender.
type ContactIdentifier struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ContactID string `gorm:"size:36;not null;index"`
	Kind      string `gorm:"size:16;not null;uniqueIndex:idx_identifier_kind_value,priority:1"`
	Value     string `gorm:"size:255;not null;uniqueIndex:idx_identifier_kind_value,priority:2"`
	CreatedAt time.Time
}
