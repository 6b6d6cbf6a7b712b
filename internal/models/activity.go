package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Activity is one human-readable timeline entry on a contact.
type Activity struct {
	ID          string            `gorm:"primaryKey;size:36"`
	ContactID   string            `gorm:"size:36;not null;index"`
	AgentID     string            `gorm:"size:64"`
	Type        string            `gorm:"size:32;not null"`
	Title       string            `gorm:"size:255;not null"`
	Description string            `gorm:"type:text"`
	MessageID   *string           `gorm:"size:36;index"`
	PropertyID  *string           `gorm:"size:36"`
	Metadata    datatypes.JSONMap `gorm:"type:json"`
	CreatedAt   time.Time         `gorm:"index"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = newID()
	}
	return nil
}
