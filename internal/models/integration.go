package models

import (
	"time"

	"gorm.io/datatypes"
)

// Integration providers.
const (
	ProviderTwilio   = "twilio"
	ProviderWhatsApp = "whatsapp"
	ProviderMeta     = "meta"
	ProviderGmail    = "gmail"
)

// IntegrationToken stores an OAuth token for a token-based provider.
// Acquiring the token is handled elsewhere; this table only holds the result.
type IntegrationToken struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       string `gorm:"size:64;not null;uniqueIndex:idx_token_user_provider,priority:1"`
	Provider     string `gorm:"size:32;not null;uniqueIndex:idx_token_user_provider,priority:2"`
	AccessToken  string `gorm:"type:text;not null"`
	RefreshToken string `gorm:"type:text"`
	TokenType    string `gorm:"size:32"`
	Expiry       *time.Time
	AccountEmail string `gorm:"size:255;index"`
	AccountID    string `gorm:"size:128"` // page / business account id
	Cursor       string `gorm:"size:64"`  // provider sync position, e.g. Gmail historyId
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IntegrationConfig stores credentials for a config-based provider.
type IntegrationConfig struct {
	ID        uint              `gorm:"primaryKey;autoIncrement"`
	UserID    string            `gorm:"size:64;not null;uniqueIndex:idx_config_user_provider,priority:1"`
	Provider  string            `gorm:"size:32;not null;uniqueIndex:idx_config_user_provider,priority:2"`
	Config    datatypes.JSONMap `gorm:"type:json"`
	Active    bool              `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Setting returns a string config value, or "" when absent.
func (c *IntegrationConfig) Setting(key string) string {
	if c.Config == nil {
		return ""
	}
	v, ok := c.Config[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
