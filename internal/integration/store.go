package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveConfig upserts a config-based provider's settings for userID.
func SaveConfig(ctx context.Context, gdb *gorm.DB, userID, provider string, settings map[string]any) (*models.IntegrationConfig, error) {
	ve := &apperr.ValidationError{}
	if userID == "" {
		ve.Add("userId", "is required")
	}
	var required []string
	switch provider {
	case models.ProviderTwilio:
		required = []string{"account_sid", "auth_token", "from_number"}
	case models.ProviderWhatsApp:
		required = []string{"phone_number_id", "access_token"}
	default:
		ve.Add("provider", fmt.Sprintf("%q is not a config-based provider", provider))
	}
	for _, k := range required {
		if s, _ := settings[k].(string); s == "" {
			ve.Add(k, "is required")
		}
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	row := models.IntegrationConfig{UserID: userID, Provider: provider, Config: datatypes.JSONMap(settings), Active: true}
	err := gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "active", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("integration: save %s config: %w", provider, err)
	}
	return &row, nil
}

// SaveToken stores an OAuth token for a token-based provider.
func SaveToken(ctx context.Context, gdb *gorm.DB, userID, provider string, tok *oauth2.Token, accountEmail, accountID string) (*models.IntegrationToken, error) {
	ve := &apperr.ValidationError{}
	if userID == "" {
		ve.Add("userId", "is required")
	}
	if provider != models.ProviderGmail && provider != models.ProviderMeta {
		ve.Add("provider", fmt.Sprintf("%q is not a token-based provider", provider))
	}
	if tok == nil || tok.AccessToken == "" {
		ve.Add("accessToken", "is required")
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	row := models.IntegrationToken{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		AccountEmail: accountEmail,
		AccountID:    accountID,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		row.Expiry = &exp
	}
	err := gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "token_type", "expiry", "account_email", "account_id", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("integration: save %s token: %w", provider, err)
	}
	return &row, nil
}

// FindTokenByAccountEmail returns the token row for a connected mailbox.
func FindTokenByAccountEmail(ctx context.Context, gdb *gorm.DB, provider, email string) (*models.IntegrationToken, error) {
	var tok models.IntegrationToken
	err := gdb.WithContext(ctx).Where("provider = ? AND LOWER(account_email) = LOWER(?)", provider, email).First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("integration: no %s account %s: %w", provider, email, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("integration: find %s account: %w", provider, err)
	}
	return &tok, nil
}

// UpdateCursor records the provider sync position for a token row.
func UpdateCursor(ctx context.Context, gdb *gorm.DB, tokenID uint, cursor string) error {
	err := gdb.WithContext(ctx).Model(&models.IntegrationToken{}).
		Where("id = ?", tokenID).
		Updates(map[string]any{"cursor": cursor, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("integration: update cursor: %w", err)
	}
	return nil
}
