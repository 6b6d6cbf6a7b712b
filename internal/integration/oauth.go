package integration

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zulandar/listingdesk/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

// GoogleEndpoint is Google's OAuth 2.0 endpoint.
var GoogleEndpoint = google.Endpoint

// storedToken converts a stored row to an oauth2 token.
func storedToken(row *models.IntegrationToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    row.TokenType,
	}
	if row.Expiry != nil {
		tok.Expiry = *row.Expiry
	}
	return tok
}

// persistingSource writes refreshed tokens back to their row.
type persistingSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	db   *gorm.DB
	row  *models.IntegrationToken
}

// Token implements oauth2.TokenSource.
func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.row.AccessToken {
		return tok, nil
	}
	updates := map[string]any{"access_token": tok.AccessToken, "token_type": tok.TokenType}
	if !tok.Expiry.IsZero() {
		updates["expiry"] = tok.Expiry
	}
	if tok.RefreshToken != "" && tok.RefreshToken != s.row.RefreshToken {
		updates["refresh_token"] = tok.RefreshToken
	}
	if err := s.db.Model(&models.IntegrationToken{}).Where("id = ?", s.row.ID).Updates(updates).Error; err != nil {
		// The fresh token is still usable for this request.
		log.Printf("integration: persist refreshed %s token for %s: %v", s.row.Provider, s.row.UserID, err)
		return tok, nil
	}
	s.row.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.row.RefreshToken = tok.RefreshToken
	}
	return tok, nil
}

// oauthClient returns an HTTP client authorised with row's token that
// refreshes through cfg and persists refreshed tokens.
func oauthClient(ctx context.Context, cfg *oauth2.Config, gdb *gorm.DB, row *models.IntegrationToken) (*oauth2.Transport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("integration: %s: oauth client is not configured", row.Provider)
	}
	tok := storedToken(row)
	src := &persistingSource{base: cfg.TokenSource(ctx, tok), db: gdb.WithContext(ctx), row: row}
	return &oauth2.Transport{Source: oauth2.ReuseTokenSource(tok, src)}, nil
}
