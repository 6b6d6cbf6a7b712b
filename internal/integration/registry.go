package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// Options configures provider access for a Registry.
type Options struct {
	GoogleOAuth   *oauth2.Config
	HTTPClient    *http.Client // base client for provider calls; nil uses http.DefaultClient
	SendTimeout   time.Duration
	TwilioBaseURL string
	GraphBaseURL  string
	GmailBaseURL  string
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.TwilioBaseURL == "" {
		o.TwilioBaseURL = DefaultTwilioBaseURL
	}
	if o.GraphBaseURL == "" {
		o.GraphBaseURL = DefaultGraphBaseURL
	}
	if o.GmailBaseURL == "" {
		o.GmailBaseURL = DefaultGmailBaseURL
	}
	return o
}

// Registry resolves one user's provider clients. Build one per operation;
// it holds no long-lived state.
type Registry struct {
	db     *gorm.DB
	userID string
	opts   Options
}

// NewRegistry creates a Registry for userID.
func NewRegistry(gdb *gorm.DB, userID string, opts Options) (*Registry, error) {
	if gdb == nil {
		return nil, fmt.Errorf("integration: registry: db is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("integration: registry: user id is required")
	}
	return &Registry{db: gdb, userID: userID, opts: opts.withDefaults()}, nil
}

// ClientFor returns the outbound client for ch, or nil when the user has
// not connected the provider behind it. Errors are storage or auth
// failures only.
func (r *Registry) ClientFor(ctx context.Context, ch channel.Channel) (OutboundChannel, error) {
	switch ch {
	case channel.SMS:
		cfg, err := r.config(ctx, models.ProviderTwilio)
		if err != nil || cfg == nil {
			return nil, err
		}
		sid, token, from := cfg.Setting("account_sid"), cfg.Setting("auth_token"), cfg.Setting("from_number")
		if sid == "" || token == "" || from == "" {
			return nil, nil
		}
		return &Twilio{AccountSID: sid, AuthToken: token, From: from, BaseURL: r.opts.TwilioBaseURL, HTTP: r.opts.HTTPClient}, nil

	case channel.WhatsApp:
		cfg, err := r.config(ctx, models.ProviderWhatsApp)
		if err != nil || cfg == nil {
			return nil, err
		}
		id, token := cfg.Setting("phone_number_id"), cfg.Setting("access_token")
		if id == "" || token == "" {
			return nil, nil
		}
		return &WhatsApp{PhoneNumberID: id, AccessToken: token, BaseURL: r.opts.GraphBaseURL, HTTP: r.opts.HTTPClient}, nil

	case channel.Email, channel.DomainEnquiry, channel.REAEnquiry:
		return r.gmail(ctx)

	case channel.FacebookMessenger, channel.InstagramDM:
		tok, err := r.token(ctx, models.ProviderMeta)
		if err != nil || tok == nil {
			return nil, err
		}
		if tok.AccountID == "" {
			return nil, nil
		}
		return &Meta{PageID: tok.AccountID, AccessToken: tok.AccessToken, BaseURL: r.opts.GraphBaseURL, HTTP: r.opts.HTTPClient}, nil
	}
	return nil, nil
}

// Gmail returns the user's Gmail client, or nil when not connected.
func (r *Registry) Gmail(ctx context.Context) (*Gmail, error) {
	g, err := r.gmail(ctx)
	if err != nil || g == nil {
		return nil, err
	}
	return g.(*Gmail), nil
}

func (r *Registry) gmail(ctx context.Context) (OutboundChannel, error) {
	tok, err := r.token(ctx, models.ProviderGmail)
	if err != nil || tok == nil {
		return nil, err
	}
	if r.opts.HTTPClient != http.DefaultClient {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.opts.HTTPClient)
	}
	tr, err := oauthClient(ctx, r.opts.GoogleOAuth, r.db, tok)
	if err != nil {
		return nil, err
	}
	tr.Base = r.opts.HTTPClient.Transport
	return &Gmail{
		Account: tok.AccountEmail,
		BaseURL: r.opts.GmailBaseURL,
		HTTP:    &http.Client{Transport: tr, Timeout: r.opts.HTTPClient.Timeout},
	}, nil
}

func (r *Registry) config(ctx context.Context, provider string) (*models.IntegrationConfig, error) {
	var cfg models.IntegrationConfig
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND active = ?", r.userID, provider, true).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("integration: load %s config: %w", provider, err)
	}
	return &cfg, nil
}

func (r *Registry) token(ctx context.Context, provider string) (*models.IntegrationToken, error) {
	var tok models.IntegrationToken
	err := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", r.userID, provider).First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("integration: load %s token: %w", provider, err)
	}
	return &tok, nil
}

// SendParams is an outbound send addressed by contact.
type SendParams struct {
	ContactID string
	Channel   channel.Channel
	Subject   string
	Body      string
	HTML      string
	ThreadID  string
}

// Send resolves the contact's address on p.Channel and sends through the
// connected provider. A missing recipient, missing integration, or
// provider rejection yields a failed result and a nil error.
func (r *Registry) Send(ctx context.Context, p SendParams) (*SendResult, error) {
	if !p.Channel.Sendable() {
		return failed("channel %s does not support sending", p.Channel), nil
	}
	var cc models.ContactChannels
	err := r.db.WithContext(ctx).Where("contact_id = ?", p.ContactID).First(&cc).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("integration: load contact channels: %w", err)
	}
	to := Recipient(&cc, p.Channel)
	if to == "" {
		return failed("contact has no %s address", p.Channel.Label()), nil
	}
	client, err := r.ClientFor(ctx, p.Channel)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return failed("%s is not connected", p.Channel.Label()), nil
	}

	if r.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SendTimeout)
		defer cancel()
	}
	res, err := client.Send(ctx, OutboundMessage{
		Channel:  p.Channel,
		To:       to,
		Subject:  p.Subject,
		Body:     p.Body,
		HTML:     p.HTML,
		ThreadID: p.ThreadID,
	})
	if err != nil {
		return failed("%v", err), nil
	}
	return res, nil
}

// Recipient is the contact's address for ch, or "" when none is known.
func Recipient(cc *models.ContactChannels, ch channel.Channel) string {
	switch ch {
	case channel.Email, channel.DomainEnquiry, channel.REAEnquiry:
		if len(cc.Emails) > 0 {
			return cc.Emails[0]
		}
	case channel.SMS:
		if len(cc.Phones) > 0 {
			return cc.Phones[0]
		}
	case channel.WhatsApp:
		if cc.WhatsAppNumber != nil && *cc.WhatsAppNumber != "" {
			return *cc.WhatsAppNumber
		}
		if len(cc.Phones) > 0 {
			return cc.Phones[0]
		}
	case channel.InstagramDM:
		if cc.InstagramID != nil {
			return *cc.InstagramID
		}
	case channel.FacebookMessenger:
		if cc.FacebookID != nil {
			return *cc.FacebookID
		}
	}
	return ""
}
