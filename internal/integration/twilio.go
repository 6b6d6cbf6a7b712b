package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Twilio sends SMS through the Messages API.
type Twilio struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	HTTP       *http.Client
}

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Send implements OutboundChannel.
func (t *Twilio) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", t.From)
	form.Set("Body", msg.Body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.BaseURL, url.PathEscape(t.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.AccountSID, t.AuthToken)

	var out twilioMessage
	if err := doJSON(t.HTTP, "twilio", req, &out); err != nil {
		return nil, err
	}
	return &SendResult{
		Success:    true,
		ExternalID: out.SID,
		Status:     twilioStatus(out.Status),
		Metadata:   map[string]any{"provider_status": out.Status},
	}, nil
}

// twilioStatus maps a Twilio message status onto the stored status set.
func twilioStatus(s string) string {
	switch s {
	case "delivered", "sent":
		return "delivered"
	case "read":
		return "read"
	case "failed", "undelivered", "canceled":
		return "failed"
	}
	return "pending"
}
