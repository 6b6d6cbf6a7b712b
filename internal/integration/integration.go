// Package integration resolves per-user provider clients and performs
// outbound sends on them.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zulandar/listingdesk/internal/channel"
)

// Default provider API roots. Options can override them.
const (
	DefaultTwilioBaseURL = "https://api.twilio.com"
	DefaultGraphBaseURL  = "https://graph.facebook.com/v21.0"
	DefaultGmailBaseURL  = "https://gmail.googleapis.com"
)

// OutboundMessage is a send request with the recipient already resolved.
type OutboundMessage struct {
	Channel  channel.Channel
	To       string
	Subject  string
	Body     string
	HTML     string
	ThreadID string
}

// SendResult is the outcome of one send. A provider rejection is a
// result with Success false, not an error.
type SendResult struct {
	Success    bool           `json:"success"`
	ExternalID string         `json:"externalId,omitempty"`
	ThreadID   string         `json:"threadId,omitempty"`
	Status     string         `json:"status,omitempty"` // message status to persist
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func failed(format string, args ...any) *SendResult {
	return &SendResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// OutboundChannel is one provider's send capability.
type OutboundChannel interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
}

// APIError is a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API %d: %s", e.Provider, e.StatusCode, e.Body)
}

// doJSON sends req and decodes a 2xx JSON response into out.
func doJSON(client *http.Client, provider string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send: %w", provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
