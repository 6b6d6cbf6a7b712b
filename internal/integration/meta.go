package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	PhoneNumberID string
	AccessToken   string
	BaseURL       string
	HTTP          *http.Client
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send implements OutboundChannel.
func (w *WhatsApp) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.To,
		"type":              "text",
		"text":              map[string]string{"body": msg.Body},
	}
	req, err := newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("%s/%s/messages", w.BaseURL, url.PathEscape(w.PhoneNumberID)), payload)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.AccessToken)

	var out whatsAppSendResponse
	if err := doJSON(w.HTTP, "whatsapp", req, &out); err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return failed("whatsapp: response carried no message id"), nil
	}
	return &SendResult{Success: true, ExternalID: out.Messages[0].ID, Status: "pending"}, nil
}

// Meta sends Messenger and Instagram DMs through the page Send API.
type Meta struct {
	PageID      string
	AccessToken string
	BaseURL     string
	HTTP        *http.Client
}

type metaSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// Send implements OutboundChannel.
func (m *Meta) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	payload := map[string]any{
		"recipient":      map[string]string{"id": msg.To},
		"message":        map[string]string{"text": msg.Body},
		"messaging_type": "RESPONSE",
	}
	endpoint := fmt.Sprintf("%s/%s/messages?access_token=%s", m.BaseURL, url.PathEscape(m.PageID), url.QueryEscape(m.AccessToken))
	req, err := newJSONRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	var out metaSendResponse
	if err := doJSON(m.HTTP, "meta", req, &out); err != nil {
		return nil, err
	}
	return &SendResult{
		Success:    true,
		ExternalID: out.MessageID,
		Status:     "delivered",
		Metadata:   map[string]any{"recipient_id": out.RecipientID},
	}, nil
}
