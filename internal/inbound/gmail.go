package inbound

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// GmailNotification is the decoded inner payload of a Gmail push message.
// It only says that the mailbox changed; messages are fetched separately.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// pubSubPush is the Cloud Pub/Sub push envelope.
type pubSubPush struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeGmailPush unwraps a Pub/Sub push body carrying a base64-encoded
// Gmail notification. Any malformation is an error (reported as 400).
func DecodeGmailPush(body []byte) (GmailNotification, error) {
	var env pubSubPush
	if err := json.Unmarshal(body, &env); err != nil {
		return GmailNotification{}, fmt.Errorf("inbound: gmail push: decode envelope: %w", err)
	}
	if env.Message.Data == "" {
		return GmailNotification{}, fmt.Errorf("inbound: gmail push: message.data is empty")
	}
	data, err := decodeBase64(env.Message.Data)
	if err != nil {
		return GmailNotification{}, fmt.Errorf("inbound: gmail push: decode data: %w", err)
	}
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return GmailNotification{}, fmt.Errorf("inbound: gmail push: decode notification: %w", err)
	}
	if n.EmailAddress == "" {
		return GmailNotification{}, fmt.Errorf("inbound: gmail push: emailAddress is empty")
	}
	n.EmailAddress = strings.ToLower(n.EmailAddress)
	return n, nil
}

// decodeBase64 accepts standard or URL-safe encoding, padded or not.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("invalid base64")
}
