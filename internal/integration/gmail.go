package integration

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/inbound"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Gmail sends and reads mail for one connected account. HTTP must carry
// the account's OAuth credentials.
type Gmail struct {
	Account string // connected mailbox address
	BaseURL string
	HTTP    *http.Client
}

func (g *Gmail) service(ctx context.Context) (*gmail.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(g.HTTP)}
	if g.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(g.BaseURL, "/")+"/"))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: %w", err)
	}
	return svc, nil
}

// Send implements OutboundChannel.
func (g *Gmail) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	out, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(buildMIME(g.Account, msg)),
		ThreadId: msg.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: send: %w", err)
	}
	return &SendResult{
		Success:    true,
		ExternalID: out.Id,
		ThreadID:   out.ThreadId,
		Status:     "delivered",
		Metadata:   map[string]any{"labels": out.LabelIds},
	}, nil
}

// buildMIME renders a minimal RFC 5322 message.
func buildMIME(from string, msg OutboundMessage) []byte {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	body := msg.Body
	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		body = msg.HTML
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// History lists inbox message ids added since startHistoryID and the
// mailbox's latest history id.
func (g *Gmail) History(ctx context.Context, startHistoryID string) ([]string, string, error) {
	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("gmail: history id %q: %w", startHistoryID, err)
	}
	svc, err := g.service(ctx)
	if err != nil {
		return nil, "", err
	}
	var ids []string
	seen := map[string]bool{}
	latest := start
	call := svc.Users.History.List("me").StartHistoryId(start).HistoryTypes("messageAdded").LabelId("INBOX")
	err = call.Pages(ctx, func(page *gmail.ListHistoryResponse) error {
		for _, h := range page.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if id := added.Message.Id; id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		if page.HistoryId != 0 {
			latest = page.HistoryId
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("gmail: history: %w", err)
	}
	return ids, strconv.FormatUint(latest, 10), nil
}

// Message fetches one message and maps it to the forwarded-email shape.
func (g *Gmail) Message(ctx context.Context, id string) (inbound.ForwardedEmail, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return inbound.ForwardedEmail{}, err
	}
	m, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return inbound.ForwardedEmail{}, fmt.Errorf("gmail: message %s: %w", id, err)
	}
	return forwarded(m), nil
}

func forwarded(m *gmail.Message) inbound.ForwardedEmail {
	e := inbound.ForwardedEmail{ThreadID: m.ThreadId, MessageID: m.Id}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				e.From = h.Value
			case "to":
				for _, addr := range strings.Split(h.Value, ",") {
					if addr = strings.TrimSpace(addr); addr != "" {
						e.To = append(e.To, addr)
					}
				}
			case "subject":
				e.Subject = h.Value
			case "message-id":
				e.MessageID = h.Value
			}
		}
		e.TextBody, e.HTMLBody = bodies(m.Payload)
	}
	if m.InternalDate > 0 {
		e.ReceivedAt = time.UnixMilli(m.InternalDate).UTC().Format(time.RFC3339)
	}
	return e
}

// bodies walks the MIME tree for the first text/plain and text/html parts.
func bodies(p *gmail.MessagePart) (text, html string) {
	data := ""
	if p.Body != nil {
		data = p.Body.Data
	}
	switch p.MimeType {
	case "text/plain":
		return decodePart(data), ""
	case "text/html":
		return "", decodePart(data)
	}
	for _, c := range p.Parts {
		if c == nil {
			continue
		}
		t, h := bodies(c)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func decodePart(data string) string {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b)
		}
	}
	return ""
}
