// Package pipeline runs inbound messages through identity resolution,
// persistence, activity logging and workflow dispatch, and sends
// outbound messages through the user's connected providers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/activity"
	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/conversation"
	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/identity"
	"github.com/zulandar/listingdesk/internal/inbound"
	"github.com/zulandar/listingdesk/internal/integration"
	"github.com/zulandar/listingdesk/internal/models"
	"github.com/zulandar/listingdesk/internal/workflow"
	"gorm.io/gorm"
)

// Dispatcher runs the workflows an event triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Event) ([]workflow.RunOutcome, error)
}

// InboundOpts holds parameters for creating an Inbound pipeline.
type InboundOpts struct {
	DB           *gorm.DB
	Resolver     *identity.Resolver
	Store        *conversation.Store
	Dispatcher   Dispatcher // nil disables workflow dispatch
	Integrations integration.Options
	Now          func() time.Time
}

// Inbound processes normalized inbound messages.
type Inbound struct {
	db           *gorm.DB
	resolver     *identity.Resolver
	store        *conversation.Store
	activity     *activity.Logger
	dispatcher   Dispatcher
	integrations integration.Options
	now          func() time.Time
}

// NewInbound creates an Inbound pipeline.
func NewInbound(opts InboundOpts) (*Inbound, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: inbound: db is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("pipeline: inbound: resolver is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: inbound: store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Inbound{
		db:           opts.DB,
		resolver:     opts.Resolver,
		store:        opts.Store,
		activity:     activity.NewLogger(opts.DB),
		dispatcher:   opts.Dispatcher,
		integrations: opts.Integrations,
		now:          opts.Now,
	}, nil
}

// ProcessOpts carries per-message context the normalized message lacks.
type ProcessOpts struct {
	Enquiry *inbound.PortalEnquiry // set for portal enquiries
}

// Result is the outcome of processing one inbound message.
type Result struct {
	ContactID      string                `json:"contactId"`
	ContactCreated bool                  `json:"contactCreated"`
	MessageID      string                `json:"messageId"`
	Duplicate      bool                  `json:"duplicate"`
	Runs           []workflow.RunOutcome `json:"runs,omitempty"`
}

// Process resolves the sender, stores the message, logs the timeline
// entry and dispatches the events the message raises. A redelivered
// message (same channel and external id) stops after persistence.
// Activity and dispatch failures are logged, not returned.
func (p *Inbound) Process(ctx context.Context, msg inbound.Message, opts ProcessOpts) (Result, error) {
	if err := msg.Validate(); err != nil {
		return Result{}, fmt.Errorf("pipeline: %w", apperr.Invalid("message", err.Error()))
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = p.now()
	}

	res, err := p.resolver.Resolve(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	row, created, err := p.store.RecordInbound(ctx, res.ContactID, msg)
	if err != nil {
		return Result{}, err
	}
	out := Result{ContactID: res.ContactID, ContactCreated: res.Created, MessageID: row.ID}
	if !created {
		out.Duplicate = true
		return out, nil
	}

	if _, err := p.activity.LogMessage(ctx, row); err != nil {
		log.Printf("pipeline: activity for message %s: %v", row.ID, err)
	}

	events := []event.Event{event.NewMessageEvent(res.ContactID, row.ID, string(msg.Channel))}
	if res.Created {
		events = append(events, event.NewLeadEvent(res.ContactID, msg.Channel.LeadSource()))
	}
	if opts.Enquiry != nil {
		events = append(events, event.FormSubmittedEvent(res.ContactID, string(opts.Enquiry.Portal), enquiryData(opts.Enquiry)))
	}
	out.Runs = p.dispatch(ctx, events)
	return out, nil
}

func (p *Inbound) dispatch(ctx context.Context, events []event.Event) []workflow.RunOutcome {
	if p.dispatcher == nil {
		return nil
	}
	var runs []workflow.RunOutcome
	for _, ev := range events {
		outcomes, err := p.dispatcher.Dispatch(ctx, ev)
		if err != nil {
			log.Printf("pipeline: dispatch %s for contact %s: %v", ev.Type, ev.ContactID, err)
			continue
		}
		runs = append(runs, outcomes...)
	}
	return runs
}

func enquiryData(enq *inbound.PortalEnquiry) map[string]any {
	data := map[string]any{}
	for k, v := range map[string]string{
		"listing_id":       enq.ListingID,
		"property_address": enq.PropertyAddress,
		"enquirer_name":    enq.EnquirerName,
		"message":          enq.Message,
	} {
		if v != "" {
			data[k] = v
		}
	}
	return data
}

// ProcessRaw normalizes a provider payload and processes every message it
// yields. Per-message failures are logged and processing continues.
func (p *Inbound) ProcessRaw(ctx context.Context, n inbound.Normalizer, raw inbound.Raw) ([]Result, error) {
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = p.now()
	}
	msgs, err := n.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", apperr.Invalid("payload", err.Error()))
	}
	var results []Result
	for _, msg := range msgs {
		res, err := p.Process(ctx, msg, ProcessOpts{})
		if err != nil {
			log.Printf("pipeline: %s message %q: %v", n.Provider(), msg.ExternalID, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessEmail classifies a forwarded email and processes it, raising
// form_submitted for portal enquiries.
func (p *Inbound) ProcessEmail(ctx context.Context, e inbound.ForwardedEmail) (Result, error) {
	cls := inbound.ClassifyEmail(e, p.now())
	return p.Process(ctx, cls.Message, ProcessOpts{Enquiry: cls.Enquiry})
}

// ApplyStatus records a provider delivery receipt. Receipts for unknown
// messages and stale transitions are logged and ignored.
func (p *Inbound) ApplyStatus(ctx context.Context, u inbound.StatusUpdate) error {
	_, err := p.store.UpdateStatus(ctx, u.Channel, u.ExternalID, u.Status)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidTransition) {
		log.Printf("pipeline: status %s for %s/%s ignored: %v", u.Status, u.Channel, u.ExternalID, err)
		return nil
	}
	return err
}

// GmailPushResult summarises one Gmail push notification.
type GmailPushResult struct {
	Account   string   `json:"account"`
	Ignored   bool     `json:"ignored,omitempty"` // mailbox not connected
	Cursor    string   `json:"cursor,omitempty"`
	Processed []Result `json:"processed,omitempty"`
}

// ProcessGmailPush decodes a Pub/Sub push body, fetches the mailbox
// history since the stored cursor and processes each new inbox message.
// A malformed body is a validation error. Mail sent by the connected
// account itself is skipped.
func (p *Inbound) ProcessGmailPush(ctx context.Context, body []byte) (GmailPushResult, error) {
	n, err := inbound.DecodeGmailPush(body)
	if err != nil {
		return GmailPushResult{}, fmt.Errorf("pipeline: %w", apperr.Invalid("message.data", err.Error()))
	}
	out := GmailPushResult{Account: n.EmailAddress}
	pushed := strconv.FormatUint(n.HistoryID, 10)

	tok, err := integration.FindTokenByAccountEmail(ctx, p.db, models.ProviderGmail, n.EmailAddress)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Printf("pipeline: gmail push for unconnected mailbox %s", n.EmailAddress)
		out.Ignored = true
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if tok.Cursor == "" {
		// First notification only establishes the sync position.
		out.Cursor = pushed
		return out, integration.UpdateCursor(ctx, p.db, tok.ID, pushed)
	}

	reg, err := integration.NewRegistry(p.db, tok.UserID, p.integrations)
	if err != nil {
		return out, err
	}
	gmail, err := reg.Gmail(ctx)
	if err != nil {
		return out, err
	}
	if gmail == nil {
		out.Ignored = true
		return out, nil
	}
	ids, latest, err := gmail.History(ctx, tok.Cursor)
	if err != nil {
		return out, fmt.Errorf("pipeline: gmail history for %s: %w", n.EmailAddress, err)
	}
	for _, id := range ids {
		e, err := gmail.Message(ctx, id)
		if err != nil {
			log.Printf("pipeline: gmail message %s: %v", id, err)
			continue
		}
		if fromAccount(e.From, tok.AccountEmail) {
			continue
		}
		if e.MessageID == "" {
			e.MessageID = id
		}
		res, err := p.ProcessEmail(ctx, e)
		if err != nil {
			log.Printf("pipeline: gmail message %s: %v", id, err)
			continue
		}
		out.Processed = append(out.Processed, res)
	}
	out.Cursor = latest
	return out, integration.UpdateCursor(ctx, p.db, tok.ID, latest)
}

func fromAccount(from, account string) bool {
	return account != "" && strings.Contains(strings.ToLower(from), strings.ToLower(account))
}
