package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/listingdesk/internal/activity"
	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/conversation"
	"github.com/zulandar/listingdesk/internal/integration"
	"github.com/zulandar/listingdesk/internal/models"
	"github.com/zulandar/listingdesk/internal/workflow"
	"gorm.io/gorm"
)

// OutboundOpts holds parameters for creating an Outbound pipeline.
type OutboundOpts struct {
	DB           *gorm.DB
	Store        *conversation.Store
	Integrations integration.Options
}

// Outbound sends agent- and workflow-authored messages.
type Outbound struct {
	db           *gorm.DB
	store        *conversation.Store
	activity     *activity.Logger
	integrations integration.Options
}

// NewOutbound creates an Outbound pipeline.
func NewOutbound(opts OutboundOpts) (*Outbound, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: outbound: db is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: outbound: store is required")
	}
	return &Outbound{
		db:           opts.DB,
		store:        opts.Store,
		activity:     activity.NewLogger(opts.DB),
		integrations: opts.Integrations,
	}, nil
}

// SendInput is an outbound message request.
type SendInput struct {
	ContactID     string  `json:"contactId" binding:"required"`
	Channel       string  `json:"channel" binding:"required"`
	Subject       string  `json:"subject"`
	Body          string  `json:"body"`
	HTML          string  `json:"html"`
	ThreadID      string  `json:"threadId"`
	PropertyID    *string `json:"propertyId"`
	TransactionID *string `json:"transactionId"`
	WorkflowRunID string  `json:"-"`
}

// SendOutput is the stored message and the provider outcome.
type SendOutput struct {
	Message *models.ConversationMessage `json:"message"`
	Result  *integration.SendResult     `json:"result"`
}

func (in SendInput) validate() (channel.Channel, error) {
	ve := &apperr.ValidationError{}
	if strings.TrimSpace(in.ContactID) == "" {
		ve.Add("contactId", "is required")
	}
	ch, err := channel.Parse(in.Channel)
	switch {
	case err != nil:
		ve.Add("channel", "must be one of "+sendableChannels())
	case !ch.Sendable():
		ve.Add("channel", fmt.Sprintf("%s does not support sending", ch))
	}
	if strings.TrimSpace(in.Body) == "" && strings.TrimSpace(in.HTML) == "" {
		ve.Add("body", "is required")
	}
	if err == nil && (ch == channel.Email || ch.IsEnquiry()) && strings.TrimSpace(in.Subject) == "" && in.ThreadID == "" {
		ve.Add("subject", "is required for a new email thread")
	}
	return ch, ve.Err()
}

func sendableChannels() string {
	var names []string
	for _, c := range channel.All() {
		if c.Sendable() {
			names = append(names, string(c))
		}
	}
	return strings.Join(names, ", ")
}

// Send dispatches in through userID's connected provider and stores the
// result. A provider failure or missing integration is stored as a failed
// message and is not an error.
func (o *Outbound) Send(ctx context.Context, userID string, in SendInput) (*SendOutput, error) {
	ch, err := in.validate()
	if err != nil {
		return nil, err
	}
	var contact models.Contact
	if err := o.db.WithContext(ctx).Select("id").Where("id = ?", in.ContactID).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pipeline: contact %s: %w", in.ContactID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("pipeline: load contact: %w", err)
	}

	reg, err := integration.NewRegistry(o.db, userID, o.integrations)
	if err != nil {
		return nil, err
	}
	res, err := reg.Send(ctx, integration.SendParams{
		ContactID: in.ContactID,
		Channel:   ch,
		Subject:   in.Subject,
		Body:      in.Body,
		HTML:      in.HTML,
		ThreadID:  in.ThreadID,
	})
	if err != nil {
		return nil, err
	}

	rec := conversation.OutboundRecord{
		ContactID:     in.ContactID,
		AgentID:       userID,
		Channel:       ch,
		Subject:       in.Subject,
		Body:          in.Body,
		HTML:          in.HTML,
		PropertyID:    in.PropertyID,
		TransactionID: in.TransactionID,
		ThreadID:      in.ThreadID,
		Metadata:      map[string]any{},
	}
	for k, v := range res.Metadata {
		rec.Metadata[k] = v
	}
	if in.WorkflowRunID != "" {
		rec.Metadata["workflow_run_id"] = in.WorkflowRunID
	}
	if res.Success {
		rec.ExternalID = res.ExternalID
		rec.Status = res.Status
		if res.ThreadID != "" {
			rec.ThreadID = res.ThreadID
		}
	} else {
		rec.Status = models.MessageStatusFailed
		rec.Metadata["error"] = res.Error
		log.Printf("pipeline: %s send to %s failed: %s", ch, in.ContactID, res.Error)
	}

	// The provider call may have used up ctx; the outcome is stored regardless.
	persist := context.WithoutCancel(ctx)
	msg, err := o.store.RecordOutbound(persist, rec)
	if err != nil {
		return nil, err
	}
	if _, err := o.activity.LogMessage(persist, msg); err != nil {
		log.Printf("pipeline: activity for message %s: %v", msg.ID, err)
	}
	return &SendOutput{Message: msg, Result: res}, nil
}

// WorkflowSender adapts o to the workflow executor. An undelivered
// message fails the action.
func (o *Outbound) WorkflowSender() workflow.Sender {
	return workflowSender{o}
}

type workflowSender struct {
	out *Outbound
}

func (s workflowSender) Send(ctx context.Context, req workflow.SendRequest) error {
	in := SendInput{
		ContactID:     req.ContactID,
		Channel:       string(req.Channel),
		Subject:       req.Subject,
		Body:          req.Body,
		WorkflowRunID: req.WorkflowRunID,
	}
	if req.TransactionID != "" {
		in.TransactionID = &req.TransactionID
	}
	out, err := s.out.Send(ctx, req.UserID, in)
	if err != nil {
		return err
	}
	if !out.Result.Success {
		return fmt.Errorf("%s not delivered: %s", req.Channel, out.Result.Error)
	}
	return nil
}
