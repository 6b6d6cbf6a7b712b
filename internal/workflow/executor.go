package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/activity"
	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/models"
	"github.com/zulandar/listingdesk/internal/notify"
	"gorm.io/gorm"
)

// SendRequest asks the outbound path to deliver a message on behalf of a
// workflow run.
type SendRequest struct {
	UserID        string
	ContactID     string
	Channel       channel.Channel
	Subject       string
	Body          string
	TransactionID string
	WorkflowRunID string
}

// Sender delivers workflow messages. An undelivered message is an error.
type Sender interface {
	Send(ctx context.Context, req SendRequest) error
}

// ErrNoContact is returned by actions that need a contact when the run
// has none.
var ErrNoContact = errors.New("workflow: action requires a contact")

// updatableFields maps the contact fields update_field may write to
// their column kinds.
var updatableFields = map[string]string{
	"first_name":        "string",
	"last_name":         "string",
	"source":            "string",
	"stage":             "string",
	"status":            "string",
	"suburb":            "string",
	"notes":             "string",
	"budget_min":        "number",
	"budget_max":        "number",
	"next_follow_up_at": "time",
	"settlement_date":   "time",
}

// ExecutorOpts configures an Executor. Sender and Notifier are optional;
// actions that need a missing collaborator fail.
type ExecutorOpts struct {
	DB         *gorm.DB
	Sender     Sender
	Notifier   notify.Notifier
	HTTPClient *http.Client
	Now        func() time.Time
}

// Executor is the production ActionRunner.
type Executor struct {
	db         *gorm.DB
	sender     Sender
	notifier   notify.Notifier
	httpClient *http.Client
	activity   *activity.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(opts ExecutorOpts) (*Executor, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("workflow: executor: db is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		db:         opts.DB,
		sender:     opts.Sender,
		notifier:   opts.Notifier,
		httpClient: opts.HTTPClient,
		activity:   activity.NewLogger(opts.DB),
		now:        opts.Now,
	}, nil
}

// Run implements ActionRunner.
func (x *Executor) Run(ctx context.Context, rc *RunContext, a Action) error {
	switch a.Type {
	case ActionSendEmail:
		return x.send(ctx, rc, channel.Email, a.Subject, a.Body)
	case ActionSendSMS:
		return x.send(ctx, rc, channel.SMS, "", a.Body)
	case ActionPostSocial:
		ch, err := channel.Parse(a.Channel)
		if err != nil {
			return err
		}
		return x.send(ctx, rc, ch, "", a.Body)
	case ActionCreateTask:
		return x.createTask(ctx, rc, a, models.TaskTypeTask)
	case ActionCreateFollowUp:
		return x.createTask(ctx, rc, a, models.TaskTypeFollowUp)
	case ActionAssignContact:
		return x.assign(ctx, rc, a.AgentID)
	case ActionUpdateField:
		return x.updateField(ctx, rc, a.Field, a.Value)
	case ActionAddTag:
		return x.addTag(ctx, rc, Render(a.Tag, rc.Snapshot))
	case ActionNotifyAgent:
		return x.notifyAgent(ctx, rc, a)
	case ActionWebhook:
		return x.webhook(ctx, rc, a)
	case ActionWait:
		return fmt.Errorf("wait is handled by the engine")
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

func (x *Executor) send(ctx context.Context, rc *RunContext, ch channel.Channel, subject, body string) error {
	contactID := rc.ContactID()
	if contactID == "" {
		return ErrNoContact
	}
	if x.sender == nil {
		return fmt.Errorf("no sender configured")
	}
	return x.sender.Send(ctx, SendRequest{
		UserID:        rc.Workflow.UserID,
		ContactID:     contactID,
		Channel:       ch,
		Subject:       Render(subject, rc.Snapshot),
		Body:          Render(body, rc.Snapshot),
		TransactionID: rc.Event.TransactionID,
		WorkflowRunID: rc.Run.ID,
	})
}

func (x *Executor) createTask(ctx context.Context, rc *RunContext, a Action, taskType string) error {
	due := x.now().AddDate(0, 0, a.DueInDays)
	task := models.Task{
		ContactID:     optional(rc.ContactID()),
		AssignedTo:    snapshotString(rc.Snapshot, "assigned_agent_id"),
		Title:         Render(a.Title, rc.Snapshot),
		Description:   Render(a.Description, rc.Snapshot),
		Type:          taskType,
		Priority:      a.Priority,
		DueAt:         &due,
		WorkflowRunID: &rc.Run.ID,
	}
	if task.Priority == "" {
		task.Priority = "normal"
	}
	return x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if taskType != models.TaskTypeFollowUp || task.ContactID == nil {
			return nil
		}
		if err := tx.Model(&models.Contact{}).Where("id = ?", *task.ContactID).Update("next_follow_up_at", due).Error; err != nil {
			return fmt.Errorf("set next follow-up: %w", err)
		}
		rc.Snapshot["next_follow_up_at"] = due
		return nil
	})
}

func (x *Executor) assign(ctx context.Context, rc *RunContext, agentID string) error {
	contactID := rc.ContactID()
	if contactID == "" {
		return ErrNoContact
	}
	if err := x.updateContact(ctx, contactID, "assigned_agent_id", agentID); err != nil {
		return err
	}
	rc.Snapshot["assigned_agent_id"] = agentID
	x.logActivity(ctx, rc, "assignment", "Contact assigned to "+agentID)
	return nil
}

func (x *Executor) updateField(ctx context.Context, rc *RunContext, field string, value any) error {
	contactID := rc.ContactID()
	if contactID == "" {
		return ErrNoContact
	}
	column := snakeCase(field)
	kind, ok := updatableFields[column]
	if !ok {
		return fmt.Errorf("field %q cannot be updated", field)
	}
	if s, isString := value.(string); isString {
		value = Render(s, rc.Snapshot)
	}
	var stored any
	switch kind {
	case "number":
		if value == nil {
			break
		}
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("field %s: %v is not a number", column, value)
		}
		stored = f
	case "time":
		if value == nil {
			break
		}
		t, ok := toTime(value)
		if !ok {
			return fmt.Errorf("field %s: %v is not a date", column, value)
		}
		stored = t
	default:
		stored = toString(value)
	}
	if err := x.updateContact(ctx, contactID, column, stored); err != nil {
		return err
	}
	rc.Snapshot[column] = stored
	return nil
}

func (x *Executor) updateContact(ctx context.Context, contactID, column string, value any) error {
	res := x.db.WithContext(ctx).Model(&models.Contact{}).Where("id = ?", contactID).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("update contact %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("contact %s not found", contactID)
	}
	return nil
}

func (x *Executor) addTag(ctx context.Context, rc *RunContext, tag string) error {
	contactID := rc.ContactID()
	if contactID == "" {
		return ErrNoContact
	}
	tag = strings.TrimSpace(tag)
	return x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Contact
		if err := tx.First(&c, "id = ?", contactID).Error; err != nil {
			return fmt.Errorf("load contact: %w", err)
		}
		if c.HasTag(tag) {
			return nil
		}
		c.Tags = append(c.Tags, tag)
		if err := tx.Model(&c).Update("tags", c.Tags).Error; err != nil {
			return fmt.Errorf("save tags: %w", err)
		}
		rc.Snapshot["tags"] = []string(c.Tags)
		return nil
	})
}

func (x *Executor) notifyAgent(ctx context.Context, rc *RunContext, a Action) error {
	if x.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}
	agentID := a.AgentID
	if agentID == "" {
		agentID = snapshotString(rc.Snapshot, "assigned_agent_id")
	}
	n := notify.Notification{
		AgentID:   agentID,
		ContactID: rc.ContactID(),
		Title:     rc.Workflow.Name,
		Body:      Render(a.Message, rc.Snapshot),
		Severity:  notify.SeverityInfo,
	}
	if name := strings.TrimSpace(snapshotString(rc.Snapshot, "first_name") + " " + snapshotString(rc.Snapshot, "last_name")); name != "" {
		n.Fields = append(n.Fields, notify.Field{Name: "Contact", Value: name})
	}
	return x.notifier.Notify(ctx, n)
}

// webhookPayload is the JSON body POSTed by the webhook action.
type webhookPayload struct {
	WorkflowID   string         `json:"workflowId"`
	WorkflowName string         `json:"workflowName"`
	RunID        string         `json:"runId"`
	Event        string         `json:"event"`
	EventData    map[string]any `json:"eventData,omitempty"`
	ContactID    string         `json:"contactId,omitempty"`
	Contact      map[string]any `json:"contact,omitempty"`
	SentAt       time.Time      `json:"sentAt"`
}

func (x *Executor) webhook(ctx context.Context, rc *RunContext, a Action) error {
	payload := webhookPayload{
		WorkflowID:   rc.Workflow.ID,
		WorkflowName: rc.Workflow.Name,
		RunID:        rc.Run.ID,
		Event:        string(rc.Event.Type),
		EventData:    rc.Event.Data,
		ContactID:    rc.ContactID(),
		SentAt:       x.now().UTC(),
	}
	if payload.ContactID != "" {
		payload.Contact = contactFields(rc.Snapshot)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", a.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", a.URL, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (x *Executor) logActivity(ctx context.Context, rc *RunContext, typ, title string) {
	contactID := rc.ContactID()
	if contactID == "" {
		return
	}
	_, err := x.activity.Log(ctx, activity.Entry{
		ContactID: contactID,
		Type:      typ,
		Title:     title,
		Metadata:  map[string]any{"workflow_id": rc.Workflow.ID, "run_id": rc.Run.ID},
	})
	if err != nil {
		log.Printf("workflow: run %s: activity: %v", rc.Run.ID, err)
	}
}

// contactFields strips event keys from a snapshot.
func contactFields(s Snapshot) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if k == "event_type" || strings.HasPrefix(k, "event.") {
			continue
		}
		out[k] = v
	}
	return out
}

func snapshotString(s Snapshot, key string) string {
	v, ok := s[key]
	if !ok {
		return ""
	}
	return toString(v)
}
