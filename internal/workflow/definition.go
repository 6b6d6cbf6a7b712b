// Package workflow matches domain events against stored workflow
// definitions and executes their ordered actions as tracked runs.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
)

// Trigger is the event shape a workflow reacts to. Type selects the
// variant; only the parameters of that variant are meaningful.
type Trigger struct {
	Type event.Type `json:"type"`

	FromStage  string `json:"from_stage,omitempty"`  // stage_change
	ToStage    string `json:"to_stage,omitempty"`    // stage_change
	Source     string `json:"source,omitempty"`      // new_lead
	Field      string `json:"field,omitempty"`       // field_change
	Value      any    `json:"value,omitempty"`       // field_change
	Schedule   string `json:"schedule,omitempty"`    // time_based, 5-field cron
	Days       int    `json:"days,omitempty"`        // no_activity
	DateField  string `json:"date_field,omitempty"`  // date_approaching
	DaysBefore int    `json:"days_before,omitempty"` // date_approaching
	FormID     string `json:"form_id,omitempty"`     // form_submitted
	Channel    string `json:"channel,omitempty"`     // new_message
}

// dateFields are the contact columns a date_approaching trigger may watch.
var dateFields = map[string]bool{
	"settlement_date":   true,
	"next_follow_up_at": true,
	"date_of_birth":     true,
}

// Validate checks the parameters of the selected variant.
func (t Trigger) Validate() error {
	ve := &apperr.ValidationError{}
	switch t.Type {
	case event.StageChange, event.NewLead, event.FormSubmitted:
	case event.NewMessage:
		if t.Channel != "" {
			if _, err := channel.Parse(t.Channel); err != nil {
				ve.Add("trigger.channel", err.Error())
			}
		}
	case event.FieldChange:
		if t.Field == "" {
			ve.Add("trigger.field", "is required")
		}
	case event.TimeBased:
		if _, err := cronParser.Parse(t.Schedule); err != nil {
			ve.Add("trigger.schedule", fmt.Sprintf("invalid cron expression: %v", err))
		}
	case event.NoActivity:
		if t.Days < 1 {
			ve.Add("trigger.days", "must be at least 1")
		}
	case event.DateApproaching:
		if !dateFields[snakeCase(t.DateField)] {
			ve.Add("trigger.date_field", fmt.Sprintf("unsupported date field %q", t.DateField))
		}
		if t.DaysBefore < 0 {
			ve.Add("trigger.days_before", "must not be negative")
		}
	default:
		ve.Add("trigger.type", fmt.Sprintf("unknown trigger type %q", t.Type))
	}
	return ve.Err()
}

// Operator is a condition comparison.
type Operator string

// Condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

var operators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpGreaterThan: true,
	OpLessThan: true, OpIsEmpty: true, OpIsNotEmpty: true,
}

// Condition tests one snapshot field. Value is ignored by is_empty and
// is_not_empty.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// ActionType selects an action variant.
type ActionType string

// Action types.
const (
	ActionSendEmail      ActionType = "send_email"
	ActionSendSMS        ActionType = "send_sms"
	ActionCreateTask     ActionType = "create_task"
	ActionAssignContact  ActionType = "assign_contact"
	ActionUpdateField    ActionType = "update_field"
	ActionAddTag         ActionType = "add_tag"
	ActionNotifyAgent    ActionType = "notify_agent"
	ActionPostSocial     ActionType = "post_social"
	ActionWebhook        ActionType = "webhook"
	ActionWait           ActionType = "wait"
	ActionCreateFollowUp ActionType = "create_follow_up"
)

// Action is one step of a workflow. Text parameters may contain
// {{field}} placeholders filled from the run's snapshot.
type Action struct {
	Type ActionType `json:"type"`

	Channel     string            `json:"channel,omitempty"`     // post_social
	Subject     string            `json:"subject,omitempty"`     // send_email
	Body        string            `json:"body,omitempty"`        // send_email, send_sms, post_social
	Title       string            `json:"title,omitempty"`       // create_task, create_follow_up
	Description string            `json:"description,omitempty"` // create_task, create_follow_up
	DueInDays   int               `json:"due_in_days,omitempty"` // create_task, create_follow_up
	Priority    string            `json:"priority,omitempty"`    // create_task
	AgentID     string            `json:"agent_id,omitempty"`    // assign_contact, notify_agent
	Field       string            `json:"field,omitempty"`       // update_field
	Value       any               `json:"value,omitempty"`       // update_field
	Tag         string            `json:"tag,omitempty"`         // add_tag
	Message     string            `json:"message,omitempty"`     // notify_agent
	URL         string            `json:"url,omitempty"`         // webhook
	Headers     map[string]string `json:"headers,omitempty"`     // webhook
	Duration    string            `json:"duration,omitempty"`    // wait, e.g. "48h"
}

// WaitDuration parses a wait action's duration.
func (a Action) WaitDuration() (time.Duration, error) {
	d, err := time.ParseDuration(a.Duration)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}

// socialChannels are the channels post_social may target.
var socialChannels = map[channel.Channel]bool{
	channel.InstagramDM:       true,
	channel.FacebookMessenger: true,
	channel.WhatsApp:          true,
}

func (a Action) validate(prefix string, ve *apperr.ValidationError) {
	switch a.Type {
	case ActionSendEmail:
		if a.Subject == "" && a.Body == "" {
			ve.Add(prefix+".body", "subject or body is required")
		}
	case ActionSendSMS:
		if a.Body == "" {
			ve.Add(prefix+".body", "is required")
		}
	case ActionPostSocial:
		ch, err := channel.Parse(a.Channel)
		if err != nil || !socialChannels[ch] {
			ve.Add(prefix+".channel", "must be instagram_dm, facebook_messenger or whatsapp")
		}
		if a.Body == "" {
			ve.Add(prefix+".body", "is required")
		}
	case ActionCreateTask, ActionCreateFollowUp:
		if a.Title == "" {
			ve.Add(prefix+".title", "is required")
		}
		if a.DueInDays < 0 {
			ve.Add(prefix+".due_in_days", "must not be negative")
		}
	case ActionAssignContact:
		if a.AgentID == "" {
			ve.Add(prefix+".agent_id", "is required")
		}
	case ActionUpdateField:
		if _, ok := updatableFields[snakeCase(a.Field)]; !ok {
			ve.Add(prefix+".field", fmt.Sprintf("field %q cannot be updated by a workflow", a.Field))
		}
	case ActionAddTag:
		if strings.TrimSpace(a.Tag) == "" {
			ve.Add(prefix+".tag", "is required")
		}
	case ActionNotifyAgent:
		if a.Message == "" {
			ve.Add(prefix+".message", "is required")
		}
	case ActionWebhook:
		if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
			ve.Add(prefix+".url", "must be an http(s) URL")
		}
	case ActionWait:
		if _, err := a.WaitDuration(); err != nil {
			ve.Add(prefix+".duration", err.Error())
		}
	default:
		ve.Add(prefix+".type", fmt.Sprintf("unknown action type %q", a.Type))
	}
}

// Definition is a workflow as submitted by a user.
type Definition struct {
	Name       string      `json:"name"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	IsActive   *bool       `json:"isActive,omitempty"`
}

// Validate runs the per-variant checks.
func (d *Definition) Validate() error {
	ve := &apperr.ValidationError{}
	if strings.TrimSpace(d.Name) == "" {
		ve.Add("name", "is required")
	}
	if err := d.Trigger.Validate(); err != nil {
		for k, v := range apperr.FieldsOf(err) {
			ve.Add(k, v)
		}
	}
	for i, c := range d.Conditions {
		if c.Field == "" {
			ve.Add(fmt.Sprintf("conditions.%d.field", i), "is required")
		}
		if !operators[c.Operator] {
			ve.Add(fmt.Sprintf("conditions.%d.operator", i), fmt.Sprintf("unknown operator %q", c.Operator))
		}
	}
	if len(d.Actions) == 0 {
		ve.Add("actions", "at least one action is required")
	}
	for i, a := range d.Actions {
		a.validate(fmt.Sprintf("actions.%d", i), ve)
	}
	return ve.Err()
}

// ParseDefinition validates data against the definition schema, decodes
// it and applies the per-variant checks.
func ParseDefinition(data []byte) (*Definition, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, apperr.Invalid("definition", err.Error())
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Decode reads the definition stored in a Workflow row.
func Decode(wf *models.Workflow) (*Definition, error) {
	d := Definition{Name: wf.Name, IsActive: &wf.IsActive}
	if err := json.Unmarshal(wf.Trigger, &d.Trigger); err != nil {
		return nil, fmt.Errorf("workflow: %s: decode trigger: %w", wf.ID, err)
	}
	if len(wf.Conditions) > 0 {
		if err := json.Unmarshal(wf.Conditions, &d.Conditions); err != nil {
			return nil, fmt.Errorf("workflow: %s: decode conditions: %w", wf.ID, err)
		}
	}
	if err := json.Unmarshal(wf.Actions, &d.Actions); err != nil {
		return nil, fmt.Errorf("workflow: %s: decode actions: %w", wf.ID, err)
	}
	return &d, nil
}
