package workflow

import (
	"testing"

	"github.com/zulandar/listingdesk/internal/event"
)

func stageChangeEvent() event.Event {
	return event.StageChangeEvent("c1", "new", "qualified")
}

func scheduled(typ event.Type, workflowID string, data map[string]any) event.Event {
	ev := event.Event{Type: typ, ContactID: "c1", Data: map[string]any{}}
	for k, v := range data {
		ev.Data[k] = v
	}
	if workflowID != "" {
		ev.Data["workflow_id"] = workflowID
	}
	return ev
}

func TestMatchTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		ev      event.Event
		want    bool
	}{
		{"new_lead does not match stage_change", Trigger{Type: event.NewLead}, stageChangeEvent(), false},
		{"stage_change wildcard", Trigger{Type: event.StageChange}, stageChangeEvent(), true},
		{"stage_change to", Trigger{Type: event.StageChange, ToStage: "Qualified"}, stageChangeEvent(), true},
		{"stage_change wrong from", Trigger{Type: event.StageChange, FromStage: "contacted"}, stageChangeEvent(), false},
		{"new_lead source", Trigger{Type: event.NewLead, Source: "sms"}, event.NewLeadEvent("c1", "sms"), true},
		{"new_lead other source", Trigger{Type: event.NewLead, Source: "domain"}, event.NewLeadEvent("c1", "sms"), false},
		{"field_change any value", Trigger{Type: event.FieldChange, Field: "budgetMax"}, event.FieldChangeEvent("c1", "budget_max", 1.0), true},
		{"field_change value", Trigger{Type: event.FieldChange, Field: "stage", Value: "won"}, event.FieldChangeEvent("c1", "stage", "lost"), false},
		{"form id", Trigger{Type: event.FormSubmitted, FormID: "rea"}, event.FormSubmittedEvent("c1", "rea", nil), true},
		{"new_message channel", Trigger{Type: event.NewMessage, Channel: "sms"}, event.NewMessageEvent("c1", "m1", "email"), false},
		{"new_message any channel", Trigger{Type: event.NewMessage}, event.NewMessageEvent("c1", "m1", "email"), true},
		{"no_activity days", Trigger{Type: event.NoActivity, Days: 7}, scheduled(event.NoActivity, "wf1", map[string]any{"days": 7}), true},
		{"no_activity other days", Trigger{Type: event.NoActivity, Days: 90}, scheduled(event.NoActivity, "", map[string]any{"days": 7}), false},
		{"no_activity without days", Trigger{Type: event.NoActivity, Days: 7}, scheduled(event.NoActivity, "", nil), false},
		{"no_activity other workflow", Trigger{Type: event.NoActivity, Days: 7}, scheduled(event.NoActivity, "wf2", map[string]any{"days": 7}), false},
		{"time_based own workflow", Trigger{Type: event.TimeBased, Schedule: "0 9 * * *"}, scheduled(event.TimeBased, "wf1", nil), true},
		{"time_based other workflow", Trigger{Type: event.TimeBased, Schedule: "0 9 * * *"}, scheduled(event.TimeBased, "someone-else", nil), false},
		{"date_approaching field and days", Trigger{Type: event.DateApproaching, DateField: "settlementDate", DaysBefore: 3},
			scheduled(event.DateApproaching, "wf1", map[string]any{"date_field": "settlement_date", "days_before": 3}), true},
		{"date_approaching other field", Trigger{Type: event.DateApproaching, DateField: "date_of_birth", DaysBefore: 3},
			scheduled(event.DateApproaching, "", map[string]any{"date_field": "settlement_date", "days_before": 3}), false},
		{"date_approaching other days", Trigger{Type: event.DateApproaching, DateField: "settlement_date", DaysBefore: 14},
			scheduled(event.DateApproaching, "", map[string]any{"date_field": "settlement_date", "days_before": 3}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchTrigger("wf1", tt.trigger, tt.ev); got != tt.want {
				t.Errorf("MatchTrigger = %v, want %v", got, tt.want)
			}
		})
	}
}
