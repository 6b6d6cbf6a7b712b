package workflow

import (
	"strconv"
	"strings"

	"github.com/zulandar/listingdesk/internal/event"
)

// MatchTrigger reports whether ev satisfies t, the trigger of workflow
// workflowID. Empty trigger parameters act as wildcards. An event carrying
// a workflow_id only matches that workflow.
func MatchTrigger(workflowID string, t Trigger, ev event.Event) bool {
	if t.Type != ev.Type {
		return false
	}
	if id := ev.DataString("workflow_id"); id != "" && id != workflowID {
		return false
	}
	switch t.Type {
	case event.StageChange:
		return optionalMatch(t.FromStage, ev.DataString("from_stage")) &&
			optionalMatch(t.ToStage, ev.DataString("to_stage"))
	case event.NewLead:
		return optionalMatch(t.Source, ev.DataString("source"))
	case event.FieldChange:
		if snakeCase(t.Field) != snakeCase(ev.DataString("field")) {
			return false
		}
		return t.Value == nil || valuesEqual(ev.Data["value"], t.Value)
	case event.FormSubmitted:
		return optionalMatch(t.FormID, ev.DataString("form_id"))
	case event.NewMessage:
		return optionalMatch(t.Channel, ev.DataString("channel"))
	case event.NoActivity:
		return ev.DataString("days") == strconv.Itoa(t.Days)
	case event.DateApproaching:
		return snakeCase(t.DateField) == snakeCase(ev.DataString("date_field")) &&
			ev.DataString("days_before") == strconv.Itoa(t.DaysBefore)
	}
	return true
}

func optionalMatch(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}
