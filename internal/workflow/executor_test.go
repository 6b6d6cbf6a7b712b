package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/listingdesk/internal/channel"
	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
	"github.com/zulandar/listingdesk/internal/notify"
)

type fakeSender struct {
	reqs []SendRequest
	err  error
}

func (f *fakeSender) Send(_ context.Context, req SendRequest) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

type fakeNotifier struct {
	got []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) error {
	f.got = append(f.got, n)
	return nil
}

type execHarness struct {
	*harness
	sender   *fakeSender
	notifier *fakeNotifier
	exec     *Executor
	jane     *models.Contact
	rc       *RunContext
}

func newExecHarness(t *testing.T) *execHarness {
	t.Helper()
	h := newHarness(t)
	x := &execHarness{harness: h, sender: &fakeSender{}, notifier: &fakeNotifier{}}
	exec, err := NewExecutor(ExecutorOpts{DB: h.db, Sender: x.sender, Notifier: x.notifier, Now: h.clock.Now})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	x.exec = exec
	x.jane = h.contact(t, &models.Contact{FirstName: "Jane", LastName: "Citizen", Stage: "qualified"})
	wf := &models.Workflow{ID: "wf-1", UserID: "user-1", Name: "Hot buyer"}
	run := &models.WorkflowRun{ID: "run-1", WorkflowID: wf.ID, ContactID: &x.jane.ID}
	var c models.Contact
	h.db.First(&c, "id = ?", x.jane.ID)
	ev := event.StageChangeEvent(x.jane.ID, "new", "qualified")
	x.rc = &RunContext{Run: run, Workflow: wf, Event: ev, Snapshot: ContactSnapshot(&c).withEvent(ev)}
	return x
}

func (x *execHarness) reload(t *testing.T) models.Contact {
	t.Helper()
	var c models.Contact
	if err := x.db.First(&c, "id = ?", x.jane.ID).Error; err != nil {
		t.Fatalf("reload contact: %v", err)
	}
	return c
}

func TestExecutor_SendSMS(t *testing.T) {
	x := newExecHarness(t)
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionSendSMS, Body: "Hi {{firstName}}"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(x.sender.reqs) != 1 {
		t.Fatalf("sends = %d, want 1", len(x.sender.reqs))
	}
	req := x.sender.reqs[0]
	if req.Channel != channel.SMS || req.Body != "Hi Jane" || req.UserID != "user-1" || req.ContactID != x.jane.ID {
		t.Errorf("req = %+v", req)
	}
	if req.WorkflowRunID != "run-1" {
		t.Errorf("WorkflowRunID = %q", req.WorkflowRunID)
	}
}

func TestExecutor_SendFailureFailsAction(t *testing.T) {
	x := newExecHarness(t)
	x.sender.err = errors.New("no integration")
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionSendEmail, Subject: "Hello", Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExecutor_SendWithoutContact(t *testing.T) {
	x := newExecHarness(t)
	x.rc.Run.ContactID = nil
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionSendSMS, Body: "Hi"})
	if !errors.Is(err, ErrNoContact) {
		t.Errorf("err = %v, want ErrNoContact", err)
	}
}

func TestExecutor_PostSocial(t *testing.T) {
	x := newExecHarness(t)
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionPostSocial, Channel: "instagram_dm", Body: "New listing!"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if x.sender.reqs[0].Channel != channel.InstagramDM {
		t.Errorf("Channel = %s", x.sender.reqs[0].Channel)
	}
}

func TestExecutor_CreateTask(t *testing.T) {
	x := newExecHarness(t)
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionCreateTask, Title: "Call {{first_name}}", DueInDays: 2, Priority: "high"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var task models.Task
	if err := x.db.First(&task).Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	if task.Title != "Call Jane" || task.AssignedTo != "agent-a" || task.Priority != "high" || task.Type != models.TaskTypeTask {
		t.Errorf("task = %+v", task)
	}
	if task.DueAt == nil || !task.DueAt.Equal(base.AddDate(0, 0, 2)) {
		t.Errorf("DueAt = %v, want %v", task.DueAt, base.AddDate(0, 0, 2))
	}
	if task.WorkflowRunID == nil || *task.WorkflowRunID != "run-1" {
		t.Errorf("WorkflowRunID = %v", task.WorkflowRunID)
	}
}

func TestExecutor_CreateFollowUpSetsContactDate(t *testing.T) {
	x := newExecHarness(t)
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionCreateFollowUp, Title: "Check in", DueInDays: 7})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := x.reload(t)
	if c.NextFollowUpAt == nil || !c.NextFollowUpAt.Equal(base.AddDate(0, 0, 7)) {
		t.Errorf("NextFollowUpAt = %v", c.NextFollowUpAt)
	}
	if _, ok := x.rc.Snapshot["next_follow_up_at"].(time.Time); !ok {
		t.Error("snapshot not updated")
	}
}

func TestExecutor_UpdateFieldFeedsLaterActions(t *testing.T) {
	x := newExecHarness(t)
	if err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionUpdateField, Field: "budgetMax", Value: "750000"}); err != nil {
		t.Fatalf("update_field: %v", err)
	}
	if err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionUpdateField, Field: "suburb", Value: "Richmond"}); err != nil {
		t.Fatalf("update_field: %v", err)
	}
	if err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionCreateTask, Title: "Show {{suburb}} listings under {{budgetMax}}"}); err != nil {
		t.Fatalf("create_task: %v", err)
	}
	c := x.reload(t)
	if c.BudgetMax == nil || *c.BudgetMax != 750000 {
		t.Errorf("BudgetMax = %v", c.BudgetMax)
	}
	var task models.Task
	x.db.First(&task)
	if task.Title != "Show Richmond listings under 750000" {
		t.Errorf("Title = %q", task.Title)
	}
}

func TestExecutor_UpdateFieldRejects(t *testing.T) {
	x := newExecHarness(t)
	tests := []Action{
		{Type: ActionUpdateField, Field: "assigned_agent_id", Value: "x"},
		{Type: ActionUpdateField, Field: "budgetMax", Value: "lots"},
		{Type: ActionUpdateField, Field: "settlementDate", Value: "next week"},
	}
	for _, a := range tests {
		if err := x.exec.Run(context.Background(), x.rc, a); err == nil {
			t.Errorf("Run(%+v) = nil, want error", a)
		}
	}
}

func TestExecutor_AddTagIdempotent(t *testing.T) {
	x := newExecHarness(t)
	for i := 0; i < 2; i++ {
		if err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionAddTag, Tag: "hot-buyer"}); err != nil {
			t.Fatalf("add_tag: %v", err)
		}
	}
	c := x.reload(t)
	if len(c.Tags) != 1 || c.Tags[0] != "hot-buyer" {
		t.Errorf("Tags = %v, want [hot-buyer]", c.Tags)
	}
}

func TestExecutor_AssignLogsActivity(t *testing.T) {
	x := newExecHarness(t)
	if err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionAssignContact, AgentID: "agent-b"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if c := x.reload(t); c.AssignedAgentID != "agent-b" {
		t.Errorf("AssignedAgentID = %q", c.AssignedAgentID)
	}
	var acts []models.Activity
	x.db.Where("contact_id = ?", x.jane.ID).Find(&acts)
	if len(acts) != 1 || acts[0].Type != "assignment" {
		t.Errorf("activities = %+v", acts)
	}
}

func TestExecutor_NotifyAgent(t *testing.T) {
	x := newExecHarness(t)
	if err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionNotifyAgent, Message: "{{first_name}} is qualified"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(x.notifier.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(x.notifier.got))
	}
	n := x.notifier.got[0]
	if n.AgentID != "agent-a" || n.Body != "Jane is qualified" || n.Title != "Hot buyer" {
		t.Errorf("notification = %+v", n)
	}
}

func TestExecutor_Webhook(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	x := newExecHarness(t)
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionWebhook, URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if got.RunID != "run-1" || got.Event != "stage_change" || got.ContactID != x.jane.ID {
		t.Errorf("payload = %+v", got)
	}
	if got.Contact["first_name"] != "Jane" {
		t.Errorf("contact = %v", got.Contact)
	}
	if _, leaked := got.Contact["event_type"]; leaked {
		t.Error("event keys leaked into contact")
	}
	if auth != "Bearer t" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestExecutor_WebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	x := newExecHarness(t)
	err := x.exec.Run(context.Background(), x.rc, Action{Type: ActionWebhook, URL: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("err = %v, want status 500", err)
	}
}
