package workflow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
)

func newTestScheduler(t *testing.T, h *harness) *Scheduler {
	t.Helper()
	s, err := NewScheduler(SchedulerOpts{DB: h.db, Engine: h.engine, Concurrency: 2})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func sweep(t *testing.T, s *Scheduler) *SweepReport {
	t.Helper()
	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Errors) > 0 {
		t.Fatalf("sweep errors: %v", report.Errors)
	}
	return report
}

func ptime(t time.Time) *time.Time { return &t }

func TestNewScheduler_Validation(t *testing.T) {
	h := newHarness(t)
	if _, err := NewScheduler(SchedulerOpts{Engine: h.engine}); err == nil {
		t.Error("expected error without db")
	}
	if _, err := NewScheduler(SchedulerOpts{DB: h.db}); err == nil {
		t.Error("expected error without engine")
	}
}

func TestSweep_TimeBased(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	wf := h.workflow(t, `{"name":"Hourly digest","trigger":{"type":"time_based","schedule":"0 * * * *"},"actions":[{"type":"notify_agent","message":"digest"}]}`)
	h.db.Model(wf).Update("created_at", base.Add(-2*time.Hour))

	report := sweep(t, s)
	if len(report.Started) != 1 {
		t.Fatalf("started = %d, want 1", len(report.Started))
	}
	if report.Started[0].Status != models.RunStatusCompleted {
		t.Errorf("Status = %s", report.Started[0].Status)
	}

	if report := sweep(t, s); len(report.Started) != 0 {
		t.Errorf("fired again before next slot: %+v", report.Started)
	}

	h.clock.Advance(time.Hour)
	if report := sweep(t, s); len(report.Started) != 1 {
		t.Errorf("started = %d at next slot, want 1", len(report.Started))
	}
}

func TestSweep_NoActivity(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	h.workflow(t, `{"name":"Re-engage","trigger":{"type":"no_activity","days":7},"actions":[{"type":"create_task","title":"Re-engage"}]}`)

	idle := h.contact(t, &models.Contact{FirstName: "Idle", CreatedAt: base.AddDate(0, -1, 0), LastContactAt: ptime(base.AddDate(0, 0, -10))})
	recent := h.contact(t, &models.Contact{FirstName: "Recent", CreatedAt: base.AddDate(0, -1, 0), LastContactAt: ptime(base.AddDate(0, 0, -1))})
	never := h.contact(t, &models.Contact{FirstName: "Never", CreatedAt: base.AddDate(0, 0, -20)})

	report := sweep(t, s)
	if len(report.Started) != 2 {
		t.Fatalf("started = %d, want 2", len(report.Started))
	}
	var runs []models.WorkflowRun
	h.db.Find(&runs)
	got := map[string]bool{}
	for _, r := range runs {
		got[*r.ContactID] = true
		if r.EventType != string(event.NoActivity) {
			t.Errorf("EventType = %q", r.EventType)
		}
	}
	if !got[idle.ID] || !got[never.ID] {
		t.Errorf("runs for %v, want idle and never-contacted", got)
	}

	if report := sweep(t, s); len(report.Started) != 0 {
		t.Errorf("no_activity re-fired for the same idle period: %+v", report.Started)
	}

	// A new message resets the idle period.
	h.db.Model(idle).Update("last_contact_at", base.Add(time.Hour))
	h.db.Model(recent).Update("last_contact_at", base.AddDate(0, 0, 7))
	h.clock.Advance(8 * 24 * time.Hour)
	report = sweep(t, s)
	if len(report.Started) != 1 {
		t.Fatalf("started = %d after new idle period, want 1", len(report.Started))
	}
	var latest models.WorkflowRun
	h.db.Order("started_at DESC").First(&latest)
	if *latest.ContactID != idle.ID {
		t.Errorf("re-fired for %s, want %s", *latest.ContactID, idle.ID)
	}
}

func TestSweep_DateApproaching(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	h.workflow(t, `{"name":"Settlement reminder","trigger":{"type":"date_approaching","date_field":"settlementDate","days_before":7},"actions":[{"type":"create_task","title":"Prep settlement"}]}`)

	soon := h.contact(t, &models.Contact{FirstName: "Soon", SettlementDate: ptime(base.AddDate(0, 0, 3))})
	h.contact(t, &models.Contact{FirstName: "Later", SettlementDate: ptime(base.AddDate(0, 0, 30))})
	h.contact(t, &models.Contact{FirstName: "Past", SettlementDate: ptime(base.AddDate(0, 0, -3))})

	report := sweep(t, s)
	if len(report.Started) != 1 {
		t.Fatalf("started = %d, want 1", len(report.Started))
	}
	run := h.run(t, report.Started[0].RunID)
	if *run.ContactID != soon.ID {
		t.Errorf("ContactID = %s, want %s", *run.ContactID, soon.ID)
	}
	if run.EventData["date"] != base.AddDate(0, 0, 3).Format("2006-01-02") {
		t.Errorf("EventData = %v", run.EventData)
	}

	h.clock.Advance(24 * time.Hour)
	if report := sweep(t, s); len(report.Started) != 0 {
		t.Errorf("fired twice in one window: %+v", report.Started)
	}
}

func TestSweep_Birthday(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	h.workflow(t, `{"name":"Birthday","trigger":{"type":"date_approaching","date_field":"date_of_birth","days_before":2},"actions":[{"type":"send_sms","body":"Happy birthday"}]}`)
	h.contact(t, &models.Contact{FirstName: "Bday", DateOfBirth: ptime(time.Date(1985, 10, 19, 0, 0, 0, 0, time.UTC))})
	h.contact(t, &models.Contact{FirstName: "NotYet", DateOfBirth: ptime(time.Date(1990, 12, 25, 0, 0, 0, 0, time.UTC))})

	if report := sweep(t, s); len(report.Started) != 1 {
		t.Errorf("started = %d, want 1", len(report.Started))
	}
}

func TestSweep_ResumesParkedRuns(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	c := h.contact(t, &models.Contact{})
	h.workflow(t, waitJSON)
	if _, err := h.engine.Dispatch(context.Background(), event.NewLeadEvent(c.ID, "sms")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	h.clock.Advance(48 * time.Hour)
	report := sweep(t, s)
	if len(report.Resumed) != 1 || report.Resumed[0].Status != models.RunStatusCompleted {
		t.Errorf("resumed = %+v", report.Resumed)
	}
}

func TestSweep_IgnoresEventTriggers(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	h.contact(t, &models.Contact{CreatedAt: base.AddDate(0, -1, 0)})
	h.workflow(t, `{"name":"Welcome","trigger":{"type":"new_lead"},"actions":[{"type":"add_tag","tag":"x"}]}`)
	if report := sweep(t, s); len(report.Started) != 0 {
		t.Errorf("started = %+v, want none", report.Started)
	}
}

func TestRunScheduler_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	s := newTestScheduler(t, h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunScheduler(ctx, s, 10*time.Millisecond, io.Discard) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunScheduler = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunScheduler did not stop")
	}
}
