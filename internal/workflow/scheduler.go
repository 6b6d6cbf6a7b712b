package workflow

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultSweepInterval    = time.Minute
	defaultSweepConcurrency = 4
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SchedulerOpts configures a Scheduler.
type SchedulerOpts struct {
	DB          *gorm.DB
	Engine      *Engine
	Concurrency int
}

// Scheduler raises the time-driven triggers (time_based, no_activity,
// date_approaching) and resumes parked runs.
type Scheduler struct {
	db          *gorm.DB
	engine      *Engine
	concurrency int
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Started []RunOutcome `json:"started"`
	Resumed []RunOutcome `json:"resumed"`
	Errors  []string     `json:"errors,omitempty"`
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("workflow: scheduler: db is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("workflow: scheduler: engine is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultSweepConcurrency
	}
	return &Scheduler{db: opts.DB, engine: opts.Engine, concurrency: opts.Concurrency}, nil
}

type candidate struct {
	wf  *models.Workflow
	def *Definition
	ev  event.Event
}

// Sweep evaluates every active time-driven workflow once, executing the
// due ones with bounded concurrency, then resumes parked runs.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	now := s.engine.now()
	cands, errs, err := s.candidates(ctx, now)
	if err != nil {
		return nil, err
	}
	report := &SweepReport{Started: []RunOutcome{}, Errors: errs}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range cands {
		g.Go(func() error {
			out, ok, err := s.engine.Trigger(gctx, c.wf, c.def, c.ev)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors = append(report.Errors, fmt.Sprintf("workflow %s: %v", c.wf.ID, err))
			case ok:
				report.Started = append(report.Started, out)
			}
			return nil
		})
	}
	_ = g.Wait()

	resumed, err := s.engine.ResumeDue(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Resumed = resumed
	return report, nil
}

func (s *Scheduler) candidates(ctx context.Context, now time.Time) ([]candidate, []string, error) {
	var wfs []models.Workflow
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at").Find(&wfs).Error
	if err != nil {
		return nil, nil, fmt.Errorf("workflow: sweep: list workflows: %w", err)
	}
	var cands []candidate
	var errs []string
	for i := range wfs {
		wf := &wfs[i]
		def, err := Decode(wf)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		var found []candidate
		switch def.Trigger.Type {
		case event.TimeBased:
			found, err = s.cronDue(wf, def, now)
		case event.NoActivity:
			found, err = s.idleContacts(ctx, wf, def, now)
		case event.DateApproaching:
			found, err = s.approachingDates(ctx, wf, def, now)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("workflow %s: %v", wf.ID, err))
			continue
		}
		cands = append(cands, found...)
	}
	return cands, errs, nil
}

// cronDue fires when the next schedule time after the last run (or the
// workflow's creation) has passed.
func (s *Scheduler) cronDue(wf *models.Workflow, def *Definition, now time.Time) ([]candidate, error) {
	sched, err := cronParser.Parse(def.Trigger.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	anchor := wf.CreatedAt
	if wf.LastRunAt != nil {
		anchor = *wf.LastRunAt
	}
	next := sched.Next(anchor)
	if next.After(now) {
		return nil, nil
	}
	ev := event.Event{
		Type:       event.TimeBased,
		Data:       map[string]any{"workflow_id": wf.ID, "scheduled_for": next.UTC().Format(time.RFC3339)},
		OccurredAt: now,
	}
	return []candidate{{wf: wf, def: def, ev: ev}}, nil
}

// idleContacts finds contacts with no contact for the trigger's days that
// have not already been handled since their last contact.
func (s *Scheduler) idleContacts(ctx context.Context, wf *models.Workflow, def *Definition, now time.Time) ([]candidate, error) {
	days := def.Trigger.Days
	cutoff := now.AddDate(0, 0, -days)
	var contacts []models.Contact
	err := s.db.WithContext(ctx).
		Where("(last_contact_at IS NULL AND created_at <= ?) OR last_contact_at <= ?", cutoff, cutoff).
		Find(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("list idle contacts: %w", err)
	}
	last, err := s.lastRuns(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, c := range contacts {
		anchor := c.CreatedAt
		if c.LastContactAt != nil {
			anchor = *c.LastContactAt
		}
		if t, ok := last[c.ID]; ok && !t.Before(anchor) {
			continue
		}
		ev := event.Event{
			Type:       event.NoActivity,
			ContactID:  c.ID,
			Data:       map[string]any{"workflow_id": wf.ID, "days": days},
			OccurredAt: now,
		}
		out = append(out, candidate{wf: wf, def: def, ev: ev})
	}
	return out, nil
}

// approachingDates finds contacts whose watched date falls within the
// next days_before days and that have no run inside that window.
// date_of_birth is matched on its next anniversary.
func (s *Scheduler) approachingDates(ctx context.Context, wf *models.Workflow, def *Definition, now time.Time) ([]candidate, error) {
	column := snakeCase(def.Trigger.DateField)
	if !dateFields[column] {
		return nil, fmt.Errorf("unsupported date field %q", def.Trigger.DateField)
	}
	daysBefore := def.Trigger.DaysBefore
	horizon := now.AddDate(0, 0, daysBefore)

	q := s.db.WithContext(ctx).Where(column + " IS NOT NULL")
	if column != "date_of_birth" {
		q = q.Where(column+" >= ? AND "+column+" <= ?", startOfDay(now), horizon)
	}
	var contacts []models.Contact
	if err := q.Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("list contacts by %s: %w", column, err)
	}
	last, err := s.lastRuns(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, c := range contacts {
		target, ok := watchedDate(&c, column, now)
		if !ok || target.Before(startOfDay(now)) || target.After(horizon) {
			continue
		}
		windowStart := target.AddDate(0, 0, -daysBefore)
		if t, ok := last[c.ID]; ok && !t.Before(startOfDay(windowStart)) {
			continue
		}
		ev := event.Event{
			Type:      event.DateApproaching,
			ContactID: c.ID,
			Data: map[string]any{
				"workflow_id": wf.ID,
				"date_field":  column,
				"date":        target.Format("2006-01-02"),
				"days_before": daysBefore,
			},
			OccurredAt: now,
		}
		out = append(out, candidate{wf: wf, def: def, ev: ev})
	}
	return out, nil
}

func watchedDate(c *models.Contact, column string, now time.Time) (time.Time, bool) {
	var v *time.Time
	switch column {
	case "settlement_date":
		v = c.SettlementDate
	case "next_follow_up_at":
		v = c.NextFollowUpAt
	case "date_of_birth":
		if c.DateOfBirth == nil {
			return time.Time{}, false
		}
		dob := *c.DateOfBirth
		next := time.Date(now.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, now.Location())
		if next.Before(startOfDay(now)) {
			next = next.AddDate(1, 0, 0)
		}
		return next, true
	}
	if v == nil {
		return time.Time{}, false
	}
	return *v, true
}

// lastRuns returns the latest run start per contact for a workflow.
func (s *Scheduler) lastRuns(ctx context.Context, workflowID string) (map[string]time.Time, error) {
	var runs []models.WorkflowRun
	err := s.db.WithContext(ctx).Select("contact_id", "started_at").
		Where("workflow_id = ? AND contact_id IS NOT NULL", workflowID).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	last := make(map[string]time.Time, len(runs))
	for _, r := range runs {
		if r.ContactID == nil {
			continue
		}
		if t, ok := last[*r.ContactID]; !ok || r.StartedAt.After(t) {
			last[*r.ContactID] = r.StartedAt
		}
	}
	return last, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RunScheduler sweeps every interval until ctx is cancelled.
func RunScheduler(ctx context.Context, s *Scheduler, interval time.Duration, out io.Writer) error {
	if s == nil {
		return fmt.Errorf("workflow: scheduler is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "Workflow scheduler starting (sweep every %s)...\n", interval)
	defer fmt.Fprintf(out, "Workflow scheduler stopped.\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		report, err := s.Sweep(ctx)
		if err != nil {
			log.Printf("workflow: sweep error: %v", err)
		} else {
			if n := len(report.Started) + len(report.Resumed); n > 0 {
				fmt.Fprintf(out, "Sweep: %d started, %d resumed\n", len(report.Started), len(report.Resumed))
			}
			for _, e := range report.Errors {
				log.Printf("workflow: sweep: %s", e)
			}
		}

		sleepWithContext(ctx, interval)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
