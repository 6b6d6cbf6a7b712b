package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/event"
	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/gorm"
)

const defaultActionTimeout = 30 * time.Second

// runTransitions lists the legal status moves of a WorkflowRun.
var runTransitions = map[string][]string{
	models.RunStatusPending: {models.RunStatusRunning, models.RunStatusCancelled},
	models.RunStatusRunning: {models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range runTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActionRunner performs a single non-wait action.
type ActionRunner interface {
	Run(ctx context.Context, rc *RunContext, a Action) error
}

// RunContext is the state handed to each action of a run. Runners may
// update Snapshot so later actions see their effect.
type RunContext struct {
	Run      *models.WorkflowRun
	Workflow *models.Workflow
	Event    event.Event
	Snapshot Snapshot
}

// ContactID returns the run's contact, or "".
func (rc *RunContext) ContactID() string {
	if rc.Run.ContactID == nil {
		return ""
	}
	return *rc.Run.ContactID
}

// RunOutcome summarises one workflow's reaction to an event.
type RunOutcome struct {
	WorkflowID         string     `json:"workflowId"`
	WorkflowName       string     `json:"workflowName"`
	RunID              string     `json:"runId,omitempty"`
	Status             string     `json:"status"`
	CurrentActionIndex int        `json:"currentActionIndex"`
	ResumeAt           *time.Time `json:"resumeAt,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// EngineOpts configures an Engine.
type EngineOpts struct {
	DB            *gorm.DB
	Runner        ActionRunner
	ActionTimeout time.Duration
	Now           func() time.Time
}

// Engine matches events to active workflows and drives their runs.
type Engine struct {
	db      *gorm.DB
	runner  ActionRunner
	timeout time.Duration
	now     func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("workflow: engine: db is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("workflow: engine: runner is required")
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{db: opts.DB, runner: opts.Runner, timeout: opts.ActionTimeout, now: opts.Now}, nil
}

// Dispatch runs every active workflow whose trigger and conditions match
// ev. A failing workflow is reported in its outcome and never stops the
// others.
func (e *Engine) Dispatch(ctx context.Context, ev event.Event) ([]RunOutcome, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	var wfs []models.Workflow
	if err := e.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at").Find(&wfs).Error; err != nil {
		return nil, fmt.Errorf("workflow: dispatch: list workflows: %w", err)
	}

	var base Snapshot
	outcomes := []RunOutcome{}
	for i := range wfs {
		wf := &wfs[i]
		def, err := Decode(wf)
		if err != nil {
			log.Printf("workflow: dispatch: %v", err)
			outcomes = append(outcomes, RunOutcome{WorkflowID: wf.ID, WorkflowName: wf.Name, Status: models.RunStatusFailed, Error: err.Error()})
			continue
		}
		if !MatchTrigger(wf.ID, def.Trigger, ev) {
			continue
		}
		if base == nil {
			base, err = e.snapshot(ctx, ev.ContactID)
			if err != nil {
				return outcomes, fmt.Errorf("workflow: dispatch: %w", err)
			}
			base.withEvent(ev)
		}
		if !EvaluateAll(def.Conditions, base) {
			continue
		}
		outcomes = append(outcomes, e.Execute(ctx, wf, def, ev, cloneSnapshot(base)))
	}
	return outcomes, nil
}

// Trigger evaluates one workflow's conditions for ev and executes it when
// they hold. ok is false when the conditions rejected the event.
func (e *Engine) Trigger(ctx context.Context, wf *models.Workflow, def *Definition, ev event.Event) (RunOutcome, bool, error) {
	snap, err := e.snapshot(ctx, ev.ContactID)
	if err != nil {
		return RunOutcome{}, false, err
	}
	snap.withEvent(ev)
	if !EvaluateAll(def.Conditions, snap) {
		return RunOutcome{}, false, nil
	}
	return e.Execute(ctx, wf, def, ev, snap), true, nil
}

// Execute creates a run of wf for ev and performs its actions in order
// until one fails, a wait parks the run, or all complete.
func (e *Engine) Execute(ctx context.Context, wf *models.Workflow, def *Definition, ev event.Event, snap Snapshot) RunOutcome {
	now := e.now()
	run := &models.WorkflowRun{
		WorkflowID:    wf.ID,
		ContactID:     optional(ev.ContactID),
		TransactionID: optional(ev.TransactionID),
		EventType:     string(ev.Type),
		EventData:     ev.Data,
		Status:        models.RunStatusPending,
		StartedAt:     now,
	}
	out := RunOutcome{WorkflowID: wf.ID, WorkflowName: wf.Name}
	if err := e.db.WithContext(ctx).Create(run).Error; err != nil {
		out.Status = models.RunStatusFailed
		out.Error = fmt.Sprintf("create run: %v", err)
		return out
	}
	if err := e.db.WithContext(ctx).Model(&models.Workflow{}).Where("id = ?", wf.ID).Update("last_run_at", now).Error; err != nil {
		log.Printf("workflow: %s: update last_run_at: %v", wf.ID, err)
	}
	wf.LastRunAt = &now
	if snap == nil {
		snap = Snapshot{}
	}
	return e.advance(ctx, &RunContext{Run: run, Workflow: wf, Event: ev, Snapshot: snap}, def)
}

// advance performs actions from the run's current index onward.
func (e *Engine) advance(ctx context.Context, rc *RunContext, def *Definition) RunOutcome {
	run := rc.Run
	if run.Status == models.RunStatusPending {
		if !e.move(ctx, run, models.RunStatusRunning, nil) {
			return e.outcome(ctx, rc)
		}
	}
	for i := run.CurrentActionIndex; i < len(def.Actions); i++ {
		a := def.Actions[i]
		if a.Type == ActionWait {
			d, err := a.WaitDuration()
			if err != nil {
				e.fail(ctx, run, i, fmt.Errorf("action %d (%s): %w", i, a.Type, err))
				return e.outcome(ctx, rc)
			}
			e.park(ctx, run, i+1, e.now().Add(d))
			return e.outcome(ctx, rc)
		}

		actx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.runner.Run(actx, rc, a)
		cancel()
		if err != nil {
			e.fail(ctx, run, i, fmt.Errorf("action %d (%s): %w", i, a.Type, err))
			return e.outcome(ctx, rc)
		}
		if !e.setIndex(ctx, run, i+1) {
			return e.outcome(ctx, rc)
		}
	}
	e.move(ctx, run, models.RunStatusCompleted, nil)
	return e.outcome(ctx, rc)
}

// move applies a status transition guarded on the run's current status,
// so a concurrent cancellation is never overwritten. It returns false
// when the run was changed underneath us; run is then reloaded.
func (e *Engine) move(ctx context.Context, run *models.WorkflowRun, to string, extra map[string]any) bool {
	if !CanTransition(run.Status, to) {
		log.Printf("workflow: run %s: refusing %s -> %s", run.ID, run.Status, to)
		return false
	}
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	var completedAt *time.Time
	if to == models.RunStatusCompleted || to == models.RunStatusFailed || to == models.RunStatusCancelled {
		t := e.now()
		completedAt = &t
		updates["completed_at"] = t
		updates["resume_at"] = nil
	}
	res := e.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("id = ? AND status = ?", run.ID, run.Status).
		Updates(updates)
	if res.Error != nil {
		log.Printf("workflow: run %s: set status %s: %v", run.ID, to, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		e.reload(ctx, run)
		return false
	}
	run.Status = to
	if completedAt != nil {
		run.CompletedAt = completedAt
		run.ResumeAt = nil
	}
	return true
}

func (e *Engine) fail(ctx context.Context, run *models.WorkflowRun, index int, err error) {
	log.Printf("workflow: run %s failed: %v", run.ID, err)
	if e.move(ctx, run, models.RunStatusFailed, map[string]any{"current_action_index": index, "error": err.Error()}) {
		run.CurrentActionIndex = index
		run.Error = err.Error()
	}
}

func (e *Engine) setIndex(ctx context.Context, run *models.WorkflowRun, index int) bool {
	res := e.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("id = ? AND status = ?", run.ID, models.RunStatusRunning).
		Update("current_action_index", index)
	if res.Error != nil {
		log.Printf("workflow: run %s: set index: %v", run.ID, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		e.reload(ctx, run)
		return false
	}
	run.CurrentActionIndex = index
	return true
}

// park leaves the run in running with a resume time; ResumeDue picks it
// up from index once the time passes.
func (e *Engine) park(ctx context.Context, run *models.WorkflowRun, index int, resumeAt time.Time) {
	res := e.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("id = ? AND status = ?", run.ID, models.RunStatusRunning).
		Updates(map[string]any{"current_action_index": index, "resume_at": resumeAt})
	if res.Error != nil {
		log.Printf("workflow: run %s: park: %v", run.ID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		e.reload(ctx, run)
		return
	}
	run.CurrentActionIndex = index
	run.ResumeAt = &resumeAt
}

func (e *Engine) reload(ctx context.Context, run *models.WorkflowRun) {
	if err := e.db.WithContext(ctx).First(run, "id = ?", run.ID).Error; err != nil {
		log.Printf("workflow: run %s: reload: %v", run.ID, err)
	}
}

func (e *Engine) outcome(ctx context.Context, rc *RunContext) RunOutcome {
	run := rc.Run
	return RunOutcome{
		WorkflowID:         rc.Workflow.ID,
		WorkflowName:       rc.Workflow.Name,
		RunID:              run.ID,
		Status:             run.Status,
		CurrentActionIndex: run.CurrentActionIndex,
		ResumeAt:           run.ResumeAt,
		Error:              run.Error,
	}
}

// Cancel stops a pending or running run. Terminal runs cannot be
// cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	if err := e.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("workflow: run %s: %w", runID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("workflow: cancel: %w", err)
	}
	if !CanTransition(run.Status, models.RunStatusCancelled) {
		return nil, fmt.Errorf("workflow: run %s is %s: %w", runID, run.Status, apperr.ErrInvalidTransition)
	}
	if !e.move(ctx, &run, models.RunStatusCancelled, nil) {
		return nil, fmt.Errorf("workflow: run %s is %s: %w", runID, run.Status, apperr.ErrInvalidTransition)
	}
	return &run, nil
}

// ResumeDue continues parked runs whose resume time has passed.
func (e *Engine) ResumeDue(ctx context.Context) ([]RunOutcome, error) {
	now := e.now()
	var runs []models.WorkflowRun
	err := e.db.WithContext(ctx).
		Where("status = ? AND resume_at IS NOT NULL AND resume_at <= ?", models.RunStatusRunning, now).
		Order("resume_at").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("workflow: resume: list runs: %w", err)
	}
	outcomes := []RunOutcome{}
	for i := range runs {
		out, ok := e.resume(ctx, &runs[i])
		if ok {
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, nil
}

// resume claims a parked run by clearing its resume time, then advances
// it. ok is false when another sweeper claimed it first.
func (e *Engine) resume(ctx context.Context, run *models.WorkflowRun) (RunOutcome, bool) {
	res := e.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("id = ? AND status = ? AND resume_at IS NOT NULL AND resume_at <= ?", run.ID, models.RunStatusRunning, e.now()).
		Update("resume_at", nil)
	if res.Error != nil {
		log.Printf("workflow: run %s: claim: %v", run.ID, res.Error)
		return RunOutcome{}, false
	}
	if res.RowsAffected == 0 {
		return RunOutcome{}, false
	}
	run.ResumeAt = nil

	var wf models.Workflow
	if err := e.db.WithContext(ctx).First(&wf, "id = ?", run.WorkflowID).Error; err != nil {
		e.fail(ctx, run, run.CurrentActionIndex, fmt.Errorf("load workflow: %w", err))
		return e.outcome(ctx, &RunContext{Run: run, Workflow: &models.Workflow{ID: run.WorkflowID}}), true
	}
	rc := &RunContext{Run: run, Workflow: &wf, Event: runEvent(run)}
	def, err := Decode(&wf)
	if err != nil {
		e.fail(ctx, run, run.CurrentActionIndex, err)
		return e.outcome(ctx, rc), true
	}
	snap, err := e.snapshot(ctx, rc.ContactID())
	if err != nil {
		e.fail(ctx, run, run.CurrentActionIndex, err)
		return e.outcome(ctx, rc), true
	}
	rc.Snapshot = snap.withEvent(rc.Event)
	return e.advance(ctx, rc, def), true
}

// runEvent rebuilds the triggering event stored on a run.
func runEvent(run *models.WorkflowRun) event.Event {
	ev := event.Event{Type: event.Type(run.EventType), Data: map[string]any(run.EventData), OccurredAt: run.StartedAt}
	if run.ContactID != nil {
		ev.ContactID = *run.ContactID
	}
	if run.TransactionID != nil {
		ev.TransactionID = *run.TransactionID
	}
	return ev
}

// snapshot loads the contact view for conditions, or an empty snapshot
// when the event has no contact.
func (e *Engine) snapshot(ctx context.Context, contactID string) (Snapshot, error) {
	if contactID == "" {
		return Snapshot{}, nil
	}
	var c models.Contact
	if err := e.db.WithContext(ctx).First(&c, "id = ?", contactID).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("contact %s: %w", contactID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("load contact %s: %w", contactID, err)
	}
	return ContactSnapshot(&c), nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
