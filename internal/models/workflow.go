package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Workflow is a stored trigger + conditions + ordered actions definition.
// The JSON columns are decoded by the workflow package.
type Workflow struct {
	ID         string         `gorm:"primaryKey;size:36"`
	UserID     string         `gorm:"size:64;not null;index"`
	Name       string         `gorm:"size:255;not null"`
	Trigger    datatypes.JSON `gorm:"type:json;not null"`
	Conditions datatypes.JSON `gorm:"type:json"`
	Actions    datatypes.JSON `gorm:"type:json;not null"`
	IsActive   bool           `gorm:"default:true;index"`
	LastRunAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BeforeCreate assigns a UUID when the caller did not.
func (w *Workflow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = newID()
	}
	return nil
}

// Workflow run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// WorkflowRun is one execution of a Workflow.
type WorkflowRun struct {
	ID                 string            `gorm:"primaryKey;size:36"`
	WorkflowID         string            `gorm:"size:36;not null;index:idx_run_workflow_contact,priority:1"`
	ContactID          *string           `gorm:"size:36;index:idx_run_workflow_contact,priority:2"`
	TransactionID      *string           `gorm:"size:36"`
	EventType          string            `gorm:"size:32"`
	EventData          datatypes.JSONMap `gorm:"type:json"`
	Status             string            `gorm:"size:16;not null;default:pending;index"`
	CurrentActionIndex int               `gorm:"default:0"`
	ResumeAt           *time.Time        `gorm:"index"`
	StartedAt          time.Time
	CompletedAt        *time.Time
	Error              string `gorm:"type:text"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (r *WorkflowRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = newID()
	}
	return nil
}

// Terminal reports whether the run can no longer change state.
func (r *WorkflowRun) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}
