package models

import (
	"time"

	"gorm.io/gorm"
)

// Task types.
const (
	TaskTypeTask     = "task"
	TaskTypeFollowUp = "follow_up"
)

// Task is an agent to-do, usually created by a workflow action.
type Task struct {
	ID            string     `gorm:"primaryKey;size:36"`
	ContactID     *string    `gorm:"size:36;index"`
	AssignedTo    string     `gorm:"size:64;index"`
	Title         string     `gorm:"size:255;not null"`
	Description   string     `gorm:"type:text"`
	Type          string     `gorm:"size:16;default:task"`
	Priority      string     `gorm:"size:8;default:normal"`
	DueAt         *time.Time `gorm:"index"`
	Completed     bool       `gorm:"default:false"`
	WorkflowRunID *string    `gorm:"size:36"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BeforeCreate assigns a UUID when the caller did not.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}
