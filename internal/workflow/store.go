package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/listingdesk/internal/apperr"
	"github.com/zulandar/listingdesk/internal/db"
	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists workflow definitions and reads their runs.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, fmt.Errorf("workflow: store: db is required")
	}
	return &Store{db: gdb}, nil
}

// Create validates raw definition JSON and stores it for userID.
func (s *Store) Create(ctx context.Context, userID string, data []byte) (*models.Workflow, error) {
	if userID == "" {
		return nil, apperr.Invalid("userId", "is required")
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	wf, err := encode(userID, def)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(wf).Error; err != nil {
		return nil, fmt.Errorf("workflow: create: %w", err)
	}
	if !wf.IsActive {
		// gorm skips zero values that carry a column default.
		if err := s.db.WithContext(ctx).Model(wf).Update("is_active", false).Error; err != nil {
			return nil, fmt.Errorf("workflow: create: deactivate: %w", err)
		}
	}
	return wf, nil
}

func encode(userID string, def *Definition) (*models.Workflow, error) {
	trigger, err := json.Marshal(def.Trigger)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode trigger: %w", err)
	}
	conds := def.Conditions
	if conds == nil {
		conds = []Condition{}
	}
	conditions, err := json.Marshal(conds)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode conditions: %w", err)
	}
	actions, err := json.Marshal(def.Actions)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode actions: %w", err)
	}
	active := true
	if def.IsActive != nil {
		active = *def.IsActive
	}
	return &models.Workflow{
		UserID:     userID,
		Name:       def.Name,
		Trigger:    datatypes.JSON(trigger),
		Conditions: datatypes.JSON(conditions),
		Actions:    datatypes.JSON(actions),
		IsActive:   active,
	}, nil
}

// List returns a user's workflows, oldest first.
func (s *Store) List(ctx context.Context, userID string) ([]models.Workflow, error) {
	var wfs []models.Workflow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&wfs).Error; err != nil {
		return nil, fmt.Errorf("workflow: list: %w", err)
	}
	return wfs, nil
}

// Get loads a workflow by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := s.db.WithContext(ctx).First(&wf, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("workflow %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("workflow: get: %w", err)
	}
	return &wf, nil
}

// SetActive enables or disables a workflow.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Workflow{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("workflow: set active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("workflow %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Runs lists the runs of a workflow, newest first.
func (s *Store) Runs(ctx context.Context, workflowID string, limit int) ([]models.WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.WorkflowRun
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).
		Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("workflow: runs: %w", err)
	}
	return runs, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("workflow run %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("workflow: get run: %w", err)
	}
	return &run, nil
}
