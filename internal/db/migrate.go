package db

import (
	"fmt"

	"github.com/zulandar/listingdesk/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Contact{},
		&models.ContactChannels{},
		&models.ContactIdentifier{},
		&models.ConversationMessage{},
		&models.Activity{},
		&models.Workflow{},
		&models.WorkflowRun{},
		&models.Task{},
		&models.IntegrationToken{},
		&models.IntegrationConfig{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
