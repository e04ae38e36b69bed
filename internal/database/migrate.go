package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// AutoMigrate creates or updates the proctoring tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ExamSession{},
		&models.CheatScore{},
		&models.SuspiciousSnapshot{},
		&models.ActivityLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
