package db

import (
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the full service schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.WorkItem{},
		&models.RoutingStep{},
		&models.BotSessionRecord{},
		&models.Conversation{},
		&models.Contact{},
		&models.Operator{},
		&models.ChatMessage{},
		&models.SurveyResponse{},
	)
	if err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
