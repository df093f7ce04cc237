package store

import (
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// Surveys records satisfaction ratings.
type Surveys struct {
	db *gorm.DB
}

// NewSurveys creates a Surveys store.
func NewSurveys(db *gorm.DB) *Surveys {
	return &Surveys{db: db}
}

// RecordRating persists one rating. Question -1 is the overall rating.
func (s *Surveys) RecordRating(tenantID, conversationKey string, question, rating int) error {
	resp := models.SurveyResponse{
		TenantID:        tenantID,
		ConversationKey: conversationKey,
		Question:        question,
		Rating:          rating,
	}
	if err := s.db.Create(&resp).Error; err != nil {
		return fmt.Errorf("store: record rating %s q=%d: %w", conversationKey, question, err)
	}
	return nil
}
