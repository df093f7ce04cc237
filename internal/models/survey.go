package models

import "time"

// SurveyResponse is one recorded satisfaction rating. Persistence is
// best-effort from the survey dialog; a lost row never blocks the dialog.
type SurveyResponse struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	TenantID        string `gorm:"size:64;index"`
	ConversationKey string `gorm:"size:128;index"`
	Question        int    `gorm:"not null"` // -1 for the initial overall rating
	Rating          int    `gorm:"not null"`
	CreatedAt       time.Time
}
