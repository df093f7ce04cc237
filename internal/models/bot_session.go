package models

import "time"

// BotSessionRecord is the durable snapshot of one automated dialog session.
// The bot engine owns these rows through its write-behind store: the full set
// is read once at startup and individual rows are overwritten on debounced
// flushes.
type BotSessionRecord struct {
	ConversationKey string `gorm:"primaryKey;size:191"`
	TenantID        string `gorm:"size:64;index"`
	Kind            int    `gorm:"not null"`
	Step            int    `gorm:"not null"`
	Data            string `gorm:"type:json"`
	TimeoutMs       int64
	LastActivityAt  time.Time `gorm:"index"`
	CreatedAt       time.Time
}
