package models

import "time"

// WorkItem statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// WorkItem is one unit of queued outbound work (send, record, notify) bound
// to a conversation. All coordination between workers happens through
// conditional updates on this row; there is no in-process lock shared
// across workers.
type WorkItem struct {
	ID                  string `gorm:"primaryKey;size:36"`
	TenantID            string `gorm:"size:64;index"`
	ConversationKey     string `gorm:"size:191;not null;index:idx_key_status"`
	Payload             string `gorm:"type:json"`
	Seq                 int64  `gorm:"not null;index"` // global creation order, assigned by the queue
	Status              string `gorm:"size:16;default:pending;index:idx_key_status"`
	Priority            int    `gorm:"default:0"`
	RetryCount          int    `gorm:"default:0"`
	MaxRetries          int    `gorm:"default:3"`
	LastError           string `gorm:"type:text"`
	LockedBy            string `gorm:"size:64"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingStartedAt *time.Time
	LeaseExpiresAt      *time.Time
	NotBefore           *time.Time `gorm:"index"`
}

// LeaseExpired reports whether the item holds a lease that has lapsed.
func (w *WorkItem) LeaseExpired(now time.Time) bool {
	return w.Status == StatusProcessing && w.LeaseExpiresAt != nil && w.LeaseExpiresAt.Before(now)
}
