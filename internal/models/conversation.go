package models

import "time"

// Conversation owner kinds.
const (
	OwnerOperator    = "operator"
	OwnerBot         = "bot"
	OwnerSupervision = "supervision"
)

// Conversation is an ongoing chat between a contact and an owner (human
// operator, bot, or the shared supervision pool).
type Conversation struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TenantID    string `gorm:"size:64;index:idx_tenant_contact"`
	ContactID   uint   `gorm:"not null;index:idx_tenant_contact"`
	SectorID    string `gorm:"size:64;index"`
	Key         string `gorm:"size:191;uniqueIndex"`
	OwnerKind   string `gorm:"size:16;not null"`
	OperatorID  uint   `gorm:"index"`
	Open        bool   `gorm:"default:true;index"`
	CloseReason string `gorm:"size:64"`
	CreatedAt   time.Time
	ClosedAt    *time.Time

	Contact Contact `gorm:"foreignKey:ContactID"`
}

// Contact is the external party on a conversation.
type Contact struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	TenantID   string `gorm:"size:64;index:idx_tenant_phone"`
	Phone      string `gorm:"size:32;not null;index:idx_tenant_phone"`
	Name       string `gorm:"size:128"`
	AdminOnly  bool   `gorm:"default:false"`
	CustomerID string `gorm:"size:64"` // linked directory entity, set by the identity dialog
	CreatedAt  time.Time
}

// Operator is a human agent scoped to a sector.
type Operator struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:64;index:idx_tenant_sector_op"`
	SectorID  string `gorm:"size:64;index:idx_tenant_sector_op"`
	Name      string `gorm:"size:128"`
	Online    bool   `gorm:"default:false;index"`
	CreatedAt time.Time
}

// ChatMessage is one archived message on a conversation.
type ChatMessage struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID uint   `gorm:"not null;index"`
	Direction      string `gorm:"size:8;not null"` // "in" or "out"
	Body           string `gorm:"type:text"`
	ProviderRef    string `gorm:"size:128"`
	CreatedAt      time.Time
}
