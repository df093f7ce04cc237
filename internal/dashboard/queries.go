package dashboard

import (
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// FailedItem is a diagnostics row for a terminally failed work item.
type FailedItem struct {
	ID              string `json:"id"`
	ConversationKey string `json:"conversation_key"`
	RetryCount      int    `json:"retry_count"`
	LastError       string `json:"last_error"`
}

// queryFailedItems returns the most recent failed work items.
func queryFailedItems(db *gorm.DB, limit int) ([]FailedItem, error) {
	var items []FailedItem
	err := db.Model(&models.WorkItem{}).
		Select("id, conversation_key, retry_count, last_error").
		Where("status = ?", models.StatusFailed).
		Order("updated_at DESC").
		Limit(limit).
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard: failed items: %w", err)
	}
	return items, nil
}

// OperatorRow summarizes one online operator.
type OperatorRow struct {
	ID       uint   `json:"id"`
	TenantID string `json:"tenant_id"`
	SectorID string `json:"sector_id"`
	Name     string `json:"name"`
	Open     int64  `json:"open_conversations"`
}

// queryOnlineOperators returns online operators with open-chat counts.
func queryOnlineOperators(db *gorm.DB) ([]OperatorRow, error) {
	var rows []OperatorRow
	err := db.Model(&models.Operator{}).
		Select("operators.id, operators.tenant_id, operators.sector_id, operators.name, COUNT(conversations.id) AS open").
		Joins("LEFT JOIN conversations ON conversations.operator_id = operators.id AND conversations.open = ?", true).
		Where("operators.online = ?", true).
		Group("operators.id, operators.tenant_id, operators.sector_id, operators.name").
		Order("operators.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard: online operators: %w", err)
	}
	return rows, nil
}

// ConversationRow summarizes one open conversation.
type ConversationRow struct {
	Key        string `json:"key"`
	TenantID   string `json:"tenant_id"`
	SectorID   string `json:"sector_id"`
	OwnerKind  string `json:"owner_kind"`
	OperatorID uint   `json:"operator_id"`
}

// queryOpenConversations returns open conversations, newest first.
func queryOpenConversations(db *gorm.DB, limit int) ([]ConversationRow, error) {
	var rows []ConversationRow
	err := db.Model(&models.Conversation{}).
		Select("`key`, tenant_id, sector_id, owner_kind, operator_id").
		Where("open = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard: open conversations: %w", err)
	}
	return rows, nil
}
