package store

import (
	"errors"
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// Presence is the GORM-backed PresenceStore.
type Presence struct {
	db *gorm.DB
}

// NewPresence creates a Presence store.
func NewPresence(db *gorm.DB) *Presence {
	return &Presence{db: db}
}

// ListOnlineOperators returns operators online in a tenant's sector, ordered
// by id ascending so downstream tie-breaking is deterministic.
func (s *Presence) ListOnlineOperators(tenantID, sectorID string) ([]models.Operator, error) {
	var ops []models.Operator
	err := s.db.Where("tenant_id = ? AND sector_id = ? AND online = ?", tenantID, sectorID, true).
		Order("id ASC").
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("store: list online operators %s/%s: %w", tenantID, sectorID, err)
	}
	return ops, nil
}

// CountOpenConversations returns the operator's open conversation count.
func (s *Presence) CountOpenConversations(operatorID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.Conversation{}).
		Where("operator_id = ? AND owner_kind = ? AND open = ?", operatorID, models.OwnerOperator, true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: count open conversations for %d: %w", operatorID, err)
	}
	return n, nil
}

// LastOperatorFor returns the operator who handled the contact's most recent
// closed conversation, or nil when there is none.
func (s *Presence) LastOperatorFor(tenantID string, contactID uint) (*models.Operator, error) {
	var conv models.Conversation
	err := s.db.Where("tenant_id = ? AND contact_id = ? AND open = ? AND owner_kind = ? AND operator_id > 0",
		tenantID, contactID, false, models.OwnerOperator).
		Order("closed_at DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last operator for contact %d: %w", contactID, err)
	}

	var op models.Operator
	err = s.db.First(&op, conv.OperatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load operator %d: %w", conv.OperatorID, err)
	}
	return &op, nil
}

// ListSectors returns the distinct sectors with registered operators.
func (s *Presence) ListSectors(tenantID string) ([]string, error) {
	var sectors []string
	err := s.db.Model(&models.Operator{}).
		Where("tenant_id = ?", tenantID).
		Distinct().
		Order("sector_id ASC").
		Pluck("sector_id", &sectors).Error
	if err != nil {
		return nil, fmt.Errorf("store: list sectors %s: %w", tenantID, err)
	}
	return sectors, nil
}
