package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversations is the GORM-backed ConversationStore.
type Conversations struct {
	db *gorm.DB
}

// NewConversations creates a Conversations store.
func NewConversations(db *gorm.DB) *Conversations {
	return &Conversations{db: db}
}

// ResolveContact finds or creates the contact for a tenant/phone pair.
func (s *Conversations) ResolveContact(tenantID, phone, name string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: resolve contact %s/%s: %w", tenantID, phone, err)
	}
	contact = models.Contact{TenantID: tenantID, Phone: phone, Name: name}
	if err := s.db.Create(&contact).Error; err != nil {
		return nil, fmt.Errorf("store: create contact %s/%s: %w", tenantID, phone, err)
	}
	return &contact, nil
}

// FindOpenConversation returns the contact's open conversation, or nil.
func (s *Conversations) FindOpenConversation(tenantID string, contactID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Where("tenant_id = ? AND contact_id = ? AND open = ?", tenantID, contactID, true).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find open conversation for contact %d: %w", contactID, err)
	}
	return &conv, nil
}

// CreateConversation opens a conversation owned by the given assignment.
// The conversation key carries a fresh uuid alongside tenant, sector and
// contact: one key groups all queue work for one ongoing chat, and a
// returning contact's next conversation never collides with a closed one.
func (s *Conversations) CreateConversation(tenantID, sectorID string, contactID uint, ownerKind string, operatorID uint) (*models.Conversation, error) {
	conv := models.Conversation{
		TenantID:   tenantID,
		ContactID:  contactID,
		SectorID:   sectorID,
		Key:        fmt.Sprintf("%s:%s:%d:%s", tenantID, sectorID, contactID, uuid.NewString()),
		OwnerKind:  ownerKind,
		OperatorID: operatorID,
		Open:       true,
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("store: create conversation for contact %d: %w", contactID, err)
	}
	return &conv, nil
}

// FindConversationByKey returns the conversation with the given key, or nil.
func (s *Conversations) FindConversationByKey(key string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Where("`key` = ?", key).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find conversation %s: %w", key, err)
	}
	return &conv, nil
}

// AssignConversation hands an open conversation to a new owner, moving it
// into sectorID when non-empty. A bot conversation starts with no sector;
// the handoff assignment is what pins one.
func (s *Conversations) AssignConversation(key, sectorID, ownerKind string, operatorID uint) error {
	updates := map[string]interface{}{
		"owner_kind":  ownerKind,
		"operator_id": operatorID,
	}
	if sectorID != "" {
		updates["sector_id"] = sectorID
	}
	result := s.db.Model(&models.Conversation{}).
		Where("`key` = ? AND open = ?", key, true).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("store: assign conversation %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: assign conversation %s: not open", key)
	}
	return nil
}

// CloseConversation closes the conversation with the given key. Closing an
// already-closed conversation is a no-op, which keeps terminal bot steps
// idempotent.
func (s *Conversations) CloseConversation(key, reason string) error {
	now := time.Now()
	result := s.db.Model(&models.Conversation{}).
		Where("`key` = ? AND open = ?", key, true).
		Updates(map[string]interface{}{
			"open":         false,
			"close_reason": reason,
			"closed_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("store: close conversation %s: %w", key, result.Error)
	}
	return nil
}

// RecordMessage archives one message on a conversation.
func (s *Conversations) RecordMessage(conversationID uint, direction, body, providerRef string) error {
	msg := models.ChatMessage{
		ConversationID: conversationID,
		Direction:      direction,
		Body:           body,
		ProviderRef:    providerRef,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return fmt.Errorf("store: record message on %d: %w", conversationID, err)
	}
	return nil
}
