// Package store provides the conversation, contact and presence storage the
// routing core depends on. Consumers hold the interfaces so tests can
// substitute fakes; the GORM implementations live alongside.
package store

import "github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"

// ConversationStore finds, creates and closes conversations and resolves
// contacts from channel identities.
type ConversationStore interface {
	// ResolveContact finds or creates the contact for a tenant/phone pair.
	ResolveContact(tenantID, phone, name string) (*models.Contact, error)

	// FindOpenConversation returns the contact's open conversation, or nil.
	FindOpenConversation(tenantID string, contactID uint) (*models.Conversation, error)

	// CreateConversation opens a conversation owned by the given assignment.
	CreateConversation(tenantID, sectorID string, contactID uint, ownerKind string, operatorID uint) (*models.Conversation, error)

	// FindConversationByKey returns the conversation with the given key, or nil.
	FindConversationByKey(key string) (*models.Conversation, error)

	// AssignConversation hands an open conversation to a new owner, moving
	// it into sectorID when non-empty.
	AssignConversation(key, sectorID, ownerKind string, operatorID uint) error

	// CloseConversation closes the conversation with the given key.
	// Closing an already-closed conversation is a no-op.
	CloseConversation(key, reason string) error

	// RecordMessage archives one message on a conversation.
	RecordMessage(conversationID uint, direction, body, providerRef string) error
}

// PresenceStore exposes operator availability for the routing pipeline.
type PresenceStore interface {
	// ListOnlineOperators returns operators online in a tenant's sector,
	// ordered by id ascending.
	ListOnlineOperators(tenantID, sectorID string) ([]models.Operator, error)

	// CountOpenConversations returns the operator's open conversation count.
	CountOpenConversations(operatorID uint) (int64, error)

	// LastOperatorFor returns the operator who handled the contact's most
	// recent closed conversation, or nil when there is none.
	LastOperatorFor(tenantID string, contactID uint) (*models.Operator, error)

	// ListSectors returns the distinct sectors with registered operators.
	ListSectors(tenantID string) ([]string, error)
}

// CustomerDirectory resolves external customer identities for the
// identity-linking dialog.
type CustomerDirectory interface {
	// LookupCustomer resolves a customer code to a directory id and display
	// name. Returns ok=false when the code matches nothing.
	LookupCustomer(tenantID, code string) (id, name string, ok bool, err error)

	// LinkContact records the directory id on the contact.
	LinkContact(contactID uint, customerID string) error
}
