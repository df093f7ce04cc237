package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Conversation{},
		&models.Contact{},
		&models.Operator{},
		&models.ChatMessage{},
		&models.SurveyResponse{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestResolveContact_CreatesOnce(t *testing.T) {
	s := NewConversations(openStoreTestDB(t))

	first, err := s.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if first.Name != "Alex" {
		t.Errorf("Name = %q, want %q", first.Name, "Alex")
	}

	second, err := s.ResolveContact("acme", "+5511999990001", "Someone Else")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second resolve created a new contact: %d != %d", second.ID, first.ID)
	}
	if second.Name != "Alex" {
		t.Errorf("Name = %q, existing contact must not be renamed", second.Name)
	}
}

func TestResolveContact_ScopedByTenant(t *testing.T) {
	s := NewConversations(openStoreTestDB(t))

	a, err := s.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	b, err := s.ResolveContact("globex", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if a.ID == b.ID {
		t.Error("same phone in two tenants must be two contacts")
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := NewConversations(openStoreTestDB(t))

	contact, err := s.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}

	conv, err := s.CreateConversation("acme", "support", contact.ID, models.OwnerBot, 0)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if prefix := fmt.Sprintf("acme:support:%d:", contact.ID); !strings.HasPrefix(conv.Key, prefix) {
		t.Errorf("Key = %q, want prefix %q", conv.Key, prefix)
	}
	if !conv.Open {
		t.Error("new conversation must be open")
	}

	open, err := s.FindOpenConversation("acme", contact.ID)
	if err != nil {
		t.Fatalf("FindOpenConversation: %v", err)
	}
	if open == nil || open.ID != conv.ID {
		t.Fatalf("FindOpenConversation = %+v, want conversation %d", open, conv.ID)
	}

	byKey, err := s.FindConversationByKey(conv.Key)
	if err != nil {
		t.Fatalf("FindConversationByKey: %v", err)
	}
	if byKey == nil || byKey.ID != conv.ID {
		t.Fatalf("FindConversationByKey = %+v", byKey)
	}

	if err := s.AssignConversation(conv.Key, "billing", models.OwnerOperator, 7); err != nil {
		t.Fatalf("AssignConversation: %v", err)
	}
	byKey, err = s.FindConversationByKey(conv.Key)
	if err != nil {
		t.Fatalf("FindConversationByKey: %v", err)
	}
	if byKey.OwnerKind != models.OwnerOperator || byKey.OperatorID != 7 {
		t.Errorf("owner = %s/%d, want operator/7", byKey.OwnerKind, byKey.OperatorID)
	}
	if byKey.SectorID != "billing" {
		t.Errorf("SectorID = %q, want %q", byKey.SectorID, "billing")
	}

	// An empty sector leaves the current one in place.
	if err := s.AssignConversation(conv.Key, "", models.OwnerSupervision, 0); err != nil {
		t.Fatalf("AssignConversation: %v", err)
	}
	byKey, err = s.FindConversationByKey(conv.Key)
	if err != nil {
		t.Fatalf("FindConversationByKey: %v", err)
	}
	if byKey.SectorID != "billing" {
		t.Errorf("SectorID = %q, want %q after ownerless-sector assign", byKey.SectorID, "billing")
	}

	if err := s.CloseConversation(conv.Key, "resolved"); err != nil {
		t.Fatalf("CloseConversation: %v", err)
	}
	open, err = s.FindOpenConversation("acme", contact.ID)
	if err != nil {
		t.Fatalf("FindOpenConversation: %v", err)
	}
	if open != nil {
		t.Error("closed conversation still reported open")
	}

	// Closing again is a no-op; assigning a closed conversation is not.
	if err := s.CloseConversation(conv.Key, "resolved"); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := s.AssignConversation(conv.Key, "", models.OwnerOperator, 8); err == nil {
		t.Error("expected assign on a closed conversation to fail")
	}
}

func TestCreateConversation_ReturningContact(t *testing.T) {
	s := NewConversations(openStoreTestDB(t))

	contact, err := s.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}

	first, err := s.CreateConversation("acme", "support", contact.ID, models.OwnerOperator, 7)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.CloseConversation(first.Key, "resolved"); err != nil {
		t.Fatalf("CloseConversation: %v", err)
	}

	second, err := s.CreateConversation("acme", "support", contact.ID, models.OwnerOperator, 7)
	if err != nil {
		t.Fatalf("CreateConversation after close: %v", err)
	}
	if second.Key == first.Key {
		t.Errorf("new conversation reused key %q", first.Key)
	}

	open, err := s.FindOpenConversation("acme", contact.ID)
	if err != nil {
		t.Fatalf("FindOpenConversation: %v", err)
	}
	if open == nil || open.ID != second.ID {
		t.Fatalf("FindOpenConversation = %+v, want conversation %d", open, second.ID)
	}
}

func TestFindConversationByKey_Missing(t *testing.T) {
	s := NewConversations(openStoreTestDB(t))
	conv, err := s.FindConversationByKey("acme:support:404")
	if err != nil {
		t.Fatalf("FindConversationByKey: %v", err)
	}
	if conv != nil {
		t.Errorf("conv = %+v, want nil", conv)
	}
}

func TestRecordMessage(t *testing.T) {
	db := openStoreTestDB(t)
	s := NewConversations(db)

	if err := s.RecordMessage(1, "in", "hello", "prov-1"); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	var msg models.ChatMessage
	if err := db.First(&msg, "conversation_id = ?", 1).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	if msg.Direction != "in" || msg.Body != "hello" || msg.ProviderRef != "prov-1" {
		t.Errorf("message = %+v", msg)
	}
}
