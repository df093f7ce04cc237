package store

import (
	"testing"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

func seedOperator(t *testing.T, db *gorm.DB, tenantID, sectorID string, online bool) uint {
	t.Helper()
	op := models.Operator{TenantID: tenantID, SectorID: sectorID, Online: online}
	if err := db.Create(&op).Error; err != nil {
		t.Fatalf("create operator: %v", err)
	}
	return op.ID
}

func TestListOnlineOperators(t *testing.T) {
	db := openStoreTestDB(t)
	s := NewPresence(db)

	a := seedOperator(t, db, "acme", "support", true)
	seedOperator(t, db, "acme", "support", false)
	b := seedOperator(t, db, "acme", "support", true)
	seedOperator(t, db, "acme", "billing", true)
	seedOperator(t, db, "globex", "support", true)

	ops, err := s.ListOnlineOperators("acme", "support")
	if err != nil {
		t.Fatalf("ListOnlineOperators: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len = %d, want 2", len(ops))
	}
	if ops[0].ID != a || ops[1].ID != b {
		t.Errorf("order = [%d %d], want [%d %d]", ops[0].ID, ops[1].ID, a, b)
	}
}

func TestCountOpenConversations(t *testing.T) {
	db := openStoreTestDB(t)
	s := NewPresence(db)
	conversations := NewConversations(db)

	op := seedOperator(t, db, "acme", "support", true)
	contact, err := conversations.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if _, err := conversations.CreateConversation("acme", "support", contact.ID, models.OwnerOperator, op); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	// Bot-owned conversations never count against an operator.
	other, err := conversations.ResolveContact("acme", "+5511999990002", "Bea")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if _, err := conversations.CreateConversation("acme", "support", other.ID, models.OwnerBot, 0); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	n, err := s.CountOpenConversations(op)
	if err != nil {
		t.Fatalf("CountOpenConversations: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestLastOperatorFor(t *testing.T) {
	db := openStoreTestDB(t)
	s := NewPresence(db)
	conversations := NewConversations(db)

	first := seedOperator(t, db, "acme", "support", true)
	second := seedOperator(t, db, "acme", "support", true)
	contact, err := conversations.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}

	// No history yet.
	op, err := s.LastOperatorFor("acme", contact.ID)
	if err != nil {
		t.Fatalf("LastOperatorFor: %v", err)
	}
	if op != nil {
		t.Fatalf("op = %+v, want nil", op)
	}

	older := models.Conversation{
		TenantID: "acme", ContactID: contact.ID, SectorID: "support",
		Key: "acme:support:old", OwnerKind: models.OwnerOperator, OperatorID: first,
		Open: false, ClosedAt: ptrTime(time.Now().Add(-2 * time.Hour)),
	}
	newer := models.Conversation{
		TenantID: "acme", ContactID: contact.ID, SectorID: "support",
		Key: "acme:support:new", OwnerKind: models.OwnerOperator, OperatorID: second,
		Open: false, ClosedAt: ptrTime(time.Now().Add(-time.Hour)),
	}
	if err := db.Create(&older).Error; err != nil {
		t.Fatalf("seed older: %v", err)
	}
	if err := db.Create(&newer).Error; err != nil {
		t.Fatalf("seed newer: %v", err)
	}

	op, err = s.LastOperatorFor("acme", contact.ID)
	if err != nil {
		t.Fatalf("LastOperatorFor: %v", err)
	}
	if op == nil || op.ID != second {
		t.Errorf("op = %+v, want the most recent operator %d", op, second)
	}
}

func TestListSectors(t *testing.T) {
	db := openStoreTestDB(t)
	s := NewPresence(db)

	seedOperator(t, db, "acme", "support", true)
	seedOperator(t, db, "acme", "support", false)
	seedOperator(t, db, "acme", "billing", true)
	seedOperator(t, db, "globex", "vip", true)

	sectors, err := s.ListSectors("acme")
	if err != nil {
		t.Fatalf("ListSectors: %v", err)
	}
	if len(sectors) != 2 || sectors[0] != "billing" || sectors[1] != "support" {
		t.Errorf("sectors = %v, want [billing support]", sectors)
	}
}

func TestSurveys_RecordRating(t *testing.T) {
	db := openStoreTestDB(t)
	s := NewSurveys(db)

	if err := s.RecordRating("acme", "acme:support:1", -1, 9); err != nil {
		t.Fatalf("RecordRating: %v", err)
	}
	var resp models.SurveyResponse
	if err := db.First(&resp, "conversation_key = ?", "acme:support:1").Error; err != nil {
		t.Fatalf("load response: %v", err)
	}
	if resp.Question != -1 || resp.Rating != 9 {
		t.Errorf("response = q%d/%d, want q-1/9", resp.Question, resp.Rating)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
