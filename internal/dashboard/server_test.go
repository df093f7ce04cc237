package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/bot"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/queue"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDashTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.WorkItem{},
		&models.Conversation{},
		&models.Operator{},
		&models.BotSessionRecord{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func buildTestRouter(t *testing.T, db *gorm.DB) (*gin.Engine, *queue.Queue) {
	t.Helper()
	q, err := queue.New(queue.Opts{DB: db, Owner: "dash-test"})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	sessions, err := bot.NewStore(bot.StoreOpts{DB: db})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := sessions.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, StartOpts{DB: db, Queue: q, Sessions: sessions})
	return router, q
}

func setupTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *queue.Queue) {
	t.Helper()
	db := openDashTestDB(t)
	router, q := buildTestRouter(t, db)
	return router, db, q
}

func getJSON(t *testing.T, router *gin.Engine, path string, out interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s = %d, want 200: %s", path, w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q", err)
	}
}

func TestHealthz(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	var resp map[string]string
	getJSON(t, router, "/healthz", &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestQueueStats(t *testing.T) {
	router, _, q := setupTestRouter(t)
	if _, err := q.Enqueue("acme:support:1", "work", queue.EnqueueOpts{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var resp struct {
		Counts map[string]int64 `json:"counts"`
	}
	getJSON(t, router, "/api/queue", &resp)
	if resp.Counts[models.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", resp.Counts[models.StatusPending])
	}
}

func TestFailedItems(t *testing.T) {
	router, _, q := setupTestRouter(t)
	if _, err := q.Enqueue("acme:support:1", "doomed", queue.EnqueueOpts{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	item, err := q.AcquireNext(nil)
	if err != nil {
		t.Fatalf("AcquireNext: %v", err)
	}
	if err := q.Fail(item.ID, queue.Permanent(errors.New("provider rejected"))); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	var resp struct {
		Items []FailedItem `json:"items"`
	}
	getJSON(t, router, "/api/queue/failed", &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(resp.Items))
	}
	if resp.Items[0].LastError != "provider rejected" {
		t.Errorf("LastError = %q", resp.Items[0].LastError)
	}
}

func TestSessions(t *testing.T) {
	db := openDashTestDB(t)
	rec := models.BotSessionRecord{
		ConversationKey: "acme:support:1", TenantID: "acme",
		Kind: int(bot.KindMenu), Step: 0, LastActivityAt: time.Now(),
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	router, _ := buildTestRouter(t, db)

	var resp struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	getJSON(t, router, "/api/sessions", &resp)
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
	}
	if resp.Sessions[0]["conversation_key"] != "acme:support:1" {
		t.Errorf("session = %+v", resp.Sessions[0])
	}
}

func TestOperators(t *testing.T) {
	router, db, _ := setupTestRouter(t)
	ops := []models.Operator{
		{TenantID: "acme", SectorID: "support", Name: "Ana", Online: true},
		{TenantID: "acme", SectorID: "support", Name: "Bruno", Online: false},
	}
	if err := db.Create(&ops).Error; err != nil {
		t.Fatalf("seed operators: %v", err)
	}
	conv := models.Conversation{
		TenantID: "acme", ContactID: 1, SectorID: "support",
		Key: "acme:support:1", OwnerKind: models.OwnerOperator,
		OperatorID: ops[0].ID, Open: true,
	}
	if err := db.Create(&conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	var resp struct {
		Operators []OperatorRow `json:"operators"`
	}
	getJSON(t, router, "/api/operators", &resp)
	if len(resp.Operators) != 1 {
		t.Fatalf("operators = %d, want only the online one", len(resp.Operators))
	}
	if resp.Operators[0].Name != "Ana" || resp.Operators[0].Open != 1 {
		t.Errorf("row = %+v", resp.Operators[0])
	}
}

func TestConversations(t *testing.T) {
	router, db, _ := setupTestRouter(t)
	convs := []models.Conversation{
		{TenantID: "acme", ContactID: 1, Key: "acme:support:1", OwnerKind: models.OwnerOperator, OperatorID: 1, Open: true, SectorID: "support"},
		{TenantID: "acme", ContactID: 2, Key: "acme:support:2", OwnerKind: models.OwnerBot, Open: false, SectorID: "support"},
	}
	if err := db.Create(&convs).Error; err != nil {
		t.Fatalf("seed conversations: %v", err)
	}

	var resp struct {
		Conversations []ConversationRow `json:"conversations"`
	}
	getJSON(t, router, "/api/conversations", &resp)
	if len(resp.Conversations) != 1 {
		t.Fatalf("conversations = %d, want only the open one", len(resp.Conversations))
	}
	if resp.Conversations[0].Key != "acme:support:1" {
		t.Errorf("row = %+v", resp.Conversations[0])
	}
}
