package routing

import (
	"errors"
	"testing"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakePresence is an in-memory PresenceStore for pipeline tests.
type fakePresence struct {
	online    []models.Operator
	openCount map[uint]int64
	last      *models.Operator
}

func (f *fakePresence) ListOnlineOperators(tenantID, sectorID string) ([]models.Operator, error) {
	var ops []models.Operator
	for _, op := range f.online {
		if op.TenantID == tenantID && op.SectorID == sectorID {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func (f *fakePresence) CountOpenConversations(operatorID uint) (int64, error) {
	return f.openCount[operatorID], nil
}

func (f *fakePresence) LastOperatorFor(tenantID string, contactID uint) (*models.Operator, error) {
	return f.last, nil
}

func (f *fakePresence) ListSectors(tenantID string) ([]string, error) {
	seen := make(map[string]bool)
	var sectors []string
	for _, op := range f.online {
		if op.TenantID == tenantID && !seen[op.SectorID] {
			seen[op.SectorID] = true
			sectors = append(sectors, op.SectorID)
		}
	}
	return sectors, nil
}

func openRoutingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.RoutingStep{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestBuilder(t *testing.T, presence *fakePresence) (*Builder, *gorm.DB) {
	t.Helper()
	db := openRoutingTestDB(t)
	b, err := NewBuilder(db, presence)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b, db
}

func runDefault(t *testing.T, presence *fakePresence, contact *models.Contact) *ChatAssignment {
	t.Helper()
	b, _ := newTestBuilder(t, presence)
	p, err := b.Build("acme", "support")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assignment, err := b.Run(p, contact)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return assignment
}

func TestDefaultChain_AdminGate(t *testing.T) {
	presence := &fakePresence{
		online: []models.Operator{{ID: 1, TenantID: "acme", SectorID: "support", Online: true}},
	}
	got := runDefault(t, presence, &models.Contact{ID: 10, AdminOnly: true})
	if got.Owner.Kind != models.OwnerSupervision {
		t.Errorf("Owner.Kind = %q, want %q", got.Owner.Kind, models.OwnerSupervision)
	}
}

func TestDefaultChain_LoyaltyMatch(t *testing.T) {
	presence := &fakePresence{
		online: []models.Operator{
			{ID: 1, TenantID: "acme", SectorID: "support"},
			{ID: 2, TenantID: "acme", SectorID: "support"},
		},
		last:      &models.Operator{ID: 2, TenantID: "acme", SectorID: "support"},
		openCount: map[uint]int64{1: 0, 2: 5},
	}
	got := runDefault(t, presence, &models.Contact{ID: 10})
	if got.Owner.Kind != models.OwnerOperator || got.Owner.OperatorID != 2 {
		t.Errorf("Owner = %+v, want operator 2 via loyalty", got.Owner)
	}
}

func TestDefaultChain_LoyaltySkipsOtherSector(t *testing.T) {
	presence := &fakePresence{
		online:    []models.Operator{{ID: 1, TenantID: "acme", SectorID: "support"}},
		last:      &models.Operator{ID: 9, TenantID: "acme", SectorID: "billing"},
		openCount: map[uint]int64{1: 3},
	}
	got := runDefault(t, presence, &models.Contact{ID: 10})
	if got.Owner.OperatorID != 1 {
		t.Errorf("Owner = %+v, want least-busy operator 1", got.Owner)
	}
}

func TestDefaultChain_LeastBusyPicksMinimum(t *testing.T) {
	presence := &fakePresence{
		online: []models.Operator{
			{ID: 1, TenantID: "acme", SectorID: "support"},
			{ID: 2, TenantID: "acme", SectorID: "support"},
			{ID: 3, TenantID: "acme", SectorID: "support"},
		},
		openCount: map[uint]int64{1: 4, 2: 1, 3: 2},
	}
	got := runDefault(t, presence, &models.Contact{ID: 10})
	if got.Owner.OperatorID != 2 {
		t.Errorf("OperatorID = %d, want 2", got.Owner.OperatorID)
	}
}

func TestDefaultChain_LeastBusyTieBreaksOnLowestID(t *testing.T) {
	presence := &fakePresence{
		online: []models.Operator{
			{ID: 1, TenantID: "acme", SectorID: "support"},
			{ID: 2, TenantID: "acme", SectorID: "support"},
		},
		openCount: map[uint]int64{1: 2, 2: 2},
	}
	// Same inputs must always land on the same operator.
	for i := 0; i < 5; i++ {
		got := runDefault(t, presence, &models.Contact{ID: 10})
		if got.Owner.OperatorID != 1 {
			t.Fatalf("run %d: OperatorID = %d, want 1", i, got.Owner.OperatorID)
		}
	}
}

func TestDefaultChain_NobodyOnlineFallsBack(t *testing.T) {
	presence := &fakePresence{}
	got := runDefault(t, presence, &models.Contact{ID: 10})
	if got.Owner.Kind != models.OwnerSupervision {
		t.Errorf("Owner.Kind = %q, want %q", got.Owner.Kind, models.OwnerSupervision)
	}
}

func TestBuild_PersistedStepsOverrideDefault(t *testing.T) {
	b, db := newTestBuilder(t, &fakePresence{})
	rows := []models.RoutingStep{
		{TenantID: "acme", SectorID: "vip", StepOrder: 1, Kind: KindAdminGate, Config: `{"next": 2}`},
		{TenantID: "acme", SectorID: "vip", StepOrder: 2, Kind: KindFallback, Config: `{"operator_id": 42}`},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed steps: %v", err)
	}

	p, err := b.Build("acme", "vip")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := b.Run(p, &models.Contact{ID: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Owner.OperatorID != 42 {
		t.Errorf("OperatorID = %d, want configured fallback 42", got.Owner.OperatorID)
	}
}

func TestBuild_UnknownKind(t *testing.T) {
	b, db := newTestBuilder(t, &fakePresence{})
	row := models.RoutingStep{TenantID: "acme", SectorID: "vip", StepOrder: 1, Kind: "roulette"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	if _, err := b.Build("acme", "vip"); !errors.Is(err, ErrPipelineMisconfigured) {
		t.Fatalf("err = %v, want ErrPipelineMisconfigured", err)
	}
}

func TestRun_MissingNextStep(t *testing.T) {
	b, db := newTestBuilder(t, &fakePresence{})
	row := models.RoutingStep{TenantID: "acme", SectorID: "vip", StepOrder: 1, Kind: KindAdminGate, Config: `{"next": 99}`}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}

	p, err := b.Build("acme", "vip")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := b.Run(p, &models.Contact{ID: 10}); !errors.Is(err, ErrPipelineMisconfigured) {
		t.Fatalf("err = %v, want ErrPipelineMisconfigured", err)
	}
}

func TestRun_AdvanceWithoutNext(t *testing.T) {
	b, db := newTestBuilder(t, &fakePresence{})
	// admin_gate with no config advances to step 0 for regular contacts.
	row := models.RoutingStep{TenantID: "acme", SectorID: "vip", StepOrder: 1, Kind: KindAdminGate}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}

	p, err := b.Build("acme", "vip")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := b.Run(p, &models.Contact{ID: 10}); !errors.Is(err, ErrPipelineMisconfigured) {
		t.Fatalf("err = %v, want ErrPipelineMisconfigured", err)
	}
}

func TestRun_CycleDetection(t *testing.T) {
	b, db := newTestBuilder(t, &fakePresence{})
	rows := []models.RoutingStep{
		{TenantID: "acme", SectorID: "vip", StepOrder: 1, Kind: KindAdminGate, Config: `{"next": 2}`},
		{TenantID: "acme", SectorID: "vip", StepOrder: 2, Kind: KindAdminGate, Config: `{"next": 1}`},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed steps: %v", err)
	}

	p, err := b.Build("acme", "vip")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := b.Run(p, &models.Contact{ID: 10}); !errors.Is(err, ErrPipelineMisconfigured) {
		t.Fatalf("err = %v, want ErrPipelineMisconfigured", err)
	}
}

func TestInvalidate_ForcesRebuild(t *testing.T) {
	b, db := newTestBuilder(t, &fakePresence{})

	// First build: no rows, default chain, supervision fallback.
	p, err := b.Build("acme", "support")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := b.Run(p, &models.Contact{ID: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Owner.Kind != models.OwnerSupervision {
		t.Fatalf("Owner.Kind = %q, want %q", got.Owner.Kind, models.OwnerSupervision)
	}

	row := models.RoutingStep{TenantID: "acme", SectorID: "support", StepOrder: 1, Kind: KindFallback, Config: `{"operator_id": 7}`}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}

	// Cached pipeline still wins until invalidated.
	p, err = b.Build("acme", "support")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err = b.Run(p, &models.Contact{ID: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Owner.Kind != models.OwnerSupervision {
		t.Fatalf("cached pipeline was rebuilt prematurely")
	}

	b.Invalidate("acme", "support")
	p, err = b.Build("acme", "support")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err = b.Run(p, &models.Contact{ID: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Owner.OperatorID != 7 {
		t.Errorf("OperatorID = %d, want 7 after invalidation", got.Owner.OperatorID)
	}
}
