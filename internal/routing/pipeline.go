// Package routing decides who owns a brand-new conversation. A pipeline is
// an ordered chain of assignment policies evaluated until one produces a
// final owner: a human operator or the shared supervision pool.
package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/store"
	"gorm.io/gorm"
)

// maxPipelineSteps caps one pipeline run so a misconfigured cycle fails
// loudly instead of spinning.
const maxPipelineSteps = 32

// ErrPipelineMisconfigured is returned when a step yields a non-final
// verdict without a next step, or names a step that does not exist. It
// indicates broken configuration, not a per-message condition.
var ErrPipelineMisconfigured = errors.New("routing: pipeline misconfigured")

// OwnerRef identifies the owner a pipeline assigns.
type OwnerRef struct {
	Kind       string // models.OwnerOperator or models.OwnerSupervision
	OperatorID uint   // set when Kind is operator
}

// Supervision is the sentinel owner meaning "no specific human assigned;
// visible to all supervisors of the sector".
var Supervision = OwnerRef{Kind: models.OwnerSupervision}

// Verdict is one step's decision: either final with an owner, or an advance
// to the step at order Next.
type Verdict struct {
	Final bool
	Next  int
	Owner OwnerRef
}

// Step is one assignment policy. Implementations differ only in Evaluate;
// the pipeline owns no knowledge of concrete step types.
type Step interface {
	Kind() string
	Evaluate(contact *models.Contact) (Verdict, error)
}

// ChatAssignment is the result of a pipeline run.
type ChatAssignment struct {
	TenantID string
	SectorID string
	Owner    OwnerRef
}

// Pipeline is an immutable ordered step chain for one (tenant, sector).
type Pipeline struct {
	TenantID string
	SectorID string
	steps    map[int]Step
	first    int
}

// Builder constructs and caches pipelines per (tenant, sector). Persisted
// step rows take precedence; tenants without rows get the default chain.
type Builder struct {
	db       *gorm.DB
	presence store.PresenceStore

	mu    sync.Mutex
	cache map[string]*Pipeline
}

// NewBuilder creates a pipeline Builder.
func NewBuilder(db *gorm.DB, presence store.PresenceStore) (*Builder, error) {
	if db == nil {
		return nil, fmt.Errorf("routing: db is required")
	}
	if presence == nil {
		return nil, fmt.Errorf("routing: presence store is required")
	}
	return &Builder{
		db:       db,
		presence: presence,
		cache:    make(map[string]*Pipeline),
	}, nil
}

func cacheKey(tenantID, sectorID string) string {
	return tenantID + "/" + sectorID
}

// Build returns the pipeline for (tenant, sector), constructing and caching
// it on first use.
func (b *Builder) Build(tenantID, sectorID string) (*Pipeline, error) {
	key := cacheKey(tenantID, sectorID)
	b.mu.Lock()
	if p, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return p, nil
	}
	b.mu.Unlock()

	p, err := b.construct(tenantID, sectorID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cache[key] = p
	b.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached pipeline for (tenant, sector), forcing a
// rebuild on next use. Called when step configuration changes.
func (b *Builder) Invalidate(tenantID, sectorID string) {
	b.mu.Lock()
	delete(b.cache, cacheKey(tenantID, sectorID))
	b.mu.Unlock()
}

// construct loads persisted steps or falls back to the default chain.
func (b *Builder) construct(tenantID, sectorID string) (*Pipeline, error) {
	var rows []models.RoutingStep
	err := b.db.Where("tenant_id = ? AND sector_id = ?", tenantID, sectorID).
		Order("step_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("routing: load steps %s/%s: %w", tenantID, sectorID, err)
	}

	p := &Pipeline{TenantID: tenantID, SectorID: sectorID, steps: make(map[int]Step)}

	if len(rows) == 0 {
		return b.defaultChain(p), nil
	}

	p.first = rows[0].StepOrder
	for _, row := range rows {
		step, err := b.stepFromKind(row.Kind, row.Config, tenantID, sectorID)
		if err != nil {
			return nil, err
		}
		p.steps[row.StepOrder] = step
	}
	return p, nil
}

// defaultChain is the hard-coded fallback pipeline: admin short-circuit,
// returning-customer match, least-busy online operator, then fallback.
func (b *Builder) defaultChain(p *Pipeline) *Pipeline {
	p.first = 1
	p.steps[1] = &adminGateStep{next: 2}
	p.steps[2] = &loyaltyStep{presence: b.presence, tenantID: p.TenantID, sectorID: p.SectorID, next: 3}
	p.steps[3] = &leastBusyStep{presence: b.presence, tenantID: p.TenantID, sectorID: p.SectorID, next: 4}
	p.steps[4] = &fallbackStep{}
	return p
}

// stepConfig is the persisted per-step configuration payload.
type stepConfig struct {
	Next       int  `json:"next"`
	OperatorID uint `json:"operator_id"`
}

// stepFromKind constructs a concrete step from its persisted kind tag.
func (b *Builder) stepFromKind(kind, rawConfig, tenantID, sectorID string) (Step, error) {
	var cfg stepConfig
	if rawConfig != "" {
		if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
			return nil, fmt.Errorf("routing: step %q config: %w", kind, err)
		}
	}
	switch kind {
	case KindAdminGate:
		return &adminGateStep{next: cfg.Next}, nil
	case KindLoyalty:
		return &loyaltyStep{presence: b.presence, tenantID: tenantID, sectorID: sectorID, next: cfg.Next}, nil
	case KindLeastBusy:
		return &leastBusyStep{presence: b.presence, tenantID: tenantID, sectorID: sectorID, next: cfg.Next}, nil
	case KindFallback:
		return &fallbackStep{operatorID: cfg.OperatorID}, nil
	default:
		return nil, fmt.Errorf("routing: unknown step kind %q: %w", kind, ErrPipelineMisconfigured)
	}
}

// Run evaluates the pipeline for a contact and returns the assignment.
func (b *Builder) Run(p *Pipeline, contact *models.Contact) (*ChatAssignment, error) {
	if contact == nil {
		return nil, fmt.Errorf("routing: contact is required")
	}

	order := p.first
	for i := 0; i < maxPipelineSteps; i++ {
		step, ok := p.steps[order]
		if !ok {
			return nil, fmt.Errorf("routing: %s/%s step %d does not exist: %w",
				p.TenantID, p.SectorID, order, ErrPipelineMisconfigured)
		}

		verdict, err := step.Evaluate(contact)
		if err != nil {
			return nil, fmt.Errorf("routing: %s/%s step %q: %w", p.TenantID, p.SectorID, step.Kind(), err)
		}

		if verdict.Final {
			return &ChatAssignment{TenantID: p.TenantID, SectorID: p.SectorID, Owner: verdict.Owner}, nil
		}
		if verdict.Next == 0 {
			return nil, fmt.Errorf("routing: %s/%s step %q advanced without a next step: %w",
				p.TenantID, p.SectorID, step.Kind(), ErrPipelineMisconfigured)
		}
		order = verdict.Next
	}
	return nil, fmt.Errorf("routing: %s/%s exceeded %d steps, cycle suspected: %w",
		p.TenantID, p.SectorID, maxPipelineSteps, ErrPipelineMisconfigured)
}
