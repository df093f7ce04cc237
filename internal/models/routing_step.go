package models

import "time"

// RoutingStep is one persisted node of a tenant/sector assignment chain.
// When no rows exist for a (tenant, sector) pair the default chain is used.
type RoutingStep struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:64;not null;index:idx_tenant_sector"`
	SectorID  string `gorm:"size:64;not null;index:idx_tenant_sector"`
	StepOrder int    `gorm:"not null"`
	Kind      string `gorm:"size:32;not null"`
	Config    string `gorm:"type:json"`
	CreatedAt time.Time
}
