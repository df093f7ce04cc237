package store

import (
	"errors"
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// Directory is a CustomerDirectory backed by a customers table in the same
// database. Deployments with an external ERP swap in their own
// implementation of the interface.
type Directory struct {
	db *gorm.DB
}

// DirectoryCustomer is a minimal customer row for identity linking.
type DirectoryCustomer struct {
	ID       string `gorm:"primaryKey;size:64"`
	TenantID string `gorm:"size:64;index:idx_tenant_code"`
	Code     string `gorm:"size:64;index:idx_tenant_code"`
	Name     string `gorm:"size:128"`
}

// NewDirectory creates a Directory and ensures its table exists.
func NewDirectory(db *gorm.DB) (*Directory, error) {
	if err := db.AutoMigrate(&DirectoryCustomer{}); err != nil {
		return nil, fmt.Errorf("store: migrate directory: %w", err)
	}
	return &Directory{db: db}, nil
}

// LookupCustomer resolves a customer code to a directory id and name.
func (s *Directory) LookupCustomer(tenantID, code string) (string, string, bool, error) {
	var c DirectoryCustomer
	err := s.db.Where("tenant_id = ? AND code = ?", tenantID, code).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("store: lookup customer %s/%s: %w", tenantID, code, err)
	}
	return c.ID, c.Name, true, nil
}

// LinkContact records the directory id on the contact.
func (s *Directory) LinkContact(contactID uint, customerID string) error {
	result := s.db.Model(&models.Contact{}).
		Where("id = ?", contactID).
		Update("customer_id", customerID)
	if result.Error != nil {
		return fmt.Errorf("store: link contact %d: %w", contactID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: link contact %d: not found", contactID)
	}
	return nil
}
