package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Repository abstracts catalog persistence.
type Repository interface {
	ListMedications(ctx context.Context, filters ListFilters) ([]Medication, int, error)
	GetMedication(ctx context.Context, id int64) (Medication, error)
	GetMedicationByCode(ctx context.Context, code string) (Medication, error)
	CreateMedication(ctx context.Context, m Medication) (Medication, error)
	UpdateMedication(ctx context.Context, id int64, m Medication) error
	SetMedicationActive(ctx context.Context, id int64, active bool) error

	ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, int, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, id int64, s Supplier) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes catalog maintenance operations.
type Service struct {
	repo  Repository
	audit AuditPort
}

// NewService constructs the catalog service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ListMedications lists catalog entries with paging.
func (s *Service) ListMedications(ctx context.Context, filters ListFilters) ([]Medication, int, error) {
	return s.repo.ListMedications(ctx, filters)
}

// GetMedication loads a single medication.
func (s *Service) GetMedication(ctx context.Context, id int64) (Medication, error) {
	if id <= 0 {
		return Medication{}, fmt.Errorf("catalog: invalid medication id: %w", shared.ErrValidation)
	}
	return s.repo.GetMedication(ctx, id)
}

// CreateMedication registers a new catalog entry.
func (s *Service) CreateMedication(ctx context.Context, m Medication) (Medication, error) {
	if err := validateMedication(m); err != nil {
		return Medication{}, err
	}
	m.Code = strings.ToUpper(strings.TrimSpace(m.Code))
	m.IsActive = true
	created, err := s.repo.CreateMedication(ctx, m)
	if err != nil {
		return Medication{}, err
	}
	s.recordAudit(ctx, "medication:create", created.ID, nil, medicationSnapshot(created))
	return created, nil
}

// UpdateMedication mutates the mutable fields of a medication. The identity
// code is immutable once issued.
func (s *Service) UpdateMedication(ctx context.Context, id int64, m Medication) (Medication, error) {
	if id <= 0 {
		return Medication{}, fmt.Errorf("catalog: invalid medication id: %w", shared.ErrValidation)
	}
	current, err := s.repo.GetMedication(ctx, id)
	if err != nil {
		return Medication{}, err
	}
	if m.Code != "" && !strings.EqualFold(m.Code, current.Code) {
		return Medication{}, fmt.Errorf("catalog: medication code is immutable: %w", shared.ErrValidation)
	}
	m.Code = current.Code
	if err := validateMedication(m); err != nil {
		return Medication{}, err
	}
	if err := s.repo.UpdateMedication(ctx, id, m); err != nil {
		return Medication{}, err
	}
	updated, err := s.repo.GetMedication(ctx, id)
	if err != nil {
		return Medication{}, err
	}
	s.recordAudit(ctx, "medication:update", id, medicationSnapshot(current), medicationSnapshot(updated))
	return updated, nil
}

// DeactivateMedication soft-deletes a catalog entry. Historical transactions
// keep referencing it.
func (s *Service) DeactivateMedication(ctx context.Context, id int64) error {
	current, err := s.repo.GetMedication(ctx, id)
	if err != nil {
		return err
	}
	if !current.IsActive {
		return nil
	}
	if err := s.repo.SetMedicationActive(ctx, id, false); err != nil {
		return err
	}
	s.recordAudit(ctx, "medication:deactivate", id,
		map[string]any{"is_active": true}, map[string]any{"is_active": false})
	return nil
}

// ListSuppliers lists supplier master records.
func (s *Service) ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, int, error) {
	return s.repo.ListSuppliers(ctx, filters)
}

// GetSupplier loads a single supplier.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, fmt.Errorf("catalog: invalid supplier id: %w", shared.ErrValidation)
	}
	return s.repo.GetSupplier(ctx, id)
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, sup Supplier) (Supplier, error) {
	if err := validateSupplier(sup); err != nil {
		return Supplier{}, err
	}
	sup.Code = strings.ToUpper(strings.TrimSpace(sup.Code))
	sup.IsActive = true
	created, err := s.repo.CreateSupplier(ctx, sup)
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier:create", created.ID, nil, map[string]any{"code": created.Code, "name": created.Name})
	return created, nil
}

// UpdateSupplier mutates supplier contact fields.
func (s *Service) UpdateSupplier(ctx context.Context, id int64, sup Supplier) error {
	if id <= 0 {
		return fmt.Errorf("catalog: invalid supplier id: %w", shared.ErrValidation)
	}
	current, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return err
	}
	if err := validateSupplier(sup); err != nil {
		return err
	}
	if err := s.repo.UpdateSupplier(ctx, id, sup); err != nil {
		return err
	}
	s.recordAudit(ctx, "supplier:update", id,
		map[string]any{"name": current.Name, "phone": current.Phone},
		map[string]any{"name": sup.Name, "phone": sup.Phone})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "medication"
	if strings.HasPrefix(action, "supplier:") {
		entity = "supplier"
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Before:   before,
		After:    after,
	})
}

func medicationSnapshot(m Medication) map[string]any {
	return map[string]any{
		"code":           m.Code,
		"name":           m.Name,
		"category":       m.Category,
		"legal_schedule": string(m.LegalSchedule),
		"sale_price":     m.SalePrice.String(),
		"is_active":      m.IsActive,
	}
}
