package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

type memoryRepo struct {
	medications map[int64]Medication
	suppliers   map[int64]Supplier
	nextMed     int64
	nextSup     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{medications: make(map[int64]Medication), suppliers: make(map[int64]Supplier)}
}

func (r *memoryRepo) ListMedications(ctx context.Context, filters ListFilters) ([]Medication, int, error) {
	var result []Medication
	for id := int64(1); id <= r.nextMed; id++ {
		m, ok := r.medications[id]
		if !ok {
			continue
		}
		if filters.IsActive != nil && m.IsActive != *filters.IsActive {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(m.Name), strings.ToLower(filters.Search)) {
			continue
		}
		result = append(result, m)
	}
	return result, len(result), nil
}

func (r *memoryRepo) GetMedication(ctx context.Context, id int64) (Medication, error) {
	m, ok := r.medications[id]
	if !ok {
		return Medication{}, shared.ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) GetMedicationByCode(ctx context.Context, code string) (Medication, error) {
	for _, m := range r.medications {
		if m.Code == code {
			return m, nil
		}
	}
	return Medication{}, shared.ErrNotFound
}

func (r *memoryRepo) CreateMedication(ctx context.Context, m Medication) (Medication, error) {
	for _, existing := range r.medications {
		if existing.Code == m.Code {
			return Medication{}, shared.ErrDuplicate
		}
	}
	r.nextMed++
	m.ID = r.nextMed
	r.medications[m.ID] = m
	return m, nil
}

func (r *memoryRepo) UpdateMedication(ctx context.Context, id int64, m Medication) error {
	current, ok := r.medications[id]
	if !ok {
		return shared.ErrNotFound
	}
	m.ID = id
	m.Code = current.Code
	m.IsActive = current.IsActive
	r.medications[id] = m
	return nil
}

func (r *memoryRepo) SetMedicationActive(ctx context.Context, id int64, active bool) error {
	m, ok := r.medications[id]
	if !ok {
		return shared.ErrNotFound
	}
	m.IsActive = active
	r.medications[id] = m
	return nil
}

func (r *memoryRepo) ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, int, error) {
	var result []Supplier
	for id := int64(1); id <= r.nextSup; id++ {
		if s, ok := r.suppliers[id]; ok {
			result = append(result, s)
		}
	}
	return result, len(result), nil
}

func (r *memoryRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, ok := r.suppliers[id]
	if !ok {
		return Supplier{}, shared.ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	r.nextSup++
	s.ID = r.nextSup
	r.suppliers[s.ID] = s
	return s, nil
}

func (r *memoryRepo) UpdateSupplier(ctx context.Context, id int64, s Supplier) error {
	current, ok := r.suppliers[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.ID = id
	s.Code = current.Code
	r.suppliers[id] = s
	return nil
}

func validMedication() Medication {
	return Medication{
		Code:          "med-0001",
		Name:          "Paracetamol 500mg",
		Category:      "analgesic",
		DosageForm:    "tablet",
		LegalSchedule: ScheduleBebas,
		Unit:          "strip",
		PurchasePrice: decimal.NewFromInt(2500),
		SalePrice:     decimal.NewFromInt(4000),
	}
}

func TestCreateMedicationNormalisesCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	created, err := svc.CreateMedication(ctx, validMedication())
	require.NoError(t, err)
	require.Equal(t, "MED-0001", created.Code)
	require.True(t, created.IsActive)
}

func TestCreateMedicationValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	m := validMedication()
	m.Code = "  "
	_, err := svc.CreateMedication(ctx, m)
	require.ErrorIs(t, err, shared.ErrValidation, "blank code")

	m = validMedication()
	m.Name = ""
	_, err = svc.CreateMedication(ctx, m)
	require.ErrorIs(t, err, shared.ErrValidation, "blank name")

	m = validMedication()
	m.LegalSchedule = "psikotropika-x"
	_, err = svc.CreateMedication(ctx, m)
	require.ErrorIs(t, err, shared.ErrValidation, "unknown schedule")

	m = validMedication()
	m.SalePrice = decimal.NewFromInt(-1)
	_, err = svc.CreateMedication(ctx, m)
	require.ErrorIs(t, err, shared.ErrValidation, "negative price")
}

func TestMedicationCodeIsImmutable(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	created, err := svc.CreateMedication(ctx, validMedication())
	require.NoError(t, err)

	update := validMedication()
	update.Code = "MED-9999"
	_, err = svc.UpdateMedication(ctx, created.ID, update)
	require.ErrorIs(t, err, shared.ErrValidation)

	// same code, case-insensitively, is accepted
	update = validMedication()
	update.Name = "Paracetamol Forte 650mg"
	updated, err := svc.UpdateMedication(ctx, created.ID, update)
	require.NoError(t, err)
	require.Equal(t, "Paracetamol Forte 650mg", updated.Name)
	require.Equal(t, "MED-0001", updated.Code)
}

func TestDeactivateMedicationIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.CreateMedication(ctx, validMedication())
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateMedication(ctx, created.ID))
	require.NoError(t, svc.DeactivateMedication(ctx, created.ID))

	got, err := svc.GetMedication(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	active := true
	listed, _, err := svc.ListMedications(ctx, ListFilters{IsActive: &active})
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestSupplierLifecycle(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateSupplier(ctx, Supplier{Name: "PT Kimia Farma Trading"})
	require.ErrorIs(t, err, shared.ErrValidation, "blank code")

	created, err := svc.CreateSupplier(ctx, Supplier{Code: "sup-001", Name: "PT Kimia Farma Trading", Phone: "021-3847709"})
	require.NoError(t, err)
	require.Equal(t, "SUP-001", created.Code)

	err = svc.UpdateSupplier(ctx, created.ID, Supplier{Code: "SUP-001", Name: "PT Kimia Farma Trading", Phone: "021-0000000"})
	require.NoError(t, err)

	got, err := svc.GetSupplier(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "021-0000000", got.Phone)
}
