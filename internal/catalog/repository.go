package catalog

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/platform/db"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const medicationColumns = `id, code, name, category, dosage_form, legal_schedule, unit, purchase_price, sale_price, is_active, created_at, updated_at`

func scanMedication(row pgx.Row) (Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Category, &m.DosageForm, &m.LegalSchedule, &m.Unit, &m.PurchasePrice, &m.SalePrice, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *repository) ListMedications(ctx context.Context, filters ListFilters) ([]Medication, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		p := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + p + ` OR code ILIKE $` + p + `)`
	}
	if filters.Category != "" {
		args = append(args, filters.Category)
		where += ` AND category = $` + strconv.Itoa(len(args))
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM medications`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err)
	}

	query := `SELECT ` + medicationColumns + ` FROM medications` + where + ` ORDER BY code ASC`
	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, (page-1)*limit)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.TranslateError(err)
	}
	defer rows.Close()

	var medications []Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		medications = append(medications, m)
	}
	return medications, total, rows.Err()
}

func (r *repository) GetMedication(ctx context.Context, id int64) (Medication, error) {
	m, err := scanMedication(r.pool.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id=$1`, id))
	if err != nil {
		return Medication{}, db.TranslateError(err)
	}
	return m, nil
}

func (r *repository) GetMedicationByCode(ctx context.Context, code string) (Medication, error) {
	m, err := scanMedication(r.pool.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE code=$1`, code))
	if err != nil {
		return Medication{}, db.TranslateError(err)
	}
	return m, nil
}

func (r *repository) CreateMedication(ctx context.Context, m Medication) (Medication, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO medications (code, name, category, dosage_form, legal_schedule, unit, purchase_price, sale_price, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+medicationColumns,
		m.Code, m.Name, m.Category, m.DosageForm, m.LegalSchedule, m.Unit, m.PurchasePrice, m.SalePrice, m.IsActive).
		Scan(&m.ID, &m.Code, &m.Name, &m.Category, &m.DosageForm, &m.LegalSchedule, &m.Unit, &m.PurchasePrice, &m.SalePrice, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Medication{}, db.TranslateError(err)
	}
	return m, nil
}

func (r *repository) UpdateMedication(ctx context.Context, id int64, m Medication) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE medications
		    SET name=$2, category=$3, dosage_form=$4, legal_schedule=$5, unit=$6, purchase_price=$7, sale_price=$8, updated_at=NOW()
		  WHERE id=$1`,
		id, m.Name, m.Category, m.DosageForm, m.LegalSchedule, m.Unit, m.PurchasePrice, m.SalePrice)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows)
	}
	return nil
}

func (r *repository) SetMedicationActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE medications SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows)
	}
	return nil
}

const supplierColumns = `id, code, name, address, phone, is_active, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.Phone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *repository) ListSuppliers(ctx context.Context, filters ListFilters) ([]Supplier, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		p := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + p + ` OR code ILIKE $` + p + `)`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	query := `SELECT ` + supplierColumns + ` FROM suppliers` + where +
		` ORDER BY code ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.TranslateError(err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, total, rows.Err()
}

func (r *repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	s, err := scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id=$1`, id))
	if err != nil {
		return Supplier{}, db.TranslateError(err)
	}
	return s, nil
}

func (r *repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO suppliers (code, name, address, phone, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+supplierColumns,
		s.Code, s.Name, s.Address, s.Phone, s.IsActive).
		Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.Phone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Supplier{}, db.TranslateError(err)
	}
	return s, nil
}

func (r *repository) UpdateSupplier(ctx context.Context, id int64, s Supplier) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE suppliers SET name=$2, address=$3, phone=$4, updated_at=NOW() WHERE id=$1`,
		id, s.Name, s.Address, s.Phone)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows)
	}
	return nil
}
