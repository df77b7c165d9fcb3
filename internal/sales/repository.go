package sales

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Repository persists sale transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx runs the callback inside a repeatable-read transaction whose
// repository also carries the ledger operations, so sale rows and batch
// movements commit together.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

const saleColumns = `id, number, kind, status, customer_ref, prescriber_ref, prescription_number, subtotal, discount_total, grand_total, sold_at, created_at`

func scanSale(row pgx.Row) (SaleTransaction, error) {
	var s SaleTransaction
	err := row.Scan(&s.ID, &s.Number, &s.Kind, &s.Status, &s.CustomerRef, &s.PrescriberRef, &s.PrescriptionNumber, &s.Subtotal, &s.DiscountTotal, &s.GrandTotal, &s.SoldAt, &s.CreatedAt)
	return s, err
}

// GetSale loads a sale and its line items.
func (r *Repository) GetSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sale_transactions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SaleTransaction{}, nil, shared.ErrNotFound
		}
		return SaleTransaction{}, nil, db.TranslateError(err)
	}
	lines, err := listLines(ctx, r.pool, id)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	return sale, lines, nil
}

// ListSales lists transactions with paging.
func (r *Repository) ListSales(ctx context.Context, filters ListFilters) ([]SaleTransaction, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filters.Kind != "" {
		args = append(args, filters.Kind)
		where += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		where += ` AND sold_at >= $` + strconv.Itoa(len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		where += ` AND sold_at <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sale_transactions`+where, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + saleColumns + ` FROM sale_transactions` + where +
		` ORDER BY sold_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.TranslateError(err)
	}
	defer rows.Close()

	var sales []SaleTransaction
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, s)
	}
	return sales, total, rows.Err()
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLines(ctx context.Context, q queryer, saleID int64) ([]SaleLineItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, sale_id, medication_id, COALESCE(batch_id, 0), quantity, unit_price, discount_pct, subtotal
		   FROM sale_line_items WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()

	var lines []SaleLineItem
	for rows.Next() {
		var l SaleLineItem
		if err := rows.Scan(&l.ID, &l.SaleID, &l.MedicationID, &l.BatchID, &l.Quantity, &l.UnitPrice, &l.DiscountPct, &l.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) InsertSale(ctx context.Context, sale SaleTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO sale_transactions (number, kind, status, customer_ref, prescriber_ref, prescription_number, subtotal, discount_total, grand_total, sold_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7)
		 RETURNING id`,
		sale.Number, sale.Kind, sale.Status, sale.CustomerRef, sale.PrescriberRef, sale.PrescriptionNumber, sale.SoldAt).Scan(&id)
	return id, db.TranslateError(err)
}

func (r *txRepo) InsertSaleLine(ctx context.Context, line SaleLineItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO sale_line_items (sale_id, medication_id, batch_id, quantity, unit_price, discount_pct, subtotal)
		 VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7)
		 RETURNING id`,
		line.SaleID, line.MedicationID, line.BatchID, line.Quantity, line.UnitPrice, line.DiscountPct, line.Subtotal).Scan(&id)
	return id, db.TranslateError(err)
}

func (r *txRepo) DeleteSaleLines(ctx context.Context, saleID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM sale_line_items WHERE sale_id=$1`, saleID)
	return db.TranslateError(err)
}

func (r *txRepo) LockSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error) {
	sale, err := scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sale_transactions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SaleTransaction{}, nil, shared.ErrNotFound
		}
		return SaleTransaction{}, nil, db.TranslateError(err)
	}
	lines, err := listLines(ctx, r.tx, id)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	return sale, lines, nil
}

func (r *txRepo) UpdateSaleStatus(ctx context.Context, id int64, status SaleStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sale_transactions SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) UpdateSaleTotals(ctx context.Context, id int64, subtotal, discount, grand decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE sale_transactions SET subtotal=$2, discount_total=$3, grand_total=$4 WHERE id=$1`,
		id, subtotal, discount, grand)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
