package procurement

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
)

// Repository persists purchase orders in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the procurement repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

const orderColumns = `id, po_number, supplier_id, status, ordered_at, expected_at, received_at, note`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var expected, received *time.Time
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.OrderedAt, &expected, &received, &po.Note)
	if err != nil {
		return PurchaseOrder{}, db.TranslateError(err)
	}
	if expected != nil {
		po.ExpectedAt = *expected
	}
	if received != nil {
		po.ReceivedAt = *received
	}
	return po, nil
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	po, err := scanOrder(row)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	lines, err := listOrderLines(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// ListOrders lists orders newest first, optionally filtered by status.
func (r *Repository) ListOrders(ctx context.Context, status POStatus, page, limit int) ([]PurchaseOrder, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	where := ""
	args := []any{}
	if status != "" {
		args = append(args, status)
		where = " WHERE status = $" + strconv.Itoa(len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err)
	}
	args = append(args, limit, (page-1)*limit)
	query := `SELECT ` + orderColumns + ` FROM purchase_orders` + where +
		` ORDER BY ordered_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.TranslateError(err)
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	return orders, total, db.TranslateError(rows.Err())
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listOrderLines(ctx context.Context, q queryer, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, po_id, medication_id, ordered_qty, received_qty, unit_cost, COALESCE(batch_id, 0)
		FROM purchase_order_lines WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.MedicationID, &line.OrderedQty, &line.ReceivedQty, &line.UnitCost, &line.BatchID); err != nil {
			return nil, db.TranslateError(err)
		}
		lines = append(lines, line)
	}
	return lines, db.TranslateError(rows.Err())
}

type txRepo struct {
	ledger.TxRepository
	tx pgx.Tx
}

func (t *txRepo) InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var expected *time.Time
	if !po.ExpectedAt.IsZero() {
		expected = &po.ExpectedAt
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (po_number, supplier_id, status, ordered_at, expected_at, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		po.Number, po.SupplierID, po.Status, po.OrderedAt, expected, po.Note,
	).Scan(&id)
	return id, db.TranslateError(err)
}

func (t *txRepo) InsertOrderLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_order_lines (po_id, medication_id, ordered_qty, received_qty, unit_cost)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING id`,
		line.POID, line.MedicationID, line.OrderedQty, line.UnitCost,
	).Scan(&id)
	return id, db.TranslateError(err)
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
	po, err := scanOrder(row)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	lines, err := listOrderLines(ctx, t.tx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (t *txRepo) UpdateOrderStatus(ctx context.Context, id int64, status POStatus, receivedAt time.Time) error {
	var received *time.Time
	if !receivedAt.IsZero() {
		received = &receivedAt
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders SET status = $2, received_at = COALESCE($3, received_at)
		WHERE id = $1`, id, status, received)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows)
	}
	return nil
}

func (t *txRepo) SetLineReceived(ctx context.Context, lineID, receivedQty, batchID int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_order_lines SET received_qty = $2, batch_id = $3
		WHERE id = $1`, lineID, receivedQty, batchID)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows)
	}
	return nil
}
