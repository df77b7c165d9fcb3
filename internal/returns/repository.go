package returns

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
)

// Repository persists sale returns in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the returns repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

const returnColumns = `id, return_number, sale_id, status, reason, refund_total, requested_at, resolved_at`

func scanReturn(row pgx.Row) (SaleReturn, error) {
	var ret SaleReturn
	var resolved *time.Time
	err := row.Scan(&ret.ID, &ret.Number, &ret.SaleID, &ret.Status, &ret.Reason, &ret.RefundTotal, &ret.RequestedAt, &resolved)
	if err != nil {
		return SaleReturn{}, db.TranslateError(err)
	}
	if resolved != nil {
		ret.ResolvedAt = *resolved
	}
	return ret, nil
}

// GetReturn loads a return with its lines.
func (r *Repository) GetReturn(ctx context.Context, id int64) (SaleReturn, []ReturnLine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE id = $1`, id)
	ret, err := scanReturn(row)
	if err != nil {
		return SaleReturn{}, nil, err
	}
	lines, err := listReturnLines(ctx, r.pool, id)
	if err != nil {
		return SaleReturn{}, nil, err
	}
	return ret, lines, nil
}

// ListReturns lists returns newest first with optional filters.
func (r *Repository) ListReturns(ctx context.Context, filters ListFilters) ([]SaleReturn, int, error) {
	page, limit := filters.Page, filters.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	where := ""
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += clause + " $" + strconv.Itoa(len(args))
	}
	if filters.Status != "" {
		add("status =", filters.Status)
	}
	if filters.SaleID > 0 {
		add("sale_id =", filters.SaleID)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sale_returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.TranslateError(err)
	}
	args = append(args, limit, (page-1)*limit)
	query := `SELECT ` + returnColumns + ` FROM sale_returns` + where +
		` ORDER BY requested_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.TranslateError(err)
	}
	defer rows.Close()
	var items []SaleReturn
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ret)
	}
	return items, total, db.TranslateError(rows.Err())
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listReturnLines(ctx context.Context, q queryer, returnID int64) ([]ReturnLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, return_id, sale_line_id, medication_id, batch_id, quantity, condition, refund_amount
		FROM return_lines WHERE return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()
	var lines []ReturnLine
	for rows.Next() {
		var line ReturnLine
		if err := rows.Scan(&line.ID, &line.ReturnID, &line.SaleLineID, &line.MedicationID, &line.BatchID, &line.Quantity, &line.Condition, &line.RefundAmount); err != nil {
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

func (t *txRepo) InsertReturn(ctx context.Context, ret SaleReturn) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sale_returns (return_number, sale_id, status, reason, refund_total, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		ret.Number, ret.SaleID, ret.Status, ret.Reason, ret.RefundTotal, ret.RequestedAt,
	).Scan(&id)
	return id, db.TranslateError(err)
}

func (t *txRepo) InsertReturnLine(ctx context.Context, line ReturnLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO return_lines (return_id, sale_line_id, medication_id, batch_id, quantity, condition, refund_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		line.ReturnID, line.SaleLineID, line.MedicationID, line.BatchID, line.Quantity, line.Condition, line.RefundAmount,
	).Scan(&id)
	return id, db.TranslateError(err)
}

func (t *txRepo) LockReturn(ctx context.Context, id int64) (SaleReturn, []ReturnLine, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE id = $1 FOR UPDATE`, id)
	ret, err := scanReturn(row)
	if err != nil {
		return SaleReturn{}, nil, err
	}
	lines, err := listReturnLines(ctx, t.tx, id)
	if err != nil {
		return SaleReturn{}, nil, err
	}
	return ret, lines, nil
}

func (t *txRepo) UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus, resolvedAt time.Time) error {
	var resolved *time.Time
	if !resolvedAt.IsZero() {
		resolved = &resolvedAt
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE sale_returns SET status = $2, resolved_at = COALESCE($3, resolved_at)
		WHERE id = $1`, id, status, resolved)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.TranslateError(pgx.ErrNoRows)
	}
	return nil
}

func (t *txRepo) ReturnedQuantities(ctx context.Context, saleID, excludeReturnID int64) (map[int64]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT rl.sale_line_id, COALESCE(SUM(rl.quantity), 0)
		FROM return_lines rl
		JOIN sale_returns sr ON sr.id = rl.return_id
		WHERE sr.sale_id = $1 AND sr.status IN ('pending', 'approved') AND sr.id <> $2
		GROUP BY rl.sale_line_id`, saleID, excludeReturnID)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()
	out := make(map[int64]int64)
	for rows.Next() {
		var lineID, qty int64
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, db.TranslateError(err)
		}
		out[lineID] = qty
	}
	return out, db.TranslateError(rows.Err())
}
