package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/platform/db"
)

// TxRepository exposes the transactional operations the allocation helpers
// and the service need. Modules that must commit ledger movements together
// with their own rows (sales, procurement, returns) embed this interface in
// their transactional repositories.
type TxRepository interface {
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	LockBatch(ctx context.Context, id int64) (Batch, error)
	LockBatchesForMedication(ctx context.Context, medicationID int64, asOf time.Time) ([]Batch, error)
	UpdateBatchQuantity(ctx context.Context, id int64, remaining int64) error
	MarkBatchDamaged(ctx context.Context, id int64, damaged bool) error
	InsertMovement(ctx context.Context, entry MovementEntry) (int64, error)
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const batchColumns = `id, medication_id, supplier_id, batch_number, production_date, expiry_date, received_qty, remaining_qty, damaged, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.MedicationID, &b.SupplierID, &b.BatchNumber, &b.ProductionDate, &b.ExpiryDate, &b.ReceivedQty, &b.RemainingQty, &b.Damaged, &b.CreatedAt)
	return b, err
}

// GetBatch loads a single batch.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrUnknownBatch
		}
		return Batch{}, db.TranslateError(err)
	}
	return b, nil
}

// QueryAvailable lists allocatable batches in FEFO order.
func (r *Repository) QueryAvailable(ctx context.Context, medicationID int64, asOf time.Time) ([]AvailableBatch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, batch_number, remaining_qty, expiry_date
		   FROM batches
		  WHERE medication_id=$1 AND remaining_qty > 0 AND NOT damaged AND expiry_date >= $2::date
		  ORDER BY expiry_date ASC, id ASC`, medicationID, asOf)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()

	var result []AvailableBatch
	for rows.Next() {
		var b AvailableBatch
		if err := rows.Scan(&b.BatchID, &b.BatchNumber, &b.RemainingQty, &b.ExpiryDate); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// ListMovements returns the movement history of a batch, newest first.
func (r *Repository) ListMovements(ctx context.Context, batchID int64, limit int) ([]MovementEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, batch_id, kind, ref_kind, ref_id, quantity_before, quantity_delta, quantity_after, reason, actor, created_at
		   FROM stock_movements
		  WHERE batch_id=$1
		  ORDER BY id DESC
		  LIMIT $2`, batchID, limit)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()

	var entries []MovementEntry
	for rows.Next() {
		var e MovementEntry
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Kind, &e.Ref.Kind, &e.Ref.ID, &e.QuantityBefore, &e.QuantityDelta, &e.QuantityAfter, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListExpiring returns batches still holding stock with expiry before the
// cutoff.
func (r *Repository) ListExpiring(ctx context.Context, before time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+`
		   FROM batches
		  WHERE remaining_qty > 0 AND NOT damaged AND expiry_date < $1::date
		  ORDER BY expiry_date ASC, id ASC`, before)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository adapts a pgx transaction into a ledger TxRepository so
// sales, procurement and returns repositories can reuse the ledger SQL inside
// their own transactions.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO batches (medication_id, supplier_id, batch_number, production_date, expiry_date, received_qty, remaining_qty, damaged, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, false, $7)
		 RETURNING id`,
		batch.MedicationID, nullableInt(batch.SupplierID), batch.BatchNumber, batch.ProductionDate, batch.ExpiryDate, batch.ReceivedQty, batch.CreatedAt).Scan(&id)
	return id, db.TranslateError(err)
}

func (r *txRepo) LockBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrUnknownBatch
		}
		return Batch{}, db.TranslateError(err)
	}
	return b, nil
}

func (r *txRepo) LockBatchesForMedication(ctx context.Context, medicationID int64, asOf time.Time) ([]Batch, error) {
	// Locked in ascending id order; callers re-sort FEFO after the locks are
	// held so overlapping allocations cannot wait on each other cyclically.
	rows, err := r.tx.Query(ctx,
		`SELECT `+batchColumns+`
		   FROM batches
		  WHERE medication_id=$1 AND remaining_qty > 0 AND NOT damaged AND expiry_date >= $2::date
		  ORDER BY id ASC
		  FOR UPDATE`, medicationID, asOf)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepo) UpdateBatchQuantity(ctx context.Context, id int64, remaining int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET remaining_qty=$2 WHERE id=$1`, id, remaining)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownBatch
	}
	return nil
}

func (r *txRepo) MarkBatchDamaged(ctx context.Context, id int64, damaged bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET damaged=$2 WHERE id=$1`, id, damaged)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownBatch
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, entry MovementEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (batch_id, kind, ref_kind, ref_id, quantity_before, quantity_delta, quantity_after, reason, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		entry.BatchID, entry.Kind, entry.Ref.Kind, entry.Ref.ID, entry.QuantityBefore, entry.QuantityDelta, entry.QuantityAfter, entry.Reason, entry.Actor, entry.CreatedAt).Scan(&id)
	return id, db.TranslateError(err)
}

func nullableInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
