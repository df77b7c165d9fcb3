package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// newMovement builds a movement entry for a batch, enforcing the ledger
// invariants: quantity_after = quantity_before + quantity_delta, outbound
// deltas never exceed the quantity on hand, and the result never goes
// negative. Zero deltas are only allowed for spoilage records.
func newMovement(b Batch, kind MovementKind, delta int64, ref EventRef, reason, actor string, at time.Time) (MovementEntry, error) {
	if delta == 0 && kind != MovementExpired && kind != MovementDamaged {
		return MovementEntry{}, fmt.Errorf("ledger: batch %d: %w", b.ID, shared.ErrInvalidQuantity)
	}
	after := b.RemainingQty + delta
	if after < 0 {
		return MovementEntry{}, &shared.StockError{
			MedicationID: b.MedicationID,
			BatchID:      b.ID,
			Requested:    -delta,
			Available:    b.RemainingQty,
		}
	}
	return MovementEntry{
		BatchID:        b.ID,
		Kind:           kind,
		Ref:            ref,
		QuantityBefore: b.RemainingQty,
		QuantityDelta:  delta,
		QuantityAfter:  after,
		Reason:         reason,
		Actor:          actor,
		CreatedAt:      at,
	}, nil
}

// ReceiveTx creates a batch and its initial inbound movement inside the
// caller's transaction. Procurement receipts use this so the batch, the
// movement and the purchase order's status change commit together.
func ReceiveTx(ctx context.Context, tx TxRepository, input ReceiveInput, now time.Time) (Batch, error) {
	if input.MedicationID == 0 {
		return Batch{}, fmt.Errorf("ledger: medication required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Batch{}, fmt.Errorf("ledger: medication %d: %w", input.MedicationID, shared.ErrInvalidQuantity)
	}
	if input.ExpiryDate.IsZero() {
		return Batch{}, fmt.Errorf("ledger: medication %d: expiry date required: %w", input.MedicationID, shared.ErrValidation)
	}
	if input.ExpiryDate.Before(truncateDay(now)) {
		return Batch{}, fmt.Errorf("ledger: medication %d batch %q already expired: %w", input.MedicationID, input.BatchNumber, shared.ErrValidation)
	}
	batch := Batch{
		MedicationID:   input.MedicationID,
		SupplierID:     input.SupplierID,
		BatchNumber:    input.BatchNumber,
		ProductionDate: input.ProductionDate,
		ExpiryDate:     input.ExpiryDate,
		ReceivedQty:    input.Quantity,
		CreatedAt:      now,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	batch.ID = id
	entry, err := newMovement(batch, MovementIn, input.Quantity, input.Ref, "receipt", input.Actor, now)
	if err != nil {
		return Batch{}, err
	}
	if _, err := tx.InsertMovement(ctx, entry); err != nil {
		return Batch{}, err
	}
	batch.RemainingQty = entry.QuantityAfter
	if err := tx.UpdateBatchQuantity(ctx, batch.ID, batch.RemainingQty); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// ConsumeTx allocates quantity across the medication's batches in FEFO order
// inside the caller's transaction. Batches are locked in ascending id order
// before allocation so concurrent sales touching overlapping batch sets
// cannot deadlock. Either the full quantity is allocated or nothing is
// written.
func ConsumeTx(ctx context.Context, tx TxRepository, medicationID, quantity int64, ref EventRef, actor string, now time.Time) ([]Allocation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("ledger: medication %d: %w", medicationID, shared.ErrInvalidQuantity)
	}
	batches, err := tx.LockBatchesForMedication(ctx, medicationID, now)
	if err != nil {
		return nil, err
	}
	var available int64
	for _, b := range batches {
		available += b.RemainingQty
	}
	if available < quantity {
		return nil, &shared.StockError{MedicationID: medicationID, Requested: quantity, Available: available}
	}

	// Lock order is id ascending; consumption order is first-expired-first-out
	// with id as the deterministic tie-break.
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].ExpiryDate.Equal(batches[j].ExpiryDate) {
			return batches[i].ExpiryDate.Before(batches[j].ExpiryDate)
		}
		return batches[i].ID < batches[j].ID
	})

	needed := quantity
	allocations := make([]Allocation, 0, 1)
	for _, b := range batches {
		if needed == 0 {
			break
		}
		take := b.RemainingQty
		if take > needed {
			take = needed
		}
		entry, err := newMovement(b, MovementOut, -take, ref, "sale allocation", actor, now)
		if err != nil {
			return nil, err
		}
		entryID, err := tx.InsertMovement(ctx, entry)
		if err != nil {
			return nil, err
		}
		entry.ID = entryID
		if err := tx.UpdateBatchQuantity(ctx, b.ID, entry.QuantityAfter); err != nil {
			return nil, err
		}
		allocations = append(allocations, Allocation{Batch: b, Quantity: take, Movement: entry})
		needed -= take
	}
	return allocations, nil
}

// RestoreTx adds quantity back into the originating batch, used by approved
// returns in good condition. It never creates a new batch.
func RestoreTx(ctx context.Context, tx TxRepository, batchID, quantity int64, ref EventRef, actor string, now time.Time) (MovementEntry, error) {
	if quantity <= 0 {
		return MovementEntry{}, fmt.Errorf("ledger: batch %d: %w", batchID, shared.ErrInvalidQuantity)
	}
	batch, err := tx.LockBatch(ctx, batchID)
	if err != nil {
		return MovementEntry{}, err
	}
	entry, err := newMovement(batch, MovementIn, quantity, ref, "return restore", actor, now)
	if err != nil {
		return MovementEntry{}, err
	}
	entryID, err := tx.InsertMovement(ctx, entry)
	if err != nil {
		return MovementEntry{}, err
	}
	entry.ID = entryID
	if err := tx.UpdateBatchQuantity(ctx, batch.ID, entry.QuantityAfter); err != nil {
		return MovementEntry{}, err
	}
	return entry, nil
}

// SpoilReturnTx records returned quantity that cannot re-enter usable stock
// (damaged or expired condition). The movement carries a zero delta against
// the originating batch so the spoilage stays traceable without restoring
// quantity.
func SpoilReturnTx(ctx context.Context, tx TxRepository, batchID, quantity int64, condition string, ref EventRef, actor string, now time.Time) (MovementEntry, error) {
	if quantity <= 0 {
		return MovementEntry{}, fmt.Errorf("ledger: batch %d: %w", batchID, shared.ErrInvalidQuantity)
	}
	kind := MovementDamaged
	if condition == "expired" {
		kind = MovementExpired
	}
	batch, err := tx.LockBatch(ctx, batchID)
	if err != nil {
		return MovementEntry{}, err
	}
	reason := fmt.Sprintf("return of %d unit rejected as %s", quantity, condition)
	entry, err := newMovement(batch, kind, 0, ref, reason, actor, now)
	if err != nil {
		return MovementEntry{}, err
	}
	entryID, err := tx.InsertMovement(ctx, entry)
	if err != nil {
		return MovementEntry{}, err
	}
	entry.ID = entryID
	return entry, nil
}
