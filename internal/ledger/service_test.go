package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	batches   map[int64]Batch
	movements []MovementEntry
	nextBatch int64
	nextMove  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]Batch)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrUnknownBatch
	}
	return b, nil
}

func (r *memoryRepo) QueryAvailable(ctx context.Context, medicationID int64, asOf time.Time) ([]AvailableBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []AvailableBatch
	for _, b := range r.batches {
		if b.MedicationID == medicationID && b.RemainingQty > 0 && !b.Damaged && !b.ExpiryDate.Before(truncateDay(asOf)) {
			result = append(result, AvailableBatch{BatchID: b.ID, BatchNumber: b.BatchNumber, RemainingQty: b.RemainingQty, ExpiryDate: b.ExpiryDate})
		}
	}
	return result, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, batchID int64, limit int) ([]MovementEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []MovementEntry
	for i := len(r.movements) - 1; i >= 0 && len(entries) < limit; i-- {
		if r.movements[i].BatchID == batchID {
			entries = append(entries, r.movements[i])
		}
	}
	return entries, nil
}

func (r *memoryRepo) ListExpiring(ctx context.Context, before time.Time) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var batches []Batch
	for _, b := range r.batches {
		if b.RemainingQty > 0 && !b.Damaged && b.ExpiryDate.Before(before) {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	tx.repo.nextBatch++
	batch.ID = tx.repo.nextBatch
	batch.RemainingQty = 0
	tx.repo.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) LockBatch(ctx context.Context, id int64) (Batch, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return Batch{}, ErrUnknownBatch
	}
	return b, nil
}

func (tx *memoryTx) LockBatchesForMedication(ctx context.Context, medicationID int64, asOf time.Time) ([]Batch, error) {
	var batches []Batch
	for id := int64(1); id <= tx.repo.nextBatch; id++ {
		b, ok := tx.repo.batches[id]
		if !ok {
			continue
		}
		if b.MedicationID == medicationID && b.RemainingQty > 0 && !b.Damaged && !b.ExpiryDate.Before(truncateDay(asOf)) {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

func (tx *memoryTx) UpdateBatchQuantity(ctx context.Context, id int64, remaining int64) error {
	b, ok := tx.repo.batches[id]
	if !ok {
		return ErrUnknownBatch
	}
	b.RemainingQty = remaining
	tx.repo.batches[id] = b
	return nil
}

func (tx *memoryTx) MarkBatchDamaged(ctx context.Context, id int64, damaged bool) error {
	b, ok := tx.repo.batches[id]
	if !ok {
		return ErrUnknownBatch
	}
	b.Damaged = damaged
	tx.repo.batches[id] = b
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, entry MovementEntry) (int64, error) {
	tx.repo.nextMove++
	entry.ID = tx.repo.nextMove
	tx.repo.movements = append(tx.repo.movements, entry)
	return entry.ID, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeStatus(t *testing.T) {
	now := day("2026-03-15")
	threshold := 30 * 24 * time.Hour

	cases := []struct {
		name      string
		remaining int64
		expiry    time.Time
		damaged   bool
		want      BatchStatus
	}{
		{"far expiry", 10, day("2026-12-01"), false, StatusNormal},
		{"inside threshold", 10, day("2026-04-01"), false, StatusNearExpiry},
		{"exactly at threshold", 10, day("2026-04-14"), false, StatusNearExpiry},
		{"expires today still usable", 10, day("2026-03-15"), false, StatusNearExpiry},
		{"past expiry", 10, day("2026-03-14"), false, StatusExpired},
		{"damaged wins over expiry", 10, day("2020-01-01"), true, StatusDamaged},
		{"empty batch keeps derivation", 0, day("2026-12-01"), false, StatusNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeStatus(tc.remaining, tc.expiry, tc.damaged, now, threshold)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestReceiveCreatesBatchAndMovement(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	expiry := time.Now().AddDate(1, 0, 0)
	batch, err := svc.Receive(ctx, ReceiveInput{
		MedicationID: 1,
		BatchNumber:  "B-001",
		ExpiryDate:   expiry,
		Quantity:     100,
		Actor:        "tester",
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), batch.RemainingQty)
	require.Equal(t, int64(100), batch.ReceivedQty)

	moves, err := svc.Movements(ctx, batch.ID, 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	require.Equal(t, MovementIn, moves[0].Kind)
	require.Equal(t, EventInitialStock, moves[0].Ref.Kind)
	require.Equal(t, int64(0), moves[0].QuantityBefore)
	require.Equal(t, int64(100), moves[0].QuantityAfter)
	require.Equal(t, "tester", moves[0].Actor)
}

func TestReceiveRejectsBadInput(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{MedicationID: 1, BatchNumber: "B", ExpiryDate: time.Now().AddDate(1, 0, 0)})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Receive(ctx, ReceiveInput{MedicationID: 1, BatchNumber: "B", Quantity: 5})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Receive(ctx, ReceiveInput{MedicationID: 1, BatchNumber: "B", Quantity: 5, ExpiryDate: time.Now().AddDate(0, 0, -2)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustKeepsLedgerBalanced(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{MedicationID: 1, BatchNumber: "B-001", ExpiryDate: time.Now().AddDate(1, 0, 0), Quantity: 50})
	require.NoError(t, err)

	entry, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: -8, Reason: "broken blister"})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustment, entry.Kind)
	require.Equal(t, int64(42), entry.QuantityAfter)

	got, _ := repo.GetBatch(ctx, batch.ID)
	require.Equal(t, int64(42), got.RemainingQty)

	// quantity on hand always equals the sum of movement deltas
	moves, err := svc.Movements(ctx, batch.ID, 100)
	require.NoError(t, err)
	var sum int64
	for _, m := range moves {
		sum += m.QuantityDelta
	}
	require.Equal(t, got.RemainingQty, sum)
}

func TestAdjustCannotOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{MedicationID: 1, BatchNumber: "B-001", ExpiryDate: time.Now().AddDate(1, 0, 0), Quantity: 5})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: -6, Reason: "oops"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var stockErr *shared.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(6), stockErr.Requested)
	require.Equal(t, int64(5), stockErr.Available)

	got, _ := repo.GetBatch(ctx, batch.ID)
	require.Equal(t, int64(5), got.RemainingQty)
}

func TestAdjustDamagedConditionMarksBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{MedicationID: 1, BatchNumber: "B-001", ExpiryDate: time.Now().AddDate(1, 0, 0), Quantity: 30})
	require.NoError(t, err)

	entry, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: -30, Reason: "water damage", Condition: "damaged"})
	require.NoError(t, err)
	require.Equal(t, MovementDamaged, entry.Kind)

	got, _ := repo.GetBatch(ctx, batch.ID)
	require.True(t, got.Damaged)
	require.Equal(t, StatusDamaged, got.Status(time.Now(), 0))

	// damaged batches never show up as allocatable
	avail, err := svc.QueryAvailable(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Empty(t, avail)
}

func TestConsumeFollowsFEFOOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	now := time.Now()

	// Insertion order deliberately disagrees with expiry order.
	late, err := svc.Receive(ctx, ReceiveInput{MedicationID: 7, BatchNumber: "LATE", ExpiryDate: now.AddDate(2, 0, 0), Quantity: 40})
	require.NoError(t, err)
	early, err := svc.Receive(ctx, ReceiveInput{MedicationID: 7, BatchNumber: "EARLY", ExpiryDate: now.AddDate(0, 2, 0), Quantity: 10})
	require.NoError(t, err)
	mid, err := svc.Receive(ctx, ReceiveInput{MedicationID: 7, BatchNumber: "MID", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 20})
	require.NoError(t, err)

	var allocations []Allocation
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		allocations, err = ConsumeTx(ctx, tx, 7, 25, EventRef{Kind: EventSale, ID: 1}, "kasir", now)
		return err
	})
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.Equal(t, early.ID, allocations[0].Batch.ID)
	require.Equal(t, int64(10), allocations[0].Quantity)
	require.Equal(t, mid.ID, allocations[1].Batch.ID)
	require.Equal(t, int64(15), allocations[1].Quantity)

	earlyNow, _ := repo.GetBatch(ctx, early.ID)
	midNow, _ := repo.GetBatch(ctx, mid.ID)
	lateNow, _ := repo.GetBatch(ctx, late.ID)
	require.Equal(t, int64(0), earlyNow.RemainingQty)
	require.Equal(t, int64(5), midNow.RemainingQty)
	require.Equal(t, int64(40), lateNow.RemainingQty)
}

func TestConsumeBreaksExpiryTiesByBatchID(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	now := time.Now()
	expiry := now.AddDate(1, 0, 0)

	first, err := svc.Receive(ctx, ReceiveInput{MedicationID: 3, BatchNumber: "A", ExpiryDate: expiry, Quantity: 10})
	require.NoError(t, err)
	second, err := svc.Receive(ctx, ReceiveInput{MedicationID: 3, BatchNumber: "B", ExpiryDate: expiry, Quantity: 10})
	require.NoError(t, err)
	require.Less(t, first.ID, second.ID)

	var allocations []Allocation
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		allocations, err = ConsumeTx(ctx, tx, 3, 12, EventRef{Kind: EventSale, ID: 9}, "kasir", now)
		return err
	})
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.Equal(t, first.ID, allocations[0].Batch.ID)
	require.Equal(t, second.ID, allocations[1].Batch.ID)
	require.Equal(t, int64(2), allocations[1].Quantity)
}

func TestConsumeIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	now := time.Now()

	batch, err := svc.Receive(ctx, ReceiveInput{MedicationID: 5, BatchNumber: "ONLY", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 3})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ConsumeTx(ctx, tx, 5, 4, EventRef{Kind: EventSale, ID: 2}, "kasir", now)
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// nothing written: the single inbound movement is still the whole history
	got, _ := repo.GetBatch(ctx, batch.ID)
	require.Equal(t, int64(3), got.RemainingQty)
	moves, err := svc.Movements(ctx, batch.ID, 100)
	require.NoError(t, err)
	require.Len(t, moves, 1)
}

func TestConsumeSkipsExpiredBatches(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	now := time.Now()

	// Seed an already-expired batch directly; Receive refuses to create one.
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, Batch{MedicationID: 9, BatchNumber: "OLD", ExpiryDate: now.AddDate(0, 0, -10), ReceivedQty: 50, CreatedAt: now})
		if err != nil {
			return err
		}
		return tx.UpdateBatchQuantity(ctx, id, 50)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ConsumeTx(ctx, tx, 9, 1, EventRef{Kind: EventSale, ID: 3}, "kasir", now)
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestRestoreAddsBackToOriginBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	now := time.Now()

	batch, err := svc.Receive(ctx, ReceiveInput{MedicationID: 2, BatchNumber: "B", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 20})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := ConsumeTx(ctx, tx, 2, 6, EventRef{Kind: EventSale, ID: 4}, "kasir", now)
		return err
	})
	require.NoError(t, err)

	var entry MovementEntry
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = RestoreTx(ctx, tx, batch.ID, 2, EventRef{Kind: EventSaleReturn, ID: 1}, "apoteker", now)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, MovementIn, entry.Kind)
	require.Equal(t, int64(16), entry.QuantityAfter)

	got, _ := repo.GetBatch(ctx, batch.ID)
	require.Equal(t, int64(16), got.RemainingQty)
}

func TestSpoilReturnLeavesQuantityAlone(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	now := time.Now()

	batch, err := svc.Receive(ctx, ReceiveInput{MedicationID: 2, BatchNumber: "B", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 20})
	require.NoError(t, err)

	var entry MovementEntry
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = SpoilReturnTx(ctx, tx, batch.ID, 3, "damaged", EventRef{Kind: EventSaleReturn, ID: 8}, "apoteker", now)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, MovementDamaged, entry.Kind)
	require.Equal(t, int64(0), entry.QuantityDelta)
	require.Equal(t, entry.QuantityBefore, entry.QuantityAfter)

	got, _ := repo.GetBatch(ctx, batch.ID)
	require.Equal(t, int64(20), got.RemainingQty)
}
