package sales

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/catalog"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// memoryRepo emulates the database with copy-on-begin snapshots so a failed
// transaction leaves no partial writes, mirroring the rollback the real
// repository gets from PostgreSQL.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	batches   map[int64]ledger.Batch
	movements []ledger.MovementEntry
	sales     map[int64]SaleTransaction
	lines     map[int64][]SaleLineItem
	nextBatch int64
	nextMove  int64
	nextSale  int64
	nextLine  int64
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		batches: make(map[int64]ledger.Batch),
		sales:   make(map[int64]SaleTransaction),
		lines:   make(map[int64][]SaleLineItem),
	}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		batches:   make(map[int64]ledger.Batch, len(s.batches)),
		movements: append([]ledger.MovementEntry(nil), s.movements...),
		sales:     make(map[int64]SaleTransaction, len(s.sales)),
		lines:     make(map[int64][]SaleLineItem, len(s.lines)),
		nextBatch: s.nextBatch,
		nextMove:  s.nextMove,
		nextSale:  s.nextSale,
		nextLine:  s.nextLine,
	}
	for id, b := range s.batches {
		c.batches[id] = b
	}
	for id, sale := range s.sales {
		c.sales[id] = sale
	}
	for id, lines := range s.lines {
		c.lines[id] = append([]SaleLineItem(nil), lines...)
	}
	return c
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sale, ok := r.state.sales[id]
	if !ok {
		return SaleTransaction{}, nil, shared.ErrNotFound
	}
	return sale, append([]SaleLineItem(nil), r.state.lines[id]...), nil
}

func (r *memoryRepo) ListSales(ctx context.Context, filters ListFilters) ([]SaleTransaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []SaleTransaction
	for id := int64(1); id <= r.state.nextSale; id++ {
		sale, ok := r.state.sales[id]
		if !ok {
			continue
		}
		if filters.Status != "" && sale.Status != filters.Status {
			continue
		}
		result = append(result, sale)
	}
	return result, len(result), nil
}

func (r *memoryRepo) batch(id int64) ledger.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.batches[id]
}

func (r *memoryRepo) movementCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.movements)
}

func (r *memoryRepo) seedBatch(medicationID int64, number string, expiry time.Time, qty int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextBatch++
	id := r.state.nextBatch
	r.state.batches[id] = ledger.Batch{
		ID: id, MedicationID: medicationID, BatchNumber: number,
		ExpiryDate: expiry, ReceivedQty: qty, RemainingQty: qty, CreatedAt: time.Now(),
	}
	return id
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch ledger.Batch) (int64, error) {
	tx.state.nextBatch++
	batch.ID = tx.state.nextBatch
	batch.RemainingQty = 0
	tx.state.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) LockBatch(ctx context.Context, id int64) (ledger.Batch, error) {
	b, ok := tx.state.batches[id]
	if !ok {
		return ledger.Batch{}, ledger.ErrUnknownBatch
	}
	return b, nil
}

func (tx *memoryTx) LockBatchesForMedication(ctx context.Context, medicationID int64, asOf time.Time) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	for id := int64(1); id <= tx.state.nextBatch; id++ {
		b, ok := tx.state.batches[id]
		if !ok {
			continue
		}
		if b.MedicationID == medicationID && b.RemainingQty > 0 && !b.Damaged && !b.ExpiryDate.Before(asOf.Truncate(24*time.Hour)) {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

func (tx *memoryTx) UpdateBatchQuantity(ctx context.Context, id int64, remaining int64) error {
	b, ok := tx.state.batches[id]
	if !ok {
		return ledger.ErrUnknownBatch
	}
	b.RemainingQty = remaining
	tx.state.batches[id] = b
	return nil
}

func (tx *memoryTx) MarkBatchDamaged(ctx context.Context, id int64, damaged bool) error {
	b, ok := tx.state.batches[id]
	if !ok {
		return ledger.ErrUnknownBatch
	}
	b.Damaged = damaged
	tx.state.batches[id] = b
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, entry ledger.MovementEntry) (int64, error) {
	tx.state.nextMove++
	entry.ID = tx.state.nextMove
	tx.state.movements = append(tx.state.movements, entry)
	return entry.ID, nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale SaleTransaction) (int64, error) {
	tx.state.nextSale++
	sale.ID = tx.state.nextSale
	tx.state.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *memoryTx) InsertSaleLine(ctx context.Context, line SaleLineItem) (int64, error) {
	tx.state.nextLine++
	line.ID = tx.state.nextLine
	tx.state.lines[line.SaleID] = append(tx.state.lines[line.SaleID], line)
	return line.ID, nil
}

func (tx *memoryTx) DeleteSaleLines(ctx context.Context, saleID int64) error {
	delete(tx.state.lines, saleID)
	return nil
}

func (tx *memoryTx) LockSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error) {
	sale, ok := tx.state.sales[id]
	if !ok {
		return SaleTransaction{}, nil, shared.ErrNotFound
	}
	return sale, append([]SaleLineItem(nil), tx.state.lines[id]...), nil
}

func (tx *memoryTx) UpdateSaleStatus(ctx context.Context, id int64, status SaleStatus) error {
	sale, ok := tx.state.sales[id]
	if !ok {
		return shared.ErrNotFound
	}
	sale.Status = status
	tx.state.sales[id] = sale
	return nil
}

func (tx *memoryTx) UpdateSaleTotals(ctx context.Context, id int64, subtotal, discount, grand decimal.Decimal) error {
	sale, ok := tx.state.sales[id]
	if !ok {
		return shared.ErrNotFound
	}
	sale.Subtotal, sale.DiscountTotal, sale.GrandTotal = subtotal, discount, grand
	tx.state.sales[id] = sale
	return nil
}

type memCatalog struct {
	medications map[int64]catalog.Medication
}

func (c *memCatalog) GetMedication(ctx context.Context, id int64) (catalog.Medication, error) {
	med, ok := c.medications[id]
	if !ok {
		return catalog.Medication{}, shared.ErrNotFound
	}
	return med, nil
}

type seqStub struct {
	mu sync.Mutex
	n  int
}

func (s *seqStub) Next(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", name, s.n), nil
}

func price(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newFixture() (*memoryRepo, *memCatalog, *Service) {
	repo := newMemoryRepo()
	cat := &memCatalog{medications: map[int64]catalog.Medication{
		1: {ID: 1, Code: "MED-0001", Name: "Paracetamol 500mg", SalePrice: price(4000), IsActive: true},
		2: {ID: 2, Code: "MED-0002", Name: "Amoxicillin 500mg", SalePrice: price(9500), IsActive: true},
		3: {ID: 3, Code: "MED-0003", Name: "Discontinued", SalePrice: price(1000), IsActive: false},
	}}
	svc := NewService(repo, cat, &seqStub{}, nil, nil)
	return repo, cat, svc
}

func TestCompleteSaleAllocatesExpiryFirst(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	now := time.Now()

	lateID := repo.seedBatch(1, "LATE", now.AddDate(1, 0, 0), 50)
	earlyID := repo.seedBatch(1, "EARLY", now.AddDate(0, 1, 0), 10)

	sale, lines, err := svc.CompleteSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 15}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, sale.Status)
	require.Equal(t, "TRX-0001", sale.Number)

	// one requested line, fulfilled from two batches: the earlier expiry
	// drains first even though it was received later
	require.Len(t, lines, 2)
	require.Equal(t, earlyID, lines[0].BatchID)
	require.Equal(t, int64(10), lines[0].Quantity)
	require.Equal(t, lateID, lines[1].BatchID)
	require.Equal(t, int64(5), lines[1].Quantity)

	require.Equal(t, int64(0), repo.batch(earlyID).RemainingQty)
	require.Equal(t, int64(45), repo.batch(lateID).RemainingQty)

	require.True(t, sale.GrandTotal.Equal(price(60000)), "got %s", sale.GrandTotal)
	require.True(t, sale.Subtotal.Equal(price(60000)))
	require.True(t, sale.DiscountTotal.IsZero())
}

func TestCompleteSaleAppliesLineDiscount(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	repo.seedBatch(1, "B", time.Now().AddDate(1, 0, 0), 100)

	sale, lines, err := svc.CompleteSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 10, DiscountPct: decimal.NewFromInt(25)}},
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].Subtotal.Equal(price(30000)), "got %s", lines[0].Subtotal)
	require.True(t, sale.Subtotal.Equal(price(40000)))
	require.True(t, sale.DiscountTotal.Equal(price(10000)))
	require.True(t, sale.GrandTotal.Equal(price(30000)))
}

func TestCompleteSaleIsAtomicAcrossLines(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	now := time.Now()

	firstID := repo.seedBatch(1, "A", now.AddDate(1, 0, 0), 100)
	secondID := repo.seedBatch(2, "B", now.AddDate(1, 0, 0), 3)

	_, _, err := svc.CompleteSale(ctx, SaleInput{
		Kind: KindOverTheCounter,
		Lines: []LineRequest{
			{MedicationID: 1, Quantity: 20},
			{MedicationID: 2, Quantity: 4},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var stockErr *shared.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(2), stockErr.MedicationID)
	require.Equal(t, int64(4), stockErr.Requested)
	require.Equal(t, int64(3), stockErr.Available)

	// the successful first line rolled back with the rest
	require.Equal(t, int64(100), repo.batch(firstID).RemainingQty)
	require.Equal(t, int64(3), repo.batch(secondID).RemainingQty)
	require.Zero(t, repo.movementCount())

	sales, _, err := repo.ListSales(ctx, ListFilters{})
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestValidationRejections(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	repo.seedBatch(1, "B", time.Now().AddDate(1, 0, 0), 100)

	_, _, err := svc.CompleteSale(ctx, SaleInput{
		Kind:  KindPrescription,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation, "prescription without number")

	_, _, err = svc.CompleteSale(ctx, SaleInput{
		Kind: KindOverTheCounter,
		Lines: []LineRequest{
			{MedicationID: 1, Quantity: 1},
			{MedicationID: 1, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation, "duplicate medication lines")

	_, _, err = svc.CompleteSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 3, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation, "inactive medication")

	_, _, err = svc.CompleteSale(ctx, SaleInput{Kind: "barter", Lines: []LineRequest{{MedicationID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation, "unknown kind")

	_, _, err = svc.CompleteSale(ctx, SaleInput{Kind: KindOverTheCounter})
	require.ErrorIs(t, err, shared.ErrValidation, "no lines")

	_, _, err = svc.CompleteSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestHoldDoesNotTouchStock(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	batchID := repo.seedBatch(1, "B", time.Now().AddDate(1, 0, 0), 100)

	sale, lines, err := svc.HoldSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 30}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, sale.Status)
	require.Len(t, lines, 1)
	require.Zero(t, lines[0].BatchID)

	require.Equal(t, int64(100), repo.batch(batchID).RemainingQty)
	require.Zero(t, repo.movementCount())
}

func TestCompleteHeldSaleReplacesRequestedLines(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	now := time.Now()
	earlyID := repo.seedBatch(1, "EARLY", now.AddDate(0, 1, 0), 20)
	lateID := repo.seedBatch(1, "LATE", now.AddDate(1, 0, 0), 20)

	held, _, err := svc.HoldSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 25}},
	})
	require.NoError(t, err)

	sale, lines, err := svc.CompleteHeldSale(ctx, held.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, sale.Status)
	require.Len(t, lines, 2)
	require.Equal(t, earlyID, lines[0].BatchID)
	require.Equal(t, lateID, lines[1].BatchID)
	require.True(t, sale.GrandTotal.Equal(price(100000)))

	_, persisted, err := svc.GetSale(ctx, held.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
}

func TestCompleteHeldSaleKeepsHoldOnShortfall(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	batchID := repo.seedBatch(1, "B", time.Now().AddDate(1, 0, 0), 10)

	held, _, err := svc.HoldSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 11}},
	})
	require.NoError(t, err)

	_, _, err = svc.CompleteHeldSale(ctx, held.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// the hold survives untouched, requested lines included
	sale, lines, err := svc.GetSale(ctx, held.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, sale.Status)
	require.Len(t, lines, 1)
	require.Equal(t, int64(10), repo.batch(batchID).RemainingQty)
}

func TestCancelRules(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	repo.seedBatch(1, "B", time.Now().AddDate(1, 0, 0), 100)

	held, _, err := svc.HoldSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 5}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.CancelSale(ctx, held.ID))

	// cancelled holds cannot complete
	_, _, err = svc.CompleteHeldSale(ctx, held.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	completed, _, err := svc.CompleteSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 5}},
	})
	require.NoError(t, err)

	err = svc.CancelSale(ctx, completed.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	var stateErr *shared.StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, "completed", stateErr.From)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	batchID := repo.seedBatch(1, "LAST", time.Now().AddDate(1, 0, 0), 5)

	input := SaleInput{Kind: KindOverTheCounter, Lines: []LineRequest{{MedicationID: 1, Quantity: 4}}}
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.CompleteSale(ctx, input)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, failed int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
			failed++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
	require.Equal(t, int64(1), repo.batch(batchID).RemainingQty)
}

func TestBuildReceipt(t *testing.T) {
	repo, _, svc := newFixture()
	ctx := context.Background()
	repo.seedBatch(1, "B", time.Now().AddDate(1, 0, 0), 100)

	sale, lines, err := svc.CompleteSale(ctx, SaleInput{
		Kind:  KindOverTheCounter,
		Lines: []LineRequest{{MedicationID: 1, Quantity: 3}},
	})
	require.NoError(t, err)

	receipt := BuildReceipt(sale, lines)
	require.Equal(t, sale.Number, receipt.Number)
	require.Len(t, receipt.Lines, 1)
	require.Equal(t, "Rp12.000", receipt.GrandTotal)
	require.Equal(t, "Rp4.000", receipt.Lines[0].UnitPrice)
}
