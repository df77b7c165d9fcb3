package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek-pos/internal/catalog"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error)
	ListSales(ctx context.Context, filters ListFilters) ([]SaleTransaction, int, error)
}

// TxRepository embeds the ledger operations so batch movements and sale rows
// commit in one unit of work.
type TxRepository interface {
	ledger.TxRepository
	InsertSale(ctx context.Context, sale SaleTransaction) (int64, error)
	InsertSaleLine(ctx context.Context, line SaleLineItem) (int64, error)
	DeleteSaleLines(ctx context.Context, saleID int64) error
	LockSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error)
	UpdateSaleStatus(ctx context.Context, id int64, status SaleStatus) error
	UpdateSaleTotals(ctx context.Context, id int64, subtotal, discount, grand decimal.Decimal) error
}

// CatalogPort resolves medication pricing and existence.
type CatalogPort interface {
	GetMedication(ctx context.Context, id int64) (catalog.Medication, error)
}

// SequencePort issues public transaction numbers.
type SequencePort interface {
	Next(ctx context.Context, name string) (string, error)
}

// LedgerPort lets the engine invalidate availability caches after commits.
type LedgerPort interface {
	InvalidateAvailability(ctx context.Context, medicationID int64)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the sale transaction engine: it allocates requested quantities
// across batches expiry-first and commits the sale atomically with the
// resulting movements.
type Service struct {
	repo      RepositoryPort
	catalog   CatalogPort
	sequences SequencePort
	ledger    LedgerPort
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the engine.
func NewService(repo RepositoryPort, cat CatalogPort, sequences SequencePort, led LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: cat, sequences: sequences, ledger: led, audit: audit, now: time.Now}
}

// HoldSale records a pending transaction without touching stock. Lines keep
// the requested quantities; allocation happens at completion.
func (s *Service) HoldSale(ctx context.Context, input SaleInput) (SaleTransaction, []SaleLineItem, error) {
	medications, err := s.validateInput(ctx, input)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	number, err := s.sequences.Next(ctx, shared.SeqSale)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	now := s.now()
	sale := SaleTransaction{
		Number:             number,
		Kind:               input.Kind,
		Status:             StatusPending,
		CustomerRef:        input.CustomerRef,
		PrescriberRef:      input.PrescriberRef,
		PrescriptionNumber: input.PrescriptionNumber,
		SoldAt:             now,
		Subtotal:           decimal.Zero,
		DiscountTotal:      decimal.Zero,
		GrandTotal:         decimal.Zero,
	}
	var lines []SaleLineItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID
		for _, req := range input.Lines {
			line := requestedLine(saleID, req, medications[req.MedicationID])
			lineID, err := tx.InsertSaleLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	s.recordAudit(ctx, "sale:hold", sale, nil)
	return sale, lines, nil
}

// CompleteSale allocates and commits a transaction in one step: the POS path.
func (s *Service) CompleteSale(ctx context.Context, input SaleInput) (SaleTransaction, []SaleLineItem, error) {
	medications, err := s.validateInput(ctx, input)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	number, err := s.sequences.Next(ctx, shared.SeqSale)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	now := s.now()
	actor := input.Actor
	if actor == "" {
		actor = shared.ActorFromContext(ctx)
	}
	sale := SaleTransaction{
		Number:             number,
		Kind:               input.Kind,
		Status:             StatusPending,
		CustomerRef:        input.CustomerRef,
		PrescriberRef:      input.PrescriberRef,
		PrescriptionNumber: input.PrescriptionNumber,
		SoldAt:             now,
	}
	var lines []SaleLineItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID
		lines, err = s.allocate(ctx, tx, saleID, input.Lines, medications, actor, now)
		if err != nil {
			return err
		}
		sale.Subtotal, sale.DiscountTotal, sale.GrandTotal = totals(lines)
		if err := tx.UpdateSaleTotals(ctx, saleID, sale.Subtotal, sale.DiscountTotal, sale.GrandTotal); err != nil {
			return err
		}
		return tx.UpdateSaleStatus(ctx, saleID, StatusCompleted)
	})
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	sale.Status = StatusCompleted
	s.invalidate(ctx, lines)
	s.recordAudit(ctx, "sale:complete", sale, lines)
	return sale, lines, nil
}

// CompleteHeldSale allocates a previously held transaction. The requested
// lines are replaced by the fulfilled, batch-specific ones.
func (s *Service) CompleteHeldSale(ctx context.Context, saleID int64) (SaleTransaction, []SaleLineItem, error) {
	actor := shared.ActorFromContext(ctx)
	now := s.now()
	var sale SaleTransaction
	var lines []SaleLineItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var requested []SaleLineItem
		var err error
		sale, requested, err = tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusPending {
			return &shared.StateError{Entity: "sale", ID: saleID, From: string(sale.Status), To: string(StatusCompleted)}
		}
		reqs := make([]LineRequest, 0, len(requested))
		medications := make(map[int64]catalog.Medication, len(requested))
		for _, line := range requested {
			med, err := s.catalog.GetMedication(ctx, line.MedicationID)
			if err != nil {
				return fmt.Errorf("sales: medication %d: %w", line.MedicationID, err)
			}
			medications[line.MedicationID] = med
			reqs = append(reqs, LineRequest{MedicationID: line.MedicationID, Quantity: line.Quantity, DiscountPct: line.DiscountPct})
		}
		if err := tx.DeleteSaleLines(ctx, saleID); err != nil {
			return err
		}
		lines, err = s.allocate(ctx, tx, saleID, reqs, medications, actor, now)
		if err != nil {
			return err
		}
		sale.Subtotal, sale.DiscountTotal, sale.GrandTotal = totals(lines)
		if err := tx.UpdateSaleTotals(ctx, saleID, sale.Subtotal, sale.DiscountTotal, sale.GrandTotal); err != nil {
			return err
		}
		return tx.UpdateSaleStatus(ctx, saleID, StatusCompleted)
	})
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	sale.Status = StatusCompleted
	s.invalidate(ctx, lines)
	s.recordAudit(ctx, "sale:complete", sale, lines)
	return sale, lines, nil
}

// CancelSale cancels a pending transaction. No stock was allocated yet, so no
// movement is written. Completed sales cannot be cancelled; they reverse
// through the return workflow.
func (s *Service) CancelSale(ctx context.Context, saleID int64) error {
	var sale SaleTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, _, err = tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusPending {
			return &shared.StateError{Entity: "sale", ID: saleID, From: string(sale.Status), To: string(StatusCancelled)}
		}
		return tx.UpdateSaleStatus(ctx, saleID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	sale.Status = StatusCancelled
	s.recordAudit(ctx, "sale:cancel", sale, nil)
	return nil
}

// GetSale loads a transaction with its line items.
func (s *Service) GetSale(ctx context.Context, id int64) (SaleTransaction, []SaleLineItem, error) {
	if id <= 0 {
		return SaleTransaction{}, nil, fmt.Errorf("sales: invalid sale id: %w", shared.ErrValidation)
	}
	return s.repo.GetSale(ctx, id)
}

// ListSales lists transactions with paging.
func (s *Service) ListSales(ctx context.Context, filters ListFilters) ([]SaleTransaction, int, error) {
	return s.repo.ListSales(ctx, filters)
}

// allocate walks each requested line through the FEFO allocator and emits one
// fulfilled line item per consumed batch. Any shortfall aborts the whole
// transaction; the caller's rollback discards partial work.
func (s *Service) allocate(ctx context.Context, tx TxRepository, saleID int64, reqs []LineRequest, medications map[int64]catalog.Medication, actor string, now time.Time) ([]SaleLineItem, error) {
	ref := ledger.EventRef{Kind: ledger.EventSale, ID: saleID}
	var lines []SaleLineItem
	for _, req := range reqs {
		allocations, err := ledger.ConsumeTx(ctx, tx, req.MedicationID, req.Quantity, ref, actor, now)
		if err != nil {
			return nil, err
		}
		med := medications[req.MedicationID]
		for _, alloc := range allocations {
			line := SaleLineItem{
				SaleID:       saleID,
				MedicationID: req.MedicationID,
				BatchID:      alloc.Batch.ID,
				Quantity:     alloc.Quantity,
				UnitPrice:    med.SalePrice,
				DiscountPct:  req.DiscountPct,
			}
			line.Subtotal = lineSubtotal(line)
			lineID, err := tx.InsertSaleLine(ctx, line)
			if err != nil {
				return nil, err
			}
			line.ID = lineID
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (s *Service) validateInput(ctx context.Context, input SaleInput) (map[int64]catalog.Medication, error) {
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("sales: transaction kind %q not recognised: %w", input.Kind, shared.ErrValidation)
	}
	if input.Kind == KindPrescription && input.PrescriptionNumber == "" {
		return nil, fmt.Errorf("sales: prescription number required for prescription transactions: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("sales: at least one line required: %w", shared.ErrValidation)
	}
	medications := make(map[int64]catalog.Medication, len(input.Lines))
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("sales: medication %d: %w", line.MedicationID, shared.ErrInvalidQuantity)
		}
		if line.DiscountPct.IsNegative() || line.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("sales: medication %d: discount out of range: %w", line.MedicationID, shared.ErrValidation)
		}
		if _, dup := medications[line.MedicationID]; dup {
			return nil, fmt.Errorf("sales: medication %d listed twice: %w", line.MedicationID, shared.ErrValidation)
		}
		med, err := s.catalog.GetMedication(ctx, line.MedicationID)
		if err != nil {
			return nil, fmt.Errorf("sales: medication %d: %w", line.MedicationID, err)
		}
		if !med.IsActive {
			return nil, fmt.Errorf("sales: medication %s is inactive: %w", med.Code, shared.ErrValidation)
		}
		medications[line.MedicationID] = med
	}
	return medications, nil
}

func (s *Service) invalidate(ctx context.Context, lines []SaleLineItem) {
	if s.ledger == nil {
		return
	}
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.MedicationID]; ok {
			continue
		}
		seen[line.MedicationID] = struct{}{}
		s.ledger.InvalidateAvailability(ctx, line.MedicationID)
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, sale SaleTransaction, lines []SaleLineItem) {
	if s.audit == nil {
		return
	}
	after := map[string]any{
		"number":      sale.Number,
		"kind":        string(sale.Kind),
		"status":      string(sale.Status),
		"grand_total": sale.GrandTotal.String(),
	}
	if len(lines) > 0 {
		after["line_count"] = len(lines)
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "sale_transaction",
		EntityID: fmt.Sprintf("%d", sale.ID),
		After:    after,
	})
}

func requestedLine(saleID int64, req LineRequest, med catalog.Medication) SaleLineItem {
	line := SaleLineItem{
		SaleID:       saleID,
		MedicationID: req.MedicationID,
		Quantity:     req.Quantity,
		UnitPrice:    med.SalePrice,
		DiscountPct:  req.DiscountPct,
	}
	line.Subtotal = lineSubtotal(line)
	return line
}

func lineSubtotal(line SaleLineItem) decimal.Decimal {
	gross := line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
	discount := gross.Mul(line.DiscountPct).Div(decimal.NewFromInt(100))
	return gross.Sub(discount).Round(2)
}

func totals(lines []SaleLineItem) (subtotal, discountTotal, grand decimal.Decimal) {
	subtotal, discountTotal, grand = decimal.Zero, decimal.Zero, decimal.Zero
	for _, line := range lines {
		gross := line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
		subtotal = subtotal.Add(gross)
		discountTotal = discountTotal.Add(gross.Sub(line.Subtotal))
		grand = grand.Add(line.Subtotal)
	}
	return subtotal.Round(2), discountTotal.Round(2), grand.Round(2)
}
