package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/catalog"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	ListOrders(ctx context.Context, status POStatus, page, limit int) ([]PurchaseOrder, int, error)
}

// TxRepository embeds the ledger operations so receipt posts batches and the
// status change in one unit of work.
type TxRepository interface {
	ledger.TxRepository
	InsertOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertOrderLine(ctx context.Context, line POLine) (int64, error)
	LockOrder(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	UpdateOrderStatus(ctx context.Context, id int64, status POStatus, receivedAt time.Time) error
	SetLineReceived(ctx context.Context, lineID, receivedQty, batchID int64) error
}

// CatalogPort resolves medication and supplier references.
type CatalogPort interface {
	GetMedication(ctx context.Context, id int64) (catalog.Medication, error)
	GetSupplier(ctx context.Context, id int64) (catalog.Supplier, error)
}

// SequencePort issues public order numbers.
type SequencePort interface {
	Next(ctx context.Context, name string) (string, error)
}

// LedgerPort invalidates availability caches after receipt commits.
type LedgerPort interface {
	InvalidateAvailability(ctx context.Context, medicationID int64)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the procurement workflow.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	sequences   SequencePort
	ledger      LedgerPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, cat CatalogPort, sequences SequencePort, led LedgerPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, catalog: cat, sequences: sequences, ledger: led, audit: audit, idempotency: idem, now: time.Now}
}

// CreateOrder registers a pending purchase order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, []POLine, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: at least one line required: %w", shared.ErrValidation)
	}
	if _, err := s.catalog.GetSupplier(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: supplier %d: %w", input.SupplierID, err)
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return PurchaseOrder{}, nil, fmt.Errorf("procurement: medication %d: %w", line.MedicationID, shared.ErrInvalidQuantity)
		}
		if line.UnitCost.IsNegative() {
			return PurchaseOrder{}, nil, fmt.Errorf("procurement: medication %d: unit cost must not be negative: %w", line.MedicationID, shared.ErrValidation)
		}
		if _, err := s.catalog.GetMedication(ctx, line.MedicationID); err != nil {
			return PurchaseOrder{}, nil, fmt.Errorf("procurement: medication %d: %w", line.MedicationID, err)
		}
	}
	number, err := s.sequences.Next(ctx, shared.SeqPurchaseOrder)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	now := s.now()
	po := PurchaseOrder{
		Number:     number,
		SupplierID: input.SupplierID,
		Status:     StatusPending,
		OrderedAt:  now,
		ExpectedAt: input.ExpectedAt,
		Note:       input.Note,
	}
	var lines []POLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, in := range input.Lines {
			line := POLine{POID: id, MedicationID: in.MedicationID, OrderedQty: in.Quantity, UnitCost: in.UnitCost}
			lineID, err := tx.InsertOrderLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.recordAudit(ctx, "purchase_order:create", po.ID, nil, map[string]any{"number": po.Number, "supplier_id": po.SupplierID, "line_count": len(lines)})
	return po, lines, nil
}

// Advance moves an order along pending -> processing -> shipped. Receiving
// and cancelling have their own entry points.
func (s *Service) Advance(ctx context.Context, poID int64, to POStatus) (PurchaseOrder, error) {
	if to == StatusReceived || to == StatusCancelled {
		return PurchaseOrder{}, fmt.Errorf("procurement: use the receive/cancel operations: %w", shared.ErrValidation)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, _, err = tx.LockOrder(ctx, poID)
		if err != nil {
			return err
		}
		if !CanTransition(po.Status, to) {
			return &shared.StateError{Entity: "purchase_order", ID: poID, From: string(po.Status), To: string(to)}
		}
		return tx.UpdateOrderStatus(ctx, poID, to, time.Time{})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchase_order:status", poID, map[string]any{"status": string(po.Status)}, map[string]any{"status": string(to)})
	po.Status = to
	return po, nil
}

// Cancel rejects an order that has not started processing. Cancelling a
// non-pending order is an error, never a silent no-op.
func (s *Service) Cancel(ctx context.Context, poID int64) error {
	var from POStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.LockOrder(ctx, poID)
		if err != nil {
			return err
		}
		from = po.Status
		if !CanTransition(po.Status, StatusCancelled) {
			return &shared.StateError{Entity: "purchase_order", ID: poID, From: string(po.Status), To: string(StatusCancelled)}
		}
		return tx.UpdateOrderStatus(ctx, poID, StatusCancelled, time.Time{})
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchase_order:cancel", poID, map[string]any{"status": string(from)}, map[string]any{"status": string(StatusCancelled)})
	return nil
}

// Receive posts the goods receipt: the order transitions to received and one
// batch is created per received line, all in the same transaction. This is
// the only place procurement feeds the batch ledger. Receiving an
// already-received order is rejected.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (PurchaseOrder, []POLine, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: at least one receipt line required: %w", shared.ErrValidation)
	}
	actor := input.Actor
	if actor == "" {
		actor = shared.ActorFromContext(ctx)
	}

	// Pre-read for the idempotency key; state is re-checked under lock.
	po, _, err := s.repo.GetOrder(ctx, input.POID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	key := fmt.Sprintf("PO-RECEIVE:%s", po.Number)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement"); err != nil {
			return PurchaseOrder{}, nil, err
		}
		inserted = true
	}

	now := s.now()
	var lines []POLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var orderLines []POLine
		po, orderLines, err = tx.LockOrder(ctx, input.POID)
		if err != nil {
			return err
		}
		if !CanTransition(po.Status, StatusReceived) {
			return &shared.StateError{Entity: "purchase_order", ID: input.POID, From: string(po.Status), To: string(StatusReceived)}
		}
		byID := make(map[int64]POLine, len(orderLines))
		for _, line := range orderLines {
			byID[line.ID] = line
		}
		for _, in := range input.Lines {
			line, ok := byID[in.LineID]
			if !ok {
				return fmt.Errorf("procurement: line %d does not belong to order %d: %w", in.LineID, input.POID, shared.ErrNotFound)
			}
			if in.ReceivedQty <= 0 {
				return fmt.Errorf("procurement: line %d: %w", in.LineID, shared.ErrInvalidQuantity)
			}
			batch, err := ledger.ReceiveTx(ctx, tx, ledger.ReceiveInput{
				MedicationID:   line.MedicationID,
				SupplierID:     po.SupplierID,
				BatchNumber:    in.BatchNumber,
				ProductionDate: in.ProductionDate,
				ExpiryDate:     in.ExpiryDate,
				Quantity:       in.ReceivedQty,
				Ref:            ledger.EventRef{Kind: ledger.EventPurchaseReceipt, ID: po.ID},
				Actor:          actor,
			}, now)
			if err != nil {
				return err
			}
			if err := tx.SetLineReceived(ctx, line.ID, in.ReceivedQty, batch.ID); err != nil {
				return err
			}
			line.ReceivedQty = in.ReceivedQty
			line.BatchID = batch.ID
			lines = append(lines, line)
		}
		return tx.UpdateOrderStatus(ctx, input.POID, StatusReceived, now)
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return PurchaseOrder{}, nil, err
	}
	po.Status = StatusReceived
	po.ReceivedAt = now
	if s.ledger != nil {
		seen := make(map[int64]struct{}, len(lines))
		for _, line := range lines {
			if _, ok := seen[line.MedicationID]; ok {
				continue
			}
			seen[line.MedicationID] = struct{}{}
			s.ledger.InvalidateAvailability(ctx, line.MedicationID)
		}
	}
	s.recordAudit(ctx, "purchase_order:receive", po.ID,
		map[string]any{"status": string(StatusShipped)},
		map[string]any{"status": string(StatusReceived), "line_count": len(lines)})
	return po, lines, nil
}

// GetOrder loads an order with its lines.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	if id <= 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("procurement: invalid order id: %w", shared.ErrValidation)
	}
	return s.repo.GetOrder(ctx, id)
}

// ListOrders lists orders with paging.
func (s *Service) ListOrders(ctx context.Context, status POStatus, page, limit int) ([]PurchaseOrder, int, error) {
	return s.repo.ListOrders(ctx, status, page, limit)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", id),
		Before:   before,
		After:    after,
	})
}
