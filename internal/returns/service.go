package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/sales"
	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (SaleReturn, []ReturnLine, error)
	ListReturns(ctx context.Context, filters ListFilters) ([]SaleReturn, int, error)
}

// TxRepository embeds the ledger operations so an approval posts stock
// restoration and the status change in one unit of work.
type TxRepository interface {
	ledger.TxRepository
	InsertReturn(ctx context.Context, ret SaleReturn) (int64, error)
	InsertReturnLine(ctx context.Context, line ReturnLine) (int64, error)
	LockReturn(ctx context.Context, id int64) (SaleReturn, []ReturnLine, error)
	UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus, resolvedAt time.Time) error
	// ReturnedQuantities sums quantities of pending and approved return
	// lines per sale line for the sale, excluding one return request.
	ReturnedQuantities(ctx context.Context, saleID, excludeReturnID int64) (map[int64]int64, error)
}

// SalesPort resolves the sale a return is raised against.
type SalesPort interface {
	GetSale(ctx context.Context, id int64) (sales.SaleTransaction, []sales.SaleLineItem, error)
}

// SequencePort issues public return numbers.
type SequencePort interface {
	Next(ctx context.Context, name string) (string, error)
}

// LedgerPort invalidates availability caches after restoration commits.
type LedgerPort interface {
	InvalidateAvailability(ctx context.Context, medicationID int64)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the sale return workflow.
type Service struct {
	repo      RepositoryPort
	sales     SalesPort
	sequences SequencePort
	ledger    LedgerPort
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the returns service.
func NewService(repo RepositoryPort, salesPort SalesPort, sequences SequencePort, led LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, sales: salesPort, sequences: sequences, ledger: led, audit: audit, now: time.Now}
}

// Request registers a pending return against a completed sale. Quantities
// are checked against what is still returnable, counting both approved and
// other pending returns so two pending requests cannot together exceed the
// originally sold quantity.
func (s *Service) Request(ctx context.Context, input RequestInput) (SaleReturn, []ReturnLine, error) {
	if len(input.Lines) == 0 {
		return SaleReturn{}, nil, fmt.Errorf("returns: at least one line required: %w", shared.ErrValidation)
	}
	sale, saleLines, err := s.sales.GetSale(ctx, input.SaleID)
	if err != nil {
		return SaleReturn{}, nil, fmt.Errorf("returns: sale %d: %w", input.SaleID, err)
	}
	if sale.Status != sales.StatusCompleted {
		return SaleReturn{}, nil, &shared.StateError{Entity: "sale_transaction", ID: sale.ID, From: string(sale.Status), To: "returned"}
	}
	byLineID := make(map[int64]sales.SaleLineItem, len(saleLines))
	for _, line := range saleLines {
		byLineID[line.ID] = line
	}
	seen := make(map[int64]struct{}, len(input.Lines))
	for _, in := range input.Lines {
		if _, dup := seen[in.SaleLineID]; dup {
			return SaleReturn{}, nil, fmt.Errorf("returns: duplicate sale line %d: %w", in.SaleLineID, shared.ErrValidation)
		}
		seen[in.SaleLineID] = struct{}{}
		if in.Quantity <= 0 {
			return SaleReturn{}, nil, fmt.Errorf("returns: sale line %d: %w", in.SaleLineID, shared.ErrInvalidQuantity)
		}
		if !in.Condition.Valid() {
			return SaleReturn{}, nil, fmt.Errorf("returns: sale line %d: unknown condition %q: %w", in.SaleLineID, in.Condition, shared.ErrValidation)
		}
		if _, ok := byLineID[in.SaleLineID]; !ok {
			return SaleReturn{}, nil, fmt.Errorf("returns: line %d does not belong to sale %d: %w", in.SaleLineID, input.SaleID, shared.ErrNotFound)
		}
	}

	number, err := s.sequences.Next(ctx, shared.SeqReturn)
	if err != nil {
		return SaleReturn{}, nil, err
	}
	now := s.now()
	ret := SaleReturn{
		Number:      number,
		SaleID:      input.SaleID,
		Status:      StatusPending,
		Reason:      input.Reason,
		RequestedAt: now,
	}
	var lines []ReturnLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		returned, err := tx.ReturnedQuantities(ctx, input.SaleID, 0)
		if err != nil {
			return err
		}
		refundTotal := decimal.Zero
		for _, in := range input.Lines {
			saleLine := byLineID[in.SaleLineID]
			returnable := saleLine.Quantity - returned[in.SaleLineID]
			if in.Quantity > returnable {
				return &shared.OverReturnError{SaleLineID: in.SaleLineID, Requested: in.Quantity, Returnable: returnable}
			}
			refundTotal = refundTotal.Add(refundForLine(saleLine, in.Quantity))
		}
		ret.RefundTotal = refundTotal
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		for _, in := range input.Lines {
			saleLine := byLineID[in.SaleLineID]
			line := ReturnLine{
				ReturnID:     id,
				SaleLineID:   in.SaleLineID,
				MedicationID: saleLine.MedicationID,
				BatchID:      saleLine.BatchID,
				Quantity:     in.Quantity,
				Condition:    in.Condition,
				RefundAmount: refundForLine(saleLine, in.Quantity),
			}
			lineID, err := tx.InsertReturnLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return SaleReturn{}, nil, err
	}
	s.recordAudit(ctx, "sale_return:request", ret.ID, nil, map[string]any{
		"number": ret.Number, "sale_id": ret.SaleID, "line_count": len(lines), "refund_total": ret.RefundTotal.String(),
	})
	return ret, lines, nil
}

// Approve accepts a pending return and posts its stock effects. Goods in
// sellable condition restore into their originating batch; damaged and
// expired goods produce a quarantine movement with no quantity change. The
// returnable check is repeated under lock because another return against the
// same sale may have been approved since the request was made.
func (s *Service) Approve(ctx context.Context, returnID int64) (SaleReturn, []ReturnLine, error) {
	actor := shared.ActorFromContext(ctx)
	now := s.now()
	var (
		ret   SaleReturn
		lines []ReturnLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, lines, err = tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if ret.Status != StatusPending {
			return &shared.StateError{Entity: "sale_return", ID: returnID, From: string(ret.Status), To: string(StatusApproved)}
		}
		_, saleLines, err := s.sales.GetSale(ctx, ret.SaleID)
		if err != nil {
			return err
		}
		byLineID := make(map[int64]sales.SaleLineItem, len(saleLines))
		for _, line := range saleLines {
			byLineID[line.ID] = line
		}
		returned, err := tx.ReturnedQuantities(ctx, ret.SaleID, returnID)
		if err != nil {
			return err
		}
		ref := ledger.EventRef{Kind: ledger.EventSaleReturn, ID: returnID}
		for _, line := range lines {
			saleLine, ok := byLineID[line.SaleLineID]
			if !ok {
				return fmt.Errorf("returns: sale line %d vanished: %w", line.SaleLineID, shared.ErrNotFound)
			}
			returnable := saleLine.Quantity - returned[line.SaleLineID]
			if line.Quantity > returnable {
				return &shared.OverReturnError{SaleLineID: line.SaleLineID, Requested: line.Quantity, Returnable: returnable}
			}
			switch line.Condition {
			case ConditionGood:
				if _, err := ledger.RestoreTx(ctx, tx, line.BatchID, line.Quantity, ref, actor, now); err != nil {
					return err
				}
			default:
				if _, err := ledger.SpoilReturnTx(ctx, tx, line.BatchID, line.Quantity, string(line.Condition), ref, actor, now); err != nil {
					return err
				}
			}
		}
		return tx.UpdateReturnStatus(ctx, returnID, StatusApproved, now)
	})
	if err != nil {
		return SaleReturn{}, nil, err
	}
	if s.ledger != nil {
		seen := make(map[int64]struct{}, len(lines))
		for _, line := range lines {
			if line.Condition != ConditionGood {
				continue
			}
			if _, ok := seen[line.MedicationID]; ok {
				continue
			}
			seen[line.MedicationID] = struct{}{}
			s.ledger.InvalidateAvailability(ctx, line.MedicationID)
		}
	}
	s.recordAudit(ctx, "sale_return:approve", returnID,
		map[string]any{"status": string(StatusPending)},
		map[string]any{"status": string(StatusApproved), "refund_total": ret.RefundTotal.String()})
	ret.Status = StatusApproved
	ret.ResolvedAt = now
	return ret, lines, nil
}

// Reject declines a pending return. No stock moves.
func (s *Service) Reject(ctx context.Context, returnID int64, reason string) (SaleReturn, error) {
	now := s.now()
	var ret SaleReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, _, err = tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if ret.Status != StatusPending {
			return &shared.StateError{Entity: "sale_return", ID: returnID, From: string(ret.Status), To: string(StatusRejected)}
		}
		return tx.UpdateReturnStatus(ctx, returnID, StatusRejected, now)
	})
	if err != nil {
		return SaleReturn{}, err
	}
	s.recordAudit(ctx, "sale_return:reject", returnID,
		map[string]any{"status": string(StatusPending)},
		map[string]any{"status": string(StatusRejected), "reason": reason})
	ret.Status = StatusRejected
	ret.ResolvedAt = now
	return ret, nil
}

// GetReturn loads a return with its lines.
func (s *Service) GetReturn(ctx context.Context, id int64) (SaleReturn, []ReturnLine, error) {
	if id <= 0 {
		return SaleReturn{}, nil, fmt.Errorf("returns: invalid return id: %w", shared.ErrValidation)
	}
	return s.repo.GetReturn(ctx, id)
}

// ListReturns lists returns with paging.
func (s *Service) ListReturns(ctx context.Context, filters ListFilters) ([]SaleReturn, int, error) {
	return s.repo.ListReturns(ctx, filters)
}

// refundForLine prorates the sold line's discounted subtotal over the
// returned quantity, rounded to two decimal places.
func refundForLine(saleLine sales.SaleLineItem, qty int64) decimal.Decimal {
	if saleLine.Quantity <= 0 {
		return decimal.Zero
	}
	unit := saleLine.Subtotal.Div(decimal.NewFromInt(saleLine.Quantity))
	return unit.Mul(decimal.NewFromInt(qty)).Round(2)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "sale_return",
		EntityID: fmt.Sprintf("%d", id),
		Before:   before,
		After:    after,
	})
}
