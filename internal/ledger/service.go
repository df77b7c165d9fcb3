package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	QueryAvailable(ctx context.Context, medicationID int64, asOf time.Time) ([]AvailableBatch, error)
	ListMovements(ctx context.Context, batchID int64, limit int) ([]MovementEntry, error)
	ListExpiring(ctx context.Context, before time.Time) ([]Batch, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	NearExpiryThreshold time.Duration
}

// Service coordinates batch ledger operations. All quantity changes flow
// through movement entries written in the same transaction as the batch
// update.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	cache     *AvailabilityCache
	threshold time.Duration
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *AvailabilityCache, cfg ServiceConfig) *Service {
	threshold := cfg.NearExpiryThreshold
	if threshold <= 0 {
		threshold = DefaultNearExpiryThreshold
	}
	return &Service{repo: repo, audit: audit, cache: cache, threshold: threshold, now: time.Now}
}

// Receive books stock into a new batch. Initial stock entries and procurement
// receipts are the only batch-creating events.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Batch, error) {
	if input.Ref.Kind == "" {
		input.Ref = EventRef{Kind: EventInitialStock}
	}
	if input.Actor == "" {
		input.Actor = shared.ActorFromContext(ctx)
	}
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = ReceiveTx(ctx, tx, input, s.now())
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.invalidate(ctx, batch.MedicationID)
	s.recordAudit(ctx, "ledger:receive", batch.ID, nil, map[string]any{
		"medication_id": batch.MedicationID,
		"batch_number":  batch.BatchNumber,
		"quantity":      batch.ReceivedQty,
		"expiry_date":   batch.ExpiryDate.Format("2006-01-02"),
	})
	return batch, nil
}

// Adjust applies a manual correction or spoilage write-off. Exactly one
// movement entry is appended per successful adjustment.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (MovementEntry, error) {
	if input.BatchID == 0 {
		return MovementEntry{}, fmt.Errorf("ledger: batch required: %w", shared.ErrValidation)
	}
	if input.Delta == 0 {
		return MovementEntry{}, fmt.Errorf("ledger: batch %d: %w", input.BatchID, shared.ErrInvalidQuantity)
	}
	switch input.Condition {
	case "", "damaged", "expired":
	default:
		return MovementEntry{}, fmt.Errorf("ledger: condition %q not recognised: %w", input.Condition, shared.ErrValidation)
	}
	if input.Ref.Kind == "" {
		input.Ref = EventRef{Kind: EventAdjustment}
	}
	if input.Actor == "" {
		input.Actor = shared.ActorFromContext(ctx)
	}
	kind := MovementAdjustment
	switch input.Condition {
	case "damaged":
		kind = MovementDamaged
	case "expired":
		kind = MovementExpired
	}

	var entry MovementEntry
	var medicationID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.LockBatch(ctx, input.BatchID)
		if err != nil {
			return err
		}
		medicationID = batch.MedicationID
		entry, err = newMovement(batch, kind, input.Delta, input.Ref, input.Reason, input.Actor, s.now())
		if err != nil {
			return err
		}
		entryID, err := tx.InsertMovement(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = entryID
		if err := tx.UpdateBatchQuantity(ctx, batch.ID, entry.QuantityAfter); err != nil {
			return err
		}
		if input.Condition == "damaged" && !batch.Damaged {
			if err := tx.MarkBatchDamaged(ctx, batch.ID, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MovementEntry{}, err
	}
	s.invalidate(ctx, medicationID)
	s.recordAudit(ctx, "ledger:adjust", input.BatchID,
		map[string]any{"remaining_qty": entry.QuantityBefore},
		map[string]any{"remaining_qty": entry.QuantityAfter, "kind": string(entry.Kind), "reason": input.Reason})
	return entry, nil
}

// QueryAvailable lists batches usable for allocation, soonest expiry first
// with batch id as tie-break. Expired and damaged batches are excluded.
func (s *Service) QueryAvailable(ctx context.Context, medicationID int64, asOf time.Time) ([]AvailableBatch, error) {
	if medicationID == 0 {
		return nil, fmt.Errorf("ledger: medication required: %w", shared.ErrValidation)
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	if s.cache != nil {
		var cached []AvailableBatch
		err := s.cache.Fetch(ctx, medicationID, asOf, &cached, func(ctx context.Context) ([]AvailableBatch, error) {
			return s.repo.QueryAvailable(ctx, medicationID, asOf)
		})
		if err == nil {
			return cached, nil
		}
		// Cache trouble is never a reason to fail an availability read.
	}
	return s.repo.QueryAvailable(ctx, medicationID, asOf)
}

// BatchDetail returns a batch with its derived status.
func (s *Service) BatchDetail(ctx context.Context, batchID int64) (Batch, BatchStatus, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, "", err
	}
	return batch, batch.Status(s.now(), s.threshold), nil
}

// Movements lists the movement history of one batch, newest first.
func (s *Service) Movements(ctx context.Context, batchID int64, limit int) ([]MovementEntry, error) {
	if batchID == 0 {
		return nil, fmt.Errorf("ledger: batch required: %w", shared.ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, batchID, limit)
}

// ExpiringBatches lists batches whose expiry falls before now+threshold,
// still holding stock. The expiry-scan job feeds alerts from this.
func (s *Service) ExpiringBatches(ctx context.Context) ([]Batch, error) {
	return s.repo.ListExpiring(ctx, s.now().Add(s.threshold))
}

// InvalidateAvailability drops cached availability for a medication. Sales
// and returns call this after committing movements through their own
// transactions.
func (s *Service) InvalidateAvailability(ctx context.Context, medicationID int64) {
	s.invalidate(ctx, medicationID)
}

func (s *Service) invalidate(ctx context.Context, medicationID int64) {
	if s.cache == nil || medicationID == 0 {
		return
	}
	_ = s.cache.Invalidate(ctx, medicationID, s.now())
}

func (s *Service) recordAudit(ctx context.Context, action string, batchID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "batch",
		EntityID: fmt.Sprintf("%d", batchID),
		Before:   before,
		After:    after,
	})
}
