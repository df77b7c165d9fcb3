package ledger

import (
	"fmt"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementIn represents an inbound movement (receipt, return restore).
	MovementIn MovementKind = "in"
	// MovementOut represents an outbound movement (sale allocation).
	MovementOut MovementKind = "out"
	// MovementAdjustment indicates a manual correction.
	MovementAdjustment MovementKind = "adjustment"
	// MovementTransfer is reserved for stock relocations between locations.
	MovementTransfer MovementKind = "transfer"
	// MovementExpired records spoilage of expired stock.
	MovementExpired MovementKind = "expired"
	// MovementDamaged records spoilage of damaged stock.
	MovementDamaged MovementKind = "damaged"
)

// EventKind tags the business event that caused a movement.
type EventKind string

const (
	EventPurchaseReceipt EventKind = "purchase_receipt"
	EventSale            EventKind = "sale"
	EventSaleReturn      EventKind = "sale_return"
	EventAdjustment      EventKind = "adjustment"
	EventInitialStock    EventKind = "initial_stock"
)

// EventRef is the typed reference to the causing event. Movements never carry
// a bare id/string pair; the kind constrains what the id resolves to.
type EventRef struct {
	Kind EventKind `json:"kind"`
	ID   int64     `json:"id,omitempty"`
}

func (r EventRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// BatchStatus is derived from remaining quantity, expiry date and the damaged
// flag. It is never stored as independent state.
type BatchStatus string

const (
	StatusNormal     BatchStatus = "normal"
	StatusNearExpiry BatchStatus = "near_expiry"
	StatusExpired    BatchStatus = "expired"
	StatusDamaged    BatchStatus = "damaged"
)

// DefaultNearExpiryThreshold is how close to expiry a batch must be before it
// reports near_expiry.
const DefaultNearExpiryThreshold = 30 * 24 * time.Hour

// Batch is one received lot of a medication with its own expiry date. Its
// remaining quantity changes only through movement entries.
type Batch struct {
	ID             int64      `json:"id"`
	MedicationID   int64      `json:"medication_id"`
	SupplierID     int64      `json:"supplier_id,omitempty"`
	BatchNumber    string     `json:"batch_number"`
	ProductionDate *time.Time `json:"production_date,omitempty"`
	ExpiryDate     time.Time  `json:"expiry_date"`
	ReceivedQty    int64      `json:"received_qty"`
	RemainingQty   int64      `json:"remaining_qty"`
	Damaged        bool       `json:"damaged"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Status derives the batch status at the given instant.
func (b Batch) Status(now time.Time, threshold time.Duration) BatchStatus {
	return ComputeStatus(b.RemainingQty, b.ExpiryDate, b.Damaged, now, threshold)
}

// ComputeStatus is the pure derivation of batch status from raw facts. The
// damaged flag, set only by an explicit spoilage adjustment, overrides the
// expiry-derived value.
func ComputeStatus(remaining int64, expiry time.Time, damaged bool, now time.Time, threshold time.Duration) BatchStatus {
	if damaged {
		return StatusDamaged
	}
	if threshold <= 0 {
		threshold = DefaultNearExpiryThreshold
	}
	if expiry.Before(truncateDay(now)) {
		return StatusExpired
	}
	if !expiry.After(now.Add(threshold)) {
		return StatusNearExpiry
	}
	return StatusNormal
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MovementEntry is immutable once written. Every quantity change on a batch
// appends exactly one of these.
type MovementEntry struct {
	ID             int64        `json:"id"`
	BatchID        int64        `json:"batch_id"`
	Kind           MovementKind `json:"kind"`
	Ref            EventRef     `json:"ref"`
	QuantityBefore int64        `json:"quantity_before"`
	QuantityDelta  int64        `json:"quantity_delta"`
	QuantityAfter  int64        `json:"quantity_after"`
	Reason         string       `json:"reason,omitempty"`
	Actor          string       `json:"actor"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AvailableBatch is one row of a FEFO-ordered availability listing.
type AvailableBatch struct {
	BatchID      int64     `json:"batch_id"`
	BatchNumber  string    `json:"batch_number"`
	RemainingQty int64     `json:"remaining_qty"`
	ExpiryDate   time.Time `json:"expiry_date"`
}

// ReceiveInput describes stock arriving into a new batch.
type ReceiveInput struct {
	MedicationID   int64
	SupplierID     int64
	BatchNumber    string
	ProductionDate *time.Time
	ExpiryDate     time.Time
	Quantity       int64
	Ref            EventRef
	Actor          string
}

// AdjustInput describes a manual correction or spoilage write-off on a batch.
type AdjustInput struct {
	BatchID int64
	Delta   int64
	Reason  string
	// Condition upgrades the adjustment into a spoilage movement: "damaged"
	// also marks the batch damaged, "expired" records expiry spoilage.
	Condition string
	Ref       EventRef
	Actor     string
}

// Allocation is one batch consumed by a FEFO allocation.
type Allocation struct {
	Batch    Batch
	Quantity int64
	Movement MovementEntry
}

// ErrUnknownBatch indicates the referenced batch does not exist.
var ErrUnknownBatch = fmt.Errorf("ledger: unknown batch: %w", shared.ErrNotFound)
