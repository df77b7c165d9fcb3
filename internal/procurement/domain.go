package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// POStatus is the purchase order lifecycle state.
type POStatus string

const (
	StatusPending    POStatus = "pending"
	StatusProcessing POStatus = "processing"
	StatusShipped    POStatus = "shipped"
	StatusReceived   POStatus = "received"
	StatusCancelled  POStatus = "cancelled"
)

// transitions is the allowed state machine. Receiving is handled separately
// because it is the only transition that creates batches.
var transitions = map[POStatus][]POStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusReceived},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to POStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PurchaseOrder is the procurement header.
type PurchaseOrder struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	SupplierID int64     `json:"supplier_id"`
	Status     POStatus  `json:"status"`
	OrderedAt  time.Time `json:"ordered_at"`
	ExpectedAt time.Time `json:"expected_at,omitzero"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
	Note       string    `json:"note,omitempty"`
}

// POLine is one ordered medication. ReceivedQty is recorded at receipt and
// may differ from the ordered quantity (partial receipt).
type POLine struct {
	ID           int64           `json:"id"`
	POID         int64           `json:"po_id"`
	MedicationID int64           `json:"medication_id"`
	OrderedQty   int64           `json:"ordered_qty"`
	ReceivedQty  int64           `json:"received_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BatchID      int64           `json:"batch_id,omitempty"`
}

// CreateOrderInput describes a new purchase order.
type CreateOrderInput struct {
	SupplierID int64
	ExpectedAt time.Time
	Note       string
	Lines      []OrderLineInput
}

// OrderLineInput is one requested medication.
type OrderLineInput struct {
	MedicationID int64
	Quantity     int64
	UnitCost     decimal.Decimal
}

// ReceiveInput posts the goods receipt for a shipped order.
type ReceiveInput struct {
	POID  int64
	Lines []ReceiveLineInput
	Actor string
}

// ReceiveLineInput carries the supplier-declared batch facts for one line.
type ReceiveLineInput struct {
	LineID         int64
	ReceivedQty    int64
	BatchNumber    string
	ProductionDate *time.Time
	ExpiryDate     time.Time
}
