package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleKind enumerates supported transaction kinds.
type SaleKind string

const (
	KindPrescription   SaleKind = "prescription"
	KindOverTheCounter SaleKind = "over_the_counter"
	KindConsignment    SaleKind = "consignment"
)

// Valid reports whether the kind is recognised.
func (k SaleKind) Valid() bool {
	switch k {
	case KindPrescription, KindOverTheCounter, KindConsignment:
		return true
	}
	return false
}

// SaleStatus is the transaction lifecycle state.
type SaleStatus string

const (
	StatusPending   SaleStatus = "pending"
	StatusCompleted SaleStatus = "completed"
	StatusCancelled SaleStatus = "cancelled"
)

// SaleTransaction is the header of a point-of-sale transaction. Once
// completed, its line items and the batch allocations they produced are
// immutable; reversal happens through the return workflow only.
type SaleTransaction struct {
	ID                 int64           `json:"id"`
	Number             string          `json:"number"`
	Kind               SaleKind        `json:"kind"`
	Status             SaleStatus      `json:"status"`
	CustomerRef        string          `json:"customer_ref,omitempty"`
	PrescriberRef      string          `json:"prescriber_ref,omitempty"`
	PrescriptionNumber string          `json:"prescription_number,omitempty"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountTotal      decimal.Decimal `json:"discount_total"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
	SoldAt             time.Time       `json:"sold_at"`
	CreatedAt          time.Time       `json:"created_at"`
}

// SaleLineItem is one fulfilled (or, while pending, requested) line. A single
// requested quantity may span multiple line items when fulfilled from
// multiple batches; BatchID stays zero until allocation happens.
type SaleLineItem struct {
	ID           int64           `json:"id"`
	SaleID       int64           `json:"sale_id"`
	MedicationID int64           `json:"medication_id"`
	BatchID      int64           `json:"batch_id,omitempty"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	DiscountPct  decimal.Decimal `json:"discount_pct"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// LineRequest is one requested medication quantity.
type LineRequest struct {
	MedicationID int64
	Quantity     int64
	DiscountPct  decimal.Decimal
}

// SaleInput describes a transaction to hold or complete.
type SaleInput struct {
	Kind               SaleKind
	CustomerRef        string
	PrescriberRef      string
	PrescriptionNumber string
	Lines              []LineRequest
	Actor              string
}

// ListFilters narrows sale listings.
type ListFilters struct {
	Status SaleStatus
	Kind   SaleKind
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}
