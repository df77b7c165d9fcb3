package returns

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus is the lifecycle state of a return request.
type ReturnStatus string

const (
	StatusPending  ReturnStatus = "pending"
	StatusApproved ReturnStatus = "approved"
	StatusRejected ReturnStatus = "rejected"
)

// LineCondition records the state the goods came back in. Only goods in
// sellable condition go back into their originating batch; damaged and
// expired goods are logged and quarantined without touching stock levels.
type LineCondition string

const (
	ConditionGood    LineCondition = "good"
	ConditionDamaged LineCondition = "damaged"
	ConditionExpired LineCondition = "expired"
)

// Valid reports whether the condition is one of the known values.
func (c LineCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionExpired:
		return true
	}
	return false
}

// SaleReturn is the header of a return request against a completed sale.
type SaleReturn struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	SaleID      int64           `json:"sale_id"`
	Status      ReturnStatus    `json:"status"`
	Reason      string          `json:"reason"`
	RefundTotal decimal.Decimal `json:"refund_total"`
	RequestedAt time.Time       `json:"requested_at"`
	ResolvedAt  time.Time       `json:"resolved_at,omitzero"`
}

// ReturnLine is one returned quantity against an original sale line item.
// BatchID is carried over from the sale line so an approved good-condition
// return restores stock into the exact batch it was allocated from.
type ReturnLine struct {
	ID           int64           `json:"id"`
	ReturnID     int64           `json:"return_id"`
	SaleLineID   int64           `json:"sale_line_id"`
	MedicationID int64           `json:"medication_id"`
	BatchID      int64           `json:"batch_id"`
	Quantity     int64           `json:"quantity"`
	Condition    LineCondition   `json:"condition"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// ReturnLineInput is one requested return line.
type ReturnLineInput struct {
	SaleLineID int64
	Quantity   int64
	Condition  LineCondition
}

// RequestInput describes a return request.
type RequestInput struct {
	SaleID int64
	Reason string
	Lines  []ReturnLineInput
	Actor  string
}

// ListFilters narrows return listings.
type ListFilters struct {
	Status ReturnStatus
	SaleID int64
	Page   int
	Limit  int
}
