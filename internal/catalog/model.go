package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegalSchedule classifies a medication under Indonesian drug scheduling.
type LegalSchedule string

const (
	ScheduleBebas         LegalSchedule = "bebas"
	ScheduleBebasTerbatas LegalSchedule = "bebas_terbatas"
	ScheduleKeras         LegalSchedule = "keras"
	ScheduleNarkotika     LegalSchedule = "narkotika"
)

// Valid reports whether the schedule is one of the known classifications.
func (s LegalSchedule) Valid() bool {
	switch s {
	case ScheduleBebas, ScheduleBebasTerbatas, ScheduleKeras, ScheduleNarkotika:
		return true
	}
	return false
}

// Medication represents a catalog entry. The code is immutable once issued;
// medications referenced by historical transactions are deactivated, never
// deleted.
type Medication struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	DosageForm    string          `json:"dosage_form"`
	LegalSchedule LegalSchedule   `json:"legal_schedule"`
	Unit          string          `json:"unit"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Supplier represents a supplier master record referenced by batches and
// purchase orders.
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows medication listings.
type ListFilters struct {
	Search   string
	Category string
	IsActive *bool
	Page     int
	Limit    int
}
