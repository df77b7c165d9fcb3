package sales

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var rupiahPrinter = message.NewPrinter(language.Indonesian)

// Receipt is the presentation payload returned after a completed sale.
// Amounts are formatted with Indonesian digit grouping for the POS printer.
type Receipt struct {
	Number        string        `json:"number"`
	Kind          SaleKind      `json:"kind"`
	SoldAt        string        `json:"sold_at"`
	Lines         []ReceiptLine `json:"lines"`
	Subtotal      string        `json:"subtotal"`
	DiscountTotal string        `json:"discount_total"`
	GrandTotal    string        `json:"grand_total"`
}

// ReceiptLine is one printed line.
type ReceiptLine struct {
	MedicationID int64  `json:"medication_id"`
	BatchID      int64  `json:"batch_id"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Subtotal     string `json:"subtotal"`
}

// BuildReceipt renders a completed sale as a receipt payload.
func BuildReceipt(sale SaleTransaction, lines []SaleLineItem) Receipt {
	receipt := Receipt{
		Number:        sale.Number,
		Kind:          sale.Kind,
		SoldAt:        sale.SoldAt.Format("2006-01-02 15:04"),
		Subtotal:      formatRupiah(sale.Subtotal),
		DiscountTotal: formatRupiah(sale.DiscountTotal),
		GrandTotal:    formatRupiah(sale.GrandTotal),
	}
	for _, line := range lines {
		receipt.Lines = append(receipt.Lines, ReceiptLine{
			MedicationID: line.MedicationID,
			BatchID:      line.BatchID,
			Quantity:     line.Quantity,
			UnitPrice:    formatRupiah(line.UnitPrice),
			Subtotal:     formatRupiah(line.Subtotal),
		})
	}
	return receipt
}

func formatRupiah(amount decimal.Decimal) string {
	value, _ := amount.Float64()
	return rupiahPrinter.Sprintf("Rp%v", number.Decimal(value, number.MaxFractionDigits(2)))
}
