package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/dcastillo/maquila-ledger/internal/models"
)

// Totals are the ledger-wide aggregates shown under the closures table.
type Totals struct {
	TotalQuantity   decimal.Decimal `json:"total_quantity"`
	TotalLineAmount decimal.Decimal `json:"total_line_amount"`
	AdvanceAmount   decimal.Decimal `json:"advance_amount"`
	FinalTotal      decimal.Decimal `json:"final_total"`
}

// CalculateTotals folds the rows into aggregates and deducts the maquila's
// advance payment. Line amounts are recomputed from quantity and unit price
// here rather than read from LineTotal, so a stale stored total can never
// leak into the sums.
func CalculateTotals(rows []models.ClosureRow, advanceAmount decimal.Decimal) Totals {
	totals := Totals{
		TotalQuantity:   decimal.Zero,
		TotalLineAmount: decimal.Zero,
		AdvanceAmount:   advanceAmount,
	}
	for _, r := range rows {
		totals.TotalQuantity = totals.TotalQuantity.Add(r.Quantity)
		totals.TotalLineAmount = totals.TotalLineAmount.Add(r.Quantity.Mul(r.UnitPrice))
	}
	totals.FinalTotal = totals.TotalLineAmount.Sub(advanceAmount)
	return totals
}
