package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names a user-editable column of a closure row.
type Field string

const (
	FieldCategory  Field = "category"
	FieldQuantity  Field = "quantity"
	FieldUnitPrice Field = "unit_price"
)

// ClosureRow is a single billable line item in a maquila's closure ledger
type ClosureRow struct {
	ID        string          `json:"id"`         // assigned by the store on creation
	MaquilaID string          `json:"maquila_id"` // owning work order, immutable
	Category  string          `json:"category"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"` // derived quantity*unitPrice, recomputed locally
	CreatedAt time.Time       `json:"created_at"`
}

// RecomputeTotal refreshes LineTotal from the row's current quantity and unit price.
func (r *ClosureRow) RecomputeTotal() {
	r.LineTotal = r.Quantity.Mul(r.UnitPrice)
}

// RowInput is a row as submitted to the store for creation, before an id exists.
type RowInput struct {
	MaquilaID string          `json:"maquila_id"`
	Category  string          `json:"category"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// BlankRow returns the empty line item used when bootstrapping a ledger
// and when the user adds a row.
func BlankRow(maquilaID string) RowInput {
	return RowInput{
		MaquilaID: maquilaID,
		Category:  "",
		Quantity:  decimal.Zero,
		UnitPrice: decimal.Zero,
	}
}

// RowPatch is a partial field delta for one row. A nil field means "not touched".
type RowPatch struct {
	Category  *string          `json:"category,omitempty"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// IsEmpty reports whether the patch carries no fields at all.
func (p RowPatch) IsEmpty() bool {
	return p.Category == nil && p.Quantity == nil && p.UnitPrice == nil
}

// Has reports whether the patch touches the given field.
func (p RowPatch) Has(f Field) bool {
	switch f {
	case FieldCategory:
		return p.Category != nil
	case FieldQuantity:
		return p.Quantity != nil
	case FieldUnitPrice:
		return p.UnitPrice != nil
	}
	return false
}

// Merge folds a newer patch into p, last value winning per field.
func (p *RowPatch) Merge(newer RowPatch) {
	if newer.Category != nil {
		p.Category = newer.Category
	}
	if newer.Quantity != nil {
		p.Quantity = newer.Quantity
	}
	if newer.UnitPrice != nil {
		p.UnitPrice = newer.UnitPrice
	}
}

// ApplyTo writes the patch's fields onto the row and refreshes the line total.
func (p RowPatch) ApplyTo(row *ClosureRow) {
	if p.Category != nil {
		row.Category = *p.Category
	}
	if p.Quantity != nil {
		row.Quantity = *p.Quantity
	}
	if p.UnitPrice != nil {
		row.UnitPrice = *p.UnitPrice
	}
	row.RecomputeTotal()
}

// ParseAmount converts raw user input for a numeric field. Empty input counts
// as zero and negative values clamp to zero. Unparseable input reports
// ok=false so the caller keeps the previous value.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if d.IsNegative() {
		return decimal.Zero, true
	}
	return d, true
}
