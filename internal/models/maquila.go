package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks where a maquila stands in its production cycle.
type Status string

const (
	StatusAvailable    Status = "available"
	StatusInProgress   Status = "in-progress"
	StatusNearDeadline Status = "near-deadline"
	StatusReady        Status = "ready"
	StatusOverdue      Status = "overdue"
)

// Maquila is a production work order placed with the shop. Its closure
// ledger rows reference it through MaquilaID and its advance amount is
// deducted from the ledger's final total.
type Maquila struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Capacity       int             `json:"capacity"`
	AssignedPieces int             `json:"assigned_pieces"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	PaymentDate    *time.Time      `json:"payment_date,omitempty"`
	AdvanceAmount  decimal.Decimal `json:"advance_amount"`
	Status         Status          `json:"status"`
	Comments       string          `json:"comments,omitempty"`
}
