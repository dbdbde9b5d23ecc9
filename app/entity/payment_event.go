package entity

import "time"

// PaymentEvent is the append-only audit trail of ledger and reconciliation
// activity. Statuses are stored as strings because attempt and invoice
// lifecycle events share the table.
type PaymentEvent struct {
	ID uint64

	AttemptID uint64
	InvoiceID uint64

	EventType string

	OldStatus *string
	NewStatus string

	PayloadJSON *string

	CreatedAt time.Time
}
