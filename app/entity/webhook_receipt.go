package entity

import "time"

const (
	WebhookReceiptProcessed int32 = 10
	WebhookReceiptRejected  int32 = 20
)

// WebhookReceipt is the audit log of every inbound provider callback,
// including the ones rejected before any ledger mutation.
type WebhookReceipt struct {
	ID uint64

	AttemptID *uint64

	Provider    string
	Signature   string
	PayloadJSON string
	EventType   string
	Status      int32
	Error       *string

	CreatedAt time.Time
}
