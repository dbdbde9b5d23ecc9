package types

import "fmt"

// ProviderID identifies a payment provider integration.
type ProviderID string

const (
	ProviderCard     ProviderID = "card"
	ProviderRegional ProviderID = "regional"
)

func (p ProviderID) String() string {
	return string(p)
}

// AttemptStatus is the lifecycle state of a payment attempt.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusRefunded  AttemptStatus = "refunded"
)

func (s AttemptStatus) String() string {
	return string(s)
}

// Terminal reports whether the attempt has reached a settled state. A
// terminal attempt never goes back to pending; completed may still move
// to refunded.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusCompleted, AttemptStatusFailed, AttemptStatusRefunded:
		return true
	}
	return false
}

func ParseAttemptStatus(raw string) (AttemptStatus, error) {
	switch AttemptStatus(raw) {
	case AttemptStatusPending, AttemptStatusCompleted, AttemptStatusFailed, AttemptStatusRefunded:
		return AttemptStatus(raw), nil
	}
	return "", fmt.Errorf("unknown attempt status %q", raw)
}

// InvoiceStatus is derived by reconciliation from the completed payments
// recorded against the invoice; it is never written directly.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

func (s InvoiceStatus) String() string {
	return string(s)
}
