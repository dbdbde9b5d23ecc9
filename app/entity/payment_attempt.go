package entity

import (
	"time"

	"github.com/roofmanager/ms-go-payments/app/types"
)

const (
	NotifyNone    int32 = 0
	NotifyPending int32 = 1
	NotifySuccess int32 = 10
	NotifyFailed  int32 = 20
)

// PaymentAttempt is one ledger row covering the full charge/refund lifecycle
// of a single provider transaction. Rows are created by initialization,
// mutated by verification/webhook/refund handling, and never deleted.
// (Provider, ExternalReference) is unique and acts as the idempotency key.
type PaymentAttempt struct {
	ID uint64

	CompanyID string
	InvoiceID uint64

	Provider          types.ProviderID
	ExternalReference string

	AmountMinor int64
	Currency    string

	Status types.AttemptStatus

	RefundedAmountMinor int64
	ProviderChannel     *string
	RefundID            *string

	AuthorizationURL *string
	ClientSecret     *string

	Metadata map[string]string

	NotifyStatus   int32
	NotifyAttempts int32
	NotifyNextAt   *time.Time
	NotifyLastErr  *string

	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NetCompletedMinor is this attempt's current contribution to the owning
// invoice's paid amount.
func (a *PaymentAttempt) NetCompletedMinor() int64 {
	switch a.Status {
	case types.AttemptStatusCompleted:
		return a.AmountMinor
	case types.AttemptStatusRefunded:
		return a.AmountMinor - a.RefundedAmountMinor
	default:
		return 0
	}
}
