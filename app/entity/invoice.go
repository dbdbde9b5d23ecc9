package entity

import (
	"time"

	"github.com/roofmanager/ms-go-payments/app/types"
)

// Invoice carries the financial state the reconciler maintains. PaidAmountMinor,
// Status, Refunded and PaidAt are written only through reconciliation, never
// incrementally by request handlers.
type Invoice struct {
	ID        uint64
	CompanyID string

	CustomerEmail   string
	CustomerCountry string

	TotalAmountMinor int64
	PaidAmountMinor  int64
	Currency         string

	Status   types.InvoiceStatus
	Refunded bool

	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
