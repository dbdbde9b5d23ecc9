package provider

import (
	"context"
	"time"

	"github.com/roofmanager/ms-go-payments/app/types"
)

type InitializeInput struct {
	AmountMinor   int64
	CustomerEmail string
	Currency      string
	Reference     string
	CallbackURL   string
	Metadata      map[string]string
}

type InitializeOutput struct {
	// ExternalReference is the provider's canonical transaction id. The
	// regional provider echoes our reference back; the card provider assigns
	// its own intent id.
	ExternalReference string
	AuthorizationURL  *string
	ClientSecret      *string
	AccessCode        *string
}

type VerifyResult struct {
	// Succeeded and Failed are mutually exclusive; both false means the
	// transaction is still in flight.
	Succeeded bool
	Failed    bool

	AmountMinor int64
	Currency    string
	PaidAt      *time.Time
	Channel     string
	RawStatus   string
}

type RefundOutput struct {
	RefundID    string
	AmountMinor int64
	Status      string
}

type EventType string

const (
	EventChargeSucceeded EventType = "charge_succeeded"
	EventChargeFailed    EventType = "charge_failed"
	EventRefundProcessed EventType = "refund_processed"
	EventUnknown         EventType = "unknown"
)

// Event is the normalized webhook shape shared by both providers. Only
// authenticated payloads ever become Events.
type Event struct {
	Type              EventType
	RawType           string
	ExternalReference string
	AmountMinor       int64
	Currency          string
	RefundID          string
	PaidAt            *time.Time
	Metadata          map[string]string
}

type Gateway interface {
	ID() types.ProviderID
	// SignatureHeader names the HTTP header carrying this provider's webhook
	// signature; its presence identifies the originating provider.
	SignatureHeader() string
	Initialize(ctx context.Context, input *InitializeInput) (*InitializeOutput, error)
	Verify(ctx context.Context, externalReference string) (*VerifyResult, error)
	Refund(ctx context.Context, externalReference string, amountMinor *int64) (*RefundOutput, error)
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}
