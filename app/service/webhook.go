package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/factory"
	"github.com/roofmanager/ms-go-payments/app/provider"
	"github.com/roofmanager/ms-go-payments/app/repository"
	"github.com/roofmanager/ms-go-payments/app/types"
	"github.com/sirupsen/logrus"
)

// WebhookIngress authenticates inbound provider callbacks and applies them to
// the ledger. The originating provider is identified by which signature
// header the request carries; a payload that fails authentication never
// reaches the ledger.
type WebhookIngress struct {
	attempts   attemptRepository
	receipts   receiptRepository
	ledger     *Ledger
	reconciler *Reconciler
	registry   *provider.Registry
	logger     logrus.FieldLogger
}

func NewWebhookIngress(
	attempts attemptRepository,
	receipts receiptRepository,
	ledger *Ledger,
	reconciler *Reconciler,
	registry *provider.Registry,
) *WebhookIngress {
	return &WebhookIngress{
		attempts:   attempts,
		receipts:   receipts,
		ledger:     ledger,
		reconciler: reconciler,
		registry:   registry,
		logger:     factory.NewModuleLogger("webhook-ingress"),
	}
}

// Handle processes one raw webhook delivery. ErrWebhookRejected means the
// payload failed authentication and the provider should not consider it
// delivered; every other outcome, including downstream processing failures,
// is acknowledged so the provider stops retrying a payload we have recorded.
func (w *WebhookIngress) Handle(ctx context.Context, payload []byte, headers http.Header) error {
	gateway, signature := w.identifyGateway(headers)
	if gateway == nil {
		w.logger.Warn("webhook carried no known signature header")
		w.recordReceipt(ctx, "", "", nil, payload, "", entity.WebhookReceiptRejected, "missing signature header")
		return ErrWebhookRejected
	}

	providerName := gateway.ID().String()

	event, err := gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidSignature) {
			w.logger.WithField("provider", providerName).Warn("webhook signature verification failed")
			w.recordReceipt(ctx, providerName, signature, nil, payload, "", entity.WebhookReceiptRejected, "invalid signature")
			return ErrWebhookRejected
		}
		w.logger.WithError(err).WithField("provider", providerName).Error("webhook payload could not be parsed")
		w.recordReceipt(ctx, providerName, signature, nil, payload, "", entity.WebhookReceiptProcessed, "unparseable payload")
		return nil
	}

	attemptID, dispatchErr := w.dispatch(ctx, gateway, event)

	errNote := ""
	if dispatchErr != nil {
		// Authenticated but unprocessable: acknowledge anyway, the receipt
		// keeps the payload for replay and the reconcile job retries the
		// underlying state.
		w.logger.WithError(dispatchErr).WithFields(logrus.Fields{
			"provider":           providerName,
			"event_type":         event.RawType,
			"external_reference": event.ExternalReference,
		}).Error("webhook processing failed")
		errNote = dispatchErr.Error()
	}
	w.recordReceipt(ctx, providerName, signature, attemptID, payload, event.RawType, entity.WebhookReceiptProcessed, errNote)
	return nil
}

func (w *WebhookIngress) identifyGateway(headers http.Header) (provider.Gateway, string) {
	for _, gateway := range w.registry.All() {
		if signature := headers.Get(gateway.SignatureHeader()); signature != "" {
			return gateway, signature
		}
	}
	return nil, ""
}

func (w *WebhookIngress) dispatch(ctx context.Context, gateway provider.Gateway, event *provider.Event) (*uint64, error) {
	if event.Type == provider.EventUnknown {
		w.logger.WithFields(logrus.Fields{
			"provider":   gateway.ID().String(),
			"event_type": event.RawType,
		}).Info("ignoring webhook event type")
		return nil, nil
	}

	attempt, err := w.attempts.FindByReference(ctx, gateway.ID(), event.ExternalReference)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	switch event.Type {
	case provider.EventChargeSucceeded:
		updated, err := w.ledger.Transition(ctx, attempt.Provider, attempt.ExternalReference, types.AttemptStatusCompleted, TransitionDetails{
			CompletedAt: event.PaidAt,
			Metadata:    event.Metadata,
		})
		if err != nil {
			return &attempt.ID, err
		}
		if _, err := w.reconciler.Reconcile(ctx, updated.CompanyID, updated.InvoiceID); err != nil {
			return &attempt.ID, err
		}

	case provider.EventChargeFailed:
		if _, err := w.ledger.Transition(ctx, attempt.Provider, attempt.ExternalReference, types.AttemptStatusFailed, TransitionDetails{}); err != nil {
			return &attempt.ID, err
		}

	case provider.EventRefundProcessed:
		updated, err := w.ledger.Transition(ctx, attempt.Provider, attempt.ExternalReference, types.AttemptStatusRefunded, TransitionDetails{
			RefundID:            event.RefundID,
			RefundedAmountMinor: event.AmountMinor,
		})
		if err != nil {
			return &attempt.ID, err
		}
		if _, err := w.reconciler.Reconcile(ctx, updated.CompanyID, updated.InvoiceID); err != nil {
			return &attempt.ID, err
		}
	}

	return &attempt.ID, nil
}

func (w *WebhookIngress) recordReceipt(ctx context.Context, providerName, signature string, attemptID *uint64, payload []byte, eventType string, status int32, errNote string) {
	receipt := &entity.WebhookReceipt{
		AttemptID:   attemptID,
		Provider:    providerName,
		Signature:   signature,
		PayloadJSON: string(payload),
		EventType:   eventType,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if errNote != "" {
		receipt.Error = &errNote
	}
	if err := w.receipts.Create(ctx, receipt); err != nil {
		w.logger.WithError(err).Error("failed to record webhook receipt")
	}
}
