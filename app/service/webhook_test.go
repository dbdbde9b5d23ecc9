package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/provider"
	"github.com/roofmanager/ms-go-payments/app/types"
)

func webhookHeaders(name, value string) http.Header {
	headers := http.Header{}
	headers.Set(name, value)
	return headers
}

func TestHandleWebhookWithoutSignatureHeaderRejected(t *testing.T) {
	h := newTestHarness()
	h.seedInvoice(10, "company-1", 50000, "US")
	h.seedAttempt(&entity.PaymentAttempt{CompanyID: "company-1", InvoiceID: 10, Provider: types.ProviderCard, ExternalReference: "pi_1", AmountMinor: 50000, Status: types.AttemptStatusPending})

	err := h.webhooks.Handle(context.Background(), []byte(`{}`), http.Header{})
	if !errors.Is(err, ErrWebhookRejected) {
		t.Fatalf("expected ErrWebhookRejected, got %v", err)
	}

	attempt, _ := h.attempts.FindByReference(context.Background(), types.ProviderCard, "pi_1")
	if attempt.Status != types.AttemptStatusPending {
		t.Fatalf("unauthenticated webhook must not touch the ledger, got %q", attempt.Status)
	}
	if len(h.receipts.receipts) != 1 || h.receipts.receipts[0].Status != entity.WebhookReceiptRejected {
		t.Fatalf("expected one rejected receipt, got %+v", h.receipts.receipts)
	}
	if h.receipts.receipts[0].CreatedAt.IsZero() {
		t.Fatal("receipt must carry its creation timestamp")
	}
}

func TestHandleWebhookInvalidSignatureRejected(t *testing.T) {
	h := newTestHarness()
	h.seedInvoice(10, "company-1", 50000, "US")
	h.seedAttempt(&entity.PaymentAttempt{CompanyID: "company-1", InvoiceID: 10, Provider: types.ProviderCard, ExternalReference: "pi_1", AmountMinor: 50000, Status: types.AttemptStatusPending})
	h.card.parseErr = provider.ErrInvalidSignature

	err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("Card-Signature", "bad"))
	if !errors.Is(err, ErrWebhookRejected) {
		t.Fatalf("expected ErrWebhookRejected, got %v", err)
	}

	attempt, _ := h.attempts.FindByReference(context.Background(), types.ProviderCard, "pi_1")
	if attempt.Status != types.AttemptStatusPending {
		t.Fatalf("invalid signature must not touch the ledger, got %q", attempt.Status)
	}
	invoice, _ := h.invoices.FindByID(context.Background(), 10)
	if invoice.PaidAmountMinor != 0 {
		t.Fatalf("invalid signature must not touch the invoice, got %d", invoice.PaidAmountMinor)
	}
}

func TestHandleWebhookChargeSucceededCompletesAndReconciles(t *testing.T) {
	h := newTestHarness()
	h.seedInvoice(10, "company-1", 50000, "US")
	h.seedAttempt(&entity.PaymentAttempt{CompanyID: "company-1", InvoiceID: 10, Provider: types.ProviderCard, ExternalReference: "pi_1", AmountMinor: 50000, Currency: "USD", Status: types.AttemptStatusPending})
	h.card.parseEvent = &provider.Event{Type: provider.EventChargeSucceeded, RawType: "payment_intent.succeeded", ExternalReference: "pi_1", AmountMinor: 50000}

	if err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("Card-Signature", "sig")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	attempt, _ := h.attempts.FindByReference(context.Background(), types.ProviderCard, "pi_1")
	if attempt.Status != types.AttemptStatusCompleted {
		t.Fatalf("expected completed, got %q", attempt.Status)
	}
	invoice, _ := h.invoices.FindByID(context.Background(), 10)
	if invoice.Status != types.InvoiceStatusPaid {
		t.Fatalf("expected paid invoice, got %q", invoice.Status)
	}
	if len(h.receipts.receipts) != 1 || h.receipts.receipts[0].Status != entity.WebhookReceiptProcessed {
		t.Fatalf("expected one processed receipt, got %+v", h.receipts.receipts)
	}
	if h.receipts.receipts[0].CreatedAt.IsZero() {
		t.Fatal("receipt must carry its creation timestamp")
	}
}

func TestHandleWebhookReplayDoesNotDoubleCount(t *testing.T) {
	h := newTestHarness()
	h.seedInvoice(10, "company-1", 50000, "US")
	h.seedAttempt(&entity.PaymentAttempt{CompanyID: "company-1", InvoiceID: 10, Provider: types.ProviderCard, ExternalReference: "pi_1", AmountMinor: 50000, Currency: "USD", Status: types.AttemptStatusPending})
	h.card.parseEvent = &provider.Event{Type: provider.EventChargeSucceeded, RawType: "payment_intent.succeeded", ExternalReference: "pi_1", AmountMinor: 50000}

	for i := 0; i < 3; i++ {
		if err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("Card-Signature", "sig")); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	invoice, _ := h.invoices.FindByID(context.Background(), 10)
	if invoice.PaidAmountMinor != 50000 {
		t.Fatalf("replayed webhook must not double count, got %d", invoice.PaidAmountMinor)
	}
	if got := h.events.countByType("status_completed"); got != 1 {
		t.Fatalf("expected one completion transition, got %d", got)
	}
}

func TestHandleWebhookChargeFailedDoesNotReconcile(t *testing.T) {
	h := newTestHarness()
	h.seedInvoice(10, "company-1", 50000, "US")
	h.seedAttempt(&entity.PaymentAttempt{CompanyID: "company-1", InvoiceID: 10, Provider: types.ProviderRegional, ExternalReference: "INV-10-ref", AmountMinor: 50000, Status: types.AttemptStatusPending})
	h.regional.parseEvent = &provider.Event{Type: provider.EventChargeFailed, RawType: "charge.failed", ExternalReference: "INV-10-ref"}

	if err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("X-Regional-Signature", "sig")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	attempt, _ := h.attempts.FindByReference(context.Background(), types.ProviderRegional, "INV-10-ref")
	if attempt.Status != types.AttemptStatusFailed {
		t.Fatalf("expected failed, got %q", attempt.Status)
	}
	invoice, _ := h.invoices.FindByID(context.Background(), 10)
	if invoice.Status != types.InvoiceStatusUnpaid {
		t.Fatalf("failed charge must leave invoice unpaid, got %q", invoice.Status)
	}
}

func TestHandleWebhookRefundProcessedNetsInvoice(t *testing.T) {
	h := newTestHarness()
	invoice := h.seedInvoice(10, "company-1", 50000, "US")
	invoice.Status = types.InvoiceStatusPaid
	invoice.PaidAmountMinor = 50000
	h.seedAttempt(&entity.PaymentAttempt{CompanyID: "company-1", InvoiceID: 10, Provider: types.ProviderCard, ExternalReference: "pi_1", AmountMinor: 50000, Currency: "USD", Status: types.AttemptStatusCompleted})
	h.card.parseEvent = &provider.Event{Type: provider.EventRefundProcessed, RawType: "charge.refunded", ExternalReference: "pi_1", AmountMinor: 20000, RefundID: "re_1"}

	if err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("Card-Signature", "sig")); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	attempt, _ := h.attempts.FindByReference(context.Background(), types.ProviderCard, "pi_1")
	if attempt.Status != types.AttemptStatusRefunded || attempt.RefundedAmountMinor != 20000 {
		t.Fatalf("expected refunded/20000, got %q/%d", attempt.Status, attempt.RefundedAmountMinor)
	}
	if attempt.RefundID == nil || *attempt.RefundID != "re_1" {
		t.Fatalf("expected refund id recorded, got %v", attempt.RefundID)
	}

	updated, _ := h.invoices.FindByID(context.Background(), 10)
	if updated.PaidAmountMinor != 30000 || !updated.Refunded {
		t.Fatalf("expected net 30000 refunded invoice, got paid=%d refunded=%t", updated.PaidAmountMinor, updated.Refunded)
	}
}

func TestHandleWebhookUnknownEventTypeAcknowledged(t *testing.T) {
	h := newTestHarness()
	h.card.parseEvent = &provider.Event{Type: provider.EventUnknown, RawType: "customer.created"}

	if err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("Card-Signature", "sig")); err != nil {
		t.Fatalf("unknown event must be acknowledged, got %v", err)
	}
	if len(h.receipts.receipts) != 1 || h.receipts.receipts[0].Status != entity.WebhookReceiptProcessed {
		t.Fatalf("expected processed receipt, got %+v", h.receipts.receipts)
	}
}

func TestHandleWebhookUnknownAttemptAcknowledged(t *testing.T) {
	h := newTestHarness()
	h.card.parseEvent = &provider.Event{Type: provider.EventChargeSucceeded, RawType: "payment_intent.succeeded", ExternalReference: "pi_missing"}

	if err := h.webhooks.Handle(context.Background(), []byte(`{}`), webhookHeaders("Card-Signature", "sig")); err != nil {
		t.Fatalf("authenticated webhook must be acknowledged, got %v", err)
	}
	if len(h.receipts.receipts) != 1 {
		t.Fatalf("expected one receipt, got %d", len(h.receipts.receipts))
	}
	if h.receipts.receipts[0].Error == nil {
		t.Fatal("expected receipt to record the processing error")
	}
}
