package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/factory"
	"github.com/roofmanager/ms-go-payments/app/repository"
	"github.com/roofmanager/ms-go-payments/app/types"
	"github.com/sirupsen/logrus"
)

// InvoiceState is the reconciled snapshot handed back to callers and to the
// notification hook.
type InvoiceState struct {
	InvoiceID        uint64
	CompanyID        string
	TotalAmountMinor int64
	PaidAmountMinor  int64
	Currency         string
	Status           types.InvoiceStatus
	Refunded         bool
	FullyPaid        bool
}

// Reconciler is the only writer of invoice paid amounts. It recomputes the
// invoice from the ledger aggregate, never incrementally, so running it any
// number of times converges on the same state.
type Reconciler struct {
	invoices invoiceRepository
	attempts attemptRepository
	events   eventRepository
	keys     *keyedMutex
	logger   logrus.FieldLogger
}

func NewReconciler(invoices invoiceRepository, attempts attemptRepository, events eventRepository) *Reconciler {
	return &Reconciler{
		invoices: invoices,
		attempts: attempts,
		events:   events,
		keys:     newKeyedMutex(),
		logger:   factory.NewModuleLogger("invoice-reconciler"),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, companyID string, invoiceID uint64) (*InvoiceState, error) {
	key := fmt.Sprintf("invoice:%d", invoiceID)
	r.keys.Lock(key)
	defer r.keys.Unlock(key)

	invoice, err := r.invoices.FindByIDForCompany(ctx, companyID, invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrInvoiceNotFound, invoiceID)
		}
		return nil, err
	}

	paid, err := r.attempts.SumCompleted(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	hasRefund, err := r.attempts.HasRefunded(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	status := deriveInvoiceStatus(paid, invoice.TotalAmountMinor)
	refunded := hasRefund && paid < invoice.TotalAmountMinor

	changed := invoice.PaidAmountMinor != paid || invoice.Status != status || invoice.Refunded != refunded
	if changed {
		now := time.Now().UTC()
		invoice.PaidAmountMinor = paid
		invoice.Status = status
		invoice.Refunded = refunded
		invoice.UpdatedAt = now

		if status == types.InvoiceStatusPaid {
			if invoice.PaidAt == nil {
				invoice.PaidAt = &now
			}
		} else {
			invoice.PaidAt = nil
		}

		if err := r.invoices.UpdateReconciledState(ctx, invoice); err != nil {
			return nil, err
		}

		if err := r.events.Create(ctx, &entity.PaymentEvent{
			InvoiceID: invoice.ID,
			EventType: "invoice_reconciled",
			NewStatus: string(status),
			CreatedAt: now,
		}); err != nil {
			r.logger.WithError(err).WithField("invoice_id", invoice.ID).Warn("Failed to record reconcile event")
		}
	}

	return &InvoiceState{
		InvoiceID:        invoice.ID,
		CompanyID:        invoice.CompanyID,
		TotalAmountMinor: invoice.TotalAmountMinor,
		PaidAmountMinor:  invoice.PaidAmountMinor,
		Currency:         invoice.Currency,
		Status:           invoice.Status,
		Refunded:         invoice.Refunded,
		FullyPaid:        invoice.Status == types.InvoiceStatusPaid,
	}, nil
}

func deriveInvoiceStatus(paidMinor, totalMinor int64) types.InvoiceStatus {
	switch {
	case paidMinor <= 0:
		return types.InvoiceStatusUnpaid
	case paidMinor < totalMinor:
		return types.InvoiceStatusPartial
	default:
		return types.InvoiceStatusPaid
	}
}
