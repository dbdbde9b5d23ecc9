package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/roofmanager/ms-go-payments/app/factory"
	"github.com/roofmanager/ms-go-payments/app/provider"
	"github.com/roofmanager/ms-go-payments/app/repository"
	"github.com/roofmanager/ms-go-payments/app/types"
	"github.com/roofmanager/ms-go-payments/config"
	"github.com/sirupsen/logrus"
)

// RefundCoordinator drives refunds end to end: provider call, ledger
// transition, invoice reconciliation.
type RefundCoordinator struct {
	attempts   attemptRepository
	ledger     *Ledger
	reconciler *Reconciler
	registry   *provider.Registry
	cfg        config.PaymentsConfig
	logger     logrus.FieldLogger
}

func NewRefundCoordinator(
	attempts attemptRepository,
	ledger *Ledger,
	reconciler *Reconciler,
	registry *provider.Registry,
	cfg config.PaymentsConfig,
) *RefundCoordinator {
	return &RefundCoordinator{
		attempts:   attempts,
		ledger:     ledger,
		reconciler: reconciler,
		registry:   registry,
		cfg:        cfg,
		logger:     factory.NewModuleLogger("refund-coordinator"),
	}
}

// Refund refunds a completed attempt. A nil amount refunds the full charge;
// a partial amount must not exceed the original charge.
func (c *RefundCoordinator) Refund(ctx context.Context, companyID string, req *types.RefundPaymentRequest) (*types.RefundPaymentResponse, error) {
	attempt, err := c.attempts.FindByIDForCompany(ctx, companyID, req.PaymentAttemptId)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("find attempt: %w", err)
	}

	if attempt.Status != types.AttemptStatusCompleted {
		return nil, ErrInvalidStatus
	}
	if req.AmountMinor != nil && *req.AmountMinor > attempt.AmountMinor {
		return nil, ErrInvalidRequest
	}

	gateway, err := c.registry.Get(attempt.Provider)
	if err != nil {
		return nil, err
	}

	providerCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	output, err := gateway.Refund(providerCtx, attempt.ExternalReference, req.AmountMinor)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidState) {
			return nil, ErrInvalidStatus
		}
		if errors.Is(err, provider.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt_id": attempt.ID,
			"provider":   attempt.Provider.String(),
		}).Error("provider refund failed")
		return nil, err
	}

	refunded := output.AmountMinor
	if refunded == 0 && req.AmountMinor != nil {
		refunded = *req.AmountMinor
	}

	updated, err := c.ledger.Transition(ctx, attempt.Provider, attempt.ExternalReference, types.AttemptStatusRefunded, TransitionDetails{
		RefundID:            output.RefundID,
		RefundedAmountMinor: refunded,
	})
	if err != nil {
		return nil, err
	}

	if _, err := c.reconciler.Reconcile(ctx, updated.CompanyID, updated.InvoiceID); err != nil {
		return nil, err
	}

	return &types.RefundPaymentResponse{
		RefundId:    output.RefundID,
		AmountMinor: updated.RefundedAmountMinor,
		Status:      string(updated.Status),
	}, nil
}
