package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/factory"
	"github.com/roofmanager/ms-go-payments/app/provider"
	"github.com/roofmanager/ms-go-payments/app/repository"
	"github.com/roofmanager/ms-go-payments/app/types"
	"github.com/roofmanager/ms-go-payments/config"
	"github.com/sirupsen/logrus"
)

// PaymentService orchestrates charge initialization and verification against
// the provider gateways. All attempt state changes go through the ledger and
// all invoice totals through the reconciler.
type PaymentService struct {
	invoices   invoiceRepository
	attempts   attemptRepository
	ledger     *Ledger
	reconciler *Reconciler
	registry   *provider.Registry
	cfg        config.PaymentsConfig
	logger     logrus.FieldLogger
}

func NewPaymentService(
	invoices invoiceRepository,
	attempts attemptRepository,
	ledger *Ledger,
	reconciler *Reconciler,
	registry *provider.Registry,
	cfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		invoices:   invoices,
		attempts:   attempts,
		ledger:     ledger,
		reconciler: reconciler,
		registry:   registry,
		cfg:        cfg,
		logger:     factory.NewModuleLogger("payment-service"),
	}
}

func (s *PaymentService) InitializePayment(ctx context.Context, companyID string, req *types.InitializePaymentRequest) (*types.InitializePaymentResponse, error) {
	invoice, err := s.invoices.FindByIDForCompany(ctx, companyID, req.InvoiceId)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}

	amountDue := invoice.TotalAmountMinor - invoice.PaidAmountMinor
	if invoice.Status == types.InvoiceStatusPaid || amountDue <= 0 {
		return nil, ErrInvoiceAlreadyPaid
	}

	country := req.CustomerCountry
	if country == "" {
		country = invoice.CustomerCountry
	}
	email := req.CustomerEmail
	if email == "" {
		email = invoice.CustomerEmail
	}

	providerID := provider.SelectProvider(country)
	gateway, err := s.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	reference := fmt.Sprintf("INV-%d-%s", invoice.ID, uuid.NewString())

	providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	output, err := gateway.Initialize(providerCtx, &provider.InitializeInput{
		AmountMinor:   amountDue,
		CustomerEmail: email,
		Currency:      invoice.Currency,
		Reference:     reference,
		CallbackURL:   s.cfg.CallbackBaseURL,
		Metadata: map[string]string{
			"invoice_id": fmt.Sprintf("%d", invoice.ID),
			"company_id": invoice.CompanyID,
		},
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
			"provider":   providerID.String(),
		}).Error("provider initialization failed")
		return nil, err
	}

	attempt := &entity.PaymentAttempt{
		CompanyID:         invoice.CompanyID,
		InvoiceID:         invoice.ID,
		Provider:          providerID,
		ExternalReference: output.ExternalReference,
		AmountMinor:       amountDue,
		Currency:          invoice.Currency,
		Status:            types.AttemptStatusPending,
		AuthorizationURL:  output.AuthorizationURL,
		ClientSecret:      output.ClientSecret,
		Metadata: map[string]string{
			"reference": reference,
		},
	}

	recorded, err := s.ledger.RecordPending(ctx, attempt)
	if err != nil && !errors.Is(err, ErrDuplicateAttempt) {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	return &types.InitializePaymentResponse{
		Provider:         recorded.Provider.String(),
		Reference:        recorded.ExternalReference,
		AuthorizationUrl: derefString(recorded.AuthorizationURL),
		ClientSecret:     derefString(recorded.ClientSecret),
	}, nil
}

func (s *PaymentService) VerifyPayment(ctx context.Context, companyID string, req *types.VerifyPaymentRequest) (*types.VerifyPaymentResponse, error) {
	attempt, err := s.attempts.FindByReferenceForCompany(ctx, companyID, req.Reference)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("find attempt: %w", err)
	}

	// A terminal attempt never changes again; answer from the ledger without
	// touching the provider.
	if attempt.Status.Terminal() {
		return s.verifyResponse(ctx, attempt)
	}

	result, err := s.pollProvider(ctx, attempt)
	if err != nil {
		if errors.Is(err, provider.ErrProviderUnavailable) {
			// The provider is down; the attempt stays pending and a later
			// verify, webhook or reconcile run settles it.
			s.logger.WithError(err).WithField("external_reference", attempt.ExternalReference).
				Warn("provider unavailable during verification")
			return s.verifyResponse(ctx, attempt)
		}
		if errors.Is(err, provider.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	attempt, err = s.settleVerifiedAttempt(ctx, attempt, result)
	if err != nil {
		return nil, err
	}

	return s.verifyResponse(ctx, attempt)
}

// pollProvider asks the gateway for the attempt's current state, retrying
// transient outages with exponential backoff. Definitive provider answers
// (including errors other than unavailability) stop the retry loop.
func (s *PaymentService) pollProvider(ctx context.Context, attempt *entity.PaymentAttempt) (*provider.VerifyResult, error) {
	gateway, err := s.registry.Get(attempt.Provider)
	if err != nil {
		return nil, err
	}

	var result *provider.VerifyResult
	operation := func() error {
		providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()

		verified, err := gateway.Verify(providerCtx, attempt.ExternalReference)
		if err != nil {
			if errors.Is(err, provider.ErrProviderUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = verified
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.VerifyInitialBackoff
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.cfg.VerifyMaxRetries), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// settleVerifiedAttempt applies a provider verification result to the
// ledger and, on success, reconciles the owning invoice. An in-flight result
// leaves the attempt untouched.
func (s *PaymentService) settleVerifiedAttempt(ctx context.Context, attempt *entity.PaymentAttempt, result *provider.VerifyResult) (*entity.PaymentAttempt, error) {
	switch {
	case result.Succeeded:
		completedAt := result.PaidAt
		if completedAt == nil {
			now := time.Now().UTC()
			completedAt = &now
		}
		updated, err := s.ledger.Transition(ctx, attempt.Provider, attempt.ExternalReference, types.AttemptStatusCompleted, TransitionDetails{
			CompletedAt:     completedAt,
			ProviderChannel: result.Channel,
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.reconciler.Reconcile(ctx, updated.CompanyID, updated.InvoiceID); err != nil {
			return nil, err
		}
		return updated, nil

	case result.Failed:
		return s.ledger.Transition(ctx, attempt.Provider, attempt.ExternalReference, types.AttemptStatusFailed, TransitionDetails{})

	default:
		return attempt, nil
	}
}

func (s *PaymentService) verifyResponse(ctx context.Context, attempt *entity.PaymentAttempt) (*types.VerifyPaymentResponse, error) {
	fullyPaid := false
	invoice, err := s.invoices.FindByID(ctx, attempt.InvoiceID)
	if err == nil {
		fullyPaid = invoice.Status == types.InvoiceStatusPaid
	} else if !errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("find invoice: %w", err)
	}

	return &types.VerifyPaymentResponse{
		Reference:          attempt.ExternalReference,
		Status:             string(attempt.Status),
		AmountMinor:        attempt.AmountMinor,
		Currency:           attempt.Currency,
		IsInvoiceFullyPaid: fullyPaid,
	}, nil
}

func (s *PaymentService) ListAttempts(ctx context.Context, companyID string, req *types.ListAttemptsRequest) ([]*entity.PaymentAttempt, error) {
	if _, err := s.invoices.FindByIDForCompany(ctx, companyID, req.InvoiceId); err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}

	filter := repository.AttemptFilter{
		CompanyID: companyID,
		InvoiceID: req.InvoiceId,
		HasStatus: req.HasStatus,
		Status:    req.Status,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	return s.attempts.List(ctx, filter)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
