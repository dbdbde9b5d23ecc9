package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/factory"
	"github.com/roofmanager/ms-go-payments/app/mapper"
	"github.com/roofmanager/ms-go-payments/app/provider"
	"github.com/roofmanager/ms-go-payments/config"
	"github.com/sirupsen/logrus"
)

// JobService runs the background batches: re-verifying attempts stuck in
// pending (missed or delayed webhooks) and delivering attempt notifications
// to the configured internal webhook.
type JobService struct {
	attempts   attemptRepository
	events     eventRepository
	payments   *PaymentService
	registry   *provider.Registry
	notifyHTTP *http.Client
	cfg        config.PaymentsConfig
	logger     logrus.FieldLogger
}

func NewJobService(
	attempts attemptRepository,
	events eventRepository,
	payments *PaymentService,
	registry *provider.Registry,
	cfg config.PaymentsConfig,
) *JobService {
	return &JobService{
		attempts:   attempts,
		events:     events,
		payments:   payments,
		registry:   registry,
		notifyHTTP: &http.Client{Timeout: cfg.NotifyHTTPTimeout},
		cfg:        cfg,
		logger:     factory.NewModuleLogger("payment-jobs"),
	}
}

// RunReconcileBatch re-verifies attempts that have sat in pending longer than
// the staleness window. Each attempt gets a single provider poll; transient
// provider outages are skipped and picked up on the next run.
func (s *JobService) RunReconcileBatch(ctx context.Context) error {
	now := time.Now().UTC()
	before := now.Add(-s.cfg.PendingStaleAfter)
	items, err := s.attempts.ListStalePending(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, attempt := range items {
		if attempt == nil {
			continue
		}

		gateway, err := s.registry.Get(attempt.Provider)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		result, err := gateway.Verify(providerCtx, attempt.ExternalReference)
		cancel()
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		if _, err := s.payments.settleVerifiedAttempt(ctx, attempt, result); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunNotifyBatch delivers queued attempt notifications.
func (s *JobService) RunNotifyBatch(ctx context.Context) error {
	now := time.Now().UTC()
	items, err := s.attempts.ListDueNotify(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, attempt := range items {
		if attempt == nil {
			continue
		}
		if err := s.dispatchNotification(ctx, attempt, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *JobService) dispatchNotification(ctx context.Context, attempt *entity.PaymentAttempt, now time.Time) error {
	if s.cfg.NotifyWebhookURL == "" {
		errMsg := "notify webhook url is not configured"
		attempt.NotifyStatus = entity.NotifyFailed
		attempt.NotifyNextAt = nil
		attempt.NotifyLastErr = &errMsg
		attempt.UpdatedAt = now
		return s.attempts.Update(ctx, attempt)
	}

	body, err := json.Marshal(mapper.AttemptToResponse(attempt))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.NotifyWebhookURL, bytes.NewReader(body))
	if err != nil {
		return s.recordNotifyFailure(ctx, attempt, now, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-ID", attempt.CompanyID)

	resp, err := s.notifyHTTP.Do(req)
	if err != nil {
		return s.recordNotifyFailure(ctx, attempt, now, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.recordNotifyFailure(ctx, attempt, now, fmt.Errorf("notify endpoint returned status=%d", resp.StatusCode))
	}

	attempt.NotifyStatus = entity.NotifySuccess
	attempt.NotifyNextAt = nil
	attempt.NotifyLastErr = nil
	attempt.UpdatedAt = now

	if err := s.attempts.Update(ctx, attempt); err != nil {
		return err
	}

	_ = s.events.Create(ctx, &entity.PaymentEvent{
		AttemptID: attempt.ID,
		InvoiceID: attempt.InvoiceID,
		EventType: "notify_dispatched",
		NewStatus: string(attempt.Status),
		CreatedAt: now,
	})

	return nil
}

func (s *JobService) recordNotifyFailure(ctx context.Context, attempt *entity.PaymentAttempt, now time.Time, dispatchErr error) error {
	attempt.NotifyAttempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	attempt.NotifyLastErr = &trimmed

	maxAttempts := s.cfg.NotifyMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if attempt.NotifyAttempts >= maxAttempts {
		attempt.NotifyStatus = entity.NotifyFailed
		attempt.NotifyNextAt = nil
	} else {
		retryInterval := s.cfg.NotifyRetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		attempt.NotifyStatus = entity.NotifyPending
		attempt.NotifyNextAt = &next
	}
	attempt.UpdatedAt = now

	if err := s.attempts.Update(ctx, attempt); err != nil {
		return err
	}

	_ = s.events.Create(ctx, &entity.PaymentEvent{
		AttemptID: attempt.ID,
		InvoiceID: attempt.InvoiceID,
		EventType: "notify_dispatch_failed",
		NewStatus: string(attempt.Status),
		CreatedAt: now,
	})

	return dispatchErr
}

func (s *JobService) batchSize() int32 {
	if s.cfg.JobBatchSize <= 0 {
		return 100
	}
	return s.cfg.JobBatchSize
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
