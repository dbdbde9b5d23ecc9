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

// transitionTable is the single source of truth for attempt lifecycle moves.
// Anything not listed here is treated as a no-op, which is what makes
// duplicate webhook delivery and overlapping polling safe.
var transitionTable = map[types.AttemptStatus]map[types.AttemptStatus]bool{
	types.AttemptStatusPending: {
		types.AttemptStatusCompleted: true,
		types.AttemptStatusFailed:    true,
	},
	types.AttemptStatusCompleted: {
		types.AttemptStatusRefunded: true,
	},
}

type TransitionDetails struct {
	CompletedAt         *time.Time
	ProviderChannel     string
	RefundID            string
	RefundedAmountMinor int64
	Metadata            map[string]string
}

// Ledger owns every mutation of payment attempts. Writes to a single
// (provider, externalReference) key are serialized; the repository's
// compare-and-set catches the cross-process race the in-process lock cannot.
type Ledger struct {
	attempts attemptRepository
	events   eventRepository
	keys     *keyedMutex
	logger   logrus.FieldLogger
}

func NewLedger(attempts attemptRepository, events eventRepository) *Ledger {
	return &Ledger{
		attempts: attempts,
		events:   events,
		keys:     newKeyedMutex(),
		logger:   factory.NewModuleLogger("payment-ledger"),
	}
}

// RecordPending inserts the pending ledger row for a freshly initialized
// charge. A duplicate (provider, externalReference) returns the existing row
// together with ErrDuplicateAttempt; callers treat that as "already
// initialized", not a failure.
func (l *Ledger) RecordPending(ctx context.Context, attempt *entity.PaymentAttempt) (*entity.PaymentAttempt, error) {
	now := time.Now().UTC()
	attempt.Status = types.AttemptStatusPending
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	if attempt.Metadata == nil {
		attempt.Metadata = map[string]string{}
	}

	if err := l.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrAttemptAlreadyExists) {
			existing, findErr := l.attempts.FindByReference(ctx, attempt.Provider, attempt.ExternalReference)
			if findErr != nil {
				return nil, findErr
			}
			return existing, ErrDuplicateAttempt
		}
		return nil, err
	}

	l.recordEvent(ctx, attempt, nil, "attempt_created", now)
	return attempt, nil
}

// Transition applies a lifecycle move for the attempt identified by
// (provider, externalReference). Disallowed moves, including replays of the
// same event, return the current row unchanged and no error.
func (l *Ledger) Transition(ctx context.Context, provider types.ProviderID, externalReference string, newStatus types.AttemptStatus, details TransitionDetails) (*entity.PaymentAttempt, error) {
	key := transitionKey(provider, externalReference)
	l.keys.Lock(key)
	defer l.keys.Unlock(key)

	attempt, err := l.attempts.FindByReference(ctx, provider, externalReference)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, externalReference)
		}
		return nil, err
	}

	if !transitionTable[attempt.Status][newStatus] {
		l.logger.WithFields(logrus.Fields{
			"reference": externalReference,
			"from":      string(attempt.Status),
			"to":        string(newStatus),
		}).Debug("Skipping disallowed transition")
		return attempt, nil
	}

	now := time.Now().UTC()
	oldStatus := attempt.Status
	attempt.Status = newStatus
	attempt.UpdatedAt = now

	switch newStatus {
	case types.AttemptStatusCompleted:
		completedAt := now
		if details.CompletedAt != nil {
			completedAt = details.CompletedAt.UTC()
		}
		attempt.CompletedAt = &completedAt
	case types.AttemptStatusRefunded:
		refunded := details.RefundedAmountMinor
		if refunded <= 0 || refunded > attempt.AmountMinor {
			refunded = attempt.AmountMinor
		}
		attempt.RefundedAmountMinor = refunded
	}

	if details.ProviderChannel != "" {
		channel := details.ProviderChannel
		attempt.ProviderChannel = &channel
	}
	if details.RefundID != "" {
		refundID := details.RefundID
		attempt.RefundID = &refundID
	}
	if len(details.Metadata) > 0 {
		if attempt.Metadata == nil {
			attempt.Metadata = map[string]string{}
		}
		for k, v := range details.Metadata {
			attempt.Metadata[k] = v
		}
	}

	if newStatus.Terminal() {
		attempt.NotifyStatus = entity.NotifyPending
		attempt.NotifyAttempts = 0
		attempt.NotifyNextAt = &now
		attempt.NotifyLastErr = nil
	}

	applied, err := l.attempts.ApplyTransition(ctx, attempt, oldStatus)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the cross-process race; whoever won already recorded the move.
		return l.attempts.FindByReference(ctx, provider, externalReference)
	}

	l.recordEvent(ctx, attempt, &oldStatus, "status_"+string(newStatus), now)
	return attempt, nil
}

// SumCompleted is the ledger-side input to reconciliation: completed amounts
// minus refunded portions, straight from the rows.
func (l *Ledger) SumCompleted(ctx context.Context, invoiceID uint64) (int64, error) {
	return l.attempts.SumCompleted(ctx, invoiceID)
}

func (l *Ledger) recordEvent(ctx context.Context, attempt *entity.PaymentAttempt, oldStatus *types.AttemptStatus, eventType string, now time.Time) {
	var oldStatusStr *string
	if oldStatus != nil {
		s := string(*oldStatus)
		oldStatusStr = &s
	}
	if err := l.events.Create(ctx, &entity.PaymentEvent{
		AttemptID: attempt.ID,
		InvoiceID: attempt.InvoiceID,
		EventType: eventType,
		OldStatus: oldStatusStr,
		NewStatus: string(attempt.Status),
		CreatedAt: now,
	}); err != nil {
		l.logger.WithError(err).WithField("attempt_id", attempt.ID).Warn("Failed to record payment event")
	}
}

func transitionKey(provider types.ProviderID, externalReference string) string {
	return fmt.Sprintf("attempt:%s:%s", provider, externalReference)
}
