package service

import (
	"context"
	"time"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/repository"
	"github.com/roofmanager/ms-go-payments/app/types"
)

type attemptRepository interface {
	Create(ctx context.Context, attempt *entity.PaymentAttempt) error
	ApplyTransition(ctx context.Context, attempt *entity.PaymentAttempt, from types.AttemptStatus) (bool, error)
	Update(ctx context.Context, attempt *entity.PaymentAttempt) error
	FindByID(ctx context.Context, id uint64) (*entity.PaymentAttempt, error)
	FindByIDForCompany(ctx context.Context, companyID string, id uint64) (*entity.PaymentAttempt, error)
	FindByReference(ctx context.Context, provider types.ProviderID, externalReference string) (*entity.PaymentAttempt, error)
	FindByReferenceForCompany(ctx context.Context, companyID string, externalReference string) (*entity.PaymentAttempt, error)
	SumCompleted(ctx context.Context, invoiceID uint64) (int64, error)
	HasRefunded(ctx context.Context, invoiceID uint64) (bool, error)
	List(ctx context.Context, filter repository.AttemptFilter) ([]*entity.PaymentAttempt, error)
	ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentAttempt, error)
	ListDueNotify(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentAttempt, error)
}

type invoiceRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Invoice, error)
	FindByIDForCompany(ctx context.Context, companyID string, id uint64) (*entity.Invoice, error)
	UpdateReconciledState(ctx context.Context, invoice *entity.Invoice) error
}

type eventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type receiptRepository interface {
	Create(ctx context.Context, receipt *entity.WebhookReceipt) error
}
