package repository

import (
	"context"

	"github.com/roofmanager/ms-go-payments/app/entity"
)

type WebhookReceiptRepository struct {
	db DBTX
}

func NewWebhookReceiptRepository(db DBTX) *WebhookReceiptRepository {
	return &WebhookReceiptRepository{db: db}
}

func (r *WebhookReceiptRepository) Create(ctx context.Context, receipt *entity.WebhookReceipt) error {
	query := `
		INSERT INTO webhook_receipts (
			attempt_id, provider, signature, payload_json, event_type, status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var attemptID interface{}
	if receipt.AttemptID != nil {
		attemptID = *receipt.AttemptID
	}

	result, err := r.db.ExecContext(ctx, query,
		attemptID,
		receipt.Provider,
		receipt.Signature,
		receipt.PayloadJSON,
		receipt.EventType,
		receipt.Status,
		nullableStringValue(receipt.Error),
		receipt.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	receipt.ID = uint64(id)
	return nil
}
