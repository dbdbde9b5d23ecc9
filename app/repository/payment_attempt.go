package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/types"
)

var (
	ErrAttemptNotFound      = errors.New("payment attempt not found")
	ErrAttemptAlreadyExists = errors.New("payment attempt already exists")
)

type AttemptFilter struct {
	CompanyID string
	InvoiceID uint64
	HasStatus bool
	Status    types.AttemptStatus
	Limit     int32
	Offset    int32
}

type PaymentAttemptRepository struct {
	db DBTX
}

func NewPaymentAttemptRepository(db DBTX) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{db: db}
}

const attemptColumns = `
	id, company_id, invoice_id, provider, external_reference,
	amount_minor, currency, status,
	refunded_amount_minor, provider_channel, refund_id,
	authorization_url, client_secret, metadata_json,
	notify_status, notify_attempts, notify_next_at, notify_last_error,
	created_at, completed_at, updated_at
`

func (r *PaymentAttemptRepository) Create(ctx context.Context, attempt *entity.PaymentAttempt) error {
	metadataJSON, err := serializeMetadata(attempt.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_attempts (
			company_id, invoice_id, provider, external_reference,
			amount_minor, currency, status,
			refunded_amount_minor, provider_channel, refund_id,
			authorization_url, client_secret, metadata_json,
			notify_status, notify_attempts, notify_next_at, notify_last_error,
			created_at, completed_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		attempt.CompanyID,
		attempt.InvoiceID,
		attempt.Provider.String(),
		attempt.ExternalReference,
		attempt.AmountMinor,
		attempt.Currency,
		string(attempt.Status),
		attempt.RefundedAmountMinor,
		nullableStringValue(attempt.ProviderChannel),
		nullableStringValue(attempt.RefundID),
		nullableStringValue(attempt.AuthorizationURL),
		nullableStringValue(attempt.ClientSecret),
		metadataJSON,
		attempt.NotifyStatus,
		attempt.NotifyAttempts,
		nullableTimeValue(attempt.NotifyNextAt),
		nullableStringValue(attempt.NotifyLastErr),
		attempt.CreatedAt,
		nullableTimeValue(attempt.CompletedAt),
		attempt.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrAttemptAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	attempt.ID = uint64(id)
	return nil
}

// ApplyTransition persists a status change with a compare-and-set on the
// previous status. It reports false without error when another writer got
// there first; the caller reloads and treats the transition as a no-op.
func (r *PaymentAttemptRepository) ApplyTransition(ctx context.Context, attempt *entity.PaymentAttempt, from types.AttemptStatus) (bool, error) {
	metadataJSON, err := serializeMetadata(attempt.Metadata)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE payment_attempts SET
			status = ?,
			refunded_amount_minor = ?,
			provider_channel = ?,
			refund_id = ?,
			metadata_json = ?,
			notify_status = ?,
			notify_attempts = ?,
			notify_next_at = ?,
			notify_last_error = ?,
			completed_at = ?,
			updated_at = ?
		WHERE provider = ? AND external_reference = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(attempt.Status),
		attempt.RefundedAmountMinor,
		nullableStringValue(attempt.ProviderChannel),
		nullableStringValue(attempt.RefundID),
		metadataJSON,
		attempt.NotifyStatus,
		attempt.NotifyAttempts,
		nullableTimeValue(attempt.NotifyNextAt),
		nullableStringValue(attempt.NotifyLastErr),
		nullableTimeValue(attempt.CompletedAt),
		attempt.UpdatedAt,
		attempt.Provider.String(),
		attempt.ExternalReference,
		string(from),
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Update rewrites notification bookkeeping without touching the status.
func (r *PaymentAttemptRepository) Update(ctx context.Context, attempt *entity.PaymentAttempt) error {
	query := `
		UPDATE payment_attempts SET
			notify_status = ?,
			notify_attempts = ?,
			notify_next_at = ?,
			notify_last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		attempt.NotifyStatus,
		attempt.NotifyAttempts,
		nullableTimeValue(attempt.NotifyNextAt),
		nullableStringValue(attempt.NotifyLastErr),
		attempt.UpdatedAt,
		attempt.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *PaymentAttemptRepository) FindByID(ctx context.Context, id uint64) (*entity.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE id = ? LIMIT 1`
	return r.findOne(ctx, query, id)
}

func (r *PaymentAttemptRepository) FindByIDForCompany(ctx context.Context, companyID string, id uint64) (*entity.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE id = ? AND company_id = ? LIMIT 1`
	return r.findOne(ctx, query, id, companyID)
}

func (r *PaymentAttemptRepository) FindByReference(ctx context.Context, provider types.ProviderID, externalReference string) (*entity.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE provider = ? AND external_reference = ? LIMIT 1`
	return r.findOne(ctx, query, provider.String(), externalReference)
}

func (r *PaymentAttemptRepository) FindByReferenceForCompany(ctx context.Context, companyID string, externalReference string) (*entity.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE external_reference = ? AND company_id = ? LIMIT 1`
	return r.findOne(ctx, query, externalReference, companyID)
}

// SumCompleted aggregates the invoice's paid amount from the ledger alone:
// completed attempts count in full, refunded attempts net out their refunded
// portion, everything else contributes nothing.
func (r *PaymentAttemptRepository) SumCompleted(ctx context.Context, invoiceID uint64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(CASE
			WHEN status = 'completed' THEN amount_minor
			WHEN status = 'refunded' THEN amount_minor - refunded_amount_minor
			ELSE 0
		END), 0)
		FROM payment_attempts
		WHERE invoice_id = ?
	`

	var total int64
	if err := r.db.QueryRowContext(ctx, query, invoiceID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PaymentAttemptRepository) HasRefunded(ctx context.Context, invoiceID uint64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM payment_attempts WHERE invoice_id = ? AND status = 'refunded')`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, invoiceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PaymentAttemptRepository) List(ctx context.Context, filter AttemptFilter) ([]*entity.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.CompanyID) != "" {
		conditions = append(conditions, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.InvoiceID > 0 {
		conditions = append(conditions, "invoice_id = ?")
		args = append(args, filter.InvoiceID)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.findMany(ctx, query, args...)
}

func (r *PaymentAttemptRepository) ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM payment_attempts
		WHERE status = 'pending' AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, before, limit)
}

func (r *PaymentAttemptRepository) ListDueNotify(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM payment_attempts
		WHERE notify_status = ?
		  AND notify_next_at IS NOT NULL
		  AND notify_next_at <= ?
		ORDER BY notify_next_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, entity.NotifyPending, now, limit)
}

func (r *PaymentAttemptRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.PaymentAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, noRowsAs(err, ErrAttemptNotFound)
	}
	return attempt, nil
}

func (r *PaymentAttemptRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentAttempt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*entity.PaymentAttempt, 0)
	for rows.Next() {
		item, err := scanAttemptFromRows(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

type attemptScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row attemptScanner) (*entity.PaymentAttempt, error) {
	attempt := &entity.PaymentAttempt{}

	var (
		provider      string
		status        string
		channel       sql.NullString
		refundID      sql.NullString
		authURL       sql.NullString
		clientSecret  sql.NullString
		metadataJSON  string
		notifyNextAt  sql.NullTime
		notifyLastErr sql.NullString
		completedAt   sql.NullTime
	)

	if err := row.Scan(
		&attempt.ID,
		&attempt.CompanyID,
		&attempt.InvoiceID,
		&provider,
		&attempt.ExternalReference,
		&attempt.AmountMinor,
		&attempt.Currency,
		&status,
		&attempt.RefundedAmountMinor,
		&channel,
		&refundID,
		&authURL,
		&clientSecret,
		&metadataJSON,
		&attempt.NotifyStatus,
		&attempt.NotifyAttempts,
		&notifyNextAt,
		&notifyLastErr,
		&attempt.CreatedAt,
		&completedAt,
		&attempt.UpdatedAt,
	); err != nil {
		return nil, err
	}

	attempt.Provider = types.ProviderID(provider)
	attempt.Status = types.AttemptStatus(status)
	attempt.ProviderChannel = stringPtrFromNull(channel)
	attempt.RefundID = stringPtrFromNull(refundID)
	attempt.AuthorizationURL = stringPtrFromNull(authURL)
	attempt.ClientSecret = stringPtrFromNull(clientSecret)
	attempt.NotifyNextAt = timePtrFromNull(notifyNextAt)
	attempt.NotifyLastErr = stringPtrFromNull(notifyLastErr)
	attempt.CompletedAt = timePtrFromNull(completedAt)

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}
	attempt.Metadata = metadata

	return attempt, nil
}

func scanAttemptFromRows(rows *sql.Rows) (*entity.PaymentAttempt, error) {
	return scanAttempt(rows)
}
