package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/types"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

type InvoiceRepository struct {
	db DBTX
}

func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, company_id, customer_email, customer_country,
	total_amount_minor, paid_amount_minor, currency,
	status, refunded, paid_at, created_at, updated_at
`

func (r *InvoiceRepository) FindByID(ctx context.Context, id uint64) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ? LIMIT 1`
	return r.findOne(ctx, query, id)
}

func (r *InvoiceRepository) FindByIDForCompany(ctx context.Context, companyID string, id uint64) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ? AND company_id = ? LIMIT 1`
	return r.findOne(ctx, query, id, companyID)
}

// UpdateReconciledState writes the reconciler-owned columns only. Invoice
// totals are never touched anywhere else in this service.
func (r *InvoiceRepository) UpdateReconciledState(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			paid_amount_minor = ?,
			status = ?,
			refunded = ?,
			paid_at = ?,
			updated_at = ?
		WHERE id = ? AND company_id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		invoice.PaidAmountMinor,
		string(invoice.Status),
		invoice.Refunded,
		nullableTimeValue(invoice.PaidAt),
		invoice.UpdatedAt,
		invoice.ID,
		invoice.CompanyID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *InvoiceRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Invoice, error) {
	invoice := &entity.Invoice{}

	var (
		status string
		paidAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&invoice.ID,
		&invoice.CompanyID,
		&invoice.CustomerEmail,
		&invoice.CustomerCountry,
		&invoice.TotalAmountMinor,
		&invoice.PaidAmountMinor,
		&invoice.Currency,
		&status,
		&invoice.Refunded,
		&paidAt,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, noRowsAs(err, ErrInvoiceNotFound)
	}

	invoice.Status = types.InvoiceStatus(status)
	invoice.PaidAt = timePtrFromNull(paidAt)
	return invoice, nil
}
