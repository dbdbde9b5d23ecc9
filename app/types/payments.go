package types

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type InitializePaymentRequest struct {
	InvoiceId       uint64 `json:"invoice_id"`
	CustomerEmail   string `json:"customer_email"`
	CustomerCountry string `json:"customer_country"`
}

func NewInitializePaymentRequestFromContext(ctx echo.Context) (*InitializePaymentRequest, error) {
	var body InitializePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.CustomerEmail = strings.TrimSpace(body.CustomerEmail)
	body.CustomerCountry = strings.ToUpper(strings.TrimSpace(body.CustomerCountry))

	return &body, nil
}

func (r *InitializePaymentRequest) Validate() error {
	if r.InvoiceId == 0 {
		return errors.New("invoice_id is required")
	}
	if r.CustomerEmail != "" && !strings.Contains(r.CustomerEmail, "@") {
		return errors.New("customer_email is invalid")
	}
	if r.CustomerCountry != "" && len(r.CustomerCountry) != 2 {
		return errors.New("customer_country must be a 2-letter code")
	}
	return nil
}

type VerifyPaymentRequest struct {
	Reference string
}

func NewVerifyPaymentRequestFromContext(ctx echo.Context) (*VerifyPaymentRequest, error) {
	return &VerifyPaymentRequest{Reference: strings.TrimSpace(ctx.Param("reference"))}, nil
}

func (r *VerifyPaymentRequest) Validate() error {
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	return nil
}

type RefundPaymentRequest struct {
	PaymentAttemptId uint64 `json:"payment_attempt_id"`
	AmountMinor      *int64 `json:"amount_minor,omitempty"`
}

func NewRefundPaymentRequestFromContext(ctx echo.Context) (*RefundPaymentRequest, error) {
	var body RefundPaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (r *RefundPaymentRequest) Validate() error {
	if r.PaymentAttemptId == 0 {
		return errors.New("payment_attempt_id is required")
	}
	if r.AmountMinor != nil && *r.AmountMinor <= 0 {
		return errors.New("amount_minor must be > 0")
	}
	return nil
}

type ListAttemptsRequest struct {
	InvoiceId uint64
	HasStatus bool
	Status    AttemptStatus
	Limit     int32
	Offset    int32
}

func NewListAttemptsRequestFromContext(ctx echo.Context) (*ListAttemptsRequest, error) {
	req := &ListAttemptsRequest{
		Limit:  100,
		Offset: 0,
	}

	invoiceRaw := strings.TrimSpace(ctx.QueryParam("invoice_id"))
	if invoiceRaw != "" {
		invoiceID, err := strconv.ParseUint(invoiceRaw, 10, 64)
		if err != nil {
			return nil, errors.New("invalid invoice_id")
		}
		req.InvoiceId = invoiceID
	}

	statusRaw := strings.TrimSpace(ctx.QueryParam("status"))
	if statusRaw != "" {
		status, err := ParseAttemptStatus(statusRaw)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = status
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil || limit <= 0 {
			return nil, errors.New("invalid limit")
		}
		req.Limit = int32(limit)
	}
	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil || offset < 0 {
			return nil, errors.New("invalid offset")
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListAttemptsRequest) Validate() error {
	if r.InvoiceId == 0 {
		return errors.New("invoice_id is required")
	}
	return nil
}

type InitializePaymentResponse struct {
	Provider         string `json:"provider"`
	Reference        string `json:"reference"`
	AuthorizationUrl string `json:"authorization_url,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"`
}

type VerifyPaymentResponse struct {
	Reference          string `json:"reference"`
	Status             string `json:"status"`
	AmountMinor        int64  `json:"amount_minor"`
	Currency           string `json:"currency"`
	IsInvoiceFullyPaid bool   `json:"is_invoice_fully_paid"`
}

type RefundPaymentResponse struct {
	RefundId    string `json:"refund_id"`
	AmountMinor int64  `json:"amount_minor"`
	Status      string `json:"status"`
}

type PaymentAttempt struct {
	Id                  uint64            `json:"id"`
	InvoiceId           uint64            `json:"invoice_id"`
	Provider            string            `json:"provider"`
	ExternalReference   string            `json:"external_reference"`
	AmountMinor         int64             `json:"amount_minor"`
	Currency            string            `json:"currency"`
	Status              string            `json:"status"`
	RefundedAmountMinor int64             `json:"refunded_amount_minor"`
	ProviderChannel     string            `json:"provider_channel,omitempty"`
	RefundId            string            `json:"refund_id,omitempty"`
	Metadata            map[string]string `json:"metadata"`
	CreatedAt           string            `json:"created_at"`
	CompletedAt         string            `json:"completed_at,omitempty"`
}

type ListAttemptsResponse struct {
	Attempts []*PaymentAttempt `json:"attempts"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
