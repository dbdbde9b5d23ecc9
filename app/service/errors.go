package service

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrAttemptNotFound    = errors.New("payment attempt not found")
	ErrInvoiceAlreadyPaid = errors.New("invoice already paid")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrDuplicateAttempt   = errors.New("payment attempt already recorded")
	ErrWebhookRejected    = errors.New("webhook rejected")
)
