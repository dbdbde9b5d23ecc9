package provider

import "errors"

var (
	ErrProviderNotSupported = errors.New("provider is not supported")
	ErrProviderUnavailable  = errors.New("provider is unavailable")
	ErrInvalidRequest       = errors.New("invalid provider request")
	ErrNotFound             = errors.New("transaction not found")
	ErrInvalidState         = errors.New("transaction is not in a refundable state")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)
