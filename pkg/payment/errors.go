package payment

import "errors"

// Domain-level error values returned by payment ingestion.
var (
	ErrInvalidNotification  = errors.New("invalid gateway notification")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrUnexpectedPayload    = errors.New("unexpected event payload")
)
