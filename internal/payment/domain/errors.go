package domain

import "errors"

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrHandlerFailed    = errors.New("handler_failed")
	ErrFailureNotFound  = errors.New("failure_not_found")
	ErrPlatformDisabled = errors.New("platform_client_not_configured")
)
