package domain

import "errors"

var (
	ErrMissingRecipient = errors.New("missing_recipient")
	ErrMissingDedupeKey = errors.New("missing_dedupe_key")
	ErrUnknownEmailType = errors.New("unknown_email_type")
)
