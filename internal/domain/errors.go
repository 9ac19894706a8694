package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrInvalidInput         = errors.New("invalid input")

	ErrInvalidQuantity         = errors.Mark(errors.New("quantity must be positive"), ErrInvalidInput)
	ErrMalformedWebhookPayload = errors.Mark(errors.New("malformed webhook payload"), ErrInvalidInput)

	ErrProductNotFound = errors.New("product not found")
	ErrHoldNotFound    = errors.New("hold not found")
	ErrOrderNotFound   = errors.New("order not found")

	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrHoldCreationFailed  = errors.New("hold creation failed")
	ErrHoldInvalid         = errors.New("hold is invalid or expired")
	ErrHoldAlreadyConsumed = errors.New("hold has already been consumed")

	// ErrDuplicateWebhook reports a lost race on the idempotency key constraint.
	ErrDuplicateWebhook = errors.New("webhook already recorded")
)
