package webhookqueue

import "errors"

var (
	ErrItemNotFound     = errors.New("webhook item not found")
	ErrDuplicateEvent   = errors.New("webhook event already queued")
	ErrLeaseLost        = errors.New("webhook item lease lost")
	ErrNotRequeueable   = errors.New("only failed webhook items can be requeued")
	ErrUnknownStatus    = errors.New("unknown webhook item status")
	ErrInvalidEndpoint  = errors.New("webhook endpoint is required")
	ErrInvalidPayload   = errors.New("webhook payload must be valid JSON")
	ErrInvalidEventType = errors.New("webhook event type is required")
)
