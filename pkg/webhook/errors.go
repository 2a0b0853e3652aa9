package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrInvalidURL           = errors.New("invalid webhook URL")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrUnexpectedStatus     = errors.New("webhook endpoint returned non-2xx status")
	ErrTemporaryFailure     = errors.New("temporary webhook failure")
	ErrTimeout              = errors.New("webhook request timeout")
)
