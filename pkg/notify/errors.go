package notify

import "errors"

var (
	ErrNoChannel          = errors.New("notify: recipient has no reachable channel")
	ErrWhatsAppFailed     = errors.New("notify: whatsapp delivery failed")
	ErrPushFailed         = errors.New("notify: push delivery failed")
	ErrEmailFailed        = errors.New("notify: email delivery failed")
	ErrPushNotInitialized = errors.New("notify: push client not initialized")
	ErrMissingCredentials = errors.New("notify: missing channel credentials")
)
