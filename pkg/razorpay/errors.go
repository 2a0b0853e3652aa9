package razorpay

import "errors"

var (
	ErrMissingCredentials = errors.New("razorpay: key id and secret are required")
	ErrMissingSecret      = errors.New("razorpay: webhook secret is not configured")
	ErrInvalidSignature   = errors.New("razorpay: invalid signature")
	ErrInvalidAmount      = errors.New("razorpay: amount must be positive")
	ErrInvalidEvent       = errors.New("razorpay: malformed webhook event")
	ErrGateway            = errors.New("razorpay: gateway request failed")
)
