package payout

import "errors"

var (
	ErrInvalidCommissionRule = errors.New("invalid commission rule")
	ErrInvalidPeriod         = errors.New("invalid payout period")
	ErrAgentNotResolved      = errors.New("no agent resolved for booking")
	ErrDuplicateCommission   = errors.New("commission already logged for booking")
	ErrDuplicatePayout       = errors.New("payout already exists for period")
	ErrPayoutNotFound        = errors.New("payout not found")
	ErrUnknownPayoutStatus   = errors.New("unknown payout status")
)
