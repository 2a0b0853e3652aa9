package periodic

import "errors"

var (
	ErrNoJobs               = errors.New("periodic: no jobs registered")
	ErrJobAlreadyRegistered = errors.New("periodic: job already registered")
	ErrInvalidInterval      = errors.New("periodic: interval must be positive")
	ErrInvalidJob           = errors.New("periodic: job name and func are required")
	ErrAlreadyRunning       = errors.New("periodic: runner already started")
)
