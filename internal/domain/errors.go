package domain

import "errors"

var (
	// Enqueue/cancel path, surfaced to API callers.
	ErrInvalidSchedule = errors.New("sendlater: due time too far in the past")
	ErrNotFound        = errors.New("sendlater: job not found")
	ErrForbidden       = errors.New("sendlater: job belongs to another owner")
	ErrNotCancelable   = errors.New("sendlater: job is not pending")

	// Store errors.
	ErrJobExists  = errors.New("sendlater: job already exists")
	ErrStaleLease = errors.New("sendlater: lease no longer held")
)
