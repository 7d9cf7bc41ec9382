package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRunning is returned when a completion is reported for a job that is no longer running
	ErrJobNotRunning = errors.New("job is not running")

	// ErrValidation is returned when a request is rejected before anything is written
	ErrValidation = errors.New("validation failed")

	// ErrInvalidSignature is returned when a webhook signature does not match the body
	ErrInvalidSignature = errors.New("invalid signature")
)
