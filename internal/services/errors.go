package services

import "errors"

var (
	// Conversion errors
	ErrEmptyInput = errors.New("input is empty")
	ErrTooLarge   = errors.New("input exceeds size limit")

	// Job history errors
	ErrJobNotFound     = errors.New("job not found")
	ErrHistoryDisabled = errors.New("job history is disabled")

	// General errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
