package domain

import "errors"

// Sentinel errors; callers wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
)
