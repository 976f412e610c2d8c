package core

import "errors"

// Error classes surfaced to the triggering connection. Wrap them with %w.
var (
	ErrValidation       = errors.New("validation error")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrProcessing       = errors.New("processing error")
)
