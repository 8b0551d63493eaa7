package queueadmin

import "errors"

var (
	// ErrInvalidStatus is returned for an unknown status filter
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidQuery is returned when limit or offset is not an integer
	ErrInvalidQuery = errors.New("invalid query parameter")

	// ErrNotReady is reported by the health endpoint when a check fails
	ErrNotReady = errors.New("service not ready")
)
