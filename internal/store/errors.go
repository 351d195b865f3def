package store

import "errors"

var (
	// ErrCorrupted is returned when a stored payload cannot be decoded.
	ErrCorrupted = errors.New("stored value is corrupted")
)
