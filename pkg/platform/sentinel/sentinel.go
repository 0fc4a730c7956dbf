package sentinel

import "errors"

// Sentinel dependency errors. Registry adapters return these (optionally wrapped)
// so the verifier can translate them into verdict reasons exactly once.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)
