package engine

import "errors"

// Sentinel error kinds per spec §7, classified for errors.Is use. This is
// purely a classification convenience — it does not change which
// operations fail vs. degrade.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamMalformed   = errors.New("upstream malformed response")
	ErrStoreFailure        = errors.New("store failure")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)
