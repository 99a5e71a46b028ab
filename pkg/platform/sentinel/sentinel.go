package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so the pipeline can translate them into domain errors:
// - ErrNotFound: no record for the key
// - ErrAlreadyExists: a first writer already claimed the key
// - ErrUnavailable: backend unreachable or timed out
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnavailable   = errors.New("unavailable")
)
