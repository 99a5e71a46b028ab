package cipher

import "errors"

// Cipher errors.
var (
	ErrIntegrity            = errors.New("cipher: integrity check failed - wrong passphrase or tampered data")
	ErrMalformedEnvelope    = errors.New("cipher: malformed envelope")
	ErrUnsupportedAlgorithm = errors.New("cipher: unsupported algorithm")
	ErrLegacyDisabled       = errors.New("cipher: legacy XOR construction is disabled")
	ErrEmptyPassphrase      = errors.New("cipher: passphrase is empty")
)
