package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"idshield/internal/shield/cipher"
)

// DegradedReason says why an envelope could not be opened.
type DegradedReason string

const (
	ReasonEnvelopeAbsent       DegradedReason = "envelope_absent"
	ReasonEnvelopeOpaque       DegradedReason = "envelope_opaque"
	ReasonDecryptUnavailable   DegradedReason = "decrypt_unavailable"
	ReasonMalformedEnvelope    DegradedReason = "malformed_envelope"
	ReasonUnsupportedAlgorithm DegradedReason = "unsupported_algorithm"
	ReasonLegacyDisabled       DegradedReason = "legacy_cipher_disabled"
	ReasonIntegrity            DegradedReason = "integrity_mismatch"
	ReasonNotAToken            DegradedReason = "payload_not_token"
	ReasonInterrupted          DegradedReason = "decrypt_interrupted"
)

// openEnvelope returns the wire token inside raw, or the reason it could
// not be recovered. It never fails the submission.
func (s *Service) openEnvelope(ctx context.Context, raw json.RawMessage) (string, DegradedReason) {
	start := time.Now()
	defer func() { s.metrics.ObserveStage("envelope_open", time.Since(start)) }()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", ReasonEnvelopeAbsent
	}
	if trimmed[0] != '{' {
		return "", ReasonEnvelopeOpaque
	}
	if s.envelopePassphrase == "" {
		return "", ReasonDecryptUnavailable
	}

	env, err := cipher.ParseEnvelope(trimmed)
	if err != nil {
		return "", ReasonMalformedEnvelope
	}
	plaintext, err := s.cipher.Open(ctx, env, s.envelopePassphrase)
	if err != nil {
		return "", reasonFor(err)
	}
	if !utf8.Valid(plaintext) {
		return "", ReasonNotAToken
	}
	return string(plaintext), ""
}

func reasonFor(err error) DegradedReason {
	switch {
	case errors.Is(err, cipher.ErrIntegrity):
		return ReasonIntegrity
	case errors.Is(err, cipher.ErrLegacyDisabled):
		return ReasonLegacyDisabled
	case errors.Is(err, cipher.ErrUnsupportedAlgorithm):
		return ReasonUnsupportedAlgorithm
	case errors.Is(err, cipher.ErrMalformedEnvelope):
		return ReasonMalformedEnvelope
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonInterrupted
	default:
		return ReasonDecryptUnavailable
	}
}
