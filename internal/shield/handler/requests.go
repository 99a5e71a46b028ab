package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"idshield/internal/shield/models"
	dErrors "idshield/pkg/domain-errors"
)

// maxFingerprintLen bounds the identity hash; real hashes are far shorter.
const maxFingerprintLen = 512

// SubmitRequest is the HTTP request body for POST /shield/submit.
// IDHash and EncPayload are the field names older frontends send.
type SubmitRequest struct {
	Fingerprint string          `json:"fingerprint"`
	Envelope    json.RawMessage `json:"envelope"`
	IDHash      string          `json:"idHash"`
	EncPayload  json.RawMessage `json:"encPayload"`
}

// Validate validates and normalizes the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Fingerprint = strings.TrimSpace(r.Fingerprint)
	if r.Fingerprint == "" {
		r.Fingerprint = strings.TrimSpace(r.IDHash)
	}
	if len(bytes.TrimSpace(r.Envelope)) == 0 {
		r.Envelope = r.EncPayload
	}

	if r.Fingerprint == "" {
		return dErrors.New(dErrors.CodeValidation, "fingerprint is required")
	}
	if len(r.Fingerprint) > maxFingerprintLen {
		return dErrors.New(dErrors.CodeValidation, "fingerprint must be at most 512 characters")
	}
	return nil
}

// Submission converts the validated request into a pipeline submission.
func (r *SubmitRequest) Submission() models.Submission {
	return models.Submission{
		Fingerprint: r.Fingerprint,
		Envelope:    r.Envelope,
	}
}
