package handler

import (
	"time"

	"idshield/internal/shield/models"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// SubmitResponse is the HTTP response for POST /shield/submit. Field values
// are always masked.
type SubmitResponse struct {
	Duplicate      bool              `json:"duplicate"`
	Verdict        string            `json:"verdict"`
	VerdictDetail  string            `json:"verdictDetail"`
	Fingerprint    string            `json:"fingerprint"`
	RecordID       string            `json:"recordId"`
	Timestamp      string            `json:"timestamp"`
	Mode           string            `json:"mode"`
	DegradedReason string            `json:"degradedReason,omitempty"`
	Fields         map[string]string `json:"fields"`
	FailedFields   []string          `json:"failedFields"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status             string            `json:"status"`
	EnvelopeDecryption bool              `json:"envelope_decryption"`
	Backends           map[string]string `json:"backends"`
}

// FromResult converts a pipeline Result to an HTTP response.
func FromResult(result *models.Result) *SubmitResponse {
	failed := result.FailedFields
	if failed == nil {
		failed = []string{}
	}
	return &SubmitResponse{
		Duplicate:      result.Duplicate(),
		Verdict:        string(result.Verdict),
		VerdictDetail:  result.Verdict.Detail(),
		Fingerprint:    result.Fingerprint,
		RecordID:       result.Record.RecordID,
		Timestamp:      result.Record.RecordedAt.UTC().Format(time.RFC3339),
		Mode:           string(result.Mode),
		DegradedReason: result.DegradedReason,
		Fields:         result.MaskedFields(),
		FailedFields:   failed,
	}
}
