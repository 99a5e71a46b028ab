package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Verdict is the duplicate-check outcome for a fingerprint.
type Verdict string

const (
	VerdictClean     Verdict = "CLEAN"
	VerdictDuplicate Verdict = "DUPLICATE"
)

// Detail returns the human readable verdict line.
func (v Verdict) Detail() string {
	if v == VerdictDuplicate {
		return "DUPLICATE - possible identity reuse"
	}
	return "CLEAN - no prior record"
}

// ParseVerdict accepts a bare verdict or its Detail line, as stored in
// result rows.
func ParseVerdict(s string) Verdict {
	if strings.HasPrefix(s, string(VerdictDuplicate)) {
		return VerdictDuplicate
	}
	return VerdictClean
}

// Mode says where the decoded fields came from.
type Mode string

const (
	// ModeLive: fields were recovered from the submitted envelope.
	ModeLive Mode = "live"
	// ModeDegraded: the envelope could not be opened; no fields.
	ModeDegraded Mode = "degraded"
	// ModeDemo: the envelope could not be opened and fixed example fields
	// were run through the pipeline instead. Never real data.
	ModeDemo Mode = "demo"
)

// Submission is one request to the pipeline. Envelope is the raw JSON the
// caller sent: an envelope object, an opaque value, or nothing.
type Submission struct {
	Fingerprint string
	Envelope    json.RawMessage
}

// DuplicateRecord marks the first submission seen for a fingerprint.
// It is never modified after creation.
type DuplicateRecord struct {
	RecordID   string
	RecordedAt time.Time
}

// DuplicateCheck is the result of an atomic check-and-record.
type DuplicateCheck struct {
	Duplicate bool
	Record    DuplicateRecord
}

// Verdict maps the check to a verdict.
func (c DuplicateCheck) Verdict() Verdict {
	if c.Duplicate {
		return VerdictDuplicate
	}
	return VerdictClean
}

// DecodedField is one identity attribute reconstructed at identification.
// Value is raw and must not leave the process; use Masked for display.
type DecodedField struct {
	Name  string
	Value string
}

// Masked returns the display form of the value.
func (f DecodedField) Masked() string {
	return Mask(f.Value, DefaultMaskShow)
}

// Result is the assembled outcome of one submission.
type Result struct {
	Verdict        Verdict
	Fingerprint    string
	Record         DuplicateRecord
	Mode           Mode
	DegradedReason string
	Fields         []DecodedField
	FailedFields   []string
	// DroppedSegments counts wire-token segments without a colon.
	DroppedSegments int
	// DroppedGroups counts malformed bit groups across decoded fields.
	DroppedGroups int
}

// Duplicate reports whether the fingerprint had been seen before.
func (r *Result) Duplicate() bool {
	return r.Verdict == VerdictDuplicate
}

// MaskedFields returns name -> masked value.
func (r *Result) MaskedFields() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		out[f.Name] = f.Masked()
	}
	return out
}

// SortFields orders fields and failures by name for stable output.
func (r *Result) SortFields() {
	sort.Slice(r.Fields, func(i, j int) bool { return r.Fields[i].Name < r.Fields[j].Name })
	sort.Strings(r.FailedFields)
}

// ResultRecord is the persisted form of a Result. It carries no field values.
// Every submission produces one, so duplicates share a RecordID.
type ResultRecord struct {
	RecordID    string
	Fingerprint string
	Verdict     Verdict
	Duplicate   bool
	Mode        Mode
	FieldCount  int
	SubmittedAt time.Time
}

// NewResultRecord strips a Result down to what may be stored.
func NewResultRecord(r *Result, submittedAt time.Time) ResultRecord {
	return ResultRecord{
		RecordID:    r.Record.RecordID,
		Fingerprint: r.Fingerprint,
		Verdict:     r.Verdict,
		Duplicate:   r.Duplicate(),
		Mode:        r.Mode,
		FieldCount:  len(r.Fields),
		SubmittedAt: submittedAt,
	}
}
