package audit

import "time"

// EventCategory classifies stage events so sinks can route them.
type EventCategory string

const (
	// CategoryPipeline covers normal progress through a submission.
	CategoryPipeline EventCategory = "pipeline"

	// CategoryIntegrity covers failed tag checks and dropped input.
	// Feed these into alerting; repeated integrity failures for one
	// fingerprint suggest tampering.
	CategoryIntegrity EventCategory = "integrity"

	// CategoryInfrastructure covers backend failures that did not change
	// the response, such as a result store outage.
	CategoryInfrastructure EventCategory = "infrastructure"
)

// Stage names a step of the shield pipeline.
type Stage string

const (
	StageReceived              Stage = "RECEIVED"
	StageDuplicateChecked      Stage = "DUPLICATE_CHECKED"
	StageEnvelopeDecrypted     Stage = "ENVELOPE_DECRYPTED"
	StageEnvelopeDecryptFailed Stage = "ENVELOPE_DECRYPT_FAILED"
	StageFieldsParsed          Stage = "FIELDS_PARSED"
	StageFieldEncrypted        Stage = "FIELD_ENCRYPTED"
	StageFieldDecrypted        Stage = "FIELD_DECRYPTED"
	StageFieldIntegrityFailed  Stage = "FIELD_INTEGRITY_FAILED"
	StageFieldInterrupted      Stage = "FIELD_CHECK_INTERRUPTED"
	StageFieldDecoded          Stage = "FIELD_DECODED"
	StageResultAssembled       Stage = "RESULT_ASSEMBLED"
	StageResultPersistFailed   Stage = "RESULT_PERSIST_FAILED"
)

var stageCategories = map[Stage]EventCategory{
	StageEnvelopeDecryptFailed: CategoryIntegrity,
	StageFieldIntegrityFailed:  CategoryIntegrity,
	StageFieldInterrupted:      CategoryInfrastructure,
	StageResultPersistFailed:   CategoryInfrastructure,
}

// Category returns the category for this stage.
// Unknown stages default to CategoryPipeline.
func (s Stage) Category() EventCategory {
	if cat, ok := stageCategories[s]; ok {
		return cat
	}
	return CategoryPipeline
}

// FingerprintPrefixLen bounds how much of a fingerprint an event carries.
const FingerprintPrefixLen = 12

// Event is emitted by the pipeline at each stage. It never carries field
// values; Field is a field name only.
type Event struct {
	Stage       Stage         `json:"stage"`
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	RequestID   string        `json:"request_id,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Field       string        `json:"field,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	// Count carries stage-specific totals: fields parsed, segments or bit
	// groups dropped.
	Count int `json:"count,omitempty"`
}
