package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idshield/internal/shield/bitcodec"
	"idshield/internal/shield/models"
	"idshield/internal/shield/wiretoken"
	dErrors "idshield/pkg/domain-errors"
	"idshield/pkg/platform/audit"
	"idshield/pkg/requestcontext"
)

// demoFields is the example identity used by WithDemoFallback.
var demoFields = []wiretoken.Field{
	{Name: "name", Value: "John Smith"},
	{Name: "age", Value: "28"},
	{Name: "email", Value: "john@x.com"},
}

// Submit runs one submission through the pipeline.
//
// The verdict comes from the duplicate index alone. Envelope and field
// failures degrade the result and are reported in it; the only error
// returned is a duplicate-index outage (CodeUnavailable), or CodeBadRequest
// for an empty fingerprint.
func (s *Service) Submit(ctx context.Context, sub models.Submission) (*models.Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "shield.Submit")
	defer span.End()

	fingerprint := strings.TrimSpace(sub.Fingerprint)
	if fingerprint == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "fingerprint is required")
	}
	s.emit(ctx, span, audit.Event{Stage: audit.StageReceived, Fingerprint: fingerprint})

	check, err := s.checkAndRecord(ctx, fingerprint)
	if err != nil {
		s.metrics.IncrementIndexFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate index unavailable")
		s.logger.ErrorContext(ctx, "duplicate index check failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "duplicate index unavailable")
	}
	result := &models.Result{
		Verdict:     check.Verdict(),
		Fingerprint: fingerprint,
		Record:      check.Record,
		Mode:        models.ModeLive,
	}
	s.emit(ctx, span, audit.Event{
		Stage:       audit.StageDuplicateChecked,
		Fingerprint: fingerprint,
		Detail:      string(result.Verdict),
	})

	token, reason := s.openEnvelope(ctx, sub.Envelope)
	if reason != "" {
		result.Mode = models.ModeDegraded
		result.DegradedReason = string(reason)
		s.emit(ctx, span, audit.Event{
			Stage:       audit.StageEnvelopeDecryptFailed,
			Fingerprint: fingerprint,
			Detail:      string(reason),
		})
		s.logger.WarnContext(ctx, "envelope decryption failed, continuing degraded",
			"request_id", requestcontext.RequestID(ctx),
			"reason", reason,
			"demo_fallback", s.demoFallback,
		)
		if s.demoFallback {
			result.Mode = models.ModeDemo
			token = wiretoken.Build(demoFields)
		}
	} else {
		s.emit(ctx, span, audit.Event{Stage: audit.StageEnvelopeDecrypted, Fingerprint: fingerprint})
	}

	if result.Mode != models.ModeDegraded {
		s.processFields(ctx, span, result, token)
	}

	result.SortFields()
	s.emit(ctx, span, audit.Event{
		Stage:       audit.StageResultAssembled,
		Fingerprint: fingerprint,
		Detail:      string(result.Mode),
		Count:       len(result.Fields),
	})
	s.persist(ctx, span, result)

	span.SetAttributes(
		attribute.String("shield.verdict", string(result.Verdict)),
		attribute.String("shield.mode", string(result.Mode)),
		attribute.Int("shield.fields.decoded", len(result.Fields)),
		attribute.Int("shield.fields.failed", len(result.FailedFields)),
	)
	s.metrics.IncrementSubmission(string(result.Verdict), string(result.Mode))
	s.metrics.ObserveSubmit(time.Since(start))
	return result, nil
}

func (s *Service) checkAndRecord(ctx context.Context, fingerprint string) (models.DuplicateCheck, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStage("duplicate_check", time.Since(start)) }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.indexTimeout)
	defer cancel()
	return s.index.CheckAndRecord(ctx, fingerprint)
}

func (s *Service) processFields(ctx context.Context, span trace.Span, result *models.Result, token string) {
	fields, dropped := wiretoken.ParseStats(token)
	result.DroppedSegments = dropped
	s.emit(ctx, span, audit.Event{
		Stage:       audit.StageFieldsParsed,
		Fingerprint: result.Fingerprint,
		Detail:      fmt.Sprintf("dropped_segments=%d", dropped),
		Count:       len(fields),
	})

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, droppedGroups, err := s.selfCheck(ctx, span, result.Fingerprint, name, fields[name])
		if err != nil {
			result.FailedFields = append(result.FailedFields, name)
			outcome, stage := fieldFailure(err)
			s.metrics.IncrementFieldOutcome(outcome)
			s.emit(ctx, span, audit.Event{
				Stage:       stage,
				Fingerprint: result.Fingerprint,
				Field:       name,
				Detail:      err.Error(),
			})
			continue
		}
		result.DroppedGroups += droppedGroups
		result.Fields = append(result.Fields, models.DecodedField{Name: name, Value: value})
		s.metrics.IncrementFieldOutcome("decoded")
		s.emit(ctx, span, audit.Event{
			Stage:       audit.StageFieldDecoded,
			Fingerprint: result.Fingerprint,
			Field:       name,
			Count:       droppedGroups,
		})
	}
}

// fieldFailure separates a check cut short by the request context from a
// failed integrity check, so interruptions stay out of tamper alerting.
func fieldFailure(err error) (outcome string, stage audit.Stage) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "interrupted", audit.StageFieldInterrupted
	}
	return "integrity_failed", audit.StageFieldIntegrityFailed
}

// selfCheck seals the bitstring, opens it again and decodes it only if the
// round trip reproduces the input exactly.
func (s *Service) selfCheck(ctx context.Context, span trace.Span, fingerprint, name, bits string) (string, int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStage("field_check", time.Since(start)) }()

	env, err := s.cipher.Seal(ctx, []byte(bits), s.fieldPassphrase)
	if err != nil {
		return "", 0, fmt.Errorf("seal field: %w", err)
	}
	s.emit(ctx, span, audit.Event{Stage: audit.StageFieldEncrypted, Fingerprint: fingerprint, Field: name})

	out, err := s.cipher.Open(ctx, env, s.fieldPassphrase)
	if err != nil {
		return "", 0, fmt.Errorf("open field: %w", err)
	}
	if string(out) != bits {
		return "", 0, fmt.Errorf("open field: recovered bits differ from input")
	}
	s.emit(ctx, span, audit.Event{Stage: audit.StageFieldDecrypted, Fingerprint: fingerprint, Field: name})

	value, dropped := bitcodec.DecodeStats(string(out))
	return value, dropped, nil
}

func (s *Service) persist(ctx context.Context, span trace.Span, result *models.Result) {
	if s.results == nil {
		return
	}
	start := time.Now()
	defer func() { s.metrics.ObserveStage("persist", time.Since(start)) }()

	rec := models.NewResultRecord(result, requestcontext.Now(ctx))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.results.Save(ctx, rec); err != nil {
		s.metrics.IncrementPersistFailure()
		span.RecordError(err)
		s.logger.WarnContext(ctx, "failed to persist shield result",
			"request_id", requestcontext.RequestID(ctx),
			"record_id", rec.RecordID,
			"error", err,
		)
		s.emit(ctx, span, audit.Event{
			Stage:       audit.StageResultPersistFailed,
			Fingerprint: result.Fingerprint,
			Detail:      err.Error(),
		})
	}
}

func (s *Service) emit(ctx context.Context, span trace.Span, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	var attrs []attribute.KeyValue
	if event.Field != "" {
		attrs = append(attrs, attribute.String("shield.field", event.Field))
	}
	if event.Detail != "" {
		attrs = append(attrs, attribute.String("shield.detail", event.Detail))
	}
	span.AddEvent(string(event.Stage), trace.WithAttributes(attrs...))
	s.publisher.Emit(ctx, event)
}
