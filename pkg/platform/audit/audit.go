// Package audit carries structured stage events out of the shield pipeline.
//
// The pipeline depends only on Publisher. Where events end up (logs, Kafka,
// memory) is decided at wiring time.
package audit

import (
	"context"
	"time"

	"idshield/pkg/platform/strings"
)

// Publisher receives stage events. Emit must not block the pipeline on a
// slow sink and never fails the caller.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Sink writes batches of events to a durable destination.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Normalize fills the category and timestamp if unset and shortens the
// fingerprint.
func Normalize(event Event, now time.Time) Event {
	if event.Category == "" {
		event.Category = event.Stage.Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	event.Fingerprint = strings.Truncate(event.Fingerprint, FingerprintPrefixLen)
	return event
}
