// Package worker drains buffered stage events into a sink.
package worker

import (
	"context"
	"log/slog"
	"time"

	audit "idshield/pkg/platform/audit"
	"idshield/pkg/platform/circuit"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	finalFlushTimeout    = 5 * time.Second
)

// FlushObserver is told how many events were written or dropped per flush.
type FlushObserver interface {
	ObserveWritten(n int)
	ObserveDropped(n int)
	ObserveSinkFailure()
}

// Worker moves events from a RingBuffer to a Sink in batches. When the sink
// keeps failing the breaker opens and only one probe batch is attempted per
// flush; the rest of the buffer is discarded.
type Worker struct {
	buffer    *audit.RingBuffer
	sink      audit.Sink
	breaker   *circuit.Breaker
	logger    *slog.Logger
	observer  FlushObserver
	batchSize int
	interval  time.Duration
	wake      chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithBatchSize caps events per sink write.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval sets how often the buffer is drained without a wake-up.
func WithFlushInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithObserver sets the flush observer.
func WithObserver(o FlushObserver) Option {
	return func(w *Worker) {
		w.observer = o
	}
}

// WithBreaker replaces the default sink breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(w *Worker) {
		if b != nil {
			w.breaker = b
		}
	}
}

// New creates a worker. Call Run to start draining.
func New(buffer *audit.RingBuffer, sink audit.Sink, opts ...Option) *Worker {
	w := &Worker{
		buffer:    buffer,
		sink:      sink,
		breaker:   circuit.New("audit-sink", circuit.WithFailureThreshold(3)),
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Notify asks the worker to flush soon. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// BatchSize returns the configured batch size.
func (w *Worker) BatchSize() int {
	return w.batchSize
}

// Run drains until ctx is cancelled, then performs a final bounded flush.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			w.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			w.Flush(ctx)
		case <-w.wake:
			w.Flush(ctx)
		}
	}
}

// Flush writes everything currently buffered.
func (w *Worker) Flush(ctx context.Context) {
	for {
		batch := w.buffer.DequeueBatch(w.batchSize)
		if len(batch) == 0 {
			return
		}

		if err := w.sink.Write(ctx, batch); err != nil {
			w.observeFailure(len(batch))
			useFallback, change := w.breaker.RecordFailure()
			if change.Opened {
				w.logger.WarnContext(ctx, "audit sink circuit opened", "breaker", w.breaker.Name(), "error", err)
			} else {
				w.logger.ErrorContext(ctx, "audit sink write failed", "events", len(batch), "error", err)
			}
			if useFallback {
				if rest := w.buffer.DequeueBatch(w.buffer.Len()); len(rest) > 0 {
					w.observeDropped(len(rest))
				}
			}
			return
		}

		w.observeWritten(len(batch))
		if _, change := w.breaker.RecordSuccess(); change.Closed {
			w.logger.InfoContext(ctx, "audit sink circuit closed", "breaker", w.breaker.Name())
		}
	}
}

func (w *Worker) observeWritten(n int) {
	if w.observer != nil {
		w.observer.ObserveWritten(n)
	}
}

func (w *Worker) observeDropped(n int) {
	if w.observer != nil {
		w.observer.ObserveDropped(n)
	}
}

func (w *Worker) observeFailure(n int) {
	if w.observer != nil {
		w.observer.ObserveSinkFailure()
		w.observer.ObserveDropped(n)
	}
}
