// Package publisher provides audit.Publisher implementations.
//
// LogPublisher writes each event to slog synchronously. AsyncPublisher
// buffers events in memory and hands them to a Sink from a background
// worker, so a slow or failing sink never holds up a submission. Compose
// them with Multi.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "idshield/pkg/platform/audit"
	"idshield/pkg/platform/audit/worker"
)

// LogPublisher logs every event. Integrity and infrastructure events are
// logged at warn level.
type LogPublisher struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger, now: time.Now}
}

func (p *LogPublisher) Emit(ctx context.Context, event audit.Event) {
	event = audit.Normalize(event, p.now())
	level := slog.LevelInfo
	if event.Category != audit.CategoryPipeline {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "shield stage",
		"stage", event.Stage,
		"category", event.Category,
		"request_id", event.RequestID,
		"fingerprint", event.Fingerprint,
		"field", event.Field,
		"detail", event.Detail,
		"count", event.Count,
	)
}

// AsyncPublisher buffers events and drains them to a Sink.
type AsyncPublisher struct {
	buffer  *audit.RingBuffer
	worker  *worker.Worker
	metrics *Metrics
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type asyncConfig struct {
	bufferSize int
	workerOpts []worker.Option
	metrics    *Metrics
	now        func() time.Time
}

// Option configures an AsyncPublisher.
type Option func(*asyncConfig)

// WithBufferSize bounds the in-memory buffer. Oldest events are dropped
// when it is full.
func WithBufferSize(n int) Option {
	return func(c *asyncConfig) {
		c.bufferSize = n
	}
}

// WithBatchSize caps events per sink write.
func WithBatchSize(n int) Option {
	return func(c *asyncConfig) {
		c.workerOpts = append(c.workerOpts, worker.WithBatchSize(n))
	}
}

// WithFlushInterval sets the background drain interval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *asyncConfig) {
		c.workerOpts = append(c.workerOpts, worker.WithFlushInterval(d))
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *asyncConfig) {
		c.workerOpts = append(c.workerOpts, worker.WithLogger(logger))
	}
}

// WithMetrics sets the delivery metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *asyncConfig) {
		c.metrics = m
	}
}

// WithClock overrides the timestamp source for events without one.
func WithClock(now func() time.Time) Option {
	return func(c *asyncConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewAsync starts a background worker draining into sink. Call Close to
// stop it; Close flushes what is still buffered.
func NewAsync(sink audit.Sink, opts ...Option) *AsyncPublisher {
	cfg := asyncConfig{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.metrics != nil {
		cfg.workerOpts = append(cfg.workerOpts, worker.WithObserver(cfg.metrics))
	}

	buffer := audit.NewRingBuffer(cfg.bufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	p := &AsyncPublisher{
		buffer:  buffer,
		worker:  worker.New(buffer, sink, cfg.workerOpts...),
		metrics: cfg.metrics,
		now:     cfg.now,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_ = p.worker.Run(ctx)
	}()
	return p
}

// Emit enqueues the event and returns immediately.
func (p *AsyncPublisher) Emit(_ context.Context, event audit.Event) {
	event = audit.Normalize(event, p.now())
	p.metrics.IncEmitted(string(event.Category))
	if !p.buffer.Enqueue(event) {
		p.metrics.ObserveDropped(1)
	}
	if p.buffer.Len() >= p.worker.BatchSize() {
		p.worker.Notify()
	}
}

// Pending returns the number of buffered events.
func (p *AsyncPublisher) Pending() int {
	return p.buffer.Len()
}

// Close stops the worker after a final flush. Safe to call more than once.
func (p *AsyncPublisher) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
	return nil
}

// Multi fans each event out to every publisher in order.
type Multi []audit.Publisher

func (m Multi) Emit(ctx context.Context, event audit.Event) {
	for _, p := range m {
		if p != nil {
			p.Emit(ctx, event)
		}
	}
}
