// Package service runs the shield pipeline: duplicate check, envelope
// decryption, wire-token parsing, per-field self-check and decoding.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"idshield/internal/shield/cipher"
	"idshield/internal/shield/metrics"
	"idshield/internal/shield/models"
	"idshield/pkg/platform/audit"
)

const (
	tracerName          = "idshield/internal/shield/service"
	defaultIndexTimeout = 2 * time.Second
	defaultStoreTimeout = 2 * time.Second
)

// DuplicateIndex atomically records the first submission per fingerprint.
type DuplicateIndex interface {
	CheckAndRecord(ctx context.Context, fingerprint string) (models.DuplicateCheck, error)
}

// Cipher seals and opens authenticated envelopes.
type Cipher interface {
	Seal(ctx context.Context, plaintext []byte, passphrase string) (*cipher.Envelope, error)
	Open(ctx context.Context, env *cipher.Envelope, passphrase string) ([]byte, error)
}

// ResultStore persists result records. Failures never reach the caller.
type ResultStore interface {
	Save(ctx context.Context, rec models.ResultRecord) error
}

// AuditPublisher receives stage events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Service orchestrates one submission at a time; it holds no per-request
// state and is safe for concurrent use.
type Service struct {
	index              DuplicateIndex
	cipher             Cipher
	envelopePassphrase string
	fieldPassphrase    string
	results            ResultStore
	publisher          AuditPublisher
	logger             *slog.Logger
	metrics            *metrics.Metrics
	tracer             trace.Tracer
	demoFallback       bool
	indexTimeout       time.Duration
	storeTimeout       time.Duration
}

type Option func(s *Service)

// WithEnvelopePassphrase sets the passphrase for submitted envelopes.
// Without it every envelope is treated as undecryptable.
func WithEnvelopePassphrase(passphrase string) Option {
	return func(s *Service) {
		s.envelopePassphrase = passphrase
	}
}

// WithFieldPassphrase sets the passphrase for the per-field self-check.
// Defaults to a random per-process secret.
func WithFieldPassphrase(passphrase string) Option {
	return func(s *Service) {
		if passphrase != "" {
			s.fieldPassphrase = passphrase
		}
	}
}

// WithDemoFallback runs the fixed example identity through the pipeline
// when the envelope cannot be opened. Results are marked ModeDemo.
func WithDemoFallback(enabled bool) Option {
	return func(s *Service) {
		s.demoFallback = enabled
	}
}

func WithResultStore(store ResultStore) Option {
	return func(s *Service) {
		s.results = store
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithIndexTimeout bounds the duplicate check. The check is detached from
// request cancellation so it either completes or never starts.
func WithIndexTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.indexTimeout = d
		}
	}
}

// New constructs a Service.
func New(index DuplicateIndex, c Cipher, opts ...Option) (*Service, error) {
	if index == nil {
		return nil, fmt.Errorf("duplicate index is required")
	}
	if c == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	s := &Service{
		index:        index,
		cipher:       c,
		publisher:    audit.Nop{},
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		indexTimeout: defaultIndexTimeout,
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fieldPassphrase == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate field passphrase: %w", err)
		}
		s.fieldPassphrase = secret
	}
	return s, nil
}

// EnvelopeDecryptionEnabled reports whether an envelope passphrase is set.
func (s *Service) EnvelopeDecryptionEnabled() bool {
	return s.envelopePassphrase != ""
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
