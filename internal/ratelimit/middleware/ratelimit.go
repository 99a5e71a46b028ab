// Package middleware limits submissions per client IP.
//
// Every request asks the primary store first. After repeated primary
// failures the circuit opens and an in-memory fallback answers instead,
// marked with X-RateLimit-Status: degraded, until the primary has
// recovered. With no fallback, or before the circuit opens, errors fail
// open.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"idshield/internal/ratelimit/metrics"
	"idshield/internal/ratelimit/models"
	"idshield/pkg/platform/circuit"
	"idshield/pkg/platform/httputil"
	"idshield/pkg/requestcontext"
)

// Limiter is a sliding-window store.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Middleware)

// WithFallback sets the limiter used while the circuit is open.
func WithFallback(l Limiter) Option {
	return func(m *Middleware) {
		m.fallback = l
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		if b != nil {
			m.breaker = b
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// New builds a limiter allowing limit requests per window per client IP.
func New(primary Limiter, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		breaker: circuit.New("ratelimit-store", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(3)),
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Limit rejects requests over the per-IP budget with 429.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := models.SubmitKey(requestcontext.ClientIP(ctx))

		result, degraded, err := m.check(ctx, key)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed; allowing request",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			m.metrics.IncrementDecision(metrics.OutcomeFailOpen)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}
		if !result.Allowed {
			m.metrics.IncrementDecision(metrics.OutcomeRejected)
			m.logger.WarnContext(ctx, "submission rate limited",
				"request_id", requestcontext.RequestID(ctx),
				"retry_after", result.RetryAfter,
			)
			writeRateLimitExceeded(w, result)
			return
		}
		m.metrics.IncrementDecision(metrics.OutcomeAllowed)
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, key string) (*models.Result, bool, error) {
	result, err := m.primary.Allow(ctx, key, m.limit, m.window)
	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.metrics.SetCircuitOpen(true)
			m.logger.WarnContext(ctx, "rate limit store circuit opened", "error", err)
		}
		if !useFallback || m.fallback == nil {
			return nil, false, err
		}
		return m.fromFallback(ctx, key)
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.metrics.SetCircuitOpen(false)
		m.logger.InfoContext(ctx, "rate limit store circuit closed")
	}
	if !usePrimary && m.fallback != nil {
		return m.fromFallback(ctx, key)
	}
	return result, false, nil
}

func (m *Middleware) fromFallback(ctx context.Context, key string) (*models.Result, bool, error) {
	m.metrics.IncrementFallback()
	result, err := m.fallback.Allow(ctx, key, m.limit, m.window)
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many submissions from this address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
