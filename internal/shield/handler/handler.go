package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"idshield/internal/shield/models"
	"idshield/pkg/platform/audit"
	"idshield/pkg/platform/httputil"
	"idshield/pkg/platform/middleware/device"
	pstrings "idshield/pkg/platform/strings"
	"idshield/pkg/requestcontext"
)

const healthCheckTimeout = time.Second

// Service defines the interface for shield operations.
type Service interface {
	Submit(ctx context.Context, sub models.Submission) (*models.Result, error)
	EnvelopeDecryptionEnabled() bool
}

// HealthChecker is implemented by every backend reported on /health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler wires shield endpoints to the pipeline service.
type Handler struct {
	service Service
	logger  *slog.Logger
	checks  map[string]HealthChecker
	submit  []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithHealthCheck adds a named backend to /health.
func WithHealthCheck(name string, check HealthChecker) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithSubmitMiddleware wraps only the submit routes, e.g. with a rate limiter.
func WithSubmitMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.submit = append(h.submit, mw...)
	}
}

// New constructs a shield handler with its dependencies.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		logger:  logger,
		checks:  make(map[string]HealthChecker),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts shield endpoints on the router. /submit is kept for
// existing frontends.
func (h *Handler) Register(r chi.Router) {
	submit := r.With(h.submit...)
	submit.Post("/submit", h.HandleSubmit)
	submit.Post("/shield/submit", h.HandleSubmit)
	r.Get("/health", h.HandleHealth)
}

// HandleSubmit handles POST /shield/submit requests.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Submit(ctx, req.Submission())
	if err != nil {
		h.logger.ErrorContext(ctx, "shield submission failed",
			"request_id", requestID,
			"fingerprint", pstrings.Truncate(req.Fingerprint, audit.FingerprintPrefixLen),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "shield submission processed",
		"request_id", requestID,
		"record_id", result.Record.RecordID,
		"verdict", result.Verdict,
		"mode", result.Mode,
		"fields", len(result.Fields),
		"failed_fields", len(result.FailedFields),
		"device", device.Name(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusOK, FromResult(result))
}

// HandleHealth handles GET /health. Any failing backend turns the response
// into a 503.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:             healthOK,
		EnvelopeDecryption: h.service.EnvelopeDecryptionEnabled(),
		Backends:           make(map[string]string, len(names)),
	}
	for _, name := range names {
		if err := h.checks[name].Health(ctx); err != nil {
			h.logger.WarnContext(ctx, "backend health check failed",
				"request_id", requestcontext.RequestID(ctx),
				"backend", name,
				"error", err,
			)
			resp.Backends[name] = err.Error()
			resp.Status = healthDegraded
			continue
		}
		resp.Backends[name] = healthOK
	}

	status := http.StatusOK
	if resp.Status != healthOK {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
