package testutil

import (
	"net/http"
	"time"

	"idshield/pkg/requestcontext"
)

// WithRequestMetadata sets the request id and request time the middleware
// chain would normally inject. Empty or zero values are left unset.
func WithRequestMetadata(req *http.Request, requestID string, now time.Time) *http.Request {
	ctx := req.Context()
	if requestID != "" {
		ctx = requestcontext.WithRequestID(ctx, requestID)
	}
	if !now.IsZero() {
		ctx = requestcontext.WithTime(ctx, now)
	}
	return req.WithContext(ctx)
}
