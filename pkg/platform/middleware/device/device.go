// Package device labels requests with a display name derived from the
// User-Agent, for logs only. It plays no part in duplicate detection.
package device

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

type contextKeyDeviceName struct{}

// Device parses the User-Agent once per request and stores the display
// name in the context.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithName(r.Context(), ParseUserAgent(r.Header.Get("User-Agent")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseUserAgent returns "Browser on OS", or "Unknown Device" for an empty
// header. Bots are labelled as such.
func ParseUserAgent(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return unknownDevice
	}

	ua := useragent.New(userAgent)
	if ua.Bot() {
		name, _ := ua.Browser()
		return strings.TrimSpace("Bot " + name)
	}

	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	osName := ua.OS()
	if osName == "" {
		osName = ua.Platform()
	}
	if osName == "" {
		osName = "Unknown OS"
	}
	return strings.Join(strings.Fields(browser+" on "+osName), " ")
}

// Name retrieves the device display name from the context.
func Name(ctx context.Context) string {
	if name, ok := ctx.Value(contextKeyDeviceName{}).(string); ok {
		return name
	}
	return ""
}

// WithName injects a device display name into a context.
// Useful for handler tests that don't run the full middleware chain.
func WithName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKeyDeviceName{}, name)
}
