// Package models holds the rate limit decision types.
package models

import (
	"math"
	"strings"
	"time"
)

// Result is the outcome of one sliding-window check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until a slot frees up. Zero when allowed.
	RetryAfter int
}

// NewResult fills in Remaining and RetryAfter from the window count after
// the check. resetAt is when the oldest request in the window expires.
func NewResult(allowed bool, limit, count int, resetAt, now time.Time) *Result {
	r := &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		r.Remaining = 0
		r.RetryAfter = max(int(math.Ceil(resetAt.Sub(now).Seconds())), 1)
	}
	return r
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

const unknownClient = "unknown"

// SubmitKey is the window key for submissions from one client IP.
func SubmitKey(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = unknownClient
	}
	return "submit:ip:" + ip
}
