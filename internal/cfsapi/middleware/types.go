package middleware

type contextKey string

const (
	requestIDContextKey contextKey = "request_id"
	tenancyContextKey   contextKey = "tenancy"
)

const (
	// RequestIDHeader carries a caller-supplied or server-generated request ID.
	RequestIDHeader = "X-Request-ID"

	// RateLimit headers, set on 429 responses (spec.md §6).
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
)
