package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/phrazzld/meetscribe/internal/auth"
	"go.opentelemetry.io/otel/trace"
)

// ContextKey is the type of request context keys set by the api packages.
type ContextKey string

// Context keys for various values
const (
	// ClaimsContextKey holds the *auth.Claims of the authenticated caller
	ClaimsContextKey ContextKey = "claims"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of bytes used to generate the trace ID
	TraceIDLength = 16 // 32 hex characters
)

// SetTraceID adds a trace ID to the context. The OpenTelemetry trace ID is
// reused when ctx carries a sampled span so responses and exported spans
// correlate.
func SetTraceID(ctx context.Context) context.Context {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return context.WithValue(ctx, TraceIDKey, sc.TraceID().String())
	}
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithClaims returns a context carrying the caller's claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// GetClaims returns the authenticated caller's claims, if any.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// generateTraceID returns 32 random hex characters. crypto/rand.Read never
// returns an error on supported platforms.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
