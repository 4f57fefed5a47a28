package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"

	// CorrelationIDHeader carries the correlation ID across HTTP hops,
	// including outbound calls to the report proxy.
	CorrelationIDHeader = "X-Correlation-ID"

	maxCorrelationIDLen = 128
)

// WithCorrelationID attaches id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID returns the ID attached to ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// GenerateCorrelationID returns a fresh random ID.
func GenerateCorrelationID() string {
	return uuid.New().String()
}

// EnsureCorrelationID attaches inbound to ctx when it is a usable ID and a
// generated one otherwise. Inbound values come from request headers, so
// anything long or containing characters outside [A-Za-z0-9._-] is
// replaced rather than written into logs.
func EnsureCorrelationID(ctx context.Context, inbound string) (context.Context, string) {
	if validCorrelationID(inbound) {
		return WithCorrelationID(ctx, inbound), inbound
	}
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := GenerateCorrelationID()
	return WithCorrelationID(ctx, id), id
}

func validCorrelationID(s string) bool {
	if s == "" || len(s) > maxCorrelationIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
