// Package requestcontext carries request-scoped values (request ID, client
// metadata, the request clock) from HTTP middleware down to services and
// stores without those layers importing net/http.
package requestcontext

import (
	"context"
	"time"
)

type ctxKey int

const (
	clientIPKey ctxKey = iota
	userAgentKey
	requestIDKey
	requestTimeKey
)

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// ClientIP is the caller address resolved by the metadata middleware.
func ClientIP(ctx context.Context) string { return stringValue(ctx, clientIPKey) }

func UserAgent(ctx context.Context) string { return stringValue(ctx, userAgentKey) }

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func RequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now is the request clock. Every row an identify call writes is stamped with it;
// outside a request (relay, CLI) it falls back to time.Now.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
