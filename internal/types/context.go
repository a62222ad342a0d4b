package types

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	claimKey     contextKey = "identity_claim"
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// WithClaim stores the verified IdentityClaim in the context.
func WithClaim(ctx context.Context, claim IdentityClaim) context.Context {
	return context.WithValue(ctx, claimKey, claim)
}

// GetClaim retrieves the IdentityClaim from the context.
func GetClaim(ctx context.Context) (IdentityClaim, bool) {
	claim, ok := ctx.Value(claimKey).(IdentityClaim)
	return claim, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback when none
// has been stored.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
