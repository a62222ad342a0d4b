package core

import (
	"context"
	"time"

	"paygate/internal/types"
)

// IdentityVerifier turns a bearer token into a verified IdentityClaim.
// Implementations return an AppError with ErrCodeAuthTokenInvalid for any
// token the identity provider would reject, and fail closed when signing keys
// cannot be fetched in time.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (types.IdentityClaim, error)
}

// AdminKeyVerifier checks the operator key sent in X-Admin-Key.
type AdminKeyVerifier interface {
	VerifyAdminKey(key string) bool
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck records one hit for key and reports whether it is
	// within limit for the trailing window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
