package core

import (
	"context"
	"sync"
	"time"

	"paygate/internal/types"
)

// MockIdentityVerifier implements IdentityVerifier for tests in this and the
// handler packages.
//
//	verifier := &MockIdentityVerifier{Claims: map[string]types.IdentityClaim{
//	    "good-token": {SubjectID: "uid_1", Role: types.RoleMember},
//	}}
//
// Unknown tokens fail with auth_token_invalid unless Err is set.
type MockIdentityVerifier struct {
	Claims map[string]types.IdentityClaim
	Err    error

	mu    sync.Mutex
	Calls []string
}

func (m *MockIdentityVerifier) Verify(_ context.Context, token string) (types.IdentityClaim, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.Err != nil {
		return types.IdentityClaim{}, m.Err
	}
	claim, ok := m.Claims[token]
	if !ok {
		return types.IdentityClaim{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
	}
	return claim, nil
}

// MockAdminKeys accepts exactly Key.
type MockAdminKeys struct {
	Key string
}

func (m MockAdminKeys) VerifyAdminKey(key string) bool {
	return m.Key != "" && key == m.Key
}

// MockRateLimitStore returns Result and Err, or delegates to Func when set.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error
	Func   func(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records one IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.Func != nil {
		return m.Func(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

var (
	_ IdentityVerifier = (*MockIdentityVerifier)(nil)
	_ AdminKeyVerifier = MockAdminKeys{}
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
)
