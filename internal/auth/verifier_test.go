package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/types"
)

const testProject = "ngo-crm-test"

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
	pem  string
}

func newSigningKey(t *testing.T, kid string) signingKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	return signingKey{
		kid:  kid,
		priv: priv,
		pem:  string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
	}
}

// certServer publishes keys and counts fetches.
func certServer(t *testing.T, fetches *atomic.Int32, keys ...signingKey) *httptest.Server {
	t.Helper()
	body := map[string]string{}
	for _, k := range keys {
		body[k.kid] = k.pem
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVerifier(t *testing.T, certsURL string, clock types.Clock) *TokenVerifier {
	t.Helper()
	src := NewCertKeySource(NewCertClient(2*time.Second), certsURL, clock, discardLogger())
	return NewTokenVerifier(src, VerifierConfig{
		ProjectID:  testProject,
		KeyTimeout: time.Second,
		Clock:      clock,
		Logger:     discardLogger(),
	})
}

func signToken(t *testing.T, key signingKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.kid
	s, err := tok.SignedString(key.priv)
	require.NoError(t, err)
	return s
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       issuerPrefix + testProject,
		"aud":       testProject,
		"sub":       "uid_123",
		"email":     "volunteer@example.org",
		"iat":       now.Add(-time.Minute).Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"auth_time": now.Add(-time.Minute).Unix(),
		"role":      "manager",
		"tenant_id": "ngo_7",
	}
}

func TestTokenVerifier_Valid(t *testing.T) {
	key := newSigningKey(t, "k1")
	var fetches atomic.Int32
	srv := certServer(t, &fetches, key)
	clock := &fixedClock{t: time.Now()}
	v := newVerifier(t, srv.URL, clock)

	claim, err := v.Verify(context.Background(), signToken(t, key, validClaims(clock.t)))
	require.NoError(t, err)
	assert.Equal(t, "uid_123", claim.SubjectID)
	assert.Equal(t, types.RoleManager, claim.Role)
	assert.Equal(t, "ngo_7", claim.TenantID)
	assert.Equal(t, "volunteer@example.org", claim.Email)

	// Cached: a second verification does not refetch.
	_, err = v.Verify(context.Background(), signToken(t, key, validClaims(clock.t)))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestTokenVerifier_UnknownRoleDefaultsToMember(t *testing.T) {
	key := newSigningKey(t, "k1")
	var fetches atomic.Int32
	srv := certServer(t, &fetches, key)
	clock := &fixedClock{t: time.Now()}
	v := newVerifier(t, srv.URL, clock)

	for _, role := range []any{"superuser", nil} {
		c := validClaims(clock.t)
		if role == nil {
			delete(c, "role")
		} else {
			c["role"] = role
		}
		claim, err := v.Verify(context.Background(), signToken(t, key, c))
		require.NoError(t, err)
		assert.Equal(t, types.RoleMember, claim.Role)
	}
}

func TestTokenVerifier_Rejections(t *testing.T) {
	key := newSigningKey(t, "k1")
	other := newSigningKey(t, "k1")
	var fetches atomic.Int32
	srv := certServer(t, &fetches, key)
	clock := &fixedClock{t: time.Now()}
	v := newVerifier(t, srv.URL, clock)

	mutate := func(f func(jwt.MapClaims)) jwt.MapClaims {
		c := validClaims(clock.t)
		f(c)
		return c
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", signToken(t, key, mutate(func(c jwt.MapClaims) { c["exp"] = clock.t.Add(-time.Second).Unix() }))},
		{"wrong audience", signToken(t, key, mutate(func(c jwt.MapClaims) { c["aud"] = "other-project" }))},
		{"wrong issuer", signToken(t, key, mutate(func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }))},
		{"empty subject", signToken(t, key, mutate(func(c jwt.MapClaims) { c["sub"] = "" }))},
		{"future auth_time", signToken(t, key, mutate(func(c jwt.MapClaims) { c["auth_time"] = clock.t.Add(time.Hour).Unix() }))},
		{"signed by unpublished key", signToken(t, other, validClaims(clock.t))},
		{"unknown kid", signToken(t, signingKey{kid: "k9", priv: key.priv}, validClaims(clock.t))},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr), "err = %v", err)
			assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
		})
	}
}

func TestTokenVerifier_HS256Rejected(t *testing.T) {
	var fetches atomic.Int32
	srv := certServer(t, &fetches, newSigningKey(t, "k1"))
	clock := &fixedClock{t: time.Now()}
	v := newVerifier(t, srv.URL, clock)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(clock.t))
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString([]byte("shared"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, int32(0), fetches.Load(), "algorithm check happens before key lookup")
}

func TestTokenVerifier_KeyFetchTimeoutFailsClosed(t *testing.T) {
	key := newSigningKey(t, "k1")
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	clock := &fixedClock{t: time.Now()}
	src := NewCertKeySource(NewCertClient(5*time.Second), srv.URL, clock, discardLogger())
	v := NewTokenVerifier(src, VerifierConfig{ProjectID: testProject, KeyTimeout: 50 * time.Millisecond, Clock: clock, Logger: discardLogger()})

	start := time.Now()
	_, err := v.Verify(context.Background(), signToken(t, key, validClaims(clock.t)))
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCertKeySource_ExpiryTriggersRefresh(t *testing.T) {
	key := newSigningKey(t, "k1")
	var fetches atomic.Int32
	srv := certServer(t, &fetches, key)
	clock := &fixedClock{t: time.Now()}
	src := NewCertKeySource(NewCertClient(time.Second), srv.URL, clock, discardLogger())

	_, err := src.PublicKey(context.Background(), "k1")
	require.NoError(t, err)
	clock.t = clock.t.Add(2 * time.Hour)
	_, err = src.PublicKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())

	// Unknown kid right after a fetch does not hammer the endpoint.
	_, err = src.PublicKey(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownKeyID)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, 19*time.Minute, maxAge("public, max-age=1140, must-revalidate, no-transform"))
	assert.Equal(t, defaultKeyTTL, maxAge("no-cache"))
	assert.Equal(t, defaultKeyTTL, maxAge(""))
}
