// Package auth verifies callers of the /v1 API: identity-provider ID tokens
// for browser clients and a bcrypt-hashed operator key for tooling.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"paygate/internal/external"
	"paygate/internal/types"
)

const (
	// defaultKeyTTL applies when the certificate endpoint sends no max-age.
	defaultKeyTTL = time.Hour
	// minRefreshInterval bounds refetches triggered by an unknown key id.
	minRefreshInterval = 30 * time.Second
)

// ErrUnknownKeyID is returned when a token names a key the provider does not
// publish.
var ErrUnknownKeyID = errors.New("auth: unknown signing key id")

// KeySource resolves a token's key id to an RSA public key.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// CertKeySource fetches the identity provider's x509 certificates, published
// as a JSON object of key id to PEM, and caches them for the lifetime given
// by Cache-Control max-age. Concurrent refreshes collapse into one request.
type CertKeySource struct {
	client *external.BaseClient
	url    string
	clock  types.Clock
	logger *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	fetchedAt time.Time
}

func NewCertKeySource(client *external.BaseClient, certsURL string, clock types.Clock, logger *slog.Logger) *CertKeySource {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CertKeySource{
		client: client,
		url:    certsURL,
		clock:  clock,
		logger: logger,
	}
}

// NewCertClient builds the BaseClient used for certificate fetches.
func NewCertClient(timeout time.Duration) *external.BaseClient {
	return external.NewBaseClient(
		&http.Client{Timeout: timeout},
		"identity-certs",
		external.RetryPolicy{MaxRetries: 1, MinWait: 100 * time.Millisecond, MaxWait: time.Second},
		"PayGate/1.0",
		external.WithUpstreamCode(types.ErrCodeUpstreamIdentity),
	)
}

// PublicKey returns the key for kid, refreshing the cache when it has expired
// or when kid is absent and the last fetch is old enough to retry. The wait
// for a refresh is bounded by ctx.
func (s *CertKeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := s.clock.Now()

	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := now.Before(s.expiresAt)
	retryable := now.Sub(s.fetchedAt) >= minRefreshInterval
	s.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}
	if fresh && !retryable {
		return nil, ErrUnknownKeyID
	}

	ch := s.group.DoChan("certs", func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		return nil, s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, ErrUnknownKeyID
}

func (s *CertKeySource) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("certificate endpoint returned %d", resp.StatusCode), nil)
	}

	var pems map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pems); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamIdentity, "certificate response is not JSON", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, p := range pems {
		key, err := parseCertificateKey(p)
		if err != nil {
			s.logger.Warn("skipping unparseable signing certificate", "kid", kid, "error", err)
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return types.NewAppError(types.ErrCodeUpstreamIdentity, "certificate endpoint returned no usable keys", nil)
	}

	now := s.clock.Now()
	ttl := maxAge(resp.Header.Get("Cache-Control"))

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = now
	s.expiresAt = now.Add(ttl)
	s.mu.Unlock()

	s.logger.Debug("signing keys refreshed", "count", len(keys), "ttl", ttl)
	return nil
}

func parseCertificateKey(p string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(p))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, want RSA", cert.PublicKey)
	}
	return key, nil
}

// maxAge extracts max-age from a Cache-Control header.
func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultKeyTTL
}
