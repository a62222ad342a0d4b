package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"paygate/internal/types"
)

const issuerPrefix = "https://securetoken.google.com/"

// VerifierConfig configures a TokenVerifier.
type VerifierConfig struct {
	ProjectID   string
	RoleClaim   string
	TenantClaim string
	// KeyTimeout bounds how long a verification may wait on a key fetch.
	KeyTimeout time.Duration
	Clock      types.Clock
	Logger     *slog.Logger
}

// TokenVerifier validates identity-provider ID tokens: RS256, signed by a
// published key, audience equal to the project id, issuer
// https://securetoken.google.com/<project>, unexpired, with a subject.
type TokenVerifier struct {
	keys        KeySource
	parser      *jwt.Parser
	roleClaim   string
	tenantClaim string
	keyTimeout  time.Duration
	clock       types.Clock
	logger      *slog.Logger
}

func NewTokenVerifier(keys KeySource, cfg VerifierConfig) *TokenVerifier {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = "tenant_id"
	}
	if cfg.KeyTimeout <= 0 {
		cfg.KeyTimeout = 3 * time.Second
	}

	return &TokenVerifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(cfg.ProjectID),
			jwt.WithIssuer(issuerPrefix+cfg.ProjectID),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock.Now),
		),
		roleClaim:   cfg.RoleClaim,
		tenantClaim: cfg.TenantClaim,
		keyTimeout:  cfg.KeyTimeout,
		clock:       clock,
		logger:      logger,
	}
}

// Verify parses and validates token. Every failure, including a key fetch
// that does not finish within KeyTimeout, is auth_token_invalid.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (types.IdentityClaim, error) {
	if token == "" {
		return types.IdentityClaim{}, types.NewAppError(types.ErrCodeAuthTokenMissing, "token is empty", nil)
	}

	keyCtx, cancel := context.WithTimeout(ctx, v.keyTimeout)
	defer cancel()

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return v.keys.PublicKey(keyCtx, kid)
	})
	if err != nil {
		v.logFailure(ctx, err)
		return types.IdentityClaim{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid ID token", err)
	}

	sub, _ := claims.GetSubject()
	if sub == "" || len(sub) > 128 {
		v.logger.WarnContext(ctx, "token rejected", "reason", "bad subject")
		return types.IdentityClaim{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid ID token", nil)
	}
	if authTime, ok := claims["auth_time"].(float64); ok && time.Unix(int64(authTime), 0).After(v.clock.Now()) {
		v.logger.WarnContext(ctx, "token rejected", "reason", "auth_time in the future")
		return types.IdentityClaim{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid ID token", nil)
	}

	claim := types.IdentityClaim{SubjectID: sub}
	claim.Email, _ = claims["email"].(string)
	claim.TenantID, _ = claims[v.tenantClaim].(string)
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		claim.IssuedAt = iat.Time
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		claim.ExpiresAt = exp.Time
	}

	rawRole, _ := claims[v.roleClaim].(string)
	role, known := types.ParseRole(rawRole)
	if !known {
		v.logger.InfoContext(ctx, "unrecognized role claim; defaulting to member",
			"subject_id", sub, "role_claim", rawRole)
	}
	claim.Role = role
	return claim, nil
}

func (v *TokenVerifier) logFailure(ctx context.Context, err error) {
	var appErr *types.AppError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &appErr):
		v.logger.ErrorContext(ctx, "signing key unavailable; rejecting token", "error", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		v.logger.DebugContext(ctx, "token rejected", "reason", "expired")
	default:
		v.logger.WarnContext(ctx, "token rejected", "error", err)
	}
}
