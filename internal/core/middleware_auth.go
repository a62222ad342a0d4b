package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"paygate/internal/types"
)

// AdminKeySubject is the subject recorded for requests authenticated by
// X-Admin-Key instead of an ID token.
const AdminKeySubject = "admin-key"

// AuthMiddleware verifies the bearer token and stores the resulting
// IdentityClaim in the request context.
//
// Without an Authorization header, a valid X-Admin-Key yields an admin claim.
// Otherwise the request fails with auth_token_missing. Any verifier error
// becomes auth_token_invalid unless it already carries an auth_ code; the
// client never learns which check failed.
//
// A nil Verifier disables the middleware.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if key := r.Header.Get("X-Admin-Key"); key != "" && s.AdminKeys != nil {
				if !s.AdminKeys.VerifyAdminKey(key) {
					s.Logger.WarnContext(r.Context(), "admin key rejected", slog.String("path", r.URL.Path))
					writeError(w, r, types.ErrCodeAuthAdminKey, "invalid admin key", nil)
					return
				}
				claim := types.IdentityClaim{SubjectID: AdminKeySubject, Role: types.RoleAdmin}
				next.ServeHTTP(w, r.WithContext(types.WithClaim(r.Context(), claim)))
				return
			}
			writeError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required", nil)
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			writeError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required", nil)
			return
		}

		claim, err := s.Verifier.Verify(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}

		ctx := types.WithClaim(r.Context(), claim)
		logger := types.LoggerFromContext(ctx, s.Logger).With(slog.String("subject_id", claim.SubjectID))
		next.ServeHTTP(w, r.WithContext(types.WithLogger(ctx, logger)))
	})
}

// extractBearerToken returns the token from "Bearer <token>"; the scheme is
// case-insensitive per RFC 7235.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.ErrCodeAuthTokenInvalid
	var appErr *types.AppError
	if errors.As(err, &appErr) && strings.HasPrefix(string(appErr.Code), "auth_") {
		code = appErr.Code
	}

	s.Logger.WarnContext(r.Context(), "token verification failed",
		slog.String("path", r.URL.Path),
		slog.String("error_code", string(code)),
		slog.String("error", err.Error()),
	)
	writeError(w, r, code, "Invalid authentication token", nil)
}

// RequireRole rejects callers whose verified role ranks below min.
func (s *Server) RequireRole(min types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim, ok := types.GetClaim(r.Context())
			if !ok {
				writeError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required", nil)
				return
			}
			if !claim.RoleHasAtLeast(min) {
				writeError(w, r, types.ErrCodePermissionRole, "Insufficient role for this operation", map[string]any{
					"required": string(min),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
