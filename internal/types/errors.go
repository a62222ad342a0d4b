package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidArgument ErrorCode = "validation_invalid_argument"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidCurrency ErrorCode = "validation_invalid_currency"
	ErrCodeValidationUnknownPlan     ErrorCode = "validation_unknown_plan"
	ErrCodeValidationProvider        ErrorCode = "validation_unsupported_provider"

	// Routing (405)
	ErrCodeMethodNotAllowed ErrorCode = "method_not_allowed"

	// Webhook authenticity (400). Providers must not retry these.
	ErrCodeWebhookSignatureMismatch  ErrorCode = "webhook_signature_mismatch"
	ErrCodeWebhookSignatureMalformed ErrorCode = "webhook_signature_malformed"
	ErrCodeWebhookPayloadInvalid     ErrorCode = "webhook_payload_invalid"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthAdminKey     ErrorCode = "auth_admin_key_invalid"

	// Permission (403)
	ErrCodePermissionRole ErrorCode = "permission_role_insufficient"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundEvent ErrorCode = "not_found_event"
	ErrCodeNotFoundOrder ErrorCode = "not_found_order"
	ErrCodeNotFoundRoute ErrorCode = "not_found_route"

	// Conflict (409)
	ErrCodeConflictDuplicate ErrorCode = "conflict_duplicate_record"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB           ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected   ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue        ErrorCode = "internal_queue_error"
	ErrCodeUpstreamUnavailable  ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited  ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamStripe       ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamRazorpay     ErrorCode = "upstream_razorpay_unavailable"
	ErrCodeUpstreamIdentity     ErrorCode = "upstream_identity_unavailable"
	ErrCodeUpstreamPaymentError ErrorCode = "upstream_payment_rejected"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "webhook_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case s == string(ErrCodeMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodeUpstreamPaymentError):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether a failure with this code is worth retrying.
// Upstream outages and storage/queue faults are transient; everything the
// caller can fix (bad input, bad credentials, bad signatures) is not.
func (c ErrorCode) IsTransient() bool {
	if c == ErrCodeUpstreamPaymentError {
		return false
	}
	s := string(c)
	return strings.HasPrefix(s, "upstream_") || strings.HasPrefix(s, "internal_")
}

// CallableStatus returns the status string used in callable-style error
// envelopes, so browser clients can branch without parsing codes.
func (c ErrorCode) CallableStatus() string {
	switch c.HTTPStatus() {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "invalid-argument"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "permission-denied"
	case http.StatusNotFound:
		return "not-found"
	case http.StatusConflict:
		return "already-exists"
	case http.StatusTooManyRequests:
		return "resource-exhausted"
	case http.StatusMethodNotAllowed:
		return "unimplemented"
	case http.StatusBadGateway:
		return "unavailable"
	default:
		return "internal"
	}
}

// AppError is the standard application error type.
// All domain and handler errors should be expressed as AppError so that the
// HTTP layer can map them consistently.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
