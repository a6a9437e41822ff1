package authsdk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
)

// ============================================================================
// OAuth2 Error Codes
// ============================================================================

const (
	// RFC 6749 error codes
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeServerError          = "server_error"

	// Returned when the identity provider is overloaded, safe to retry
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"

	// OpenID Connect error codes, all demand user interaction
	ErrorCodeInteractionRequired = "interaction_required"
	ErrorCodeConsentRequired     = "consent_required"
	ErrorCodeLoginRequired       = "login_required"

	// RFC 8628 device authorization error codes
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeExpiredToken         = "expired_token"
)

// mfaErrorCodes are AADSTS codes that signal a second factor is needed.
// They sometimes arrive under invalid_grant rather than interaction_required.
var mfaErrorCodes = []int{50076, 50079, 50158}

// ============================================================================
// IdentityProviderError
// ============================================================================

// IdentityProviderError is an OAuth2 error returned by the token, device code
// or authorize endpoint.
//
// Two IdentityProviderErrors match under errors.Is when their codes are
// equal, so the predefined values below can be used as sentinels.
type IdentityProviderError struct {
	// StatusCode is the HTTP status of the response, 0 for redirect errors
	StatusCode int

	// Code is the OAuth2 error code (e.g. "invalid_grant")
	Code string

	// Description is the human readable error_description
	Description string

	// ErrorURI links to documentation about the error
	ErrorURI string

	// ErrorCodes are the AADSTS numeric codes
	ErrorCodes []int

	// CorrelationID and TraceID identify the request in the provider's logs
	CorrelationID string
	TraceID       string

	// SubError refines Code, e.g. "basic_action" or "consent_required"
	SubError string

	// Timestamp is the server time of the failure as reported
	Timestamp string
}

// Error implements the error interface.
func (e *IdentityProviderError) Error() string {
	var b strings.Builder
	b.WriteString("identity provider: ")
	b.WriteString(e.Code)
	if e.Description != "" {
		// AADSTS descriptions span lines with trace ids appended
		desc, _, _ := strings.Cut(e.Description, "\r\n")
		b.WriteString(": ")
		b.WriteString(desc)
	}
	return b.String()
}

// Is matches on the error code. ErrInteractionRequired additionally matches
// consent_required, login_required and MFA challenges.
func (e *IdentityProviderError) Is(target error) bool {
	t, ok := target.(*IdentityProviderError)
	if !ok {
		return false
	}
	if t == ErrInteractionRequired {
		return e.requiresInteraction()
	}
	return t.Code != "" && t.Code == e.Code
}

func (e *IdentityProviderError) requiresInteraction() bool {
	switch e.Code {
	case ErrorCodeInteractionRequired, ErrorCodeConsentRequired, ErrorCodeLoginRequired:
		return true
	}
	for _, c := range e.ErrorCodes {
		if slices.Contains(mfaErrorCodes, c) {
			return true
		}
	}
	return false
}

// ============================================================================
// Predefined Identity Provider Errors
// ============================================================================

var (
	// ErrInvalidRequest is returned when the request is missing a parameter
	// or is otherwise malformed.
	ErrInvalidRequest = &IdentityProviderError{Code: ErrorCodeInvalidRequest}

	// ErrInvalidClient is returned when client authentication failed.
	ErrInvalidClient = &IdentityProviderError{Code: ErrorCodeInvalidClient}

	// ErrInvalidGrant is returned when the code, refresh token or password is
	// invalid, expired, revoked or was issued to another client.
	ErrInvalidGrant = &IdentityProviderError{Code: ErrorCodeInvalidGrant}

	// ErrUnauthorizedClient is returned when the application may not use the
	// grant type.
	ErrUnauthorizedClient = &IdentityProviderError{Code: ErrorCodeUnauthorizedClient}

	// ErrInvalidScope is returned when a requested scope is unknown or
	// malformed.
	ErrInvalidScope = &IdentityProviderError{Code: ErrorCodeInvalidScope}

	// ErrAccessDenied is returned when the user declined the request.
	ErrAccessDenied = &IdentityProviderError{Code: ErrorCodeAccessDenied}

	// ErrServerError and ErrTemporarilyUnavailable are transient.
	ErrServerError            = &IdentityProviderError{Code: ErrorCodeServerError}
	ErrTemporarilyUnavailable = &IdentityProviderError{Code: ErrorCodeTemporarilyUnavailable}

	// ErrInteractionRequired matches every error that can only be resolved by
	// the user in a browser.
	ErrInteractionRequired = &IdentityProviderError{Code: ErrorCodeInteractionRequired}

	// Device authorization polling states.
	ErrAuthorizationPending = &IdentityProviderError{Code: ErrorCodeAuthorizationPending}
	ErrSlowDown             = &IdentityProviderError{Code: ErrorCodeSlowDown}
	ErrExpiredToken         = &IdentityProviderError{Code: ErrorCodeExpiredToken}
)

// ============================================================================
// Client-side Errors
// ============================================================================

var (
	// ErrStateMismatch is returned when the state echoed by the authorization
	// redirect differs from the one issued.
	ErrStateMismatch = errors.New("authsdk: authorization state mismatch")

	// ErrNonceMismatch is returned when the id_token nonce differs from the
	// nonce sent in the authorization request.
	ErrNonceMismatch = errors.New("authsdk: id_token nonce mismatch")

	// ErrInvalidState is returned when an operation is not legal in the
	// credential's current stage.
	ErrInvalidState = errors.New("authsdk: operation not valid in current state")

	// ErrInvalidConfig is returned when a credential is misconfigured.
	ErrInvalidConfig = errors.New("authsdk: invalid credential configuration")

	// ErrInvalidTenantForFlow is returned when the tenant cannot be used with
	// the credential's flow.
	ErrInvalidTenantForFlow = authority.ErrInvalidTenantForFlow

	// ErrUnsupportedChallengeMethod is returned for any PKCE method other
	// than S256.
	ErrUnsupportedChallengeMethod = errors.New("authsdk: unsupported code challenge method")

	// ErrDeviceCodeExpired is returned when the user did not complete the
	// device code flow before the code expired.
	ErrDeviceCodeExpired = errors.New("authsdk: device code expired")

	// ErrCancelled is returned when the caller's context ended while waiting
	// for a token. It wraps the context error.
	ErrCancelled = errors.New("authsdk: cancelled")
)

// MissingParameterError is returned when a required request parameter has
// no value at serialization time.
type MissingParameterError struct {
	Name string
}

// Error implements the error interface.
func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("authsdk: missing required parameter %q", e.Name)
}

// Is lets errors.Is match any MissingParameterError against ErrInvalidConfig.
func (e *MissingParameterError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// TransportError is a network failure, a timeout or a response that is not
// a valid token or OAuth2 error document.
type TransportError struct {
	// Op describes the request, e.g. "token" or "devicecode"
	Op string

	// StatusCode is the HTTP status, 0 if no response was received
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authsdk: %s request: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authsdk: %s request: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ============================================================================
// Classification Helpers
// ============================================================================

// IsRetryable reports whether a token request that failed with err may be
// sent again: transient provider errors, 5xx responses and network failures.
// Cancellation is never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var idp *IdentityProviderError
	if errors.As(err, &idp) {
		return idp.Code == ErrorCodeTemporarilyUnavailable || idp.Code == ErrorCodeServerError
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode == 0 || te.StatusCode >= 500
	}
	return false
}

// IsInteractionRequired reports whether err can only be resolved by the user.
func IsInteractionRequired(err error) bool { return errors.Is(err, ErrInteractionRequired) }

// IsInvalidGrant reports whether the grant (code, refresh token, password)
// was rejected.
func IsInvalidGrant(err error) bool { return errors.Is(err, ErrInvalidGrant) }

// IsAuthorizationPending reports whether the device code user has not
// finished signing in.
func IsAuthorizationPending(err error) bool { return errors.Is(err, ErrAuthorizationPending) }

// IsSlowDown reports whether the device code poll interval must grow.
func IsSlowDown(err error) bool { return errors.Is(err, ErrSlowDown) }
