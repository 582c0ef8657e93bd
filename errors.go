package users

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeKeyFetch         = "KEY_FETCH_FAILED"
	TextCodeTokenInvalid     = "TOKEN_INVALID"
	TextCodeUnauthenticated  = "UNAUTHENTICATED"
	TextCodeEmailRegistered  = "EMAIL_ALREADY_REGISTERED"
	TextCodeIDRegistered     = "EXTERNAL_ID_ALREADY_REGISTERED"
	TextCodeUserNotFound     = "USER_NOT_FOUND"
	TextCodeValidationFailed = "VALIDATION_FAILED"
)

// Reasons attached to ErrTokenInvalid. They all surface as the same error
// category but stay distinguishable through the "reason" metadata.
const (
	ReasonMalformed      = "malformed"
	ReasonKeyNotFound    = "key_not_found"
	ReasonSignature      = "signature"
	ReasonExpired        = "expired"
	ReasonIssuer         = "issuer"
	ReasonAudience       = "audience"
	ReasonMissingSubject = "missing_subject"
)

// Details reported to clients for session failures.
const (
	DetailTokenMissing  = "Access token missing from cookies"
	DetailTokenInvalid  = "Token validation failed"
	DetailUserNotFound  = "User not found"
	DetailKeyFetch      = "Error fetching public keys"
	DetailEmailConflict = "Email already registered"
	DetailIDConflict    = "Cognito ID already registered"
)

// ErrKeyFetch is returned when the identity provider key set can not be retrieved
var ErrKeyFetch = errors.New(DetailKeyFetch, errors.CategoryInternal).
	WithTextCode(TextCodeKeyFetch).
	WithCode(errors.CodeInternal)

// ErrTokenInvalid is returned for any token that fails verification
var ErrTokenInvalid = errors.New("Invalid token", errors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrUnauthenticated is returned when a request carries no usable session
var ErrUnauthenticated = errors.New("Not authenticated", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrEmailRegistered is returned when creating a user with a taken email
var ErrEmailRegistered = errors.New(DetailEmailConflict, errors.CategoryConflict).
	WithTextCode(TextCodeEmailRegistered).
	WithCode(errors.CodeBadRequest)

// ErrExternalIDRegistered is returned when an external id is already bound to a user
var ErrExternalIDRegistered = errors.New(DetailIDConflict, errors.CategoryConflict).
	WithTextCode(TextCodeIDRegistered).
	WithCode(errors.CodeBadRequest)

// ErrUserNotFound is returned for unknown user identifiers
var ErrUserNotFound = errors.New(DetailUserNotFound, errors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(errors.CodeNotFound)

// NewKeyFetchError wraps a transport or status failure from the key set endpoint.
func NewKeyFetchError(source error) error {
	clone := ErrKeyFetch.Clone()
	clone.Source = source
	meta := map[string]any{}
	if source != nil {
		meta["cause"] = source.Error()
	}
	return clone.WithMetadata(meta)
}

// NewTokenInvalid builds a token verification error tagged with reason.
func NewTokenInvalid(reason string, source error) error {
	clone := ErrTokenInvalid.Clone()
	clone.Source = source
	meta := map[string]any{
		"reason": reason,
	}
	if source != nil {
		meta["cause"] = source.Error()
	}
	return clone.WithMetadata(meta)
}

// NewUnauthenticated builds a session error with the detail shown to clients.
func NewUnauthenticated(detail string, source error) error {
	clone := ErrUnauthenticated.Clone()
	clone.Message = detail
	clone.Source = source
	return clone
}

// IsKeyFetchError reports whether err originates from the key set endpoint
func IsKeyFetchError(err error) bool {
	return hasTextCode(err, TextCodeKeyFetch)
}

// IsTokenInvalid reports whether err is a token verification failure
func IsTokenInvalid(err error) bool {
	return hasTextCode(err, TextCodeTokenInvalid)
}

// IsUnauthenticated reports whether err is a session failure
func IsUnauthenticated(err error) bool {
	return hasTextCode(err, TextCodeUnauthenticated)
}

// IsEmailRegistered reports whether err is a duplicated email failure
func IsEmailRegistered(err error) bool {
	return hasTextCode(err, TextCodeEmailRegistered)
}

// IsUniqueViolation reports whether err is any duplicated user failure
func IsUniqueViolation(err error) bool {
	return IsEmailRegistered(err) || hasTextCode(err, TextCodeIDRegistered)
}

// IsUserNotFound reports whether err is an unknown user failure
func IsUserNotFound(err error) bool {
	return hasTextCode(err, TextCodeUserNotFound)
}

// TokenInvalidReason returns the reason tag of a token verification error.
func TokenInvalidReason(err error) string {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.TextCode != TextCodeTokenInvalid {
		return ""
	}
	reason, _ := richErr.Metadata["reason"].(string)
	return reason
}

func hasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	if richErr.TextCode == code {
		return true
	}
	return richErr.Source != nil && hasTextCode(richErr.Source, code)
}
