package users

import (
	"context"
)

// Logger is the logging surface used across the service. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TokenVerifier validates bearer tokens issued by the identity provider
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// TokenVerifierFunc adapts a function into a TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*Claims, error)

// Verify satisfies the TokenVerifier interface.
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*Claims, error) {
	if f == nil {
		return nil, NewTokenInvalid(ReasonMalformed, nil)
	}
	return f(ctx, token)
}

// Tokens is the result of an authorization code exchange.
type Tokens struct {
	AccessToken string
	IDToken     string
}

// IdentityProvider is the hosted login flow we delegate authentication to.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Tokens, error)
	VerifyIDToken(ctx context.Context, idToken, accessToken string) (*Claims, error)
	LogoutURL() string
}

// UserReconciler maps verified login claims to a local user.
type UserReconciler interface {
	GetOrCreate(ctx context.Context, claims *Claims) (*User, error)
}

// SessionResolver turns a session cookie value into a user.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*User, error)
}
