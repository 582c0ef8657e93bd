package cognito

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	users "github.com/homeharmony/go-users"
)

// KeySource resolves verification keys by kid.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// TokenClaims is the subset of Cognito ID and access token claims we map.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email           string `json:"email,omitempty"`
	Name            string `json:"name,omitempty"`
	GivenName       string `json:"given_name,omitempty"`
	Username        string `json:"username,omitempty"`
	CognitoUsername string `json:"cognito:username,omitempty"`
	TokenUse        string `json:"token_use,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
}

// TokenValidator verifies Cognito-issued JWTs against the pool key set.
type TokenValidator struct {
	keys     KeySource
	clientID string
	issuer   string
	parser   *jwt.Parser
	logger   users.Logger
}

var _ users.TokenVerifier = (*TokenValidator)(nil)

// NewTokenValidator creates a validator for tokens issued to cfg.ClientID.
func NewTokenValidator(cfg Config, keys KeySource) (*TokenValidator, error) {
	if keys == nil {
		return nil, fmt.Errorf("cognito: key source is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("cognito: client id is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}

	issuer := cfg.IssuerURL()
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &TokenValidator{
		keys:     keys,
		clientID: cfg.ClientID,
		issuer:   issuer,
		parser:   jwt.NewParser(opts...),
		logger:   users.NewZapLoggerNamed(nil, "cognito.tokens"),
	}, nil
}

// WithLogger sets the validator logger.
func (v *TokenValidator) WithLogger(logger users.Logger) *TokenValidator {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Verify implements users.TokenVerifier.
func (v *TokenValidator) Verify(ctx context.Context, tokenString string) (*users.Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, users.NewTokenInvalid(users.ReasonMalformed, jwt.ErrTokenMalformed)
	}

	unverified, _, err := v.parser.ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return nil, users.NewTokenInvalid(users.ReasonMalformed, err)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, users.NewTokenInvalid(users.ReasonMalformed, errors.New("token header has no kid"))
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		if users.IsKeyFetchError(err) {
			return nil, err
		}
		return nil, users.NewTokenInvalid(users.ReasonKeyNotFound, err)
	}

	claims := &TokenClaims{}
	_, err = v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		reason := classifyError(err)
		v.logger.Debug("token verification failed", "kid", kid, "reason", reason, "error", err)
		return nil, users.NewTokenInvalid(reason, err)
	}

	if !v.audienceMatches(claims) {
		return nil, users.NewTokenInvalid(users.ReasonAudience,
			fmt.Errorf("token not issued for client %q", v.clientID))
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, users.NewTokenInvalid(users.ReasonMissingSubject, errors.New("token has no subject"))
	}

	return claims.toClaims(), nil
}

// Cognito access tokens carry the app client in client_id instead of aud.
func (v *TokenValidator) audienceMatches(claims *TokenClaims) bool {
	if len(claims.Audience) > 0 {
		return slices.Contains([]string(claims.Audience), v.clientID)
	}
	return claims.ClientID == v.clientID
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return users.ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return users.ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return users.ReasonAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return users.ReasonSignature
	default:
		return users.ReasonMalformed
	}
}

func (c *TokenClaims) toClaims() *users.Claims {
	out := &users.Claims{
		Subject:   c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		GivenName: c.GivenName,
		Username:  c.Username,
		Issuer:    c.Issuer,
		Audience:  []string(c.Audience),
		TokenUse:  c.TokenUse,
	}
	if out.Username == "" {
		out.Username = c.CognitoUsername
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	return out
}
