package cognito

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/goliatone/go-errors"
	users "github.com/homeharmony/go-users"
	"golang.org/x/oauth2"
)

// IdentityProvider drives the hosted UI authorization code flow.
type IdentityProvider struct {
	config   Config
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ users.IdentityProvider = (*IdentityProvider)(nil)

// NewIdentityProvider builds the code flow client. Endpoints are derived
// from cfg.Domain so nothing is fetched until the first verification.
func NewIdentityProvider(cfg Config) (*IdentityProvider, error) {
	if strings.TrimSpace(cfg.Domain) == "" {
		return nil, fmt.Errorf("cognito: hosted ui domain is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("cognito: client id is required")
	}
	keySetURL := cfg.KeySetURL()
	if keySetURL == "" {
		return nil, fmt.Errorf("cognito: region and user pool id, or a jwks url, are required")
	}

	base := cfg.baseURL()
	clientCtx := oidc.ClientContext(context.Background(), cfg.httpClient())

	keySet := oidc.NewRemoteKeySet(clientCtx, keySetURL)
	verifier := oidc.NewVerifier(cfg.IssuerURL(), keySet, &oidc.Config{
		ClientID:             cfg.ClientID,
		SkipIssuerCheck:      cfg.IssuerURL() == "",
		SupportedSigningAlgs: []string{oidc.RS256},
	})

	return &IdentityProvider{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.scopes(),
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		verifier: verifier,
	}, nil
}

// AuthCodeURL returns the hosted UI authorize URL carrying state.
func (p *IdentityProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for the token pair. Missing
// tokens are returned empty; callers decide how to report them.
func (p *IdentityProvider) Exchange(ctx context.Context, code string) (*users.Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.config.httpClient())

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "authorization code exchange failed").
			WithCode(errors.CodeBadRequest)
	}

	idToken, _ := token.Extra("id_token").(string)
	return &users.Tokens{
		AccessToken: token.AccessToken,
		IDToken:     idToken,
	}, nil
}

// VerifyIDToken verifies the ID token and, when present, checks that the
// access token matches its at_hash.
func (p *IdentityProvider) VerifyIDToken(ctx context.Context, rawIDToken, accessToken string) (*users.Claims, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, users.NewTokenInvalid(classifyOIDCError(err), err)
	}

	if accessToken != "" && idToken.AccessTokenHash != "" {
		if err := idToken.VerifyAccessToken(accessToken); err != nil {
			return nil, users.NewTokenInvalid(users.ReasonSignature, err)
		}
	}

	claims := &TokenClaims{}
	if err := idToken.Claims(claims); err != nil {
		return nil, users.NewTokenInvalid(users.ReasonMalformed, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		claims.Subject = idToken.Subject
	}
	if claims.Subject == "" {
		return nil, users.NewTokenInvalid(users.ReasonMissingSubject, nil)
	}

	out := claims.toClaims()
	out.Issuer = idToken.Issuer
	out.Audience = idToken.Audience
	out.ExpiresAt = idToken.Expiry
	out.IssuedAt = idToken.IssuedAt
	return out, nil
}

// LogoutURL returns the hosted UI logout endpoint.
func (p *IdentityProvider) LogoutURL() string {
	q := url.Values{}
	q.Set("client_id", p.config.ClientID)
	if p.config.LogoutURI != "" {
		q.Set("logout_uri", p.config.LogoutURI)
	}
	return p.config.baseURL() + "/logout?" + q.Encode()
}

func classifyOIDCError(err error) string {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return users.ReasonExpired
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "issued by a different provider"):
		return users.ReasonIssuer
	case strings.Contains(msg, "audience"):
		return users.ReasonAudience
	case strings.Contains(msg, "signature"):
		return users.ReasonSignature
	default:
		return users.ReasonMalformed
	}
}
