package cognito

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MaxCacheTTL caps how long a fetched key set is trusted before refresh.
const MaxCacheTTL = 5 * time.Minute

// Config holds Cognito user pool settings.
type Config struct {
	// Region is the AWS region hosting the user pool (e.g., "us-east-1").
	Region string

	// UserPoolID is the pool identifier (e.g., "us-east-1_AbCdEf").
	UserPoolID string

	// ClientID is the app client id; tokens must be issued for it.
	ClientID string

	// ClientSecret is the app client secret used for the code exchange.
	ClientSecret string

	// Domain is the hosted UI domain (e.g., "auth.example.com").
	Domain string

	// RedirectURI is the registered callback URL.
	RedirectURI string

	// LogoutURI is where the hosted UI sends users after logout (optional).
	LogoutURI string

	// Scopes requested on login.
	// Default: openid, email, profile.
	Scopes []string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://cognito-idp.{Region}.amazonaws.com/{UserPoolID}".
	Issuer string

	// JWKSURL overrides the default key set URL (optional).
	// Default: "{Issuer}/.well-known/jwks.json".
	JWKSURL string

	// CacheTTL is how long to cache JWKS keys.
	// Default and maximum: 5 minutes.
	CacheTTL time.Duration

	// HTTPClient is used for key set and token requests (optional).
	HTTPClient *http.Client
}

// IssuerURL returns the expected token issuer.
func (c Config) IssuerURL() string {
	if c.Issuer != "" {
		return strings.TrimSuffix(strings.TrimSpace(c.Issuer), "/")
	}
	if c.Region == "" || c.UserPoolID == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// KeySetURL returns the well-known key set endpoint.
func (c Config) KeySetURL() string {
	if c.JWKSURL != "" {
		return strings.TrimSpace(c.JWKSURL)
	}
	issuer := c.IssuerURL()
	if issuer == "" {
		return ""
	}
	return issuer + "/.well-known/jwks.json"
}

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTL <= 0 || c.CacheTTL > MaxCacheTTL {
		return MaxCacheTTL
	}
	return c.CacheTTL
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c Config) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{"openid", "email", "profile"}
}

func (c Config) baseURL() string {
	domain := strings.TrimSuffix(strings.TrimSpace(c.Domain), "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}
