package users

import (
	"strings"
	"time"
)

// Claims holds the verified identity attributes extracted from a provider token
type Claims struct {
	Subject   string
	Email     string
	Name      string
	GivenName string
	Username  string
	Issuer    string
	Audience  []string
	TokenUse  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// DisplayName picks the best available name for a new record. Login
// provisioning prefers given_name, the session path prefers name.
func (c *Claims) DisplayName(preferGiven bool) string {
	if c == nil {
		return ""
	}

	candidates := []string{c.Name, c.GivenName}
	if preferGiven {
		candidates = []string{c.GivenName, c.Name}
	}
	candidates = append(candidates, c.Username)

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}

	if local, _, ok := strings.Cut(c.Email, "@"); ok {
		return local
	}
	return ""
}
