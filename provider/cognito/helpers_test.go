package cognito

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testClientID = "client-123"

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey
}

func newTestJWKS(t *testing.T, kid string, key *rsa.PrivateKey) []byte {
	t.Helper()

	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}

	data, err := json.Marshal(map[string]any{
		"keys": []map[string]any{jwk},
	})
	require.NoError(t, err)
	return data
}

type jwksServer struct {
	*httptest.Server
	failures atomic.Int32
	hits     atomic.Int32
}

// newJWKSServer serves jwks, answering 500 for the first failFirst requests.
func newJWKSServer(t *testing.T, jwks []byte, failFirst int32) *jwksServer {
	t.Helper()

	s := &jwksServer{}
	s.failures.Store(failFirst)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.hits.Add(1)
		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	t.Cleanup(s.Close)
	return s
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func idTokenClaims(issuer, sub string) jwt.MapClaims {
	now := time.Now().UTC()
	return jwt.MapClaims{
		"iss":              issuer,
		"sub":              sub,
		"aud":              testClientID,
		"iat":              now.Unix(),
		"exp":              now.Add(time.Hour).Unix(),
		"token_use":        "id",
		"email":            "tenant@example.com",
		"name":             "Tess Tenant",
		"given_name":       "Tess",
		"cognito:username": sub,
	}
}

func accessTokenClaims(issuer, sub string) jwt.MapClaims {
	now := time.Now().UTC()
	return jwt.MapClaims{
		"iss":       issuer,
		"sub":       sub,
		"client_id": testClientID,
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"token_use": "access",
		"scope":     "openid email profile",
		"username":  "tess",
	}
}
