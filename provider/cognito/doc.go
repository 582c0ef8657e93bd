// Package cognito verifies Amazon Cognito tokens and drives the hosted UI
// login flow for the users service.
//
// KeyCache fetches the user pool JWKS and keeps it fresh in the background,
// TokenValidator implements users.TokenVerifier on top of it, and
// IdentityProvider implements users.IdentityProvider with the OAuth2
// authorization code flow and OIDC ID token verification.
package cognito
