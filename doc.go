// Package users is the user identity service of the platform. Cognito is the
// identity provider, this package owns the local user records bound to it.
//
// Login:
//   - AuthController drives the hosted UI authorization code flow. The
//     authorization state travels in a signed cookie, the provider access
//     token becomes the session cookie.
//   - Reconciler maps verified claims to a local User. Tenants provisioned
//     ahead of their first login carry a synthetic cognito_id that is rebound
//     to the real subject, and the remap is reported to the ActivitySink.
//
// Sessions:
//   - SessionManager verifies the session cookie on every request with a
//     TokenVerifier and resolves the matching user. Unknown subjects are
//     rejected unless auto provisioning is enabled.
//
// Store:
//   - Users is the bun backed store. Email and cognito_id are unique and
//     violations surface as ErrEmailRegistered or ErrExternalIDRegistered.
//
// Provider specifics live in provider/cognito, the message bus relay in relay.
package users
