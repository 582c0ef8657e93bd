package users

import (
	"context"
	"strings"
)

// SessionManager resolves the user behind a session cookie. With
// AutoProvision disabled an unknown subject is rejected, with it enabled a
// user is created from the token claims through the Reconciler.
type SessionManager struct {
	verifier      TokenVerifier
	users         Users
	provisioner   *Reconciler
	autoProvision bool
	logger        Logger
}

var _ SessionResolver = (*SessionManager)(nil)

// SessionOption configures a SessionManager
type SessionOption func(*SessionManager)

// WithAutoProvision enables creating users for unknown subjects.
func WithAutoProvision(provisioner *Reconciler) SessionOption {
	return func(s *SessionManager) {
		s.provisioner = provisioner
		s.autoProvision = provisioner != nil
	}
}

// WithSessionLogger sets the session logger
func WithSessionLogger(logger Logger) SessionOption {
	return func(s *SessionManager) {
		s.logger = normalizeLogger(logger)
	}
}

// NewSessionManager returns a strict SessionManager unless WithAutoProvision is given.
func NewSessionManager(verifier TokenVerifier, users Users, opts ...SessionOption) *SessionManager {
	s := &SessionManager{
		verifier: verifier,
		users:    users,
		logger:   defLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AutoProvision reports whether unknown subjects are provisioned.
func (s *SessionManager) AutoProvision() bool {
	return s.autoProvision
}

// ResolveSession verifies token and returns the matching local user.
func (s *SessionManager) ResolveSession(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, NewUnauthenticated(DetailTokenMissing, nil)
	}

	claims, err := s.verifier.Verify(ctx, token)
	if err != nil {
		if IsKeyFetchError(err) {
			s.logger.Error("unable to verify session token", "error", err)
			return nil, err
		}
		s.logger.Debug("session token rejected", "reason", TokenInvalidReason(err), "error", err)
		return nil, NewUnauthenticated(DetailTokenInvalid, err)
	}

	user, err := s.users.GetByExternalID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}

	if !IsUserNotFound(err) {
		return nil, err
	}

	if !s.autoProvision {
		return nil, NewUnauthenticated(DetailUserNotFound, err)
	}

	user, err = s.provisioner.Provision(ctx, claims)
	if err != nil {
		if IsUniqueViolation(err) {
			s.logger.Warn("unable to provision session user",
				"sub", claims.Subject,
				"email", claims.Email,
				"error", err,
			)
			return nil, NewUnauthenticated(DetailUserNotFound, err)
		}
		return nil, err
	}

	s.logger.Info("provisioned user from session", "user_id", user.ID, "sub", user.ExternalID)
	return user, nil
}
