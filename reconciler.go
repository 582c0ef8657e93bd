package users

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Reconciler owns every write that binds provider identities to local
// users: login time get-or-create, tenant remaps, session auto-provisioning
// and tenant placeholder provisioning.
type Reconciler struct {
	users  Users
	sink   ActivitySink
	logger Logger
	now    func() time.Time
	newID  func() string
}

var _ UserReconciler = (*Reconciler)(nil)

// NewReconciler returns a Reconciler writing to users
func NewReconciler(users Users) *Reconciler {
	return &Reconciler{
		users:  users,
		sink:   noopActivitySink{},
		logger: defLogger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (r *Reconciler) WithLogger(logger Logger) *Reconciler {
	r.logger = normalizeLogger(logger)
	return r
}

// WithActivitySink sets the sink receiving remap and provisioning events.
func (r *Reconciler) WithActivitySink(sink ActivitySink) *Reconciler {
	r.sink = normalizeActivitySink(sink)
	return r
}

// WithIDGenerator overrides how synthetic tenant identifiers are built.
func (r *Reconciler) WithIDGenerator(fn func() string) *Reconciler {
	if fn != nil {
		r.newID = fn
	}
	return r
}

// GetOrCreate resolves the local user for a login. Unknown emails are
// provisioned from the claims, tenant placeholders are rebound to the
// authenticated subject and the remap is broadcast.
func (r *Reconciler) GetOrCreate(ctx context.Context, claims *Claims) (*User, error) {
	if err := requireIdentityClaims(claims); err != nil {
		return nil, err
	}

	user, err := r.users.GetByEmail(ctx, claims.Email)
	if err == nil {
		return r.bindTenant(ctx, user, claims)
	}

	if !IsUserNotFound(err) {
		return nil, err
	}

	created, err := r.users.Create(ctx, &User{
		ExternalID: claims.Subject,
		Email:      claims.Email,
		Name:       claims.DisplayName(true),
	})
	if err == nil {
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventUserProvisioned,
			UserID:    created.ID,
			NewID:     created.ExternalID,
			Email:     created.Email,
			Metadata:  map[string]any{"source": "login"},
		})
		return created, nil
	}

	if !IsUniqueViolation(err) {
		return nil, err
	}

	// a concurrent login inserted the same email first
	r.logger.Debug("user created concurrently, reloading", "email", claims.Email)
	user, err = r.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		return nil, err
	}

	return r.bindTenant(ctx, user, claims)
}

// Provision creates a user for a verified subject that has no local record.
// Used by the session path when auto provisioning is enabled.
func (r *Reconciler) Provision(ctx context.Context, claims *Claims) (*User, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, NewTokenInvalid(ReasonMissingSubject, nil)
	}

	created, err := r.users.Create(ctx, &User{
		ExternalID: claims.Subject,
		Email:      claims.Email,
		Name:       claims.DisplayName(false),
	})
	if err == nil {
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventUserProvisioned,
			UserID:    created.ID,
			NewID:     created.ExternalID,
			Email:     created.Email,
			Metadata:  map[string]any{"source": "session"},
		})
		return created, nil
	}

	if !IsUniqueViolation(err) {
		return nil, err
	}

	user, lookupErr := r.users.GetByExternalID(ctx, claims.Subject)
	if lookupErr != nil {
		// the email belongs to a different identity
		return nil, err
	}
	return user, nil
}

// PromoteTenant marks the user owning email as a tenant, provisioning a
// placeholder with a synthetic identity when no such user exists yet.
func (r *Reconciler) PromoteTenant(ctx context.Context, name, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required", errors.CategoryBadInput).
			WithTextCode(TextCodeValidationFailed).
			WithCode(errors.CodeBadRequest)
	}

	for attempt := 0; attempt < 2; attempt++ {
		user, err := r.users.GetByEmail(ctx, email)
		if err == nil {
			return r.promote(ctx, user)
		}

		if !IsUserNotFound(err) {
			return nil, err
		}

		created, err := r.users.Create(ctx, &User{
			ExternalID: r.newID(),
			Name:       name,
			Email:      email,
			Role:       RoleTenant,
		})
		if err == nil {
			r.record(ctx, ActivityEvent{
				EventType: ActivityEventUserProvisioned,
				UserID:    created.ID,
				NewID:     created.ExternalID,
				Email:     created.Email,
				Metadata:  map[string]any{"source": "tenant"},
			})
			return created, nil
		}

		if !IsEmailRegistered(err) {
			return nil, err
		}
		r.logger.Debug("tenant created concurrently, reloading", "email", email)
	}

	return nil, ErrEmailRegistered.Clone().WithMetadata(map[string]any{"email": email})
}

func (r *Reconciler) promote(ctx context.Context, user *User) (*User, error) {
	if user.IsTenant() {
		return user, nil
	}

	var updated *User
	err := r.users.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		updated, err = r.users.UpdateRoleTx(ctx, tx, user.ID, RoleTenant)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.record(ctx, ActivityEvent{
		EventType: ActivityEventTenantPromoted,
		UserID:    updated.ID,
		NewID:     updated.ExternalID,
		Email:     updated.Email,
		Metadata:  map[string]any{"previous_role": user.Role},
	})

	return updated, nil
}

func (r *Reconciler) bindTenant(ctx context.Context, user *User, claims *Claims) (*User, error) {
	if !user.IsTenant() || user.ExternalID == claims.Subject {
		return user, nil
	}

	var (
		updated  *User
		oldID    string
		remapped bool
	)

	err := r.users.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.users.GetByIDTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		if !current.IsTenant() || current.ExternalID == claims.Subject {
			updated = current
			return nil
		}

		oldID = current.ExternalID
		updated, err = r.users.UpdateExternalIDTx(ctx, tx, current.ID, claims.Subject)
		if err != nil {
			return err
		}
		remapped = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if remapped {
		r.logger.Info("tenant bound to provider identity",
			"user_id", updated.ID,
			"old_id", oldID,
			"new_id", updated.ExternalID,
		)
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventExternalIDRemapped,
			UserID:    updated.ID,
			OldID:     oldID,
			NewID:     updated.ExternalID,
			Email:     updated.Email,
		})
	}

	return updated, nil
}

func (r *Reconciler) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.Error("failed to record activity event",
			"event", string(event.EventType),
			"user_id", event.UserID,
			"error", err,
		)
	}
}

func requireIdentityClaims(claims *Claims) error {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return NewTokenInvalid(ReasonMissingSubject, nil)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return errors.New("email claim is required", errors.CategoryBadInput).
			WithTextCode(TextCodeValidationFailed).
			WithCode(errors.CodeBadRequest)
	}
	return nil
}
