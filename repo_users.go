package users

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Users is the user store
type Users interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error)
	GetByExternalID(ctx context.Context, externalID string) (*User, error)
	GetByExternalIDTx(ctx context.Context, tx bun.IDB, externalID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*User, error)

	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	UpdateProfile(ctx context.Context, record *User) (*User, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	UpdateExternalIDTx(ctx context.Context, tx bun.IDB, id int64, externalID string) (*User, error)
	UpdateRoleTx(ctx context.Context, tx bun.IDB, id int64, role UserRole) (*User, error)

	RunInTx(ctx context.Context, f func(ctx context.Context, tx bun.Tx) error) error
}

type users struct {
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns a bun backed user store
func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

func (a *users) RunInTx(ctx context.Context, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return a.db.RunInTx(ctx, nil, f)
	}
}

func (a *users) GetByID(ctx context.Context, id int64) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error) {
	return a.getBy(ctx, tx, "id", id)
}

func (a *users) GetByExternalID(ctx context.Context, externalID string) (*User, error) {
	return a.GetByExternalIDTx(ctx, a.db, externalID)
}

func (a *users) GetByExternalIDTx(ctx context.Context, tx bun.IDB, externalID string) (*User, error) {
	return a.getBy(ctx, tx, "cognito_id", strings.TrimSpace(externalID))
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	return a.getBy(ctx, tx, "email", strings.TrimSpace(email))
}

func (a *users) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*User, error) {
	records := make([]*User, 0, len(externalIDs))
	if len(externalIDs) == 0 {
		return records, nil
	}

	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.cognito_id IN (?)", bun.In(externalIDs)).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list users")
	}
	return records, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)

	now := time.Now().UTC()
	record.CreatedAt = &now
	record.UpdatedAt = &now

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, mapWriteError(err, record)
	}
	return record, nil
}

// UpdateProfile writes name, email and role of an existing record.
func (a *users) UpdateProfile(ctx context.Context, record *User) (*User, error) {
	return a.UpdateProfileTx(ctx, a.db, record)
}

func (a *users) UpdateProfileTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)

	now := time.Now().UTC()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column("name", "email", "role", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, mapWriteError(err, record)
	}
	if err := ensureAffected(res, record.ID); err != nil {
		return nil, err
	}

	return a.GetByIDTx(ctx, tx, record.ID)
}

// UpdateExternalIDTx rebinds a record to a new provider identity.
func (a *users) UpdateExternalIDTx(ctx context.Context, tx bun.IDB, id int64, externalID string) (*User, error) {
	record := &User{ID: id, ExternalID: externalID}
	now := time.Now().UTC()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column("cognito_id", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, mapWriteError(err, record)
	}
	if err := ensureAffected(res, id); err != nil {
		return nil, err
	}

	return a.GetByIDTx(ctx, tx, id)
}

func (a *users) UpdateRoleTx(ctx context.Context, tx bun.IDB, id int64, role UserRole) (*User, error) {
	record := &User{ID: id, Role: role}
	now := time.Now().UTC()
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(record).
		Column("role", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, mapWriteError(err, record)
	}
	if err := ensureAffected(res, id); err != nil {
		return nil, err
	}

	return a.GetByIDTx(ctx, tx, id)
}

func (a *users) getBy(ctx context.Context, tx bun.IDB, column string, value any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound.Clone().WithMetadata(map[string]any{
				column: value,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user")
	}

	return record, nil
}

func ensureAffected(res sql.Result, id int64) error {
	if res == nil {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrUserNotFound.Clone().WithMetadata(map[string]any{
			"id": id,
		})
	}
	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}
	record.Email = strings.TrimSpace(record.Email)
	record.ExternalID = strings.TrimSpace(record.ExternalID)
	record.Name = strings.TrimSpace(record.Name)
	record.Role = strings.TrimSpace(record.Role)
}

// mapWriteError turns unique constraint violations into conflict errors.
func mapWriteError(err error, record *User) error {
	if !isUniqueConstraint(err) {
		return errors.Wrap(err, errors.CategoryInternal, "failed to write user")
	}

	base := ErrExternalIDRegistered
	meta := map[string]any{"cognito_id": record.ExternalID}
	if strings.Contains(strings.ToLower(err.Error()), "email") {
		base = ErrEmailRegistered
		meta = map[string]any{"email": record.Email}
	}

	clone := base.Clone()
	clone.Source = err
	return clone.WithMetadata(meta)
}

func isUniqueConstraint(err error) bool {
	var pgErr pgdriver.Error
	if stderrors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
