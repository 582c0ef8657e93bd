package users

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Users() Users
}

type mngr struct {
	db    *bun.DB
	users Users
}

// NewRepositoryManager builds the repositories on top of db
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:    db,
		users: NewUsersRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// EnsureSchema creates missing tables. Existing tables are left untouched.
func (m mngr) EnsureSchema(ctx context.Context) error {
	models := []any{
		(*User)(nil),
	}
	for _, model := range models {
		if _, err := m.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m mngr) Users() Users {
	return m.users
}
