package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	users "github.com/homeharmony/go-users"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and addresses the user database.
type Config struct {
	// Driver is "postgres" or "sqlite". Default: postgres.
	Driver string

	// DSN is used as is when set. For sqlite it is the file name or
	// "file::memory:?cache=shared".
	DSN string

	// Postgres connection parts, used when DSN is empty.
	Host     string
	Port     string
	User     string
	Password string
	Name     string

	// Debug logs every query.
	Debug bool

	MaxOpenConns int
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverPostgres, "postgresql", "pg":
		db = openPostgres(cfg)
	case DriverSQLite, "sqlite3":
		db, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("repository: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping %s: %w", cfg.Driver, err)
	}

	return db, nil
}

// Setup opens the database, builds the repositories and creates missing tables.
func Setup(ctx context.Context, cfg Config) (*bun.DB, users.RepositoryManager, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	repo := users.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("repository: ensure schema: %w", err)
	}

	return db, repo, nil
}

func openPostgres(cfg Config) *bun.DB {
	var opts []pgdriver.Option
	if cfg.DSN != "" {
		opts = append(opts, pgdriver.WithDSN(cfg.DSN))
	} else {
		host := valueOr(cfg.Host, "localhost")
		port := valueOr(cfg.Port, "5432")
		opts = append(opts,
			pgdriver.WithAddr(net.JoinHostPort(host, port)),
			pgdriver.WithUser(cfg.User),
			pgdriver.WithPassword(cfg.Password),
			pgdriver.WithDatabase(cfg.Name),
			pgdriver.WithInsecure(true),
		)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	return bun.NewDB(sqldb, pgdialect.New())
}

func openSQLite(cfg Config) (*bun.DB, error) {
	dsn := valueOr(cfg.DSN, "file::memory:?cache=shared")

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}

	// sqlite serializes writers, a single connection also keeps
	// in-memory databases alive
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
