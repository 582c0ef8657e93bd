package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	users "github.com/homeharmony/go-users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

func TestSetup_SQLite(t *testing.T) {
	ctx := context.Background()

	db, repo, err := Setup(ctx, Config{Driver: DriverSQLite, DSN: memoryDSN()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, repo.Ping(ctx))

	// a second call leaves the existing table alone
	require.NoError(t, repo.EnsureSchema(ctx))

	created, err := repo.Users().Create(ctx, &users.User{
		ExternalID: "sub-1",
		Name:       "John",
		Email:      "john@test.com",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = repo.Users().Create(ctx, &users.User{
		ExternalID: "sub-2",
		Email:      "john@test.com",
	})
	require.Error(t, err)
	assert.True(t, users.IsEmailRegistered(err))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestValueOr(t *testing.T) {
	assert.Equal(t, "localhost", valueOr(" ", "localhost"))
	assert.Equal(t, "db", valueOr("db", "localhost"))
}
