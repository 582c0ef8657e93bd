package users_test

import (
	"context"
	"sort"
	"testing"

	users "github.com/homeharmony/go-users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestUsersRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := setupRepository(t).Users()

	created := seedUser(t, store, &users.User{ExternalID: " c1 ", Name: " John ", Email: "john@test.com "})
	assert.NotZero(t, created.ID)
	assert.Equal(t, "c1", created.ExternalID)
	assert.Equal(t, "John", created.Name)
	assert.Equal(t, "john@test.com", created.Email)

	byID, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", byID.ExternalID)

	byExternal, err := store.GetByExternalID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byExternal.ID)

	byEmail, err := store.GetByEmail(ctx, "john@test.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Empty(t, byEmail.Role)

	_, err = store.GetByExternalID(ctx, "missing")
	assert.True(t, users.IsUserNotFound(err))

	_, err = store.GetByEmail(ctx, "missing@test.com")
	assert.True(t, users.IsUserNotFound(err))
}

func TestUsersRepository_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	store := setupRepository(t).Users()
	seedUser(t, store, &users.User{ExternalID: "c1", Email: "a@test.com"})

	_, err := store.Create(ctx, &users.User{ExternalID: "c2", Email: "a@test.com"})
	require.Error(t, err)
	assert.True(t, users.IsEmailRegistered(err))
	assert.True(t, users.IsUniqueViolation(err))

	_, err = store.Create(ctx, &users.User{ExternalID: "c1", Email: "b@test.com"})
	require.Error(t, err)
	assert.False(t, users.IsEmailRegistered(err))
	assert.True(t, users.IsUniqueViolation(err))
}

func TestUsersRepository_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	store := setupRepository(t).Users()
	user := seedUser(t, store, &users.User{ExternalID: "c1", Name: "A", Email: "a@test.com"})
	seedUser(t, store, &users.User{ExternalID: "c2", Email: "b@test.com"})

	user.Name = "Alice"
	user.Email = "alice@test.com"
	user.Role = users.RoleLandlord

	updated, err := store.UpdateProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)
	assert.Equal(t, "alice@test.com", updated.Email)
	assert.Equal(t, users.RoleLandlord, updated.Role)
	assert.Equal(t, "c1", updated.ExternalID)

	updated.Email = "b@test.com"
	_, err = store.UpdateProfile(ctx, updated)
	assert.True(t, users.IsEmailRegistered(err))

	_, err = store.UpdateProfile(ctx, &users.User{ID: 999, Email: "x@test.com"})
	assert.True(t, users.IsUserNotFound(err))
}

func TestUsersRepository_RemapInTx(t *testing.T) {
	ctx := context.Background()
	store := setupRepository(t).Users()
	tenant := seedUser(t, store, &users.User{ExternalID: "tenant-1", Email: "t@test.com", Role: users.RoleTenant})

	err := store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.UpdateExternalIDTx(ctx, tx, tenant.ID, "sub-1")
		return err
	})
	require.NoError(t, err)

	_, err = store.GetByExternalID(ctx, "tenant-1")
	assert.True(t, users.IsUserNotFound(err))

	remapped, err := store.GetByExternalID(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, remapped.ID)
	assert.Equal(t, users.RoleTenant, remapped.Role)

	err = store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.UpdateRoleTx(ctx, tx, tenant.ID, users.RoleLandlord)
		return err
	})
	require.NoError(t, err)

	promoted, err := store.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, users.RoleLandlord, promoted.Role)
}

func TestUsersRepository_ListByExternalIDs(t *testing.T) {
	ctx := context.Background()
	store := setupRepository(t).Users()
	seedUser(t, store, &users.User{ExternalID: "c1", Name: "One", Email: "1@test.com"})
	seedUser(t, store, &users.User{ExternalID: "c2", Name: "Two", Email: "2@test.com"})
	seedUser(t, store, &users.User{ExternalID: "c3", Name: "Three", Email: "3@test.com"})

	records, err := store.ListByExternalIDs(ctx, []string{"c3", "c1", "ghost"})
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ExternalID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"c1", "c3"}, ids)

	records, err = store.ListByExternalIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUser_ToResponse(t *testing.T) {
	res := (&users.User{ID: 1, ExternalID: "c1", Name: "A", Email: "a@test.com"}).ToResponse()
	assert.Nil(t, res.Role)

	res = (&users.User{ID: 1, Role: users.RoleTenant}).ToResponse()
	require.NotNil(t, res.Role)
	assert.Equal(t, "tenant", *res.Role)
}
