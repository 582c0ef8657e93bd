package relay

import (
	"context"
	"testing"

	users "github.com/homeharmony/go-users"
	"github.com/homeharmony/go-users/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityEvents_PublishesRemaps(t *testing.T) {
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	sink := NewIdentityEvents(broker)
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, users.ActivityEvent{
		EventType: users.ActivityEventUserProvisioned,
		NewID:     "sub-1",
	}))
	require.NoError(t, sink.Record(ctx, users.ActivityEvent{
		EventType: users.ActivityEventExternalIDRemapped,
		OldID:     "synthetic-1",
		NewID:     "sub-1",
	}))

	msgs := broker.Messages(TopicIDUpdate)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sub-1", string(msgs[0].Key))
	assert.JSONEq(t, `{"old_id":"synthetic-1","new_id":"sub-1"}`, string(msgs[0].Value))
}

func TestIdentityEvents_TenantFirstLogin(t *testing.T) {
	store := newTestStore(t)
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	reconciler := users.NewReconciler(store).
		WithIDGenerator(func() string { return "placeholder-1" }).
		WithActivitySink(NewIdentityEvents(broker))

	ctx := context.Background()

	tenant, err := reconciler.PromoteTenant(ctx, "Tess", "tess@test.com")
	require.NoError(t, err)
	assert.Equal(t, "placeholder-1", tenant.ExternalID)

	claims := &users.Claims{Subject: "sub-real", Email: "tess@test.com", GivenName: "Tess"}

	user, err := reconciler.GetOrCreate(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, user.ID)
	assert.Equal(t, "sub-real", user.ExternalID)

	// a second login is a no-op
	_, err = reconciler.GetOrCreate(ctx, claims)
	require.NoError(t, err)

	msgs := broker.Messages(TopicIDUpdate)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"old_id":"placeholder-1","new_id":"sub-real"}`, string(msgs[0].Value))
}
