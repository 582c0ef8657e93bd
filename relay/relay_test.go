package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	users "github.com/homeharmony/go-users"
	"github.com/homeharmony/go-users/bus"
	"github.com/homeharmony/go-users/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicDirectory struct{}

func (panicDirectory) ListByExternalIDs(context.Context, []string) ([]*users.User, error) {
	panic("directory exploded")
}

type failingProvisioner struct{}

func (failingProvisioner) PromoteTenant(context.Context, string, string) (*users.User, error) {
	return nil, errors.New("store unavailable")
}

func stubVerifier() users.TokenVerifier {
	return users.TokenVerifierFunc(func(_ context.Context, token string) (*users.Claims, error) {
		switch token {
		case "good":
			return &users.Claims{Subject: "sub-good"}, nil
		case "keys-down":
			return nil, users.NewKeyFetchError(errors.New("connection refused"))
		case "boom":
			return nil, errors.New("unexpected")
		default:
			return nil, users.NewTokenInvalid(users.ReasonExpired, nil)
		}
	})
}

func newTestStore(t *testing.T) users.Users {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, repo, err := repository.Setup(context.Background(), repository.Config{
		Driver: repository.DriverSQLite,
		DSN:    dsn,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return repo.Users()
}

// startRelay runs r until the test ends.
func startRelay(t *testing.T, r *Relay) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func waitForMessages(t *testing.T, broker *bus.Memory, topic string, n int) []bus.Message {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(broker.Messages(topic)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d messages on %s", n, topic)

	return broker.Messages(topic)
}

func publish(t *testing.T, broker *bus.Memory, topic, key string, v any) {
	t.Helper()
	require.NoError(t, bus.PublishJSON(context.Background(), broker, topic, []byte(key), v))
}

func decode[T any](t *testing.T, msg bus.Message) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(msg.Value, &out))
	return out
}

func TestRelay_ValidateToken(t *testing.T) {
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	r := New(broker, broker, stubVerifier(), failingProvisioner{}, panicDirectory{})
	startRelay(t, r)

	publish(t, broker, TopicValidationRequest, "req-1", ValidationRequest{AccessToken: "good"})
	publish(t, broker, TopicValidationRequest, "req-2", ValidationRequest{AccessToken: "stale"})
	publish(t, broker, TopicValidationRequest, "req-3", ValidationRequest{AccessToken: "keys-down"})
	publish(t, broker, TopicValidationRequest, "req-4", ValidationRequest{})

	responses := waitForMessages(t, broker, TopicValidationResponse, 4)

	assert.Equal(t, "req-1", string(responses[0].Key))
	ok := decode[ValidationResponse](t, responses[0])
	require.NotNil(t, ok.CognitoID)
	assert.Equal(t, "sub-good", *ok.CognitoID)
	assert.Empty(t, ok.Error)

	assert.Equal(t, "req-2", string(responses[1].Key))
	assert.JSONEq(t, `{"cognito_id":null,"error":"expired"}`, string(responses[1].Value))

	assert.Equal(t, "req-3", string(responses[2].Key))
	assert.JSONEq(t, `{"cognito_id":null,"error":"key_fetch_failed"}`, string(responses[2].Value))

	assert.Equal(t, "req-4", string(responses[3].Key))
	assert.JSONEq(t, `{"cognito_id":null,"error":"missing_token"}`, string(responses[3].Value))

	assert.Empty(t, broker.Messages(TopicDeadLetter))
}

func TestRelay_DeadLettersBadPayloads(t *testing.T) {
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	r := New(broker, broker, stubVerifier(), failingProvisioner{}, panicDirectory{})
	startRelay(t, r)

	require.NoError(t, broker.Publish(context.Background(), bus.Message{
		Topic: TopicValidationRequest,
		Key:   []byte("bad-1"),
		Value: []byte("{not json"),
	}))
	publish(t, broker, TopicValidationRequest, "boom-1", ValidationRequest{AccessToken: "boom"})
	publish(t, broker, TopicValidationRequest, "good-1", ValidationRequest{AccessToken: "good"})

	letters := waitForMessages(t, broker, TopicDeadLetter, 2)
	first := decode[DeadLetter](t, letters[0])
	assert.Equal(t, TopicValidationRequest, first.Topic)
	assert.Equal(t, "bad-1", first.Key)
	assert.Equal(t, "{not json", first.Payload)
	assert.NotEmpty(t, first.Error)

	second := decode[DeadLetter](t, letters[1])
	assert.Equal(t, "boom-1", second.Key)
	assert.Contains(t, second.Error, "unexpected")

	// the loop keeps going after a failure
	responses := waitForMessages(t, broker, TopicValidationResponse, 1)
	assert.Equal(t, "good-1", string(responses[0].Key))
}

func TestRelay_RecoversHandlerPanic(t *testing.T) {
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	r := New(broker, broker, stubVerifier(), failingProvisioner{}, panicDirectory{})
	startRelay(t, r)

	publish(t, broker, TopicTenantInfoRequest, "t-1", TenantInfoRequest{TenantIDs: []string{"a"}})
	publish(t, broker, TopicCreationRequest, "c-1", CreationRequest{UserData: TenantData{Name: "T", Email: "t@test.com"}})

	letters := waitForMessages(t, broker, TopicDeadLetter, 2)
	byKey := map[string]DeadLetter{}
	for _, msg := range letters {
		letter := decode[DeadLetter](t, msg)
		byKey[letter.Key] = letter
	}

	assert.Contains(t, byKey["t-1"].Error, "panic: directory exploded")
	assert.Equal(t, TopicTenantInfoRequest, byKey["t-1"].Topic)
	assert.Contains(t, byKey["c-1"].Error, "store unavailable")

	// validation loop is unaffected
	publish(t, broker, TopicValidationRequest, "v-1", ValidationRequest{AccessToken: "good"})
	waitForMessages(t, broker, TopicValidationResponse, 1)
}

func TestRelay_CreateUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	landlord, err := store.Create(ctx, &users.User{
		ExternalID: "sub-landlord",
		Name:       "Lee",
		Email:      "lee@test.com",
		Role:       users.RoleLandlord,
	})
	require.NoError(t, err)

	reconciler := users.NewReconciler(store).WithIDGenerator(func() string { return "synthetic-1" })

	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	startRelay(t, New(broker, broker, stubVerifier(), reconciler, store))

	publish(t, broker, TopicCreationRequest, "c-1", CreationRequest{UserData: TenantData{Name: "Lee", Email: "lee@test.com"}})
	publish(t, broker, TopicCreationRequest, "c-2", CreationRequest{UserData: TenantData{Name: "Tess", Email: "tess@test.com"}})

	responses := waitForMessages(t, broker, TopicCreationResponse, 2)

	assert.Equal(t, "c-1", string(responses[0].Key))
	assert.Equal(t, landlord.ExternalID, decode[CreationResponse](t, responses[0]).CognitoID)

	assert.Equal(t, "c-2", string(responses[1].Key))
	assert.Equal(t, "synthetic-1", decode[CreationResponse](t, responses[1]).CognitoID)

	promoted, err := store.GetByEmail(ctx, "lee@test.com")
	require.NoError(t, err)
	assert.Equal(t, users.RoleTenant, promoted.Role)
	assert.Equal(t, "sub-landlord", promoted.ExternalID)

	created, err := store.GetByExternalID(ctx, "synthetic-1")
	require.NoError(t, err)
	assert.Equal(t, "Tess", created.Name)
	assert.Equal(t, users.RoleTenant, created.Role)
}

func TestRelay_GetTenantsDataSkipsUnknownIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, u := range []*users.User{
		{ExternalID: "t-1", Name: "Ann", Email: "ann@test.com", Role: users.RoleTenant},
		{ExternalID: "t-2", Name: "Bob", Email: "bob@test.com", Role: users.RoleTenant},
	} {
		_, err := store.Create(ctx, u)
		require.NoError(t, err)
	}

	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	startRelay(t, New(broker, broker, stubVerifier(), users.NewReconciler(store), store))

	publish(t, broker, TopicTenantInfoRequest, "q-1", TenantInfoRequest{TenantIDs: []string{"t-1", "ghost", "t-2"}})
	publish(t, broker, TopicTenantInfoRequest, "q-2", TenantInfoRequest{})

	responses := waitForMessages(t, broker, TopicTenantInfoResponse, 2)
	assert.Equal(t, "q-1", string(responses[0].Key))
	assert.JSONEq(t, `{"t-1":["Ann","ann@test.com"],"t-2":["Bob","bob@test.com"]}`, string(responses[0].Value))
	assert.JSONEq(t, `{}`, string(responses[1].Value))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	broker := bus.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })

	r := New(broker, broker, stubVerifier(), failingProvisioner{}, panicDirectory{})
	assert.Len(t, r.Routes(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_RunFailsWhenSubscribeFails(t *testing.T) {
	broker := bus.NewMemory()
	require.NoError(t, broker.Close())

	err := New(broker, broker, stubVerifier(), failingProvisioner{}, panicDirectory{}).Run(context.Background())
	assert.ErrorIs(t, err, bus.ErrClosed)
}
