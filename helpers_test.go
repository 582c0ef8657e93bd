package users_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	users "github.com/homeharmony/go-users"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupRepository(t *testing.T) users.RepositoryManager {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	repo := users.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func seedUser(t *testing.T, store users.Users, u *users.User) *users.User {
	t.Helper()

	created, err := store.Create(context.Background(), u)
	require.NoError(t, err)
	return created
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []users.ActivityEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, event users.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) ofType(eventType users.ActivityEventType) []users.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []users.ActivityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockIdentityProvider implements users.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) AuthCodeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, code string) (*users.Tokens, error) {
	args := m.Called(ctx, code)
	tokens, _ := args.Get(0).(*users.Tokens)
	return tokens, args.Error(1)
}

func (m *MockIdentityProvider) VerifyIDToken(ctx context.Context, idToken, accessToken string) (*users.Claims, error) {
	args := m.Called(ctx, idToken, accessToken)
	claims, _ := args.Get(0).(*users.Claims)
	return claims, args.Error(1)
}

func (m *MockIdentityProvider) LogoutURL() string {
	args := m.Called()
	return args.String(0)
}

// staticVerifier accepts the tokens it knows.
func staticVerifier(tokens map[string]*users.Claims) users.TokenVerifier {
	return users.TokenVerifierFunc(func(_ context.Context, token string) (*users.Claims, error) {
		if claims, ok := tokens[token]; ok {
			return claims, nil
		}
		return nil, users.NewTokenInvalid(users.ReasonSignature, nil)
	})
}
