package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
	"github.com/charlesng35/todomaster/internal/database/testutil"
	"github.com/charlesng35/todomaster/internal/security"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []security.Event
}

func (r *recordingEmitter) Emit(event security.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) ofType(t security.EventType) []security.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []security.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeProvider struct {
	mu        sync.Mutex
	refreshed []string
	token     *oauth2.Token
	err       error
}

func (p *fakeProvider) Name() string { return providers.GoogleName }

func (p *fakeProvider) AuthCodeURL(req providers.AuthRequest) string {
	return "https://accounts.example.com/auth?state=" + req.State
}

func (p *fakeProvider) Exchange(context.Context, providers.ExchangeRequest) (*providers.Identity, *oauth2.Token, error) {
	return nil, nil, p.err
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = append(p.refreshed, refreshToken)
	if p.err != nil {
		return nil, p.err
	}
	return p.token, nil
}

type testEnv struct {
	db       *gorm.DB
	clock    *testClock
	jwt      *auth.JWTService
	users    *UserService
	auth     *AuthService
	oauth    *OAuthService
	events   *recordingEmitter
	provider *fakeProvider
}

func newTestEnv(t *testing.T, userOpts ...UserServiceOption) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{Secret: "test-secret", Issuer: "todomaster", Clock: clock.Now})
	require.NoError(t, err)

	users, err := NewUserService(db, append([]UserServiceOption{WithUserClock(clock.Now)}, userOpts...)...)
	require.NoError(t, err)

	events := &recordingEmitter{}
	authSvc, err := NewAuthService(users, jwtSvc, auth.NewLockoutPolicy(0, 0), events, WithAuthClock(clock.Now))
	require.NoError(t, err)

	provider := &fakeProvider{}
	registry := providers.NewRegistry()
	require.NoError(t, registry.Register(provider))

	oauthSvc, err := NewOAuthService(users, jwtSvc, registry, WithOAuthClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		clock:    clock,
		jwt:      jwtSvc,
		users:    users,
		auth:     authSvc,
		oauth:    oauthSvc,
		events:   events,
		provider: provider,
	}
}
