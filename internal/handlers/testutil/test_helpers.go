package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/charlesng35/todomaster/internal/api"
	"github.com/charlesng35/todomaster/internal/app"
	iauth "github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
	"github.com/charlesng35/todomaster/internal/cache"
	sharedtestutil "github.com/charlesng35/todomaster/internal/database/testutil"
	"github.com/charlesng35/todomaster/internal/models"
	"github.com/charlesng35/todomaster/internal/security"
	"github.com/charlesng35/todomaster/internal/services"
	"github.com/charlesng35/todomaster/pkg/response"
)

const (
	// FrontendURL is where federated logins are redirected in tests.
	FrontendURL = "http://frontend.test"
	jwtSecret   = "test-suite-super-secret-key-32-bytes!!"
)

// Clock is a settable time source shared by the services under test.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Users    *services.UserService
	Monitor  *security.Monitor
	Provider *FakeProvider
	Clock    *Clock
	Config   *app.Config
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	withoutProvider bool
	rateLimits      app.RateLimitConfig
}

// WithoutProvider builds the router with no identity provider registered.
func WithoutProvider() EnvOption {
	return func(cfg *envConfig) { cfg.withoutProvider = true }
}

// WithRateLimits enables rate limiting with the given rules.
func WithRateLimits(limits app.RateLimitConfig) EnvOption {
	return func(cfg *envConfig) { cfg.rateLimits = limits }
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var options envConfig
	for _, opt := range opts {
		opt(&options)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := &Clock{current: time.Now().UTC().Truncate(time.Second)}

	cfg := &app.Config{
		Server: app.ServerConfig{
			FrontendURL: FrontendURL,
			CORS:        app.CORSConfig{AllowedOrigins: []string{FrontendURL}},
			RateLimit:   options.rateLimits,
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	users, err := services.NewUserService(db, services.WithUserClock(clock.Now))
	require.NoError(t, err)

	monitor, err := security.NewMonitor(security.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = monitor.Close() })

	authSvc, err := services.NewAuthService(users, jwtSvc, cfg.Auth.LockoutPolicy(), monitor, services.WithAuthClock(clock.Now))
	require.NoError(t, err)

	registry := providers.NewRegistry()
	var provider *FakeProvider
	if !options.withoutProvider {
		provider = &FakeProvider{}
		require.NoError(t, registry.Register(provider))
	}

	oauthSvc, err := services.NewOAuthService(users, jwtSvc, registry, services.WithOAuthClock(clock.Now))
	require.NoError(t, err)

	states, err := iauth.NewStateStore(cache.NewDatabaseStore(db), cfg.Auth.StateTTL(), nil)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Config:    cfg,
		JWT:       jwtSvc,
		Users:     users,
		Auth:      authSvc,
		OAuth:     oauthSvc,
		Providers: registry,
		States:    states,
		Events:    monitor,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Users:    users,
		Monitor:  monitor,
		Provider: provider,
		Clock:    clock,
		Config:   cfg,
	}
}

// AuthPayload mirrors the register and login response payload.
type AuthPayload struct {
	Token string      `json:"token"`
	User  UserPayload `json:"user"`
}

// UserPayload captures the public user fields returned by the API.
type UserPayload struct {
	ID              string             `json:"id"`
	Email           string             `json:"email"`
	Name            string             `json:"name"`
	Preferences     models.Preferences `json:"preferences"`
	IsEmailVerified bool               `json:"is_email_verified"`
	HasPassword     bool               `json:"has_password"`
	OAuthProvider   string             `json:"oauth_provider"`
}

// Register creates an account through the API and returns the issued token.
func (e *Env) Register(email, password, name string) AuthPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var payload AuthPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &payload)
	require.NotEmpty(e.T, payload.Token)
	return payload
}

// Login authenticates with email and password and returns the issued token.
func (e *Env) Login(email, password string) AuthPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var payload AuthPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &payload)
	require.NotEmpty(e.T, payload.Token)
	return payload
}

// EventsOfType returns the recorded security events of the given type.
func (e *Env) EventsOfType(eventType security.EventType) []security.Event {
	var out []security.Event
	for _, event := range e.Monitor.RecentEvents(time.Hour) {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// AlertsOfType returns the raised security alerts of the given type.
func (e *Env) AlertsOfType(alertType security.AlertType) []security.Alert {
	var out []security.Alert
	for _, alert := range e.Monitor.RecentAlerts(time.Hour) {
		if alert.Type == alertType {
			out = append(out, alert)
		}
	}
	return out
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "handler-tests")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// RequestWithHeaders executes a bodiless request carrying the given headers.
func (e *Env) RequestWithHeaders(method, path string, headers http.Header) *httptest.ResponseRecorder {
	e.T.Helper()

	req := httptest.NewRequest(method, path, nil)
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// FakeProvider is an in-memory identity provider named "google".
type FakeProvider struct {
	mu sync.Mutex

	Identity    *providers.Identity
	Token       *oauth2.Token
	ExchangeErr error

	RefreshResult *oauth2.Token
	RefreshErr    error

	Exchanges []providers.ExchangeRequest
	Refreshes []string
}

// Name implements providers.Provider.
func (p *FakeProvider) Name() string {
	return providers.GoogleName
}

// AuthCodeURL implements providers.Provider.
func (p *FakeProvider) AuthCodeURL(req providers.AuthRequest) string {
	q := url.Values{}
	q.Set("state", req.State)
	q.Set("nonce", req.Nonce)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(req.PKCEVerifier))
	q.Set("code_challenge_method", "S256")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	return "https://accounts.provider.test/o/oauth2/auth?" + q.Encode()
}

// Exchange implements providers.Provider.
func (p *FakeProvider) Exchange(_ context.Context, req providers.ExchangeRequest) (*providers.Identity, *oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Exchanges = append(p.Exchanges, req)
	if p.ExchangeErr != nil {
		return nil, nil, p.ExchangeErr
	}
	identity := *p.Identity
	token := *p.Token
	return &identity, &token, nil
}

// Refresh implements providers.Provider.
func (p *FakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Refreshes = append(p.Refreshes, refreshToken)
	if p.RefreshErr != nil {
		return nil, p.RefreshErr
	}
	token := *p.RefreshResult
	return &token, nil
}
