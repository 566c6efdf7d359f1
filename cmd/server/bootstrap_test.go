package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/todomaster/internal/app"
	"github.com/charlesng35/todomaster/internal/cache"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	t.Setenv("GIN_DEBUG", "true")

	dir := t.TempDir()
	return &app.Config{
		Server: app.ServerConfig{FrontendURL: "http://localhost:3000"},
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "todomaster.sqlite"),
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: "bootstrap-test-secret", Issuer: "todomaster", TTL: time.Hour},
		},
		Security: app.SecurityConfig{
			EventLog: filepath.Join(dir, "logs", "security-events.log"),
			AlertLog: filepath.Join(dir, "logs", "security-alerts.log"),
		},
	}
}

func serve(t *testing.T, stack *runtimeStack, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestBootstrapRuntime(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)

	require.Nil(t, stack.Redis)
	require.IsType(t, &cache.DatabaseStore{}, stack.Store)
	require.Equal(t, http.StatusOK, serve(t, stack, http.MethodGet, "/health").Code)
	require.Equal(t, http.StatusNotFound, serve(t, stack, http.MethodGet, "/auth/google").Code)
	require.Equal(t, http.StatusUnauthorized, serve(t, stack, http.MethodGet, "/api/auth/me").Code)

	require.NoError(t, stack.Shutdown(context.Background()))
}

func TestBootstrapRuntimeWithGoogleAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: mr.Addr()}
	cfg.Auth.Google = app.GoogleSettings{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:5000/auth/google/callback",
	}

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background()) })

	require.NotNil(t, stack.Redis)
	require.IsType(t, &cache.RedisStore{}, stack.Store)

	w := serve(t, stack, http.MethodGet, "/auth/google")
	require.Equal(t, http.StatusFound, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://accounts.google.com/"))
	require.NotEmpty(t, mr.Keys(), "oauth state should be stored in redis")
}

func TestBootstrapRuntimeFallsBackWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: addr, Timeout: 200 * time.Millisecond}

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background()) })

	require.Nil(t, stack.Redis)
	require.IsType(t, &cache.DatabaseStore{}, stack.Store)
}

func TestBootstrapRuntimeRejectsBadEncryptionKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.OAuth.TokenEncryptionKey = "not-a-key"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.ErrorContains(t, err, "does not exist")
}
