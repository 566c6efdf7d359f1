package handlers_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/todomaster/internal/handlers/testutil"
	"github.com/charlesng35/todomaster/internal/models"
	"github.com/charlesng35/todomaster/internal/security"
)

const strongPassword = "Passw0rdOk"

var forbiddenUserKeys = []string{
	"password", "password_hash", "PasswordHash",
	"login_attempts", "lock_until", "last_failed_login",
	"oauth_access_token", "oauth_refresh_token", "oauth_provider_id", "oauth_token_expiry",
}

func requireSanitizedUser(t *testing.T, raw json.RawMessage) {
	t.Helper()

	var data struct {
		User map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))
	require.NotEmpty(t, data.User)
	for _, key := range forbiddenUserKeys {
		require.NotContains(t, data.User, key)
	}
}

func TestAuthHandler_RegisterLoginMe(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "Ada@Example.com",
		"password": strongPassword,
		"name":     "Ada Lovelace",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.True(t, resp.Success)
	requireSanitizedUser(t, resp.Data)

	var registered testutil.AuthPayload
	testutil.DecodeInto(t, resp.Data, &registered)
	require.Equal(t, "ada@example.com", registered.User.Email)
	require.Equal(t, "Ada Lovelace", registered.User.Name)
	require.True(t, registered.User.HasPassword)
	require.False(t, registered.User.IsEmailVerified)
	require.Equal(t, models.DefaultPreferences(), registered.User.Preferences)

	userID, err := env.JWT.Verify(registered.Token)
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, userID)

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": strongPassword,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = testutil.DecodeResponse(t, w)
	requireSanitizedUser(t, resp.Data)

	var login testutil.AuthPayload
	testutil.DecodeInto(t, resp.Data, &login)
	require.Equal(t, registered.User.ID, login.User.ID)

	for _, path := range []string{"/api/auth/me", "/api/auth/profile"} {
		me := env.Request(http.MethodGet, path, nil, login.Token)
		require.Equal(t, http.StatusOK, me.Code, me.Body.String())
		meResp := testutil.DecodeResponse(t, me)
		requireSanitizedUser(t, meResp.Data)

		var payload struct {
			User testutil.UserPayload `json:"user"`
		}
		testutil.DecodeInto(t, meResp.Data, &payload)
		require.Equal(t, registered.User.ID, payload.User.ID)
	}
}

func TestAuthHandler_RegisterValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := []struct {
		name    string
		payload map[string]string
		message string
	}{
		{
			name:    "weak password",
			payload: map[string]string{"email": "a@example.com", "password": "lowercase1", "name": "Ada"},
			message: "password must contain at least one lowercase letter, one uppercase letter, and one number",
		},
		{
			name:    "short password",
			payload: map[string]string{"email": "a@example.com", "password": "Ab1", "name": "Ada"},
			message: "password must be at least 6 characters",
		},
		{
			name:    "password over bcrypt limit",
			payload: map[string]string{"email": "a@example.com", "password": "Aa1" + strings.Repeat("x", 80), "name": "Ada"},
			message: "password must be at most 72 bytes",
		},
		{
			name:    "invalid email",
			payload: map[string]string{"email": "not-an-email", "password": strongPassword, "name": "Ada"},
			message: "email must be a valid email address",
		},
		{
			name:    "short name",
			payload: map[string]string{"email": "a@example.com", "password": strongPassword, "name": "A"},
			message: "name must be at least 2 characters",
		},
		{
			name:    "missing name",
			payload: map[string]string{"email": "a@example.com", "password": strongPassword},
			message: "name is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.Request(http.MethodPost, "/api/auth/register", tc.payload, "")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := testutil.DecodeResponse(t, w)
			require.False(t, resp.Success)
			require.Equal(t, "BAD_REQUEST", resp.Error.Code)
			require.Contains(t, resp.Error.Message, tc.message)
		})
	}

	var count int64
	require.NoError(t, env.DB.Model(&models.User{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestAuthHandler_RegisterDuplicateEmail(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("dup@example.com", strongPassword, "First")

	w := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "DUP@example.com",
		"password": strongPassword,
		"name":     "Second",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "DUPLICATE_EMAIL", resp.Error.Code)
}

func TestAuthHandler_LoginInvalidCredentialsAreIndistinguishable(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("known@example.com", strongPassword, "Known")

	unknown := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "nobody@example.com", "password": strongPassword,
	}, "")
	wrong := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "known@example.com", "password": "Wr0ngPassword",
	}, "")

	require.Equal(t, http.StatusBadRequest, unknown.Code)
	require.Equal(t, http.StatusBadRequest, wrong.Code)
	require.JSONEq(t, unknown.Body.String(), wrong.Body.String())
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, wrong).Error.Code)

	failed := env.EventsOfType(security.EventFailedLogin)
	require.Len(t, failed, 2)
	require.Equal(t, "unknown_email", failed[0].Details["reason"])
	require.Equal(t, "invalid_password", failed[1].Details["reason"])
	require.Equal(t, "192.0.2.1", failed[1].IP)
	require.Equal(t, "handler-tests", failed[1].UserAgent)
}

func TestAuthHandler_LoginLockout(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("locked@example.com", strongPassword, "Locked Out")
	session := env.Login("locked@example.com", strongPassword)

	bad := map[string]string{"email": "locked@example.com", "password": "Wr0ngPassword"}
	for i := 0; i < 4; i++ {
		w := env.Request(http.MethodPost, "/api/auth/login", bad, "")
		require.Equal(t, http.StatusBadRequest, w.Code, "attempt %d", i+1)
	}

	w := env.Request(http.MethodPost, "/api/auth/login", bad, "")
	require.Equal(t, http.StatusLocked, w.Code, w.Body.String())
	require.Equal(t, "7200", w.Header().Get("Retry-After"))
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "ACCOUNT_LOCKED", resp.Error.Code)
	require.Equal(t, 7200, resp.Error.RetryAfter)

	env.Clock.Advance(10 * time.Minute)
	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "locked@example.com", "password": strongPassword,
	}, "")
	require.Equal(t, http.StatusLocked, w.Code)
	require.Equal(t, 6600, testutil.DecodeResponse(t, w).Error.RetryAfter)

	me := env.Request(http.MethodGet, "/api/auth/me", nil, session.Token)
	require.Equal(t, http.StatusLocked, me.Code)
	require.Equal(t, "6600", me.Header().Get("Retry-After"))

	require.Len(t, env.EventsOfType(security.EventAccountLocked), 1)
	require.Len(t, env.AlertsOfType(security.AlertAccountLockout), 1)
	require.Len(t, env.AlertsOfType(security.AlertBruteForce), 1)

	env.Clock.Advance(2 * time.Hour)
	me = env.Request(http.MethodGet, "/api/auth/me", nil, session.Token)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	env.Login("locked@example.com", strongPassword)
}

func TestAuthHandler_MeRequiresValidToken(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "AUTHENTICATION_REQUIRED", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_TOKEN", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAuthHandler_UpdateProfile(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.Register("profile@example.com", strongPassword, "Profile")
	env.Register("taken@example.com", strongPassword, "Taken")

	w := env.Request(http.MethodPut, "/api/auth/profile", map[string]any{
		"name": "  Renamed  ",
		"preferences": map[string]any{
			"theme":         "dark",
			"notifications": map[string]any{"push": true},
		},
	}, session.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	requireSanitizedUser(t, resp.Data)

	var payload struct {
		User testutil.UserPayload `json:"user"`
	}
	testutil.DecodeInto(t, resp.Data, &payload)
	require.Equal(t, "Renamed", payload.User.Name)
	require.Equal(t, models.ThemeDark, payload.User.Preferences.Theme)
	require.True(t, payload.User.Preferences.Notifications.Push)
	require.True(t, payload.User.Preferences.Notifications.Email)
	require.True(t, payload.User.Preferences.Notifications.Weekly)

	w = env.Request(http.MethodPut, "/api/auth/profile", map[string]any{
		"preferences": map[string]any{"theme": "neon"},
	}, session.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "theme must be one of: light, dark, system")

	w = env.Request(http.MethodPut, "/api/auth/profile", map[string]any{"email": "taken@example.com"}, session.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "EMAIL_TAKEN", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPut, "/api/auth/profile", map[string]any{"email": "moved@example.com"}, session.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)
	require.Equal(t, "moved@example.com", payload.User.Email)
	require.False(t, payload.User.IsEmailVerified)
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.Register("change@example.com", strongPassword, "Changer")

	w := env.Request(http.MethodPut, "/api/auth/change-password", map[string]string{
		"current_password": "Wr0ngPassword",
		"new_password":     "N3wPassword",
	}, session.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "CURRENT_PASSWORD_INCORRECT", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPut, "/api/auth/change-password", map[string]string{
		"current_password": strongPassword,
		"new_password":     "weak",
	}, session.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPut, "/api/auth/change-password", map[string]string{
		"current_password": strongPassword,
		"new_password":     "Aa1" + strings.Repeat("x", 80),
	}, session.Token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)
	require.Contains(t, resp.Error.Message, "at most 72 bytes")

	w = env.Request(http.MethodPut, "/api/auth/change-password", map[string]string{
		"current_password": strongPassword,
		"new_password":     "N3wPassword",
	}, session.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.Login("change@example.com", "N3wPassword")
	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "change@example.com", "password": strongPassword,
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_DeleteAccountCascades(t *testing.T) {
	env := testutil.NewEnv(t)
	session := env.Register("leaving@example.com", strongPassword, "Leaving")
	other := env.Register("staying@example.com", strongPassword, "Staying")

	require.NoError(t, env.DB.Create(&models.Task{UserID: session.User.ID, Title: "mine"}).Error)
	require.NoError(t, env.DB.Create(&models.Task{UserID: other.User.ID, Title: "theirs"}).Error)

	w := env.Request(http.MethodDelete, "/api/auth/account", nil, session.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tasks []models.Task
	require.NoError(t, env.DB.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	require.Equal(t, other.User.ID, tasks[0].UserID)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, session.Token)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "USER_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}
