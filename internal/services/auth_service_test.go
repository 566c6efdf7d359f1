package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/todomaster/internal/security"
	"github.com/charlesng35/todomaster/pkg/crypto"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
)

func registerBob(t *testing.T, env *testEnv) *AuthResult {
	t.Helper()
	result, err := env.auth.Register(context.Background(), RegisterInput{
		Email:    "bob@example.com",
		Password: "Passw0rd",
		Name:     "Bob",
	})
	require.NoError(t, err)
	return result
}

func login(env *testEnv, password string) (*AuthResult, error) {
	return env.auth.Login(context.Background(), LoginInput{
		Email:       "bob@example.com",
		Password:    password,
		RequestMeta: RequestMeta{IPAddress: "10.0.0.1", UserAgent: "test-agent"},
	})
}

func TestAuthServiceRegisterIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	result := registerBob(t, env)
	require.NotEmpty(t, result.Token)

	userID, err := env.jwt.Verify(result.Token)
	require.NoError(t, err)
	require.Equal(t, result.User.ID, userID)

	_, err = env.auth.Register(context.Background(), RegisterInput{Email: "BOB@example.com", Password: "Passw0rd", Name: "Bob"})
	require.ErrorIs(t, err, apperrors.ErrDuplicateEmail)
}

func TestAuthServiceLoginSuccessResetsCounters(t *testing.T) {
	env := newTestEnv(t)
	registered := registerBob(t, env)

	_, err := login(env, "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	result, err := login(env, "Passw0rd")
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, result.User.ID)
	require.Zero(t, result.User.LoginAttempts)
	require.NotNil(t, result.User.LastLogin)

	loaded, err := env.users.FindByID(context.Background(), registered.User.ID)
	require.NoError(t, err)
	require.Zero(t, loaded.LoginAttempts)
	require.Nil(t, loaded.LastFailedLogin)
}

func TestAuthServiceUnknownEmailMatchesWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	registerBob(t, env)

	_, unknownErr := env.auth.Login(context.Background(), LoginInput{
		Email:       "nobody@example.com",
		Password:    "Passw0rd",
		RequestMeta: RequestMeta{IPAddress: "10.0.0.2"},
	})
	_, wrongErr := login(env, "nope")

	var unknownApp, wrongApp *apperrors.AppError
	require.True(t, errors.As(unknownErr, &unknownApp))
	require.True(t, errors.As(wrongErr, &wrongApp))
	require.Equal(t, wrongApp.StatusCode, unknownApp.StatusCode)
	require.Equal(t, wrongApp.Message, unknownApp.Message)

	failures := env.events.ofType(security.EventFailedLogin)
	require.Len(t, failures, 2)
	require.Equal(t, "unknown_email", failures[0].Details["reason"])
	require.Equal(t, "10.0.0.2", failures[0].IP)
	require.Equal(t, "invalid_password", failures[1].Details["reason"])
	require.Equal(t, "test-agent", failures[1].UserAgent)
}

func TestAuthServiceLockoutScenario(t *testing.T) {
	env := newTestEnv(t)
	registered := registerBob(t, env)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := login(env, "wrong")
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "attempt %d", i)
	}
	require.Empty(t, env.events.ofType(security.EventAccountLocked))

	_, err := login(env, "wrong")
	var locked *AccountLockedError
	require.True(t, errors.As(err, &locked))
	require.Equal(t, 7200, locked.RetryAfter)
	require.ErrorIs(t, err, apperrors.ErrAccountLocked)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, 423, appErr.StatusCode)
	require.Equal(t, 7200, appErr.RetryAfter)

	lockEvents := env.events.ofType(security.EventAccountLocked)
	require.Len(t, lockEvents, 1)
	require.Equal(t, registered.User.ID, lockEvents[0].UserID)
	require.Len(t, env.events.ofType(security.EventFailedLogin), 5)

	lockedUser, err := env.users.FindByID(ctx, registered.User.ID)
	require.NoError(t, err)
	lockUntil := *lockedUser.LockUntil

	// Correct password while locked is still rejected without a password check.
	env.clock.Advance(10 * time.Minute)
	_, err = login(env, "Passw0rd")
	require.True(t, errors.As(err, &locked))
	require.Equal(t, 6600, locked.RetryAfter)
	require.Len(t, env.events.ofType(security.EventFailedLogin), 5)

	stillLocked, err := env.users.FindByID(ctx, registered.User.ID)
	require.NoError(t, err)
	require.Equal(t, 5, stillLocked.LoginAttempts)
	require.True(t, stillLocked.LockUntil.Equal(lockUntil))

	env.clock.Advance(2 * time.Hour)
	result, err := login(env, "Passw0rd")
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, result.User.ID)

	unlocked, err := env.users.FindByID(ctx, registered.User.ID)
	require.NoError(t, err)
	require.Zero(t, unlocked.LoginAttempts)
	require.Nil(t, unlocked.LockUntil)
}

func TestAuthServiceExpiredLockRestartsCount(t *testing.T) {
	env := newTestEnv(t)
	registered := registerBob(t, env)

	for i := 0; i < 5; i++ {
		_, _ = login(env, "wrong")
	}
	env.clock.Advance(2*time.Hour + time.Second)

	_, err := login(env, "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	loaded, err := env.users.FindByID(context.Background(), registered.User.ID)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.LoginAttempts)
	require.Nil(t, loaded.LockUntil)
}

func TestAuthServiceOAuthOnlyAccountCannotUsePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Create(ctx, CreateUserInput{
		Email:    "bob@example.com",
		Name:     "Bob",
		Identity: &ExternalIdentity{Provider: "google", Subject: "g-1"},
	})
	require.NoError(t, err)

	_, err = login(env, "anything")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	failures := env.events.ofType(security.EventFailedLogin)
	require.Len(t, failures, 1)
	require.Equal(t, "no_password", failures[0].Details["reason"])
}

func TestAuthServiceChangePassword(t *testing.T) {
	env := newTestEnv(t)
	registered := registerBob(t, env)
	ctx := context.Background()

	err := env.auth.ChangePassword(ctx, registered.User.ID, "wrong", "N3wPassword")
	require.ErrorIs(t, err, apperrors.ErrCurrentPasswordIncorrect)

	require.NoError(t, env.auth.ChangePassword(ctx, registered.User.ID, "Passw0rd", "N3wPassword"))

	loaded, err := env.users.FindByID(ctx, registered.User.ID)
	require.NoError(t, err)
	require.True(t, crypto.VerifyPassword(loaded.PasswordHash, "N3wPassword"))
	require.False(t, crypto.VerifyPassword(loaded.PasswordHash, "Passw0rd"))

	require.ErrorIs(t, env.auth.ChangePassword(ctx, "missing", "a", "b"), ErrUserNotFound)
}

func TestAuthServiceDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	registered := registerBob(t, env)
	ctx := context.Background()

	require.NoError(t, env.auth.DeleteAccount(ctx, registered.User.ID))

	_, err := login(env, "Passw0rd")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestAuthServiceLockStatus(t *testing.T) {
	env := newTestEnv(t)
	registered := registerBob(t, env)

	locked, retry := env.auth.LockStatus(registered.User)
	require.False(t, locked)
	require.Zero(t, retry)

	for i := 0; i < 5; i++ {
		_, _ = login(env, "wrong")
	}
	user, err := env.users.FindByID(context.Background(), registered.User.ID)
	require.NoError(t, err)

	locked, retry = env.auth.LockStatus(user)
	require.True(t, locked)
	require.Equal(t, 7200, retry)
}
