package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/charlesng35/todomaster/internal/auth/providers"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
)

func googleIdentity(subject, email string, verified bool) *providers.Identity {
	return &providers.Identity{
		Provider:      providers.GoogleName,
		Subject:       subject,
		Email:         email,
		EmailVerified: verified,
		DisplayName:   "Alice Example",
		AvatarURL:     "https://example.com/a.png",
	}
}

func TestOAuthResolveCreatesAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, resolution, err := env.oauth.Resolve(ctx, googleIdentity("g-1", "Alice@Example.com", true))
	require.NoError(t, err)
	require.Equal(t, ResolutionCreated, resolution)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, "Alice Example", user.Name)
	require.True(t, user.IsEmailVerified)
	require.False(t, user.HasPassword())
	require.Equal(t, "https://example.com/a.png", user.Avatar)

	again, resolution, err := env.oauth.Resolve(ctx, googleIdentity("g-1", "changed@example.com", true))
	require.NoError(t, err)
	require.Equal(t, ResolutionExisting, resolution)
	require.Equal(t, user.ID, again.ID)
}

func TestOAuthResolveLinksVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	existing, err := env.users.Create(ctx, CreateUserInput{Email: "a@x.com", Password: "Passw0rd", Name: "A"})
	require.NoError(t, err)
	require.False(t, existing.IsEmailVerified)

	linked, resolution, err := env.oauth.Resolve(ctx, googleIdentity("P", "a@x.com", true))
	require.NoError(t, err)
	require.Equal(t, ResolutionLinked, resolution)
	require.Equal(t, existing.ID, linked.ID)
	require.True(t, linked.IsEmailVerified)
	require.NotNil(t, linked.OAuthProviderID)
	require.Equal(t, "P", *linked.OAuthProviderID)
	require.True(t, linked.HasPassword())

	var count int64
	require.NoError(t, env.db.Table("users").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestOAuthResolveRejectsAnomalies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Create(ctx, CreateUserInput{Email: "a@x.com", Password: "Passw0rd", Name: "A"})
	require.NoError(t, err)

	_, _, err = env.oauth.Resolve(ctx, googleIdentity("P", "a@x.com", false))
	require.ErrorIs(t, err, ErrEmailNotVerified)

	_, _, err = env.oauth.Resolve(ctx, googleIdentity("P", "", true))
	require.ErrorIs(t, err, ErrIdentityEmailMissing)

	_, _, err = env.oauth.Resolve(ctx, googleIdentity("P", "a@x.com", true))
	require.NoError(t, err)

	_, _, err = env.oauth.Resolve(ctx, googleIdentity("Q", "a@x.com", true))
	require.ErrorIs(t, err, ErrIdentityConflict)

	_, _, err = env.oauth.Resolve(ctx, nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestOAuthCompleteLoginPersistsTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expiry := env.clock.Now().Add(time.Hour)
	login, err := env.oauth.CompleteLogin(ctx, googleIdentity("g-1", "alice@example.com", true), &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       expiry,
	})
	require.NoError(t, err)
	require.Equal(t, ResolutionCreated, login.Resolution)

	userID, err := env.jwt.Verify(login.Token)
	require.NoError(t, err)
	require.Equal(t, login.User.ID, userID)

	// A repeat login without a refresh token keeps the stored one.
	_, err = env.oauth.CompleteLogin(ctx, googleIdentity("g-1", "alice@example.com", true), &oauth2.Token{
		AccessToken: "access-2",
		Expiry:      expiry,
	})
	require.NoError(t, err)

	user, err := env.users.FindByID(ctx, login.User.ID)
	require.NoError(t, err)
	tokens, err := env.users.OAuthTokens(user)
	require.NoError(t, err)
	require.Equal(t, "access-2", tokens.AccessToken)
	require.Equal(t, "refresh-1", tokens.RefreshToken)
}

func TestOAuthRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	login, err := env.oauth.CompleteLogin(ctx, googleIdentity("g-1", "alice@example.com", true), &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       env.clock.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)
	userID := login.User.ID

	result, err := env.oauth.Refresh(ctx, userID)
	require.NoError(t, err)
	require.False(t, result.Refreshed)
	require.Equal(t, 1800, result.ExpiresIn)
	require.Empty(t, env.provider.refreshed)

	env.clock.Advance(time.Hour)
	env.provider.token = &oauth2.Token{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Expiry:       env.clock.Now().Add(time.Hour),
	}
	result, err = env.oauth.Refresh(ctx, userID)
	require.NoError(t, err)
	require.True(t, result.Refreshed)
	require.True(t, result.Rotated)
	require.Equal(t, 3600, result.ExpiresIn)
	require.Equal(t, []string{"refresh-1"}, env.provider.refreshed)

	user, err := env.users.FindByID(ctx, userID)
	require.NoError(t, err)
	tokens, err := env.users.OAuthTokens(user)
	require.NoError(t, err)
	require.Equal(t, "access-2", tokens.AccessToken)
	require.Equal(t, "refresh-2", tokens.RefreshToken)

	env.clock.Advance(2 * time.Hour)
	env.provider.token = &oauth2.Token{
		AccessToken: "access-3",
		Expiry:      env.clock.Now().Add(time.Hour),
	}
	result, err = env.oauth.Refresh(ctx, userID)
	require.NoError(t, err)
	require.True(t, result.Refreshed)
	require.False(t, result.Rotated)

	user, err = env.users.FindByID(ctx, userID)
	require.NoError(t, err)
	tokens, err = env.users.OAuthTokens(user)
	require.NoError(t, err)
	require.Equal(t, "refresh-2", tokens.RefreshToken)
}

func TestOAuthRefreshFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registered, err := env.auth.Register(ctx, RegisterInput{Email: "p@example.com", Password: "Passw0rd", Name: "P"})
	require.NoError(t, err)

	_, err = env.oauth.Refresh(ctx, registered.User.ID)
	require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)

	login, err := env.oauth.CompleteLogin(ctx, googleIdentity("g-2", "g2@example.com", true), &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       env.clock.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	env.provider.err = errors.New("provider down")
	_, err = env.oauth.Refresh(ctx, login.User.ID)
	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)

	_, err = env.oauth.Refresh(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}
