package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
	"github.com/charlesng35/todomaster/internal/models"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/logger"
)

var (
	// ErrIdentityConflict is returned when the email matches an account already
	// linked to a different provider identity.
	ErrIdentityConflict = apperrors.New("IDENTITY_CONFLICT", "Account is linked to a different identity", http.StatusConflict)
	// ErrEmailNotVerified is returned when linking by email is requested for an
	// address the provider has not verified.
	ErrEmailNotVerified = apperrors.New("EMAIL_NOT_VERIFIED", "Provider email address is not verified", http.StatusBadRequest)
	// ErrIdentityEmailMissing is returned when the provider profile has no email.
	ErrIdentityEmailMissing = apperrors.New("IDENTITY_EMAIL_MISSING", "Provider profile has no email address", http.StatusBadRequest)
)

// Resolution describes how a provider identity was matched to an account.
type Resolution string

const (
	ResolutionExisting Resolution = "existing"
	ResolutionLinked   Resolution = "linked"
	ResolutionCreated  Resolution = "created"
)

// OAuthLogin is the outcome of a completed federated login.
type OAuthLogin struct {
	Token      string
	User       *models.User
	Resolution Resolution
}

// RefreshResult reports the lifetime of the stored provider access token.
type RefreshResult struct {
	ExpiresIn int  `json:"expires_in"`
	Refreshed bool `json:"refreshed"`
	Rotated   bool `json:"rotated"`
}

// OAuthServiceOption customises an OAuthService.
type OAuthServiceOption func(*OAuthService)

// WithOAuthClock overrides the time source used for token expiry checks.
func WithOAuthClock(now func() time.Time) OAuthServiceOption {
	return func(s *OAuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// OAuthService resolves provider identities to accounts and manages the
// provider tokens stored on them.
type OAuthService struct {
	users     *UserService
	tokens    *auth.JWTService
	providers *providers.Registry
	now       func() time.Time
	log       *zap.Logger
}

// NewOAuthService constructs the federation service.
func NewOAuthService(users *UserService, tokens *auth.JWTService, registry *providers.Registry, opts ...OAuthServiceOption) (*OAuthService, error) {
	if users == nil {
		return nil, errors.New("oauth service: user service is required")
	}
	if tokens == nil {
		return nil, errors.New("oauth service: jwt service is required")
	}
	if registry == nil {
		registry = providers.NewRegistry()
	}

	svc := &OAuthService{
		users:     users,
		tokens:    tokens,
		providers: registry,
		now:       time.Now,
		log:       logger.WithModule("oauth"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Resolve maps identity to an account. The first match wins: the provider
// subject, then a verified email on an account without a linked identity,
// then a new account.
func (s *OAuthService) Resolve(ctx context.Context, identity *providers.Identity) (*models.User, Resolution, error) {
	ctx = ensureContext(ctx)
	if identity == nil || strings.TrimSpace(identity.Subject) == "" {
		return nil, "", apperrors.NewBadRequest("provider identity is incomplete")
	}

	user, err := s.users.FindByProviderID(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		loginAt, err := s.users.TouchLastLogin(ctx, user.ID)
		if err != nil {
			return nil, "", err
		}
		user.LastLogin = &loginAt
		return user, ResolutionExisting, nil
	case !errors.Is(err, ErrUserNotFound):
		return nil, "", err
	}

	email := models.NormalizeEmail(identity.Email)
	if email == "" {
		return nil, "", ErrIdentityEmailMissing
	}

	existing, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.HasOAuthIdentity() {
			return nil, "", ErrIdentityConflict
		}
		if !identity.EmailVerified {
			return nil, "", ErrEmailNotVerified
		}
		linked, err := s.users.LinkProvider(ctx, existing.ID, ExternalIdentity{
			Provider: identity.Provider,
			Subject:  identity.Subject,
		}, identity.AvatarURL)
		if err != nil {
			return nil, "", err
		}
		s.log.Info("provider identity linked",
			zap.String("user_id", linked.ID),
			zap.String("provider", identity.Provider),
		)
		return linked, ResolutionLinked, nil
	case !errors.Is(err, ErrUserNotFound):
		return nil, "", err
	}

	created, err := s.users.Create(ctx, CreateUserInput{
		Email:         email,
		Name:          displayName(identity, email),
		Avatar:        identity.AvatarURL,
		EmailVerified: true,
		Identity: &ExternalIdentity{
			Provider: identity.Provider,
			Subject:  identity.Subject,
		},
	})
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user created from provider identity",
		zap.String("user_id", created.ID),
		zap.String("provider", identity.Provider),
	)
	return created, ResolutionCreated, nil
}

// CompleteLogin resolves identity, persists the provider tokens and issues a
// bearer token for the account.
func (s *OAuthService) CompleteLogin(ctx context.Context, identity *providers.Identity, token *oauth2.Token) (*OAuthLogin, error) {
	ctx = ensureContext(ctx)

	user, resolution, err := s.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	if token != nil && token.AccessToken != "" {
		stored := OAuthTokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Expiry:       tokenExpiry(token),
		}
		if err := s.users.UpdateOAuthTokens(ctx, user.ID, stored); err != nil {
			return nil, err
		}
	}

	jwtToken, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("oauth service: issue token: %w", err)
	}
	return &OAuthLogin{Token: jwtToken, User: user, Resolution: resolution}, nil
}

// Refresh returns the remaining lifetime of the stored access token, renewing
// it through the provider once it has expired. A rotated refresh token
// replaces the stored one.
func (s *OAuthService) Refresh(ctx context.Context, userID string) (*RefreshResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored, err := s.users.OAuthTokens(user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if stored.AccessToken != "" && stored.Expiry != nil && stored.Expiry.After(now) {
		return &RefreshResult{ExpiresIn: secondsUntil(*stored.Expiry, now)}, nil
	}
	if stored.RefreshToken == "" {
		return nil, apperrors.ErrNoRefreshToken
	}

	provider, err := s.providers.Get(user.OAuthProvider)
	if err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithInternal(err)
	}
	token, err := provider.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		s.log.Warn("provider token refresh failed",
			zap.String("user_id", user.ID),
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)
		return nil, apperrors.ErrProviderUnavailable.WithInternal(err)
	}

	rotated := token.RefreshToken != "" && token.RefreshToken != stored.RefreshToken
	update := OAuthTokens{AccessToken: token.AccessToken, Expiry: tokenExpiry(token)}
	if rotated {
		update.RefreshToken = token.RefreshToken
	}
	if err := s.users.UpdateOAuthTokens(ctx, user.ID, update); err != nil {
		return nil, err
	}

	result := &RefreshResult{Refreshed: true, Rotated: rotated}
	if update.Expiry != nil {
		result.ExpiresIn = secondsUntil(*update.Expiry, now)
	}
	return result, nil
}

func tokenExpiry(token *oauth2.Token) *time.Time {
	if token == nil || token.Expiry.IsZero() {
		return nil
	}
	expiry := token.Expiry.UTC()
	return &expiry
}

func secondsUntil(t, now time.Time) int {
	if !t.After(now) {
		return 0
	}
	return int(math.Ceil(t.Sub(now).Seconds()))
}

func displayName(identity *providers.Identity, email string) string {
	if name := strings.TrimSpace(identity.DisplayName); name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
