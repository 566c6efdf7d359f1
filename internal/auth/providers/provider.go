package providers

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var (
	// ErrEmailMissing is returned when the provider profile carries no email address.
	ErrEmailMissing = errors.New("provider: profile has no email address")
	// ErrAuthorizationDenied is returned when the provider reports an error on the callback.
	ErrAuthorizationDenied = errors.New("provider: authorization denied")
)

// Identity represents the profile returned by an external identity provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	DisplayName   string
	AvatarURL     string
}

// AuthRequest carries the per-login values embedded in the consent URL.
type AuthRequest struct {
	State        string
	Nonce        string
	PKCEVerifier string
}

// ExchangeRequest carries the values needed to redeem an authorization code.
type ExchangeRequest struct {
	Code          string
	PKCEVerifier  string
	ExpectedNonce string
}

// Provider is an OAuth 2.0 identity provider capable of offline access.
type Provider interface {
	Name() string
	// AuthCodeURL builds the consent screen URL. Implementations request
	// offline access and force the consent prompt so a refresh token is issued.
	AuthCodeURL(req AuthRequest) string
	// Exchange redeems an authorization code for the user's identity and tokens.
	Exchange(ctx context.Context, req ExchangeRequest) (*Identity, *oauth2.Token, error)
	// Refresh exchanges a refresh token for a new access token. The returned
	// token carries a refresh token, rotated or not.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}
