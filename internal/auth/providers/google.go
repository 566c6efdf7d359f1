package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Google endpoints used to verify ID tokens.
const (
	GoogleName    = "google"
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultGoogleTimeout = 10 * time.Second
)

// GoogleConfig configures the Google identity provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Timeout bounds every outbound call to Google.
	Timeout time.Duration

	// The fields below default to Google's production values.
	Endpoint   oauth2.Endpoint
	Issuer     string
	KeySet     oidc.KeySet
	HTTPClient *http.Client
	Now        func() time.Time
}

// Google implements Provider for Google accounts.
type Google struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	timeout     time.Duration
}

// NewGoogle validates cfg and builds the provider. It performs no network I/O.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("google provider: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("google provider: client secret is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("google provider: redirect url is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = GoogleIssuer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGoogleTimeout
	}

	keySet := cfg.KeySet
	if keySet == nil {
		ctx := context.Background()
		if cfg.HTTPClient != nil {
			ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
		}
		keySet = oidc.NewRemoteKeySet(ctx, GoogleJWKSURL)
	}

	verifierCfg := &oidc.Config{ClientID: cfg.ClientID}
	if cfg.Now != nil {
		verifierCfg.Now = cfg.Now
	}

	return &Google{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier:   oidc.NewVerifier(issuer, keySet, verifierCfg),
		httpClient: cfg.HTTPClient,
		timeout:    timeout,
	}, nil
}

// Name implements Provider.
func (g *Google) Name() string {
	return GoogleName
}

// AuthCodeURL implements Provider.
func (g *Google) AuthCodeURL(req AuthRequest) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if req.Nonce != "" {
		opts = append(opts, oidc.Nonce(req.Nonce))
	}
	if req.PKCEVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(req.PKCEVerifier))
	}
	return g.oauthConfig.AuthCodeURL(req.State, opts...)
}

// Exchange implements Provider.
func (g *Google) Exchange(ctx context.Context, req ExchangeRequest) (*Identity, *oauth2.Token, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, nil, errors.New("google provider: authorization code missing")
	}

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if req.PKCEVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.PKCEVerifier))
	}

	token, err := g.oauthConfig.Exchange(ctx, req.Code, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("google provider: exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, errors.New("google provider: id token missing")
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("google provider: verify id token: %w", err)
	}
	if req.ExpectedNonce != "" && idToken.Nonce != req.ExpectedNonce {
		return nil, nil, errors.New("google provider: nonce mismatch")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("google provider: decode claims: %w", err)
	}

	identity := &Identity{
		Provider:      GoogleName,
		Subject:       idToken.Subject,
		Email:         stringValue(claims, "email"),
		EmailVerified: boolValue(claims, "email_verified"),
		DisplayName:   stringValue(claims, "name"),
		AvatarURL:     stringValue(claims, "picture"),
	}
	if identity.DisplayName == "" {
		identity.DisplayName = strings.TrimSpace(stringValue(claims, "given_name") + " " + stringValue(claims, "family_name"))
	}
	if identity.Email == "" {
		return identity, token, ErrEmailMissing
	}

	return identity, token, nil
}

// Refresh implements Provider.
func (g *Google) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errors.New("google provider: refresh token is required")
	}

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	source := g.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("google provider: refresh failed: %w", err)
	}
	return token, nil
}

func (g *Google) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func stringValue(claims map[string]any, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func boolValue(claims map[string]any, key string) bool {
	if v, ok := claims[key]; ok {
		switch val := v.(type) {
		case bool:
			return val
		case string:
			return strings.EqualFold(val, "true")
		}
	}
	return false
}
