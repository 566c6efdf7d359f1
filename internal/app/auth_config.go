package app

import (
	"strings"
	"time"

	"github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}

	return auth.JWTConfig{
		Secret: c.JWT.Secret,
		Issuer: c.JWT.Issuer,
		TTL:    ttl,
	}
}

// LockoutPolicy converts the lockout settings, substituting defaults for unset values.
func (c AuthConfig) LockoutPolicy() auth.LockoutPolicy {
	return auth.NewLockoutPolicy(c.Lockout.Threshold, c.Lockout.Duration)
}

// GoogleEnabled reports whether Google client credentials are configured.
func (c AuthConfig) GoogleEnabled() bool {
	return strings.TrimSpace(c.Google.ClientID) != "" && strings.TrimSpace(c.Google.ClientSecret) != ""
}

// GoogleConfig converts AuthConfig into Google provider parameters.
func (c AuthConfig) GoogleConfig() providers.GoogleConfig {
	return providers.GoogleConfig{
		ClientID:     strings.TrimSpace(c.Google.ClientID),
		ClientSecret: strings.TrimSpace(c.Google.ClientSecret),
		RedirectURL:  strings.TrimSpace(c.Google.CallbackURL),
		Timeout:      c.Google.Timeout,
	}
}

// StateTTL returns the lifetime of pending OAuth state.
func (c AuthConfig) StateTTL() time.Duration {
	if c.OAuth.StateTTL <= 0 {
		return auth.DefaultStateTTL
	}
	return c.OAuth.StateTTL
}

// TokenEncryptionKey decodes the key used to seal provider tokens at rest.
// A nil key means tokens are stored as issued.
func (c AuthConfig) TokenEncryptionKey() ([]byte, error) {
	if strings.TrimSpace(c.OAuth.TokenEncryptionKey) == "" {
		return nil, nil
	}
	return DecodeKey(c.OAuth.TokenEncryptionKey)
}
