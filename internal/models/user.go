package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Theme values accepted in user preferences.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// NotificationPreferences toggles the channels a user receives reminders on.
type NotificationPreferences struct {
	Email  bool `json:"email"`
	Push   bool `json:"push"`
	Weekly bool `json:"weekly"`
}

// Preferences holds per-user UI and notification settings.
type Preferences struct {
	Theme         string                  `json:"theme"`
	Notifications NotificationPreferences `json:"notifications"`
}

// DefaultPreferences returns the settings applied to new accounts.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme: ThemeSystem,
		Notifications: NotificationPreferences{
			Email:  true,
			Push:   false,
			Weekly: true,
		},
	}
}

// User is the credential record. Secret and lockout columns never serialise.
type User struct {
	BaseModel

	Email        string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string `gorm:"size:100;not null" json:"name"`
	PasswordHash string `json:"-"`

	OAuthProvider     string     `gorm:"column:oauth_provider;uniqueIndex:idx_users_oauth_identity;size:32;not null;default:''" json:"-"`
	OAuthProviderID   *string    `gorm:"column:oauth_provider_id;uniqueIndex:idx_users_oauth_identity;size:255" json:"-"`
	OAuthAccessToken  string     `gorm:"column:oauth_access_token" json:"-"`
	OAuthRefreshToken string     `gorm:"column:oauth_refresh_token" json:"-"`
	OAuthTokenExpiry  *time.Time `gorm:"column:oauth_token_expiry" json:"-"`

	Avatar          string                          `gorm:"size:512" json:"avatar,omitempty"`
	Preferences     datatypes.JSONType[Preferences] `json:"preferences"`
	IsEmailVerified bool                            `gorm:"not null;default:false" json:"is_email_verified"`

	LoginAttempts   int        `gorm:"not null;default:0" json:"-"`
	LockUntil       *time.Time `gorm:"index" json:"-"`
	LastFailedLogin *time.Time `json:"-"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
}

// IsLocked reports whether an active lock is in place at now.
func (u *User) IsLocked(now time.Time) bool {
	return u != nil && u.LockUntil != nil && u.LockUntil.After(now)
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// HasOAuthIdentity reports whether an external identity is linked to the account.
func (u *User) HasOAuthIdentity() bool {
	return u != nil && u.OAuthProviderID != nil && *u.OAuthProviderID != ""
}

// NormalizeEmail lower-cases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PublicUser is the sanitised representation returned to API clients.
type PublicUser struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	Name            string      `json:"name"`
	Avatar          string      `json:"avatar,omitempty"`
	Preferences     Preferences `json:"preferences"`
	IsEmailVerified bool        `json:"is_email_verified"`
	HasPassword     bool        `json:"has_password"`
	OAuthProvider   string      `json:"oauth_provider,omitempty"`
	LastLogin       *time.Time  `json:"last_login,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Public builds the sanitised view of the user.
func (u *User) Public() PublicUser {
	if u == nil {
		return PublicUser{}
	}
	return PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Avatar:          u.Avatar,
		Preferences:     u.Preferences.Data(),
		IsEmailVerified: u.IsEmailVerified,
		HasPassword:     u.HasPassword(),
		OAuthProvider:   u.OAuthProvider,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}
