package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/models"
	"github.com/charlesng35/todomaster/pkg/crypto"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
)

// ErrUserNotFound indicates the requested user does not exist.
var ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)

// CreateUserInput describes the fields accepted when creating a user. Password
// is optional when an external identity is supplied.
type CreateUserInput struct {
	Email         string
	Password      string
	Name          string
	Avatar        string
	EmailVerified bool
	Identity      *ExternalIdentity
}

// ExternalIdentity links an account to an identity provider subject.
type ExternalIdentity struct {
	Provider string
	Subject  string
}

// ProfileInput enumerates the profile attributes a user may change.
type ProfileInput struct {
	Name        *string
	Email       *string
	Preferences *PreferencesInput
}

// PreferencesInput merges into the stored preferences; nil fields are kept.
type PreferencesInput struct {
	Theme         *string
	Notifications *NotificationsInput
}

// NotificationsInput toggles individual notification channels.
type NotificationsInput struct {
	Email  *bool
	Push   *bool
	Weekly *bool
}

// OAuthTokens are the provider credentials persisted on a user.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
}

// UserServiceOption customises a UserService.
type UserServiceOption func(*UserService)

// WithUserClock overrides the time source used for login bookkeeping.
func WithUserClock(now func() time.Time) UserServiceOption {
	return func(s *UserService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenEncryptionKey encrypts provider tokens at rest with AES-GCM.
func WithTokenEncryptionKey(key []byte) UserServiceOption {
	return func(s *UserService) {
		if len(key) > 0 {
			s.tokenKey = append([]byte(nil), key...)
		}
	}
}

// UserService is the credential store. Lockout and OAuth token columns are only
// written through their dedicated partial updates.
type UserService struct {
	db       *gorm.DB
	now      func() time.Time
	tokenKey []byte
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, opts ...UserServiceOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	svc := &UserService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	switch len(svc.tokenKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("user service: token encryption key must be 16, 24 or 32 bytes, got %d", len(svc.tokenKey))
	}
	return svc, nil
}

// Create provisions a new user, hashing the password when one is given.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if name == "" {
		return nil, apperrors.NewBadRequest("name is required")
	}
	if input.Password == "" && input.Identity == nil {
		return nil, apperrors.NewBadRequest("password is required")
	}

	user := &models.User{
		Email:           email,
		Name:            name,
		Avatar:          strings.TrimSpace(input.Avatar),
		Preferences:     datatypes.NewJSONType(models.DefaultPreferences()),
		IsEmailVerified: input.EmailVerified,
	}

	if input.Password != "" {
		hashed, err := hashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hashed
	}
	if input.Identity != nil {
		subject := strings.TrimSpace(input.Identity.Subject)
		if subject == "" {
			return nil, apperrors.NewBadRequest("provider subject is required")
		}
		user.OAuthProvider = strings.ToLower(strings.TrimSpace(input.Identity.Provider))
		user.OAuthProviderID = &subject
		loginAt := s.now()
		user.LastLogin = &loginAt
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("user service: check email: %w", err)
	}
	if existing > 0 {
		return nil, apperrors.ErrDuplicateEmail
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

// FindByID loads a user by identifier.
func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "id = ?", id)
}

// FindByEmail loads a user by case-insensitive email.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "email = ?", email)
}

// FindByProviderID loads the user linked to a provider subject.
func (s *UserService) FindByProviderID(ctx context.Context, provider, subject string) (*models.User, error) {
	ctx = ensureContext(ctx)

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, "oauth_provider = ? AND oauth_provider_id = ?", strings.ToLower(strings.TrimSpace(provider)), subject)
}

func (s *UserService) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// LockoutState extracts the lockout bookkeeping from a user.
func LockoutState(user *models.User) auth.LockoutState {
	if user == nil {
		return auth.LockoutState{}
	}
	return auth.LockoutState{
		LoginAttempts:   user.LoginAttempts,
		LockUntil:       user.LockUntil,
		LastFailedLogin: user.LastFailedLogin,
		LastLogin:       user.LastLogin,
	}
}

// ApplyLockout persists a lockout transition. Only the lockout columns are
// written so a concurrent password or profile change is never overwritten.
func (s *UserService) ApplyLockout(ctx context.Context, id string, state auth.LockoutState) error {
	ctx = ensureContext(ctx)

	return s.updateColumns(ctx, id, map[string]any{
		"login_attempts":    state.LoginAttempts,
		"lock_until":        state.LockUntil,
		"last_failed_login": state.LastFailedLogin,
		"last_login":        state.LastLogin,
	})
}

// RecordSuccessfulLogin clears failure counters and stamps the login time.
func (s *UserService) RecordSuccessfulLogin(ctx context.Context, id string) (time.Time, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	err := s.updateColumns(ctx, id, map[string]any{
		"login_attempts":    0,
		"lock_until":        nil,
		"last_failed_login": nil,
		"last_login":        now,
	})
	return now, err
}

// TouchLastLogin stamps the login time without touching failure counters.
func (s *UserService) TouchLastLogin(ctx context.Context, id string) (time.Time, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	return now, s.updateColumns(ctx, id, map[string]any{"last_login": now})
}

// UpdatePassword replaces the password hash with a freshly salted one.
func (s *UserService) UpdatePassword(ctx context.Context, id, password string) error {
	ctx = ensureContext(ctx)

	if password == "" {
		return apperrors.NewBadRequest("password is required")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.updateColumns(ctx, id, map[string]any{"password_hash": hashed})
}

// UpdateProfile changes name, email and preferences. Changing the email
// requires it to be free and clears the verified flag.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input ProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != user.Name {
			updates["name"] = name
		}
	}
	if input.Email != nil {
		if email := models.NormalizeEmail(*input.Email); email != "" && email != user.Email {
			var taken int64
			if err := s.db.WithContext(ctx).Model(&models.User{}).
				Where("email = ? AND id <> ?", email, user.ID).
				Count(&taken).Error; err != nil {
				return nil, fmt.Errorf("user service: check email: %w", err)
			}
			if taken > 0 {
				return nil, apperrors.ErrEmailTaken
			}
			updates["email"] = email
			updates["is_email_verified"] = false
		}
	}
	if input.Preferences != nil {
		prefs := mergePreferences(user.Preferences.Data(), *input.Preferences)
		updates["preferences"] = datatypes.NewJSONType(prefs)
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}
	return s.FindByID(ctx, user.ID)
}

func mergePreferences(current models.Preferences, input PreferencesInput) models.Preferences {
	if input.Theme != nil {
		current.Theme = *input.Theme
	}
	if n := input.Notifications; n != nil {
		if n.Email != nil {
			current.Notifications.Email = *n.Email
		}
		if n.Push != nil {
			current.Notifications.Push = *n.Push
		}
		if n.Weekly != nil {
			current.Notifications.Weekly = *n.Weekly
		}
	}
	return current
}

// UpdateOAuthTokens stores provider tokens. The refresh token is only replaced
// when a new one is supplied.
func (s *UserService) UpdateOAuthTokens(ctx context.Context, id string, tokens OAuthTokens) error {
	ctx = ensureContext(ctx)

	access, err := s.sealToken(id, tokens.AccessToken)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"oauth_access_token": access,
		"oauth_token_expiry": tokens.Expiry,
	}
	if tokens.RefreshToken != "" {
		refresh, err := s.sealToken(id, tokens.RefreshToken)
		if err != nil {
			return err
		}
		updates["oauth_refresh_token"] = refresh
	}
	return s.updateColumns(ctx, id, updates)
}

// OAuthTokens returns the decrypted provider tokens stored on user.
func (s *UserService) OAuthTokens(user *models.User) (OAuthTokens, error) {
	if user == nil {
		return OAuthTokens{}, ErrUserNotFound
	}
	access, err := s.openToken(user.ID, user.OAuthAccessToken)
	if err != nil {
		return OAuthTokens{}, err
	}
	refresh, err := s.openToken(user.ID, user.OAuthRefreshToken)
	if err != nil {
		return OAuthTokens{}, err
	}
	return OAuthTokens{AccessToken: access, RefreshToken: refresh, Expiry: user.OAuthTokenExpiry}, nil
}

// LinkProvider attaches a provider identity to an existing account and marks
// its email verified.
func (s *UserService) LinkProvider(ctx context.Context, id string, identity ExternalIdentity, avatar string) (*models.User, error) {
	ctx = ensureContext(ctx)

	subject := strings.TrimSpace(identity.Subject)
	if subject == "" {
		return nil, apperrors.NewBadRequest("provider subject is required")
	}

	updates := map[string]any{
		"oauth_provider":    strings.ToLower(strings.TrimSpace(identity.Provider)),
		"oauth_provider_id": subject,
		"is_email_verified": true,
		"last_login":        s.now(),
	}
	if avatar = strings.TrimSpace(avatar); avatar != "" {
		updates["avatar"] = avatar
	}

	if err := s.updateColumns(ctx, id, updates); err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("identity is already linked to another account")
		}
		return nil, err
	}
	return s.FindByID(ctx, id)
}

// Delete removes the user and their tasks in one transaction, tasks first.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("user service: delete tasks: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&models.User{})
		if result.Error != nil {
			return fmt.Errorf("user service: delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// ClearExpiredLocks resets counters on accounts whose lock has lapsed.
func (s *UserService) ClearExpiredLocks(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("lock_until IS NOT NULL AND lock_until < ?", s.now()).
		Updates(map[string]any{
			"login_attempts": 0,
			"lock_until":     nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("user service: clear expired locks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *UserService) updateColumns(ctx context.Context, id string, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("user service: update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Sealed tokens are bound to the owning user id so they cannot be moved between rows.
func (s *UserService) sealToken(userID, value string) (string, error) {
	if value == "" || len(s.tokenKey) == 0 {
		return value, nil
	}
	sealed, err := crypto.Encrypt([]byte(value), s.tokenKey, []byte(userID))
	if err != nil {
		return "", fmt.Errorf("user service: encrypt token: %w", err)
	}
	return sealed, nil
}

func (s *UserService) openToken(userID, value string) (string, error) {
	if value == "" || len(s.tokenKey) == 0 {
		return value, nil
	}
	plain, err := crypto.Decrypt(value, s.tokenKey, []byte(userID))
	if err != nil {
		return "", fmt.Errorf("user service: decrypt token: %w", err)
	}
	return string(plain), nil
}
