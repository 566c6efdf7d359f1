package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/models"
	"github.com/charlesng35/todomaster/internal/security"
	"github.com/charlesng35/todomaster/pkg/crypto"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/logger"
	"github.com/charlesng35/todomaster/pkg/metrics"
)

// EventEmitter receives security events. *security.Monitor satisfies it.
type EventEmitter interface {
	Emit(event security.Event)
}

// AccountLockedError reports a login rejected because the account is locked.
type AccountLockedError struct {
	Until      time.Time
	RetryAfter int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked for %ds", e.RetryAfter)
}

// Unwrap exposes the API error so handlers render 423 with the retry hint.
func (e *AccountLockedError) Unwrap() error {
	return apperrors.ErrAccountLocked.WithRetryAfter(e.RetryAfter)
}

// RequestMeta identifies the client behind a request for security events.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// RegisterInput carries a signup request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginInput carries a password login request.
type LoginInput struct {
	Email    string
	Password string
	RequestMeta
}

// AuthResult is returned by successful register and login calls.
type AuthResult struct {
	Token string
	User  *models.User
}

// AuthServiceOption customises an AuthService.
type AuthServiceOption func(*AuthService)

// WithAuthClock overrides the time source used for lockout decisions.
func WithAuthClock(now func() time.Time) AuthServiceOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// AuthService drives registration, password login and account maintenance.
type AuthService struct {
	users  *UserService
	tokens *auth.JWTService
	policy auth.LockoutPolicy
	events EventEmitter
	now    func() time.Time
	log    *zap.Logger
}

// NewAuthService wires the credential store, token issuer and lockout policy.
// events may be nil.
func NewAuthService(users *UserService, tokens *auth.JWTService, policy auth.LockoutPolicy, events EventEmitter, opts ...AuthServiceOption) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("auth service: user service is required")
	}
	if tokens == nil {
		return nil, errors.New("auth service: jwt service is required")
	}

	svc := &AuthService{
		users:  users,
		tokens: tokens,
		policy: auth.NewLockoutPolicy(policy.Threshold, policy.Duration),
		events: events,
		now:    time.Now,
		log:    logger.WithModule("auth"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a password account and issues a token for it.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.Create(ctx, CreateUserInput{
		Email:    input.Email,
		Password: input.Password,
		Name:     input.Name,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("auth service: issue token: %w", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID))
	return &AuthResult{Token: token, User: user}, nil
}

// Login authenticates an email and password.
//
// Unknown emails and wrong passwords fail with the same error. A locked account
// is rejected before the password is checked. A failure that reaches the
// lockout threshold is reported as locked.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)
	email := models.NormalizeEmail(input.Email)

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		s.emit(security.Event{
			Type:      security.EventFailedLogin,
			IP:        input.IPAddress,
			UserAgent: input.UserAgent,
			Email:     email,
			Details:   map[string]any{"reason": "unknown_email"},
		})
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	state := LockoutState(user)
	if s.policy.IsLocked(state, now) {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		return nil, &AccountLockedError{Until: *state.LockUntil, RetryAfter: s.policy.RetryAfter(state, now)}
	}

	if !crypto.VerifyPassword(user.PasswordHash, input.Password) {
		return nil, s.rejectPassword(ctx, user, state, now, input.RequestMeta)
	}

	loginAt, err := s.users.RecordSuccessfulLogin(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.LoginAttempts = 0
	user.LockUntil = nil
	user.LastFailedLogin = nil
	user.LastLogin = &loginAt

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("auth service: issue token: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) rejectPassword(ctx context.Context, user *models.User, before auth.LockoutState, now time.Time, meta RequestMeta) error {
	after := s.policy.OnFailedLogin(before, now)
	if err := s.users.ApplyLockout(ctx, user.ID, after); err != nil {
		return err
	}

	reason := "invalid_password"
	if !user.HasPassword() {
		reason = "no_password"
	}
	s.emit(security.Event{
		Type:      security.EventFailedLogin,
		IP:        meta.IPAddress,
		UserAgent: meta.UserAgent,
		Email:     user.Email,
		UserID:    user.ID,
		Details:   map[string]any{"reason": reason, "attempts": after.LoginAttempts},
	})

	if s.policy.JustLocked(before, after, now) {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		s.log.Warn("account locked",
			zap.String("user_id", user.ID),
			zap.Int("attempts", after.LoginAttempts),
			zap.Time("lock_until", *after.LockUntil),
		)
		s.emit(security.Event{
			Type:      security.EventAccountLocked,
			IP:        meta.IPAddress,
			UserAgent: meta.UserAgent,
			Email:     user.Email,
			UserID:    user.ID,
			Details:   map[string]any{"attempts": after.LoginAttempts, "lock_until": after.LockUntil.UTC()},
		})
		return &AccountLockedError{Until: *after.LockUntil, RetryAfter: s.policy.RetryAfter(after, now)}
	}

	metrics.AuthAttempts.WithLabelValues("failure").Inc()
	return apperrors.ErrInvalidCredentials
}

// LockStatus reports whether user is locked now and the seconds until it lifts.
func (s *AuthService) LockStatus(user *models.User) (bool, int) {
	now := s.now()
	state := LockoutState(user)
	return s.policy.IsLocked(state, now), s.policy.RetryAfter(state, now)
}

// ChangePassword verifies the current password before storing a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	ctx = ensureContext(ctx)

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(user.PasswordHash, current) {
		return apperrors.ErrCurrentPasswordIncorrect
	}
	if strings.TrimSpace(next) == "" {
		return apperrors.NewBadRequest("new password is required")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, next); err != nil {
		return err
	}

	s.log.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

// UpdateProfile changes the caller's profile.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (*models.User, error) {
	return s.users.UpdateProfile(ensureContext(ctx), userID, input)
}

// DeleteAccount removes the user and everything they own.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.log.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func (s *AuthService) emit(event security.Event) {
	if s.events == nil {
		return
	}
	s.events.Emit(event)
}
