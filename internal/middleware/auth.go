package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/models"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/logger"
	"github.com/charlesng35/todomaster/pkg/response"
)

const (
	CtxUserKey   = "authUser"
	CtxUserIDKey = "userID"
)

// UserLoader resolves the account named by a verified token.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// LockChecker applies the lockout policy to a loaded account.
type LockChecker interface {
	LockStatus(user *models.User) (locked bool, retryAfter int)
}

// Auth admits requests carrying a valid bearer token for an existing,
// unlocked account and stores that account in the gin context.
func Auth(jwt *iauth.JWTService, users UserLoader, locks LockChecker) gin.HandlerFunc {
	log := logger.WithModule("auth")

	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			abort(c, apperrors.ErrAuthenticationRequired)
			return
		}

		userID, err := jwt.Verify(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			if errors.Is(err, iauth.ErrTokenExpired) {
				abort(c, apperrors.ErrTokenExpired)
				return
			}
			abort(c, apperrors.ErrInvalidToken)
			return
		}

		user, err := users.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, apperrors.ErrUserNotFound) {
				abort(c, apperrors.ErrUserNotFound)
				return
			}
			log.Error("load authenticated user", zap.String("user_id", userID), zap.Error(err))
			abort(c, apperrors.ErrInternalServer.WithInternal(err))
			return
		}

		if locked, retry := locks.LockStatus(user); locked {
			abort(c, apperrors.ErrAccountLocked.WithRetryAfter(retry))
			return
		}

		c.Set(CtxUserKey, user)
		c.Set(CtxUserIDKey, user.ID)
		c.Next()
	}
}

// CurrentUser returns the account stored by Auth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok && user != nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}
