package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/todomaster/internal/middleware"
	"github.com/charlesng35/todomaster/internal/models"
	"github.com/charlesng35/todomaster/internal/services"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/response"
)

// requestContext returns the request context, or Background when the handler
// is invoked without an HTTP request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// requestMeta captures the client attributes recorded with security events.
func requestMeta(c *gin.Context) services.RequestMeta {
	if c == nil || c.Request == nil {
		return services.RequestMeta{}
	}
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// authenticatedUser returns the account loaded by the auth middleware and
// writes a 401 when the route was mounted without it.
func authenticatedUser(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, apperrors.ErrAuthenticationRequired)
		return nil, false
	}
	return user, true
}
