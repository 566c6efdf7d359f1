package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/todomaster/internal/app"
	iauth "github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
	"github.com/charlesng35/todomaster/internal/handlers"
	"github.com/charlesng35/todomaster/internal/middleware"
	"github.com/charlesng35/todomaster/internal/services"
	"github.com/charlesng35/todomaster/pkg/logger"
)

// Dependencies bundles everything the HTTP layer is built from.
type Dependencies struct {
	DB        *gorm.DB
	Config    *app.Config
	JWT       *iauth.JWTService
	Users     *services.UserService
	Auth      *services.AuthService
	OAuth     *services.OAuthService
	Providers *providers.Registry
	States    *iauth.StateStore
	Events    services.EventEmitter
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.JWT == nil:
		return errors.New("jwt service must be provided")
	case d.Users == nil:
		return errors.New("user service must be provided")
	case d.Auth == nil:
		return errors.New("auth service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.RateStore == nil {
		deps.RateStore = middleware.NewMemoryRateStore()
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins))
	r.Use(middleware.RateLimit(deps.RateStore, middleware.RateLimitConfig{
		Name:   "global",
		Limit:  cfg.Server.RateLimit.Global.Limit,
		Window: cfg.Server.RateLimit.Global.Window,
	}))

	registerHealthRoutes(r, deps.DB)

	authLimiter := middleware.RateLimit(deps.RateStore, middleware.RateLimitConfig{
		Name:    "auth",
		Limit:   cfg.Server.RateLimit.Auth.Limit,
		Window:  cfg.Server.RateLimit.Auth.Window,
		Message: "Too many authentication attempts, please try again later.",
	})
	requireAuth := middleware.Auth(deps.JWT, deps.Users, deps.Auth)

	registerAuthRoutes(r, authRouteDeps{
		Handler:     handlers.NewAuthHandler(deps.Auth),
		Limiter:     authLimiter,
		RequireAuth: requireAuth,
	})

	if deps.OAuth == nil || deps.States == nil || deps.Providers == nil || deps.Providers.Len() == 0 {
		logger.WithModule("api").Info("no identity providers configured, federated login routes disabled")
	} else {
		registerOAuthRoutes(r, oauthRouteDeps{
			Handler: handlers.NewOAuthHandler(deps.Providers, deps.States, deps.OAuth, deps.JWT, deps.Events, handlers.OAuthHandlerConfig{
				FrontendURL:  cfg.Server.FrontendURL,
				SecureCookie: cfg.Auth.OAuth.SecureCookie,
			}),
			Limiter:     authLimiter,
			RequireAuth: requireAuth,
		})
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
