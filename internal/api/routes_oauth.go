package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/todomaster/internal/handlers"
)

type oauthRouteDeps struct {
	Handler     *handlers.OAuthHandler
	Limiter     gin.HandlerFunc
	RequireAuth gin.HandlerFunc
}

func registerOAuthRoutes(engine *gin.Engine, deps oauthRouteDeps) {
	oauth := engine.Group("/auth", deps.Limiter)
	{
		oauth.GET("/:provider", deps.Handler.Begin)
		oauth.GET("/:provider/callback", deps.Handler.Callback)
		oauth.GET("/:provider/success", deps.Handler.Success)
		oauth.POST("/:provider/refresh", deps.RequireAuth, deps.Handler.Refresh)
	}
}
