package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/todomaster/internal/handlers"
)

type authRouteDeps struct {
	Handler     *handlers.AuthHandler
	Limiter     gin.HandlerFunc
	RequireAuth gin.HandlerFunc
}

func registerAuthRoutes(engine *gin.Engine, deps authRouteDeps) {
	auth := engine.Group("/api/auth", deps.Limiter)
	{
		auth.POST("/register", deps.Handler.Register)
		auth.POST("/login", deps.Handler.Login)
	}

	account := auth.Group("", deps.RequireAuth)
	{
		account.GET("/me", deps.Handler.Me)
		account.GET("/profile", deps.Handler.Me)
		account.PUT("/profile", deps.Handler.UpdateProfile)
		account.PUT("/change-password", deps.Handler.ChangePassword)
		account.DELETE("/account", deps.Handler.DeleteAccount)
	}
}
