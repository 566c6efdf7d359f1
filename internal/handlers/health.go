package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/todomaster/internal/database"
	"github.com/charlesng35/todomaster/pkg/response"
)

const healthPingTimeout = 2 * time.Second

// Health reports service readiness, including database reachability.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthPingTimeout)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Success: false,
				Data:    gin.H{"status": "degraded", "database": "unavailable"},
				Error: &response.ErrorInfo{
					Code:    "SERVICE_UNAVAILABLE",
					Message: "Database unavailable",
				},
			})
			return
		}

		response.Success(c, http.StatusOK, gin.H{
			"status":    "ok",
			"database":  "connected",
			"timestamp": time.Now().UTC(),
		})
	}
}

// Index describes the API at its root path.
func Index() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"message": "Welcome to TodoMaster API",
			"version": "2.0.0",
			"health":  "/health",
		})
	}
}
