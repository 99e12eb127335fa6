package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/posprint/bridge/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pos-bridge",
		})
	})

	bridgeHandler := handler.NewBridgeHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/jobs - Submit a print job
		v1.POST("/jobs", bridgeHandler.SubmitJob)

		// GET /api/v1/queue - Inspect spool depth and bridge health
		v1.GET("/queue", bridgeHandler.GetQueue)
	}

	return r
}
