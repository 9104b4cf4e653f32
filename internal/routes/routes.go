// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/config"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/handler"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/middleware"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

// Handlers are the HTTP handlers mounted by the router
type Handlers struct {
	Health    *handler.HealthHandler
	Device    *handler.DeviceHandler
	Discovery *handler.DiscoveryHandler
	WebSocket *handler.WebSocketHandler
}

// Router holds all dependencies for routing
type Router struct {
	config   *config.Config
	logger   *zap.Logger
	handlers Handlers
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, handlers Handlers) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		handlers: handlers,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	r.handlers.Health.RegisterRoutes(&router.RouterGroup)

	apiV1 := router.Group("/api/v1")
	r.handlers.Device.RegisterRoutes(apiV1)
	r.handlers.Discovery.RegisterRoutes(apiV1)

	if r.handlers.WebSocket != nil {
		r.handlers.WebSocket.RegisterRoutes(router.Group("/ws"))
	}

	router.GET("/", r.handleRoot)
	router.NoRoute(r.handleNotFound)

	r.logger.Debug("Routes configured")
}

// handleRoot describes the service
func (r *Router) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     r.config.App.Name,
		"version":     r.config.App.Version,
		"environment": r.config.App.Environment,
		"endpoints": gin.H{
			"health":  "/health",
			"devices": "/api/v1/devices",
			"ports":   "/api/v1/ports",
			"events":  "/ws/events",
		},
	})
}

// handleNotFound handles 404 errors
func (r *Router) handleNotFound(c *gin.Context) {
	utils.ErrorResponse(c, http.StatusNotFound, "Endpoint not found", nil)
}
