// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/config"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

// BusStatus reports on the serial bus
type BusStatus interface {
	Started() bool
	Len() int
}

// BrokerStatus reports on the message bus connection
type BrokerStatus interface {
	Connected() bool
}

// RestartStatus reports on a supervised task
type RestartStatus interface {
	Restarts() int64
	LastRestart() time.Time
}

// DeviceCounter reports the number of tracked devices
type DeviceCounter interface {
	Len() int
	Capacity() int
}

// HealthDeps are the components checked by the health handler.
// Broker and Supervisor are nil when the broker is disabled.
type HealthDeps struct {
	Bus        BusStatus
	Broker     BrokerStatus
	Supervisor RestartStatus
	Devices    DeviceCounter
}

// HealthHandler handles health check requests
type HealthHandler struct {
	deps      HealthDeps
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(deps HealthDeps, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health including serial bus and broker state
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.deps.Bus != nil && h.deps.Bus.Started() {
		health.Checks["serial_bus"] = CheckResult{
			Status: "healthy",
			Data:   map[string]interface{}{"open_ports": h.deps.Bus.Len()},
		}
	} else {
		health.Status = "unhealthy"
		health.Checks["serial_bus"] = CheckResult{Status: "unhealthy", Message: "Serial bus not started"}
	}

	if h.deps.Broker != nil {
		check := CheckResult{Status: "healthy", Message: "Broker connected", Data: map[string]interface{}{}}
		if !h.deps.Broker.Connected() {
			health.Status = "degraded"
			check.Status = "unhealthy"
			check.Message = "Broker disconnected"
		}
		if h.deps.Supervisor != nil {
			check.Data["restarts"] = h.deps.Supervisor.Restarts()
			if last := h.deps.Supervisor.LastRestart(); !last.IsZero() {
				check.Data["last_restart"] = last
			}
		}
		health.Checks["broker"] = check
	}

	if h.deps.Devices != nil {
		health.Checks["registry"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"tracked":  h.deps.Devices.Len(),
				"capacity": h.deps.Devices.Capacity(),
			},
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// ReadinessCheck reports whether the service can take traffic
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.deps.Bus == nil || !h.deps.Bus.Started() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "serial bus not started",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck reports whether the process is alive
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
