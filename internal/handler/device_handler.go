// internal/handler/device_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/discovery"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/registry"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

// DeviceDriver is the discovery surface served over HTTP
type DeviceDriver interface {
	StartMonitoring(path string) error
	StopMonitoring(path string) bool
	IsIdentified(path string) (*model.DeviceIdentity, bool)
	Devices() []model.DeviceStatus
	Device(path string) (model.DeviceStatus, bool)
	Ports(ctx context.Context) ([]model.PortInfo, error)
	ScanExisting(ctx context.Context) (int, error)
}

var monitorErrors = []driverError{
	{registry.ErrFull, http.StatusConflict, "REGISTRY_FULL", "Device registry full"},
	{discovery.ErrDriverStopped, http.StatusServiceUnavailable, "DISCOVERY_STOPPED", "Discovery stopped"},
}

// MonitorRequest asks for a device path to be checked
type MonitorRequest struct {
	Path string `json:"path" binding:"required"`
}

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	driver DeviceDriver
	logger *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(driver DeviceDriver, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		driver: driver,
		logger: utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.GET("/status", h.GetDevice)
		devices.GET("/identity", h.GetIdentity)
		devices.POST("/monitor", h.StartMonitoring)
		devices.DELETE("/monitor", h.StopMonitoring)
	}
}

// ListDevices lists tracked devices
// @Summary List devices
// @Description Get the handshake status of every tracked device
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{devices=[]model.DeviceStatus,count=int}} "Devices retrieved successfully"
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.driver.Devices()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GetDevice returns the status of one device
// @Summary Get device status
// @Tags Devices
// @Produce json
// @Param path query string true "Device path"
// @Success 200 {object} utils.APIResponse{data=model.DeviceStatus} "Device retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Device not tracked"
// @Router /devices/status [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}

	status, found := h.driver.Device(path)
	if !found {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not tracked", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", status)
}

// GetIdentity returns the identity of a device once its handshake completed
// @Summary Get device identity
// @Tags Devices
// @Produce json
// @Param path query string true "Device path"
// @Success 200 {object} utils.APIResponse{data=model.DeviceIdentity} "Device identified"
// @Failure 404 {object} utils.APIResponse "Device not identified"
// @Router /devices/identity [get]
func (h *DeviceHandler) GetIdentity(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}

	identity, found := h.driver.IsIdentified(path)
	if !found {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not identified", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device identified", identity)
}

// StartMonitoring starts the MAVLink check of a device
// @Summary Monitor a device
// @Tags Devices
// @Accept json
// @Produce json
// @Param request body MonitorRequest true "Device to monitor"
// @Success 202 {object} utils.APIResponse "Monitoring started"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Registry full"
// @Router /devices/monitor [post]
func (h *DeviceHandler) StartMonitoring(c *gin.Context) {
	var req MonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.driver.StartMonitoring(req.Path); err != nil {
		if writeDriverError(c, monitorErrors, err) {
			return
		}
		h.logger.Error("Failed to start monitoring", zap.String("dev_path", req.Path), zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to start monitoring", err)
		return
	}

	status, _ := h.driver.Device(req.Path)
	utils.SuccessResponse(c, http.StatusAccepted, "Monitoring started", status)
}

// StopMonitoring stops and forgets a device
// @Summary Stop monitoring a device
// @Tags Devices
// @Produce json
// @Param path query string true "Device path"
// @Success 200 {object} utils.APIResponse "Monitoring stopped"
// @Failure 404 {object} utils.APIResponse "Device not tracked"
// @Router /devices/monitor [delete]
func (h *DeviceHandler) StopMonitoring(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}

	if !h.driver.StopMonitoring(path) {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not tracked", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Monitoring stopped", gin.H{"dev_path": path})
}

func requirePath(c *gin.Context) (string, bool) {
	path := c.Query("path")
	if path == "" {
		utils.ValidationErrorResponse(c, map[string]string{"path": "path query parameter is required"})
		return "", false
	}
	return path, true
}
