// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

// DiscoveryHandler handles port listing and rescans
type DiscoveryHandler struct {
	driver    DeviceDriver
	templates []string
	logger    *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(driver DeviceDriver, templates []string, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		driver:    driver,
		templates: templates,
		logger:    utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
	discovery := router.Group("/discovery")
	{
		discovery.POST("/scan", h.Rescan)
		discovery.GET("/templates", h.GetTemplates)
	}
}

// ListPorts lists matching serial devices with their USB attributes
// @Summary List serial ports
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{ports=[]model.PortInfo,count=int}} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /ports [get]
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := h.driver.Ports(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports listed", gin.H{
		"ports": ports,
		"count": len(ports),
	})
}

// Rescan starts monitoring matching devices not yet tracked
// @Summary Rescan devices
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{started=int}} "Scan completed"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /discovery/scan [post]
func (h *DiscoveryHandler) Rescan(c *gin.Context) {
	started, err := h.driver.ScanExisting(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to scan devices", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan devices", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device scan completed", gin.H{"started": started})
}

// GetTemplates returns the device name templates in use
// @Summary List templates
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{templates=[]string}} "Templates listed"
// @Router /discovery/templates [get]
func (h *DiscoveryHandler) GetTemplates(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Templates listed", gin.H{"templates": h.templates})
}
