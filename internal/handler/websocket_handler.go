// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams device events to WebSocket clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	driver      DeviceDriver
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(driver DeviceDriver, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connections: NewConnectionManager(),
		driver:      driver,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/devices", h.HandleDeviceConnection)
}

// HandleEventConnection streams every device event
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	client := h.upgrade(c, "events", nil)
	if client == nil {
		return
	}
	h.logger.Info("Event WebSocket client connected", zap.String("client_id", client.ID))

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleDeviceConnection streams the events of one device path
func (h *WebSocketHandler) HandleDeviceConnection(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	client := h.upgrade(c, "device", &path)
	if client == nil {
		return
	}
	h.logger.Info("Device WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("dev_path", path),
	)

	h.sendStatus(client, path)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func (h *WebSocketHandler) upgrade(c *gin.Context, clientType string, devPath *string) *Client {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientType,
		DevPath:     devPath,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	h.connections.Register(client)
	return client
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}
		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{Type: "pong", Timestamp: time.Now(), RequestID: message.RequestID})
	case "devices":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "devices",
			Data:      h.driver.Devices(),
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "status":
		path := ""
		if client.DevPath != nil {
			path = *client.DevPath
		}
		if data, ok := message.Data.(map[string]interface{}); ok {
			if p, ok := data["path"].(string); ok {
				path = p
			}
		}
		if path == "" {
			h.sendError(client, "path is required")
			return
		}
		h.sendStatus(client, path)
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) sendStatus(client *Client, path string) {
	status, ok := h.driver.Device(path)
	if !ok {
		h.sendError(client, "device not tracked: "+path)
		return
	}
	h.sendMessage(client, &WebSocketMessage{Type: "device_status", Data: status, Timestamp: time.Now()})
}

func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client send channel full, dropping message", zap.String("client_id", client.ID))
	}
}

func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// BroadcastDeviceEvent sends event to event clients and to clients of its device
func (h *WebSocketHandler) BroadcastDeviceEvent(event model.DeviceEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "device_event",
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	dropped := h.connections.Broadcast(messageBytes, func(client *Client) bool {
		return client.Type == "events" || (client.DevPath != nil && *client.DevPath == event.DevPath)
	})
	for _, id := range dropped {
		h.logger.Warn("Client send channel full during broadcast", zap.String("client_id", id))
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// Close disconnects every client
func (h *WebSocketHandler) Close() {
	h.connections.CloseAll()
}
