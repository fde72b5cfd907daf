// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"can-bridge-service/internal/service"
	"can-bridge-service/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// WebSocketHandler streams bridge events to WebSocket clients
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	connections    *ConnectionManager
	sessionService *service.SessionService
	eventBus       *EventBus
	logger         *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	sessionService *service.SessionService,
	eventBus *EventBus,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return &WebSocketHandler{
		upgrader:       upgrader,
		connections:    NewConnectionManager(),
		sessionService: sessionService,
		eventBus:       eventBus,
		logger:         utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/sessions/:session_id", h.HandleSessionConnection)
	router.GET("/stats", h.HandleStats)
}

// HandleStats reports open WebSocket clients, optionally for one session
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	if raw := c.Query("session_id"); raw != "" {
		sessionID, err := uuid.Parse(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
			return
		}
		clients := h.connections.GetSessionClients(sessionID)
		utils.SuccessResponse(c, http.StatusOK, "Session clients retrieved", gin.H{
			"session_id": sessionID,
			"clients":    clients,
			"total":      len(clients),
		})
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Connection statistics retrieved", gin.H{
		"connections": h.GetConnectionStats(),
		"subscribers": h.eventBus.SubscriberCount(),
	})
}

// HandleEventConnection streams the events of every session
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	client := h.upgrade(c, "events", nil)
	if client == nil {
		return
	}

	h.logger.Info("Event WebSocket client connected", zap.String("client_id", client.ID))
	h.serve(client)
}

// HandleSessionConnection streams the events of one session and accepts
// raw commands for it
func (h *WebSocketHandler) HandleSessionConnection(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	info, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Session not available", err)
		return
	}

	client := h.upgrade(c, "session", &sessionID)
	if client == nil {
		return
	}

	h.logger.Info("Session WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID.String()),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_status",
		Data:      gin.H{"session": info},
		Timestamp: time.Now(),
	})
	h.serve(client)
}

func (h *WebSocketHandler) upgrade(c *gin.Context, clientType string, sessionID *uuid.UUID) *Client {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil
	}

	filter := uuid.Nil
	if sessionID != nil {
		filter = *sessionID
	}

	client := &Client{
		ID:           uuid.New().String(),
		Connection:   conn,
		Send:         make(chan []byte, 256),
		Type:         clientType,
		SessionID:    sessionID,
		UserAgent:    c.Request.UserAgent(),
		RemoteAddr:   c.Request.RemoteAddr,
		ConnectedAt:  time.Now(),
		subscription: h.eventBus.Subscribe(filter, 256),
		done:         make(chan struct{}),
	}
	h.connections.Register(client)
	return client
}

func (h *WebSocketHandler) serve(client *Client) {
	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		h.eventBus.Unsubscribe(client.subscription)
		close(client.done)
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

// handleClientWrite writes replies and bus events to the client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			if !h.write(client, websocket.TextMessage, message) {
				return
			}

		case event, ok := <-client.subscription.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(&WebSocketMessage{
				Type:      "bridge_event",
				Data:      event,
				Timestamp: event.Timestamp,
			})
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			if !h.write(client, websocket.TextMessage, payload) {
				return
			}

		case <-ticker.C:
			if !h.write(client, websocket.PingMessage, nil) {
				return
			}

		case <-client.done:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (h *WebSocketHandler) write(client *Client, messageType int, payload []byte) bool {
	client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.Connection.WriteMessage(messageType, payload); err != nil {
		h.logger.Debug("WebSocket write error",
			zap.Error(err),
			zap.String("client_id", client.ID),
		)
		return false
	}
	return true
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "status":
		h.handleStatus(client, message)
	case "command":
		h.handleCommand(client, message)
	default:
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) handleStatus(client *Client, message *WebSocketMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var data interface{}
	if client.SessionID == nil {
		data = gin.H{"sessions": h.sessionService.ListSessions(ctx)}
	} else {
		info, err := h.sessionService.GetSession(ctx, *client.SessionID)
		if err != nil {
			h.sendError(client, err.Error())
			return
		}
		data = gin.H{"session": info}
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "status",
		Data:      data,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// handleCommand sends one raw AT command on a session connection
func (h *WebSocketHandler) handleCommand(client *Client, message *WebSocketMessage) {
	if client.SessionID == nil {
		h.sendError(client, "command only available on session connections")
		return
	}

	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, "invalid command data")
		return
	}
	command, ok := data["command"].(string)
	if !ok || command == "" {
		h.sendError(client, "command is required")
		return
	}

	go func(sessionID uuid.UUID) {
		response, err := h.sessionService.SendCommand(context.Background(), sessionID, command)

		result := gin.H{
			"command":  command,
			"success":  err == nil,
			"response": response,
		}
		if err != nil {
			result["error"] = err.Error()
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      "command_response",
			Data:      result,
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	}(*client.SessionID)
}

// sendMessage queues a message for a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      gin.H{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
