// internal/handler/session_handler.go
package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/service"
	"can-bridge-service/internal/utils"
)

// maxImportSize bounds snapshot documents accepted by import
const maxImportSize = 1 << 20

// SessionHandler handles bridge session HTTP requests
type SessionHandler struct {
	sessionService *service.SessionService
	logger         *utils.ServiceLogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         utils.NewServiceLogger(logger, "session-handler"),
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.Connect)
		sessions.GET("", h.ListSessions)

		session := sessions.Group("/:session_id")
		{
			session.GET("", h.GetSession)
			session.DELETE("", h.Disconnect)
			session.GET("/health", h.GetSessionHealth)
			session.POST("/probe", h.Probe)
			session.POST("/read", h.ReadAll)
			session.POST("/apply", h.ApplyAll)
			session.POST("/apply/advanced", h.ApplyAdvanced)
			session.POST("/reset", h.Reset)
			session.POST("/send", h.SendCommand)
			session.GET("/snapshot", h.GetSnapshot)
			session.PUT("/snapshot", h.UpdateSnapshot)
			session.GET("/snapshot/export", h.ExportSnapshot)
			session.POST("/snapshot/import", h.ImportSnapshot)
			session.POST("/can/ids", h.AddCustomID)
			session.POST("/can/preset/:preset", h.ApplyFilterPreset)
		}
	}

	router.GET("/can/ids/:can_id/describe", h.DescribeCANID)
}

// Connect opens a bridge session
// @Summary Connect to a bridge
// @Description Open a serial, TCP or USB channel to a CAN bridge and register a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body service.ConnectRequest true "Connection request"
// @Success 201 {object} utils.APIResponse{data=model.SessionInfo} "Session connected"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 503 {object} utils.APIResponse "Channel unavailable"
// @Router /sessions [post]
func (h *SessionHandler) Connect(c *gin.Context) {
	var req service.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	info, err := h.sessionService.Connect(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to connect bridge", zap.Error(err))
		utils.BridgeErrorResponse(c, "Failed to connect bridge", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Session connected", info)
}

// ListSessions lists open sessions
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.SessionInfo} "Sessions retrieved"
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.sessionService.ListSessions(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved successfully", gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// GetSession returns one session
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.SessionInfo} "Session retrieved"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{session_id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	info, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Session not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session retrieved successfully", info)
}

// Disconnect closes a session
// @Summary Disconnect session
// @Tags Sessions
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} utils.APIResponse "Session disconnected"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Failure 409 {object} utils.APIResponse "Session busy"
// @Router /sessions/{session_id} [delete]
func (h *SessionHandler) Disconnect(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.sessionService.Disconnect(c.Request.Context(), sessionID); err != nil {
		utils.BridgeErrorResponse(c, "Failed to disconnect session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session disconnected", nil)
}

// GetSessionHealth returns driver health metrics
func (h *SessionHandler) GetSessionHealth(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	metrics, err := h.sessionService.GetSessionHealth(c.Request.Context(), sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to get session health", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session health retrieved", metrics)
}

// ProbeRequest controls mode detection
type ProbeRequest struct {
	AllowSwitch bool `json:"allow_switch"`
}

// Probe detects the device mode
// @Summary Probe bridge mode
// @Description Check whether the bridge answers AT commands, optionally trying to switch it into command mode
// @Tags Sessions
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body ProbeRequest false "Probe options"
// @Success 200 {object} utils.APIResponse{data=driver.ProbeResult} "Probe finished"
// @Router /sessions/{session_id}/probe [post]
func (h *SessionHandler) Probe(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req ProbeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	result, err := h.sessionService.Probe(c.Request.Context(), sessionID, req.AllowSwitch)
	if err != nil {
		utils.BridgeErrorResponse(c, "Probe failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Probe finished", result)
}

// ReadAll reads every parameter section from the bridge
// @Summary Read all parameters
// @Description Read the six parameter sections into the live snapshot
// @Tags Sessions
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=driver.SyncResult} "Read finished"
// @Failure 502 {object} utils.APIResponse "Channel failure"
// @Router /sessions/{session_id}/read [post]
func (h *SessionHandler) ReadAll(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.ReadAll(c.Request.Context(), sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Read failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Read finished with status "+string(result.Status()), gin.H{
		"result": result,
		"status": result.Status(),
		"ratio":  result.Ratio(),
	})
}

// ApplyAll writes the basic parameters
// @Summary Apply parameters
// @Description Write the basic parameter set and save it on the bridge. Without a body the live snapshot is applied.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body model.Snapshot false "Snapshot to apply"
// @Success 200 {object} utils.APIResponse{data=driver.ApplyResult} "Parameters applied"
// @Router /sessions/{session_id}/apply [post]
func (h *SessionHandler) ApplyAll(c *gin.Context) {
	h.apply(c, false)
}

// ApplyAdvanced writes the advanced CAN parameters
func (h *SessionHandler) ApplyAdvanced(c *gin.Context) {
	h.apply(c, true)
}

func (h *SessionHandler) apply(c *gin.Context, advanced bool) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var snapshot *model.Snapshot
	if c.Request.ContentLength > 0 {
		snapshot = &model.Snapshot{}
		if err := c.ShouldBindJSON(snapshot); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid snapshot", err)
			return
		}
	}

	apply := h.sessionService.ApplyAll
	if advanced {
		apply = h.sessionService.ApplyAdvanced
	}

	result, err := apply(c.Request.Context(), sessionID, snapshot)
	if err != nil {
		utils.BridgeErrorResponse(c, "Apply failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Parameters applied", result)
}

// Reset restarts the bridge
func (h *SessionHandler) Reset(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.sessionService.ResetDevice(c.Request.Context(), sessionID); err != nil {
		utils.BridgeErrorResponse(c, "Reset failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Bridge restarted", nil)
}

// SendCommandRequest carries one raw AT command
type SendCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// SendCommand sends a raw AT command
// @Summary Send raw command
// @Tags Sessions
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body SendCommandRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=object{command=string,response=string}} "Command sent"
// @Router /sessions/{session_id}/send [post]
func (h *SessionHandler) SendCommand(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	response, err := h.sessionService.SendCommand(c.Request.Context(), sessionID, req.Command)
	if err != nil {
		utils.BridgeErrorResponse(c, "Command failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command sent", gin.H{
		"command":  req.Command,
		"response": response,
	})
}

// GetSnapshot returns the live snapshot
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	snapshot, err := h.sessionService.GetSnapshot(c.Request.Context(), sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to get snapshot", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Snapshot retrieved", snapshot)
}

// UpdateSnapshot validates and stores a host-side edit
// @Summary Update snapshot
// @Description Replace the live snapshot without writing to the bridge
// @Tags Snapshots
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body model.Snapshot true "Snapshot"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot} "Snapshot updated"
// @Failure 400 {object} utils.APIResponse "Validation failed"
// @Router /sessions/{session_id}/snapshot [put]
func (h *SessionHandler) UpdateSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var snapshot model.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid snapshot", err)
		return
	}

	updated, err := h.sessionService.UpdateSnapshot(c.Request.Context(), sessionID, &snapshot)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to update snapshot", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Snapshot updated", updated)
}

// ExportSnapshot returns the persisted document of the live snapshot
// @Summary Export snapshot
// @Tags Snapshots
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {string} string "Snapshot document"
// @Router /sessions/{session_id}/snapshot/export [get]
func (h *SessionHandler) ExportSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	text, err := h.sessionService.SaveSnapshot(c.Request.Context(), sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to export snapshot", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="waveshare_config.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(text))
}

// ImportSnapshot loads a persisted document
// @Summary Import snapshot
// @Description Decode a snapshot document. With merge=true its sections replace the live snapshot.
// @Tags Snapshots
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param merge query bool false "Replace live sections"
// @Success 200 {object} utils.APIResponse{data=model.Snapshot} "Snapshot loaded"
// @Failure 400 {object} utils.APIResponse "Decode error"
// @Router /sessions/{session_id}/snapshot/import [post]
func (h *SessionHandler) ImportSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	merge := false
	if raw := c.Query("merge"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid merge flag", err)
			return
		}
		merge = parsed
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	snapshot, err := h.sessionService.LoadSnapshot(c.Request.Context(), sessionID, string(body), merge)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to load snapshot", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Snapshot loaded", gin.H{
		"snapshot": snapshot,
		"merged":   merge,
	})
}

// AddCustomIDRequest carries a CAN identifier
type AddCustomIDRequest struct {
	CanID string `json:"can_id" binding:"required"`
}

// AddCustomID records a custom CAN ID on the session
func (h *SessionHandler) AddCustomID(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req AddCustomIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	normalized, ids, err := h.sessionService.AddCustomID(c.Request.Context(), sessionID, req.CanID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to add CAN ID", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "CAN ID added", gin.H{
		"can_id":     normalized,
		"custom_ids": ids,
	})
}

// ApplyFilterPreset replaces the filter settings with a named preset
func (h *SessionHandler) ApplyFilterPreset(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	snapshot, err := h.sessionService.ApplyFilterPreset(c.Request.Context(), sessionID, c.Param("preset"))
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to apply preset", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Preset applied", snapshot)
}

// DescribeCANID explains a CAN identifier
// @Summary Describe CAN ID
// @Tags CAN
// @Produce json
// @Param can_id path string true "CAN ID in hex"
// @Success 200 {object} utils.APIResponse{data=service.CANIDDescription} "Description"
// @Failure 400 {object} utils.APIResponse "Invalid CAN ID"
// @Router /can/ids/{can_id}/describe [get]
func (h *SessionHandler) DescribeCANID(c *gin.Context) {
	description, err := h.sessionService.DescribeCANID(c.Param("can_id"))
	if err != nil {
		utils.BridgeErrorResponse(c, "Invalid CAN ID", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "CAN ID described", description)
}

func (h *SessionHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return uuid.Nil, false
	}
	return sessionID, true
}
