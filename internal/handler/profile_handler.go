// internal/handler/profile_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/service"
	"can-bridge-service/internal/utils"
)

// ProfileHandler handles saved configuration profiles
type ProfileHandler struct {
	profileService *service.ProfileService
	logger         *utils.ServiceLogger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profileService *service.ProfileService, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		logger:         utils.NewServiceLogger(logger, "profile-handler"),
	}
}

// RegisterRoutes registers profile routes
func (h *ProfileHandler) RegisterRoutes(router *gin.RouterGroup) {
	profiles := router.Group("/profiles")
	{
		profiles.POST("", h.CreateProfile)
		profiles.GET("", h.ListProfiles)
		profiles.GET("/:profile_id", h.GetProfile)
		profiles.PUT("/:profile_id", h.UpdateProfile)
		profiles.DELETE("/:profile_id", h.DeleteProfile)
		profiles.POST("/:profile_id/apply/:session_id", h.ApplyProfile)
	}
}

// CreateProfile saves a named snapshot
// @Summary Create profile
// @Description Save a snapshot under a name. Either snapshot or session_id must be given.
// @Tags Profiles
// @Accept json
// @Produce json
// @Param request body service.ProfileRequest true "Profile"
// @Success 201 {object} utils.APIResponse{data=model.ConfigProfile} "Profile created"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Router /profiles [post]
func (h *ProfileHandler) CreateProfile(c *gin.Context) {
	var req service.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	profile, err := h.profileService.CreateProfile(c.Request.Context(), &req)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to create profile", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Profile created", profile)
}

// ListProfiles lists saved profiles
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	profiles, err := h.profileService.ListProfiles(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list profiles", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list profiles", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profiles retrieved", gin.H{
		"profiles": profiles,
		"total":    len(profiles),
	})
}

// GetProfile returns one profile
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profileID, ok := h.profileID(c)
	if !ok {
		return
	}

	profile, err := h.profileService.GetProfile(c.Request.Context(), profileID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Profile not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile retrieved", profile)
}

// UpdateProfile replaces a profile
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	profileID, ok := h.profileID(c)
	if !ok {
		return
	}

	var req service.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	profile, err := h.profileService.UpdateProfile(c.Request.Context(), profileID, &req)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to update profile", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile updated", profile)
}

// DeleteProfile removes a profile
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	profileID, ok := h.profileID(c)
	if !ok {
		return
	}

	if err := h.profileService.DeleteProfile(c.Request.Context(), profileID); err != nil {
		utils.BridgeErrorResponse(c, "Failed to delete profile", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile deleted", nil)
}

// ApplyProfile writes a profile to a connected bridge
// @Summary Apply profile
// @Tags Profiles
// @Produce json
// @Param profile_id path string true "Profile ID"
// @Param session_id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=driver.ApplyResult} "Profile applied"
// @Failure 404 {object} utils.APIResponse "Profile or session not found"
// @Router /profiles/{profile_id}/apply/{session_id} [post]
func (h *ProfileHandler) ApplyProfile(c *gin.Context) {
	profileID, ok := h.profileID(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	result, err := h.profileService.ApplyProfile(c.Request.Context(), profileID, sessionID)
	if err != nil {
		utils.BridgeErrorResponse(c, "Failed to apply profile", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile applied", result)
}

func (h *ProfileHandler) profileID(c *gin.Context) (uuid.UUID, bool) {
	profileID, err := uuid.Parse(c.Param("profile_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid profile ID", err)
		return uuid.Nil, false
	}
	return profileID, true
}
