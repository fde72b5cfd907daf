// internal/service/profile_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/utils"
	"can-bridge-service/pkg/driver"
)

// ProfileService manages named snapshots that can be applied to any session
type ProfileService struct {
	profileRepo    repository.ProfileRepository
	sessionService *SessionService
	logger         *utils.ServiceLogger
	auditLogger    *utils.AuditLogger
	now            func() time.Time
}

// NewProfileService creates a new profile service instance
func NewProfileService(profileRepo repository.ProfileRepository, sessionService *SessionService, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		profileRepo:    profileRepo,
		sessionService: sessionService,
		logger:         utils.NewServiceLogger(logger, "profile-service"),
		auditLogger:    utils.NewAuditLogger(logger),
		now:            time.Now,
	}
}

// ProfileRequest creates or updates a profile. SessionID copies the live
// snapshot of that session when Snapshot is empty.
type ProfileRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Snapshot    *model.Snapshot `json:"snapshot,omitempty"`
	SessionID   *uuid.UUID      `json:"session_id,omitempty"`
}

// CreateProfile stores a new profile
func (ps *ProfileService) CreateProfile(ctx context.Context, req *ProfileRequest) (*model.ConfigProfile, error) {
	snapshot, err := ps.resolveSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	now := ps.now()
	profile := &model.ConfigProfile{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Snapshot:    *snapshot,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := ps.profileRepo.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	ps.auditLogger.LogProfileChange(profile.ID.String(), profile.Name, "created")
	return profile, nil
}

// GetProfile returns one profile
func (ps *ProfileService) GetProfile(ctx context.Context, id uuid.UUID) (*model.ConfigProfile, error) {
	return ps.profileRepo.GetByID(ctx, id)
}

// ListProfiles returns all profiles ordered by name
func (ps *ProfileService) ListProfiles(ctx context.Context) ([]*model.ConfigProfile, error) {
	profiles, err := ps.profileRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// UpdateProfile replaces name, description and snapshot of a profile
func (ps *ProfileService) UpdateProfile(ctx context.Context, id uuid.UUID, req *ProfileRequest) (*model.ConfigProfile, error) {
	profile, err := ps.profileRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshot, err := ps.resolveSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	profile.Name = strings.TrimSpace(req.Name)
	profile.Description = req.Description
	profile.Snapshot = *snapshot
	profile.UpdatedAt = ps.now()

	if err := ps.profileRepo.Update(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	ps.auditLogger.LogProfileChange(profile.ID.String(), profile.Name, "updated")
	return profile, nil
}

// DeleteProfile removes a profile
func (ps *ProfileService) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	profile, err := ps.profileRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := ps.profileRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	ps.auditLogger.LogProfileChange(profile.ID.String(), profile.Name, "deleted")
	return nil
}

// ApplyProfile writes a stored profile to a connected bridge
func (ps *ProfileService) ApplyProfile(ctx context.Context, profileID, sessionID uuid.UUID) (*driver.ApplyResult, error) {
	profile, err := ps.profileRepo.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}

	result, err := ps.sessionService.ApplyAll(ctx, sessionID, &profile.Snapshot)
	if err != nil {
		return nil, err
	}

	ps.auditLogger.LogProfileChange(profile.ID.String(), profile.Name, "applied")
	return result, nil
}

func (ps *ProfileService) resolveSnapshot(ctx context.Context, req *ProfileRequest) (*model.Snapshot, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, model.Errorf(model.KindValidation, "profile", "name is required")
	}

	switch {
	case req.Snapshot != nil:
		if err := req.Snapshot.Validate(); err != nil {
			return nil, err
		}
		snapshot := req.Snapshot.Clone()
		snapshot.CanConfig.CustomIDs = nil
		return snapshot, nil
	case req.SessionID != nil:
		snapshot, err := ps.sessionService.GetSnapshot(ctx, *req.SessionID)
		if err != nil {
			return nil, err
		}
		snapshot.CanConfig.CustomIDs = nil
		return snapshot, nil
	default:
		return nil, model.Errorf(model.KindValidation, "profile", "snapshot or session_id is required")
	}
}
