// internal/repository/profile_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"can-bridge-service/internal/database"
	"can-bridge-service/internal/model"
)

const uniqueViolation = "23505"

// profileRepository implements ProfileRepository on PostgreSQL
type profileRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB, logger *zap.Logger) ProfileRepository {
	return &profileRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new profile
func (r *profileRepository) Create(ctx context.Context, profile *model.ConfigProfile) error {
	query := `
		INSERT INTO config_profiles (id, name, description, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		profile.ID, profile.Name, profile.Description, profile.Snapshot,
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return r.wrapWriteError("create", profile.Name, err)
	}

	r.logger.Debug("Profile created", zap.String("profile_id", profile.ID.String()))
	return nil
}

// GetByID retrieves a profile by ID
func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConfigProfile, error) {
	query := `
		SELECT id, name, description, snapshot, created_at, updated_at
		FROM config_profiles WHERE id = $1
	`

	profile := &model.ConfigProfile{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID, &profile.Name, &profile.Description, &profile.Snapshot,
		&profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, model.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}

// Update replaces name, description and snapshot
func (r *profileRepository) Update(ctx context.Context, profile *model.ConfigProfile) error {
	query := `
		UPDATE config_profiles SET name = $2, description = $3, snapshot = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		profile.ID, profile.Name, profile.Description, profile.Snapshot, profile.UpdatedAt,
	)
	if err != nil {
		return r.wrapWriteError("update", profile.Name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile %s: %w", profile.ID, model.ErrProfileNotFound)
	}

	return nil
}

// Delete removes a profile
func (r *profileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM config_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile %s: %w", id, model.ErrProfileNotFound)
	}

	return nil
}

// List returns all profiles ordered by name
func (r *profileRepository) List(ctx context.Context) ([]*model.ConfigProfile, error) {
	query := `
		SELECT id, name, description, snapshot, created_at, updated_at
		FROM config_profiles ORDER BY name ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*model.ConfigProfile{}
	for rows.Next() {
		profile := &model.ConfigProfile{}
		err := rows.Scan(
			&profile.ID, &profile.Name, &profile.Description, &profile.Snapshot,
			&profile.CreatedAt, &profile.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan profile row", zap.Error(err))
			continue
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

func (r *profileRepository) wrapWriteError(op, name string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return model.Errorf(model.KindValidation, "profile", "profile %q already exists", name)
	}
	r.logger.Error("Failed to write profile", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("failed to %s profile: %w", op, err)
}
