// internal/service/operation_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/config"
	"can-bridge-service/internal/model"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/utils"
)

// OperationService exposes the recorded operation history
type OperationService struct {
	operationRepo repository.OperationRepository
	config        *config.Config
	logger        *utils.ServiceLogger
}

// NewOperationService creates a new operation service instance
func NewOperationService(
	operationRepo repository.OperationRepository,
	config *config.Config,
	logger *zap.Logger,
) *OperationService {
	return &OperationService{
		operationRepo: operationRepo,
		config:        config,
		logger:        utils.NewServiceLogger(logger, "operation-service"),
	}
}

// GetOperation retrieves operation details
func (os *OperationService) GetOperation(ctx context.Context, operationID uuid.UUID) (*model.SessionOperation, error) {
	operation, err := os.operationRepo.GetByID(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("operation not found: %w", err)
	}
	return operation, nil
}

// ListOperations lists operations with filtering
func (os *OperationService) ListOperations(ctx context.Context, filter *OperationFilter) ([]*model.SessionOperation, *PaginationResult, error) {
	repoFilter := filter.toRepoFilter()
	repoFilter.Normalize()

	operations, total, err := os.operationRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list operations: %w", err)
	}

	pagination := &PaginationResult{
		Total:      total,
		Page:       repoFilter.Page,
		PerPage:    repoFilter.PerPage,
		TotalPages: (total + repoFilter.PerPage - 1) / repoFilter.PerPage,
	}

	return operations, pagination, nil
}

// GetOperationStats returns counts and the success ratio over a window
func (os *OperationService) GetOperationStats(ctx context.Context, filter *repository.OperationStatsFilter) (*repository.OperationStats, error) {
	if filter == nil {
		filter = &repository.OperationStatsFilter{}
	}
	stats, err := os.operationRepo.GetOperationStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation stats: %w", err)
	}
	return stats, nil
}

// CleanupOldOperations removes operations older than retention
func (os *OperationService) CleanupOldOperations(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := os.operationRepo.DeleteOldOperations(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up operations: %w", err)
	}

	if deleted > 0 {
		os.logger.Info("Old operations removed",
			zap.Int64("deleted", deleted),
			zap.Duration("retention", retention),
		)
	}
	return deleted, nil
}

// PaginationResult describes one page of a listing
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// OperationFilter represents operation listing filters
type OperationFilter struct {
	SessionID     *uuid.UUID             `json:"session_id,omitempty"`
	OperationType *model.OperationType   `json:"operation_type,omitempty"`
	Status        *model.OperationStatus `json:"status,omitempty"`
	StartDate     *time.Time             `json:"start_date,omitempty"`
	EndDate       *time.Time             `json:"end_date,omitempty"`
	Page          int                    `json:"page"`
	PerPage       int                    `json:"per_page"`
	SortBy        string                 `json:"sort_by"`
	SortOrder     string                 `json:"sort_order"`
}

// toRepoFilter converts to repository filter
func (of *OperationFilter) toRepoFilter() *repository.OperationFilter {
	return &repository.OperationFilter{
		SessionID:     of.SessionID,
		OperationType: of.OperationType,
		Status:        of.Status,
		StartDate:     of.StartDate,
		EndDate:       of.EndDate,
		Page:          of.Page,
		PerPage:       of.PerPage,
		SortBy:        of.SortBy,
		SortOrder:     of.SortOrder,
	}
}
