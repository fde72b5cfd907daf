// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"can-bridge-service/internal/model"
)

// OperationRepository defines operation history data access
type OperationRepository interface {
	Create(ctx context.Context, operation *model.SessionOperation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.SessionOperation, error)
	Update(ctx context.Context, operation *model.SessionOperation) error

	List(ctx context.Context, filter *OperationFilter) ([]*model.SessionOperation, int, error)
	GetOperationStats(ctx context.Context, filter *OperationStatsFilter) (*OperationStats, error)

	DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error)
}

// ProfileRepository defines saved configuration profile data access
type ProfileRepository interface {
	Create(ctx context.Context, profile *model.ConfigProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ConfigProfile, error)
	Update(ctx context.Context, profile *model.ConfigProfile) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*model.ConfigProfile, error)
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

// Normalize applies paging defaults
func (f *OperationFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	if _, ok := sortableColumns[f.SortBy]; !ok {
		f.SortBy = "created_at"
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

// sortableColumns guards the ORDER BY clause
var sortableColumns = map[string]struct{}{
	"created_at":     {},
	"started_at":     {},
	"duration_ms":    {},
	"operation_type": {},
	"status":         {},
}

// OperationStatsFilter represents operation statistics filters
type OperationStatsFilter struct {
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// OperationStats represents operation statistics
type OperationStats struct {
	TotalOperations int                           `json:"total_operations"`
	SuccessfulOps   int                           `json:"successful_operations"`
	PartialOps      int                           `json:"partial_operations"`
	DegradedOps     int                           `json:"degraded_operations"`
	FailedOps       int                           `json:"failed_operations"`
	TimeoutOps      int                           `json:"timeout_operations"`
	SuccessRate     decimal.Decimal               `json:"success_rate"`
	AvgDuration     time.Duration                 `json:"average_duration"`
	ByType          map[model.OperationType]int   `json:"by_type"`
	ByStatus        map[model.OperationStatus]int `json:"by_status"`
}

// SuccessRate is successful over total, rounded to four places
func SuccessRate(successful, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(successful)).
		Div(decimal.NewFromInt(int64(total))).
		Round(4)
}
