// internal/repository/operation_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/database"
	"can-bridge-service/internal/model"
)

const operationColumns = `id, session_id, operation_type, operation_data, status,
	success_count, total, started_at, completed_at, duration_ms,
	error_kind, error_message, result, created_at`

// operationRepository implements OperationRepository on PostgreSQL
type operationRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *database.DB, logger *zap.Logger) OperationRepository {
	return &operationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new operation
func (r *operationRepository) Create(ctx context.Context, operation *model.SessionOperation) error {
	query := `
		INSERT INTO session_operations (
			id, session_id, operation_type, operation_data, status,
			success_count, total, started_at, result, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		operation.ID, operation.SessionID, operation.OperationType,
		operation.OperationData, operation.Status, operation.SuccessCount,
		operation.Total, operation.StartedAt, operation.Result, operation.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create operation", zap.Error(err))
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

// GetByID retrieves an operation by ID
func (r *operationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM session_operations WHERE id = $1`

	operation, err := scanOperation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return operation, nil
}

// Update stores the terminal state of an operation
func (r *operationRepository) Update(ctx context.Context, operation *model.SessionOperation) error {
	query := `
		UPDATE session_operations SET
			status = $2, success_count = $3, total = $4, completed_at = $5,
			duration_ms = $6, error_kind = $7, error_message = $8, result = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		operation.ID, operation.Status, operation.SuccessCount, operation.Total,
		operation.CompletedAt, operation.DurationMs, operation.ErrorKind,
		operation.ErrorMessage, operation.Result,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("operation %s: %w", operation.ID, model.ErrNotFound)
	}

	return nil
}

// List retrieves operations with filtering and pagination
func (r *operationRepository) List(ctx context.Context, filter *OperationFilter) ([]*model.SessionOperation, int, error) {
	filter.Normalize()

	whereClause, args := operationWhere(filter.SessionID, filter.StartDate, filter.EndDate)
	argIndex := len(args) + 1

	if filter.OperationType != nil {
		whereClause = appendCondition(whereClause, fmt.Sprintf("operation_type = $%d", argIndex))
		args = append(args, *filter.OperationType)
		argIndex++
	}
	if filter.Status != nil {
		whereClause = appendCondition(whereClause, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM session_operations %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count operations: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	query := fmt.Sprintf(`
		SELECT %s
		FROM session_operations %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, operationColumns, whereClause, filter.SortBy, strings.ToUpper(filter.SortOrder), argIndex, argIndex+1)

	args = append(args, filter.PerPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	operations := []*model.SessionOperation{}
	for rows.Next() {
		operation, err := scanOperation(rows)
		if err != nil {
			r.logger.Error("Failed to scan operation row", zap.Error(err))
			continue
		}
		operations = append(operations, operation)
	}

	return operations, total, rows.Err()
}

// GetOperationStats retrieves operation statistics
func (r *operationRepository) GetOperationStats(ctx context.Context, filter *OperationStatsFilter) (*OperationStats, error) {
	whereClause, args := operationWhere(filter.SessionID, filter.StartDate, filter.EndDate)

	query := fmt.Sprintf(`
		SELECT operation_type, status, COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM session_operations %s
		GROUP BY operation_type, status
	`, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation stats: %w", err)
	}
	defer rows.Close()

	acc := newStatsAccumulator()
	for rows.Next() {
		var (
			opType     model.OperationType
			status     model.OperationStatus
			count      int
			durationMs int64
		)
		if err := rows.Scan(&opType, &status, &count, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan operation stats: %w", err)
		}
		acc.add(opType, status, count, durationMs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operation stats: %w", err)
	}

	return acc.result(), nil
}

// DeleteOldOperations removes old operation records
func (r *operationRepository) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM session_operations WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old operations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Deleted old operations",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("older_than", olderThan),
	)

	return rowsAffected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*model.SessionOperation, error) {
	operation := &model.SessionOperation{}
	err := row.Scan(
		&operation.ID, &operation.SessionID, &operation.OperationType,
		&operation.OperationData, &operation.Status, &operation.SuccessCount,
		&operation.Total, &operation.StartedAt, &operation.CompletedAt,
		&operation.DurationMs, &operation.ErrorKind, &operation.ErrorMessage,
		&operation.Result, &operation.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return operation, nil
}

func operationWhere(sessionID *uuid.UUID, start, end *time.Time) (string, []interface{}) {
	whereClause := ""
	args := []interface{}{}

	if sessionID != nil {
		args = append(args, *sessionID)
		whereClause = appendCondition(whereClause, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if start != nil {
		args = append(args, *start)
		whereClause = appendCondition(whereClause, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if end != nil {
		args = append(args, *end)
		whereClause = appendCondition(whereClause, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	return whereClause, args
}

func appendCondition(whereClause, condition string) string {
	if whereClause == "" {
		return "WHERE " + condition
	}
	return whereClause + " AND " + condition
}

// statsAccumulator folds per-type/status counts into OperationStats
type statsAccumulator struct {
	stats      *OperationStats
	durationMs int64
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{
		stats: &OperationStats{
			ByType:   make(map[model.OperationType]int),
			ByStatus: make(map[model.OperationStatus]int),
		},
	}
}

func (a *statsAccumulator) add(opType model.OperationType, status model.OperationStatus, count int, durationMs int64) {
	s := a.stats
	s.TotalOperations += count
	s.ByType[opType] += count
	s.ByStatus[status] += count
	a.durationMs += durationMs

	switch status {
	case model.OperationStatusSuccess:
		s.SuccessfulOps += count
	case model.OperationStatusPartial:
		s.PartialOps += count
	case model.OperationStatusDegraded:
		s.DegradedOps += count
	case model.OperationStatusFailed:
		s.FailedOps += count
	case model.OperationStatusTimeout:
		s.TimeoutOps += count
	}
}

func (a *statsAccumulator) result() *OperationStats {
	s := a.stats
	s.SuccessRate = SuccessRate(s.SuccessfulOps, s.TotalOperations)
	if s.TotalOperations > 0 {
		s.AvgDuration = time.Duration(a.durationMs/int64(s.TotalOperations)) * time.Millisecond
	}
	return s
}
