// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"can-bridge-service/internal/model"
)

// memoryOperationRepository keeps operation history in process memory.
// It is used when no database is configured.
type memoryOperationRepository struct {
	mu         sync.RWMutex
	operations map[uuid.UUID]*model.SessionOperation
}

// NewMemoryOperationRepository creates an empty in-memory operation repository
func NewMemoryOperationRepository() OperationRepository {
	return &memoryOperationRepository{
		operations: make(map[uuid.UUID]*model.SessionOperation),
	}
}

func (r *memoryOperationRepository) Create(ctx context.Context, operation *model.SessionOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[operation.ID]; exists {
		return fmt.Errorf("operation %s already exists", operation.ID)
	}
	r.operations[operation.ID] = copyOperation(operation)
	return nil
}

func (r *memoryOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	operation, ok := r.operations[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}
	return copyOperation(operation), nil
}

func (r *memoryOperationRepository) Update(ctx context.Context, operation *model.SessionOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.operations[operation.ID]; !ok {
		return fmt.Errorf("operation %s: %w", operation.ID, model.ErrNotFound)
	}
	r.operations[operation.ID] = copyOperation(operation)
	return nil
}

func (r *memoryOperationRepository) List(ctx context.Context, filter *OperationFilter) ([]*model.SessionOperation, int, error) {
	filter.Normalize()

	r.mu.RLock()
	matched := make([]*model.SessionOperation, 0, len(r.operations))
	for _, op := range r.operations {
		if matchesOperation(op, filter) {
			matched = append(matched, copyOperation(op))
		}
	}
	r.mu.RUnlock()

	sortOperations(matched, filter.SortBy, filter.SortOrder == "asc")

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []*model.SessionOperation{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memoryOperationRepository) GetOperationStats(ctx context.Context, filter *OperationStatsFilter) (*OperationStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc := newStatsAccumulator()
	for _, op := range r.operations {
		if !inWindow(op, filter.SessionID, filter.StartDate, filter.EndDate) {
			continue
		}
		var durationMs int64
		if op.DurationMs != nil {
			durationMs = int64(*op.DurationMs)
		}
		acc.add(op.OperationType, op.Status, 1, durationMs)
	}
	return acc.result(), nil
}

func (r *memoryOperationRepository) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, op := range r.operations {
		if op.CreatedAt.Before(olderThan) {
			delete(r.operations, id)
			deleted++
		}
	}
	return deleted, nil
}

func matchesOperation(op *model.SessionOperation, filter *OperationFilter) bool {
	if !inWindow(op, filter.SessionID, filter.StartDate, filter.EndDate) {
		return false
	}
	if filter.OperationType != nil && op.OperationType != *filter.OperationType {
		return false
	}
	if filter.Status != nil && op.Status != *filter.Status {
		return false
	}
	return true
}

func inWindow(op *model.SessionOperation, sessionID *uuid.UUID, start, end *time.Time) bool {
	if sessionID != nil && op.SessionID != *sessionID {
		return false
	}
	if start != nil && op.CreatedAt.Before(*start) {
		return false
	}
	if end != nil && op.CreatedAt.After(*end) {
		return false
	}
	return true
}

func sortOperations(ops []*model.SessionOperation, by string, ascending bool) {
	less := func(a, b *model.SessionOperation) bool {
		switch by {
		case "started_at":
			return a.StartedAt.Before(b.StartedAt)
		case "duration_ms":
			return durationOf(a) < durationOf(b)
		case "operation_type":
			return a.OperationType < b.OperationType
		case "status":
			return a.Status < b.Status
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if ascending {
			return less(ops[i], ops[j])
		}
		return less(ops[j], ops[i])
	})
}

func durationOf(op *model.SessionOperation) int {
	if op.DurationMs == nil {
		return 0
	}
	return *op.DurationMs
}

func copyOperation(op *model.SessionOperation) *model.SessionOperation {
	c := *op
	return &c
}

// memoryProfileRepository keeps saved profiles in process memory
type memoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*model.ConfigProfile
}

// NewMemoryProfileRepository creates an empty in-memory profile repository
func NewMemoryProfileRepository() ProfileRepository {
	return &memoryProfileRepository{
		profiles: make(map[uuid.UUID]*model.ConfigProfile),
	}
}

func (r *memoryProfileRepository) Create(ctx context.Context, profile *model.ConfigProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkName(profile); err != nil {
		return err
	}
	r.profiles[profile.ID] = copyProfile(profile)
	return nil
}

func (r *memoryProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConfigProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, model.ErrProfileNotFound)
	}
	return copyProfile(profile), nil
}

func (r *memoryProfileRepository) Update(ctx context.Context, profile *model.ConfigProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[profile.ID]; !ok {
		return fmt.Errorf("profile %s: %w", profile.ID, model.ErrProfileNotFound)
	}
	if err := r.checkName(profile); err != nil {
		return err
	}
	r.profiles[profile.ID] = copyProfile(profile)
	return nil
}

func (r *memoryProfileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("profile %s: %w", id, model.ErrProfileNotFound)
	}
	delete(r.profiles, id)
	return nil
}

func (r *memoryProfileRepository) List(ctx context.Context) ([]*model.ConfigProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]*model.ConfigProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, copyProfile(p))
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// checkName enforces unique names; callers hold the lock
func (r *memoryProfileRepository) checkName(profile *model.ConfigProfile) error {
	for id, existing := range r.profiles {
		if id != profile.ID && existing.Name == profile.Name {
			return model.Errorf(model.KindValidation, "profile", "profile %q already exists", profile.Name)
		}
	}
	return nil
}

func copyProfile(p *model.ConfigProfile) *model.ConfigProfile {
	c := *p
	c.Snapshot = *p.Snapshot.Clone()
	return &c
}
