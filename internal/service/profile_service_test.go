// internal/service/profile_service_test.go
package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/internal/repository"
)

func TestProfileLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	id := env.connect(t)

	profiles := NewProfileService(repository.NewMemoryProfileRepository(), env.service, zaptest.NewLogger(t))

	if _, _, err := env.service.AddCustomID(ctx, id, "0x100"); err != nil {
		t.Fatalf("AddCustomID() error = %v", err)
	}

	saved, err := profiles.CreateProfile(ctx, &ProfileRequest{Name: " bench ", SessionID: &id})
	if err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	if saved.Name != "bench" {
		t.Errorf("name = %q, want trimmed", saved.Name)
	}
	if len(saved.Snapshot.CanConfig.CustomIDs) != 0 {
		t.Error("custom IDs must not be stored in profiles")
	}

	if _, err := profiles.CreateProfile(ctx, &ProfileRequest{Name: "bench", SessionID: &id}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("duplicate CreateProfile() error = %v, want validation", err)
	}

	custom := model.DefaultSnapshot(fixedNow)
	custom.CanConfig.BaudRate = 125000
	updated, err := profiles.UpdateProfile(ctx, saved.ID, &ProfileRequest{Name: "bench", Snapshot: custom})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if updated.Snapshot.CanConfig.BaudRate != 125000 {
		t.Errorf("updated baud = %d", updated.Snapshot.CanConfig.BaudRate)
	}

	result, err := profiles.ApplyProfile(ctx, saved.ID, id)
	if err != nil {
		t.Fatalf("ApplyProfile() error = %v", err)
	}
	if !result.Complete() {
		t.Errorf("ApplyProfile() = %+v", result)
	}
	live, _ := env.service.GetSnapshot(ctx, id)
	if live.CanConfig.BaudRate != 125000 {
		t.Errorf("live baud = %d, want 125000", live.CanConfig.BaudRate)
	}
	if len(live.CanConfig.CustomIDs) != 1 {
		t.Errorf("custom IDs = %v, want session list kept", live.CanConfig.CustomIDs)
	}

	list, err := profiles.ListProfiles(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListProfiles() = %v, %v", list, err)
	}

	if err := profiles.DeleteProfile(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteProfile() error = %v", err)
	}
	if _, err := profiles.GetProfile(ctx, saved.ID); !errors.Is(err, model.ErrProfileNotFound) {
		t.Errorf("GetProfile() after delete error = %v", err)
	}
}

func TestProfileRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	profiles := NewProfileService(repository.NewMemoryProfileRepository(), env.service, zaptest.NewLogger(t))
	missing := uuid.New()

	invalid := model.DefaultSnapshot(fixedNow)
	invalid.UartConfig.Parity = "X"

	tests := []struct {
		name    string
		req     ProfileRequest
		wantErr error
	}{
		{"empty name", ProfileRequest{Snapshot: model.DefaultSnapshot(fixedNow)}, model.ErrValidation},
		{"no source", ProfileRequest{Name: "a"}, model.ErrValidation},
		{"invalid snapshot", ProfileRequest{Name: "a", Snapshot: invalid}, model.ErrValidation},
		{"unknown session", ProfileRequest{Name: "a", SessionID: &missing}, model.ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := profiles.CreateProfile(context.Background(), &req); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateProfile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOperationServiceListing(t *testing.T) {
	env := newTestEnv(t, prototest.Script(map[string]string{"AT": "OK\r\n"}))
	ctx := context.Background()
	id := env.connect(t)

	for i := 0; i < 3; i++ {
		if _, err := env.service.SendCommand(ctx, id, "AT"); err != nil {
			t.Fatalf("SendCommand() error = %v", err)
		}
	}

	operations := NewOperationService(env.opRepo, testConfig(), zaptest.NewLogger(t))
	ops, page, err := operations.ListOperations(ctx, &OperationFilter{SessionID: &id, PerPage: 2})
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 || page.Total != 3 || page.TotalPages != 2 || page.Page != 1 {
		t.Errorf("page = %+v, %d operations", page, len(ops))
	}

	op, err := operations.GetOperation(ctx, ops[0].ID)
	if err != nil || op.OperationData["command"] != "AT" {
		t.Errorf("GetOperation() = %+v, %v", op, err)
	}

	stats, err := operations.GetOperationStats(ctx, nil)
	if err != nil {
		t.Fatalf("GetOperationStats() error = %v", err)
	}
	if stats.TotalOperations != 3 || stats.SuccessRate.String() != "1" {
		t.Errorf("stats = %+v", stats)
	}
}
