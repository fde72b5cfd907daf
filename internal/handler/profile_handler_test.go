// internal/handler/profile_handler_test.go
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/service"
)

func TestProfileEndpoints(t *testing.T) {
	srv := newTestServer(t, prototest.Script(prototest.ConfigModeBridge()))
	sessionID := srv.connect(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/profiles",
		fmt.Sprintf(`{"name":"bench","session_id":%q}`, sessionID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rec.Code, rec.Body.String())
	}
	var created model.ConfigProfile
	decodeData(t, rec, &created)
	if created.Name != "bench" || created.ID == uuid.Nil {
		t.Fatalf("created = %+v", created)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/profiles", `{"name":"bench","session_id":"`+sessionID+`"}`)
	if rec.Code == http.StatusCreated {
		t.Errorf("duplicate profile name accepted")
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/profiles", `{"name":"empty"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("profile without source status = %d, want 400", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/profiles", "")
	var listing struct {
		Total int `json:"total"`
	}
	decodeData(t, rec, &listing)
	if listing.Total != 1 {
		t.Errorf("profiles total = %d, want 1", listing.Total)
	}

	path := "/api/v1/profiles/" + created.ID.String()
	rec = srv.do(t, http.MethodPut, path, `{"name":"bench-2","session_id":"`+sessionID+`"}`)
	var updated model.ConfigProfile
	decodeData(t, rec, &updated)
	if updated.Name != "bench-2" {
		t.Errorf("updated name = %q", updated.Name)
	}

	rec = srv.do(t, http.MethodPost, path+"/apply/"+sessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status = %d (%s)", rec.Code, rec.Body.String())
	}
	writes := srv.fake.Written()
	if len(writes) == 0 || writes[len(writes)-1] != "AT+SAVE" {
		t.Errorf("last write = %v, want AT+SAVE", writes)
	}

	rec = srv.do(t, http.MethodDelete, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, path, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/api/v1/profiles/nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed profile id = %d, want 400", rec.Code)
	}
}

func TestOperationEndpoints(t *testing.T) {
	srv := newTestServer(t, prototest.Script(prototest.ConfigModeBridge()))
	sessionID := srv.connect(t)

	for i := 0; i < 3; i++ {
		if rec := srv.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/send", `{"command":"AT"}`); rec.Code != http.StatusOK {
			t.Fatalf("send status = %d", rec.Code)
		}
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/read", ""); rec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rec.Code)
	}

	rec := srv.do(t, http.MethodGet, "/api/v1/operations?per_page=2&session_id="+sessionID, "")
	var page struct {
		Operations []model.SessionOperation `json:"operations"`
		Pagination service.PaginationResult `json:"pagination"`
	}
	decodeData(t, rec, &page)
	if len(page.Operations) != 2 || page.Pagination.Total != 4 || page.Pagination.TotalPages != 2 {
		t.Fatalf("page = %d ops, pagination %+v", len(page.Operations), page.Pagination)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/operations?operation_type="+string(model.OperationTypeReadAll), "")
	decodeData(t, rec, &page)
	if len(page.Operations) != 1 {
		t.Fatalf("read_all operations = %d, want 1", len(page.Operations))
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/operations/"+page.Operations[0].ID.String(), "")
	var op model.SessionOperation
	decodeData(t, rec, &op)
	if op.Status != model.OperationStatusSuccess || op.SuccessCount != 6 {
		t.Errorf("operation = %+v", op)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/operations/stats", "")
	var stats repository.OperationStats
	decodeData(t, rec, &stats)
	if stats.TotalOperations != 4 || stats.SuccessfulOps != 4 || stats.SuccessRate.String() != "1" {
		t.Errorf("stats = %+v", stats)
	}

	for _, path := range []string{
		"/api/v1/operations/" + uuid.New().String(),
		"/api/v1/operations?session_id=bad",
		"/api/v1/operations?start_date=yesterday",
	} {
		rec := srv.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound && rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestHealthEndpointsWithoutDatabase(t *testing.T) {
	srv := newTestServer(t, prototest.Script(prototest.ConfigModeBridge()))
	srv.connect(t)

	rec := srv.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Checks["database"].Status != "disabled" {
		t.Errorf("health = %+v", health)
	}
	if total, _ := health.Checks["sessions"].Data["total"].(float64); total != 1 {
		t.Errorf("session total = %v", health.Checks["sessions"].Data["total"])
	}

	for _, path := range []string{"/health/db", "/ready", "/live"} {
		if rec := srv.do(t, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
