package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (s stubChecker) Health(ctx context.Context) error { return s.err }

func checkHealth(t *testing.T, vectors, db HealthChecker) (int, HealthResponse) {
	t.Helper()
	handler := NewHealthHandler(vectors, db)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	code, body := checkHealth(t, stubChecker{}, stubChecker{})

	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "healthy" || body.Qdrant != "connected" || body.Database != "connected" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthHandler_QdrantDown(t *testing.T) {
	code, body := checkHealth(t, stubChecker{err: errors.New("unreachable")}, stubChecker{})

	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Qdrant != "disconnected" || body.Database != "connected" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	code, body := checkHealth(t, stubChecker{}, stubChecker{err: errors.New("locked")})

	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Database != "disconnected" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestTenantOrDefault(t *testing.T) {
	if got := tenantOrDefault(""); got != DefaultTenant {
		t.Errorf("tenantOrDefault(\"\") = %q", got)
	}
	if got := tenantOrDefault("acme"); got != "acme" {
		t.Errorf("tenantOrDefault(acme) = %q", got)
	}
}
