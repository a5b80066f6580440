package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/handler"
	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/storage"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := storage.NewRegistry(storage.Candidate{Name: storage.KindFlat, New: func() storage.Adapter {
		return storage.NewFlatAdapter(nil, storage.Options{})
	}})
	engine := service.NewHabitEngine(registry.Get())
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	api := handler.NewAPI(engine, service.NewBackupService(engine, "", ""), registry, service.NewLogReporter(0))
	return SetupRouter(api)
}

func TestSetupRouterRoutes(t *testing.T) {
	r := setupTestRouter(t)

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{method: http.MethodGet, path: "/ping", status: http.StatusOK, body: "pong"},
		{method: http.MethodGet, path: "/api/habits", status: http.StatusOK, body: `"habits":[]`},
		{method: http.MethodGet, path: "/api/settings", status: http.StatusOK, body: `"maxHabits":3`},
		{method: http.MethodGet, path: "/api/storage", status: http.StatusOK, body: `"kind":"flat"`},
		{method: http.MethodGet, path: "/api/habits/missing", status: http.StatusNotFound},
		{method: http.MethodGet, path: "/api/unknown", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.body != "" && !strings.Contains(rr.Body.String(), tt.body) {
				t.Fatalf("expected body to contain %q, got %q", tt.body, rr.Body.String())
			}
		})
	}
}

func TestSetupRouterExposesMetrics(t *testing.T) {
	r := setupTestRouter(t)

	// 先触发一次存储读写，确保计数器有样本
	for _, path := range []string{"/api/habits", "/api/storage"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "habitflow_adapter_selections_total") {
		t.Fatalf("expected adapter selection metric in output")
	}
}
