package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/storage"
)

type testEnv struct {
	api      *API
	router   *gin.Engine
	adapter  storage.Adapter
	reporter *service.LogReporter
}

func fixedNow() time.Time {
	return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T, store storage.FlatStore) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	adapter := storage.NewFlatAdapter(store, storage.Options{Retry: storage.RetryConfig{MaxAttempts: 1}})
	registry := storage.NewRegistry(storage.Candidate{Name: storage.KindFlat, New: func() storage.Adapter { return adapter }})
	reporter := service.NewLogReporter(10)
	engine := service.NewHabitEngine(registry.Get(),
		service.WithClock(fixedNow),
		service.WithReporter(reporter),
		service.WithReminder(&service.LogReminder{}),
	)
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	api := NewAPI(engine, service.NewBackupService(engine, "test", "1.0.0"), registry, reporter)

	r := gin.New()
	r.GET("/api/habits", api.ListHabits)
	r.POST("/api/habits", api.CreateHabit)
	r.GET("/api/habits/:id", api.GetHabit)
	r.PUT("/api/habits/:id", api.UpdateHabit)
	r.DELETE("/api/habits/:id", api.DeleteHabit)
	r.POST("/api/habits/:id/completion", api.UpdateCompletion)
	r.POST("/api/habits/:id/skip", api.SkipHabit)
	r.DELETE("/api/habits/:id/skip", api.UnskipHabit)
	r.GET("/api/habits/:id/stats", api.GetHabitStats)
	r.GET("/api/completions", api.ListCompletions)
	r.GET("/api/settings", api.GetSettings)
	r.PUT("/api/settings", api.UpdateSettings)
	r.POST("/api/reminder", api.SetReminder)
	r.GET("/api/backup", api.DownloadBackup)
	r.POST("/api/backup/validate", api.ValidateBackup)
	r.POST("/api/backup/restore", api.RestoreBackup)
	r.GET("/api/storage", api.GetStorage)
	r.POST("/api/storage/reset", api.ResetStorage)

	return &testEnv{api: api, router: r, adapter: adapter, reporter: reporter}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func (e *testEnv) createHabit(t *testing.T, body string) map[string]any {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/habits", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	return decode(t, rr)["habit"].(map[string]any)
}

func TestCreateHabitSanitizesInput(t *testing.T) {
	env := newTestEnv(t, nil)

	habit := env.createHabit(t, `{"name":"<b>读书</b> & 笔记","notes":"**重要**<script>alert(1)</script>"}`)
	if habit["name"] != "读书 & 笔记" {
		t.Fatalf("expected tags to be stripped, got %q", habit["name"])
	}
	if habit["displayEmoji"] != service.DefaultHabitEmoji {
		t.Fatalf("unexpected display emoji %v", habit["displayEmoji"])
	}
	notes, _ := habit["notesHtml"].(string)
	if !strings.Contains(notes, "<strong>重要</strong>") || strings.Contains(notes, "<script>") {
		t.Fatalf("unexpected rendered notes %q", notes)
	}
	if habit["dueToday"] != true || habit["completedToday"] != false {
		t.Fatalf("unexpected derived flags: %+v", habit)
	}
}

func TestCreateHabitErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	if rr := env.do(t, http.MethodPost, "/api/habits", `{"name":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/habits", `{"name":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rr.Code)
	}

	for _, name := range []string{"a", "b", "c"} {
		env.createHabit(t, `{"name":"`+name+`"}`)
	}
	if rr := env.do(t, http.MethodPost, "/api/habits", `{"name":"d"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 at habit limit, got %d", rr.Code)
	}
}

func TestHabitLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	habit := env.createHabit(t, `{"name":"跑步"}`)
	id := habit["id"].(string)

	rr := env.do(t, http.MethodPut, "/api/habits/"+id, `{"name":"晨跑","frequency":"weekly","frequencyData":{"daysOfWeek":[1]}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	updated := decode(t, rr)["habit"].(map[string]any)
	if updated["name"] != "晨跑" || updated["frequency"] != "weekly" {
		t.Fatalf("unexpected updated habit %+v", updated)
	}

	if rr := env.do(t, http.MethodGet, "/api/habits/"+id, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/api/habits/"+id, "")
	if rr.Code != http.StatusOK || decode(t, rr)["persisted"] != true {
		t.Fatalf("unexpected delete response %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, "/api/habits/"+id, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestUpdateCompletion(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createHabit(t, `{"name":"冥想"}`)["id"].(string)

	rr := env.do(t, http.MethodPost, "/api/habits/"+id+"/completion", `{"value":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["allCompleted"] != true || payload["milestone"] != false || payload["persisted"] != true {
		t.Fatalf("unexpected completion response %+v", payload)
	}
	habit := payload["habit"].(map[string]any)
	if habit["streaks"] != float64(1) || habit["lastCompleted"] != "2024-01-01" || habit["completedToday"] != true {
		t.Fatalf("unexpected habit after completion %+v", habit)
	}

	rr = env.do(t, http.MethodGet, "/api/completions", "")
	list := decode(t, rr)["completions"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one completion today, got %v", list)
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "missing value", path: "/api/habits/" + id + "/completion", body: `{}`, status: http.StatusBadRequest},
		{name: "string value", path: "/api/habits/" + id + "/completion", body: `{"value":"yes"}`, status: http.StatusBadRequest},
		{name: "number for checkbox", path: "/api/habits/" + id + "/completion", body: `{"value":3}`, status: http.StatusBadRequest},
		{name: "unknown habit", path: "/api/habits/missing/completion", body: `{"value":true}`, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, tt.path, tt.body); rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSkipAndUnskip(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createHabit(t, `{"name":"拉伸"}`)["id"].(string)

	rr := env.do(t, http.MethodPost, "/api/habits/"+id+"/skip", `{"date":"2024-01-03"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	skipped := decode(t, rr)["habit"].(map[string]any)["skippedDates"].([]any)
	if len(skipped) != 1 || skipped[0] != "2024-01-03" {
		t.Fatalf("unexpected skipped dates %v", skipped)
	}

	rr = env.do(t, http.MethodDelete, "/api/habits/"+id+"/skip?date=2024-01-03", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode(t, rr)["habit"].(map[string]any)["skippedDates"].([]any); len(got) != 0 {
		t.Fatalf("expected skip to be removed, got %v", got)
	}

	if rr := env.do(t, http.MethodPost, "/api/habits/"+id+"/skip?date=tomorrow", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid date, got %d", rr.Code)
	}
}

func TestHabitStats(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createHabit(t, `{"name":"喝水","trackingType":"quantity","targetValue":8}`)["id"].(string)
	env.do(t, http.MethodPost, "/api/habits/"+id+"/completion", `{"value":5}`)

	rr := env.do(t, http.MethodGet, "/api/habits/"+id+"/stats?days=7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	stats := decode(t, rr)["stats"].(map[string]any)
	if stats["rangeStart"] != "2023-12-26" || stats["rangeEnd"] != "2024-01-01" {
		t.Fatalf("unexpected range %+v", stats)
	}
	if stats["completedCount"] != float64(1) || stats["totalValue"] != float64(5) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if rr := env.do(t, http.MethodGet, "/api/habits/"+id+"/stats?start=2024-01-05&end=2024-01-01", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reversed range, got %d", rr.Code)
	}
}

func TestSettingsAndReminder(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPut, "/api/settings", `{"maxHabits":5,"theme":"dark"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/settings", "")
	settings := decode(t, rr)["settings"].(map[string]any)
	if settings["maxHabits"] != float64(5) || settings["theme"] != "dark" {
		t.Fatalf("expected settings passthrough, got %+v", settings)
	}

	if rr := env.do(t, http.MethodPut, "/api/settings", `{"maxHabits":0}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid maxHabits, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/reminder", `{"time":"07:30"}`)
	if rr.Code != http.StatusOK || decode(t, rr)["scheduled"] != true {
		t.Fatalf("unexpected reminder response %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPost, "/api/reminder", `{"time":"7pm"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid time, got %d", rr.Code)
	}
}

func TestBackupEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createHabit(t, `{"name":"阅读"}`)["id"].(string)
	env.do(t, http.MethodPost, "/api/habits/"+id+"/completion", `{"value":true}`)

	rr := env.do(t, http.MethodGet, "/api/backup?download=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "habitflow-backup-2024-01-01.json") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	backup := rr.Body.String()

	rr = env.do(t, http.MethodPost, "/api/backup/validate", backup)
	if decode(t, rr)["valid"] != true {
		t.Fatalf("expected backup to validate: %s", rr.Body.String())
	}

	env.do(t, http.MethodDelete, "/api/habits/"+id, "")
	rr = env.do(t, http.MethodPost, "/api/backup/restore", backup)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, "/api/habits/"+id, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected restored habit, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/backup/restore", `{"version":"1.0.0"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if issues := decode(t, rr)["issues"].([]any); len(issues) == 0 {
		t.Fatal("expected issues to be listed")
	}
}

func TestStorageEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createHabit(t, `{"name":"阅读"}`)

	rr := env.do(t, http.MethodGet, "/api/storage", "")
	payload := decode(t, rr)
	if payload["kind"] != string(storage.KindFlat) {
		t.Fatalf("unexpected kind %v", payload["kind"])
	}
	if _, ok := payload["cache"].(map[string]any); !ok {
		t.Fatalf("expected cache stats, got %+v", payload)
	}

	rr = env.do(t, http.MethodPost, "/api/storage/reset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(env.api.Engine().Habits()) != 1 {
		t.Fatal("expected habits to be reloaded from the reselected backend")
	}
}

type brokenStore struct {
	*storage.MemoryStore
	broken bool
}

func (s *brokenStore) SetItem(key, value string) error {
	if s.broken {
		return errors.New("quota exceeded")
	}
	return s.MemoryStore.SetItem(key, value)
}

func TestPersistenceWarning(t *testing.T) {
	store := &brokenStore{MemoryStore: storage.NewMemoryStore()}
	env := newTestEnv(t, store)
	id := env.createHabit(t, `{"name":"阅读"}`)["id"].(string)
	store.broken = true

	rr := env.do(t, http.MethodPost, "/api/habits/"+id+"/completion", `{"value":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["persisted"] != false || payload["warning"] == nil {
		t.Fatalf("expected persistence warning, got %+v", payload)
	}

	rr = env.do(t, http.MethodGet, "/api/storage", "")
	recent := decode(t, rr)["recentErrors"].([]any)
	if len(recent) != 1 || recent[0].(map[string]any)["category"] != string(service.CategoryStorage) {
		t.Fatalf("expected reported storage error, got %v", recent)
	}
}
