package handler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/storage"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	engine   *service.HabitEngine
	backups  *service.BackupService
	registry *storage.Registry
	reporter *service.LogReporter

	// resetMu 串行化后端重新选择
	resetMu sync.Mutex
}

// NewAPI constructs a handler set around a loaded engine.
// registry 为空时不提供后端重置能力，reporter 为空时不返回最近错误。
func NewAPI(engine *service.HabitEngine, backups *service.BackupService, registry *storage.Registry, reporter *service.LogReporter) *API {
	return &API{
		engine:   engine,
		backups:  backups,
		registry: registry,
		reporter: reporter,
	}
}

// Engine exposes the habit engine for callers wiring extra routes.
func (a *API) Engine() *service.HabitEngine {
	return a.engine
}

// resetStorage 关闭当前后端并重新探测，引擎切换到新选择的适配器
func (a *API) resetStorage(ctx context.Context) (storage.Adapter, error) {
	a.resetMu.Lock()
	defer a.resetMu.Unlock()

	if a.registry == nil {
		return nil, fmt.Errorf("reset storage: no registry configured")
	}
	if err := a.registry.Reset(); err != nil {
		log.Printf("[storage] close previous backend failed: %v", err)
	}
	adapter := a.registry.Get()
	if err := a.engine.Rebind(ctx, adapter); err != nil {
		return adapter, fmt.Errorf("reset storage: %w", err)
	}
	return adapter, nil
}
