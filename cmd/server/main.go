package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/config"
	"github.com/habitflow/internal/handler"
	"github.com/habitflow/internal/router"
	"github.com/habitflow/internal/service"
	"github.com/habitflow/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	// 按优先级选择存储后端
	registry, err := storage.NewDefaultRegistry(cfg.Storage())
	if err != nil {
		log.Fatalf("failed to prepare storage: %v", err)
	}
	adapter := registry.Get()
	defer func() {
		if err := registry.Reset(); err != nil {
			log.Printf("failed to close storage: %v", err)
		}
	}()

	reporter := service.NewLogReporter(0)
	engine := service.NewHabitEngine(adapter,
		service.WithLocation(cfg.Location),
		service.WithReporter(reporter),
		service.WithReminder(&service.LogReminder{}),
	)
	if err := engine.Load(context.Background()); err != nil {
		log.Fatalf("failed to load habits: %v", err)
	}

	api := handler.NewAPI(engine, service.NewBackupService(engine, cfg.Platform, cfg.AppVersion), registry, reporter)

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api)
	log.Printf("habitflow listening on %s (%s backend)", cfg.ListenAddr, adapter.Kind())
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Printf("failed to run server: %v", err)
	}
}
