package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/habits", api.ListHabits)
		apiGroup.POST("/habits", api.CreateHabit)
		apiGroup.GET("/habits/:id", api.GetHabit)
		apiGroup.PUT("/habits/:id", api.UpdateHabit)
		apiGroup.DELETE("/habits/:id", api.DeleteHabit)
		apiGroup.POST("/habits/:id/completion", api.UpdateCompletion)
		apiGroup.POST("/habits/:id/skip", api.SkipHabit)
		apiGroup.DELETE("/habits/:id/skip", api.UnskipHabit)
		apiGroup.GET("/habits/:id/stats", api.GetHabitStats)

		apiGroup.GET("/completions", api.ListCompletions)

		apiGroup.GET("/settings", api.GetSettings)
		apiGroup.PUT("/settings", api.UpdateSettings)
		apiGroup.POST("/reminder", api.SetReminder)

		apiGroup.GET("/backup", api.DownloadBackup)
		apiGroup.POST("/backup/validate", api.ValidateBackup)
		apiGroup.POST("/backup/restore", api.RestoreBackup)

		apiGroup.GET("/storage", api.GetStorage)
		apiGroup.POST("/storage/reset", api.ResetStorage)
	}

	return r
}
