package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/storage"
)

type cacheReporter interface {
	Cache() *storage.Cache
}

func (a *API) storagePayload(adapter storage.Adapter) gin.H {
	payload := gin.H{"kind": adapter.Kind()}
	if holder, ok := adapter.(cacheReporter); ok {
		stats := holder.Cache().Stats()
		payload["cache"] = gin.H{
			"entries": stats.Entries,
			"hits":    stats.Hits,
			"misses":  stats.Misses,
			"ttl":     stats.TTL.String(),
		}
	}
	if a.reporter != nil {
		recent := a.reporter.Recent()
		errs := make([]gin.H, 0, len(recent))
		for _, r := range recent {
			errs = append(errs, gin.H{
				"category": r.Category,
				"op":       r.Op,
				"message":  r.Message,
				"time":     r.Time,
			})
		}
		payload["recentErrors"] = errs
	}
	return payload
}

// GetStorage 返回当前后端与缓存状态
func (a *API) GetStorage(c *gin.Context) {
	c.JSON(http.StatusOK, a.storagePayload(a.engine.Adapter()))
}

// ResetStorage 丢弃当前后端并重新探测
func (a *API) ResetStorage(c *gin.Context) {
	adapter, err := a.resetStorage(c.Request.Context())
	if err != nil {
		log.Printf("[handler] %v", err)
		respondError(c, http.StatusInternalServerError, "重新选择存储失败")
		return
	}
	c.JSON(http.StatusOK, a.storagePayload(adapter))
}
