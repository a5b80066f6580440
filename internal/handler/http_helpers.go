package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
)

const persistWarning = "更改仅保存在内存中，写入存储失败"

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// withPersistence 在响应中附加落盘状态，失败时给出提示
func withPersistence(payload gin.H, p service.Persistence) gin.H {
	payload["persisted"] = p.Persisted
	if !p.Persisted && p.Err != nil {
		payload["warning"] = persistWarning
	}
	return payload
}

func pathID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return "", false
	}
	return id, true
}
