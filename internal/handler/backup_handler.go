package handler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/service"
)

// maxBackupBytes 限制上传备份的大小
const maxBackupBytes = 16 << 20

// DownloadBackup 生成备份文件
func (a *API) DownloadBackup(c *gin.Context) {
	bundle, err := a.backups.CreateBackup(c.Request.Context())
	if err != nil {
		log.Printf("[handler] create backup failed: %v", err)
		respondError(c, http.StatusInternalServerError, "生成备份失败")
		return
	}

	if c.Query("download") != "" {
		filename := fmt.Sprintf("habitflow-backup-%s.json", a.engine.Today())
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	c.JSON(http.StatusOK, bundle)
}

// ValidateBackup 仅校验备份结构，不写入任何数据
func (a *API) ValidateBackup(c *gin.Context) {
	raw, ok := readBackupBody(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.backups.ValidateBackup(raw))
}

// RestoreBackup 校验通过后用备份替换全部数据
func (a *API) RestoreBackup(c *gin.Context) {
	raw, ok := readBackupBody(c)
	if !ok {
		return
	}

	bundle, err := a.backups.RestoreFromBackup(c.Request.Context(), raw)
	if err != nil {
		var restoreErr *service.RestoreError
		if errors.As(err, &restoreErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "备份文件无效", "issues": restoreErr.Issues})
			return
		}
		log.Printf("[handler] restore backup failed: %v", err)
		respondError(c, http.StatusInternalServerError, "恢复备份失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"restored":    true,
		"id":          bundle.Metadata.ID,
		"habitCount":  len(bundle.Data.Habits),
		"completions": bundle.Data.Completions.Count(),
	})
}

func readBackupBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBackupBytes+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, "读取备份失败")
		return nil, false
	}
	if len(raw) > maxBackupBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "备份文件过大")
		return nil, false
	}
	return raw, true
}
