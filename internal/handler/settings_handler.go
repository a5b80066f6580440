package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/model"
)

// GetSettings 返回当前设置，未识别的字段原样返回
func (a *API) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": a.engine.Settings()})
}

// UpdateSettings 覆盖设置，请求中缺省的已知字段使用默认值
func (a *API) UpdateSettings(c *gin.Context) {
	var settings model.Settings
	if !bindJSON(c, &settings, "设置格式不合法") {
		return
	}

	saved, p, err := a.engine.UpdateSettings(c.Request.Context(), settings)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, withPersistence(gin.H{"settings": saved}, p))
}

// SetReminder 设置每日提醒时间
func (a *API) SetReminder(c *gin.Context) {
	var payload struct {
		Time string `json:"time"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	scheduled, err := a.engine.SetDailyReminder(payload.Time)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"scheduled": scheduled, "time": payload.Time})
}
