package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/model"
	"github.com/habitflow/internal/service"
)

const defaultStatsDays = 30

type habitPayload struct {
	Name          string              `json:"name"`
	Emoji         string              `json:"emoji"`
	TrackingType  model.TrackingType  `json:"trackingType"`
	TargetValue   float64             `json:"targetValue"`
	Unit          string              `json:"unit"`
	Frequency     model.Frequency     `json:"frequency"`
	FrequencyData model.FrequencyData `json:"frequencyData"`
	Notes         string              `json:"notes"`
}

type completionPayload struct {
	Value *model.Value `json:"value"`
}

type skipPayload struct {
	Date string `json:"date"`
}

// habitView 是习惯的展示结构，在存储字段之上附加派生信息
type habitView struct {
	model.Habit
	DisplayEmoji   string `json:"displayEmoji"`
	NotesHTML      string `json:"notesHtml,omitempty"`
	DueToday       bool   `json:"dueToday"`
	CompletedToday bool   `json:"completedToday"`
}

func (a *API) habitToView(habit model.Habit) habitView {
	view := habitView{
		Habit:          habit,
		DisplayEmoji:   service.GrowthEmoji(habit),
		DueToday:       service.IsDue(habit, a.engine.Today()),
		CompletedToday: a.engine.IsCompletedToday(habit.ID),
	}
	if notes, err := renderNotes(habit.Notes); err != nil {
		log.Printf("[handler] render notes for habit %s failed: %v", habit.ID, err)
	} else {
		view.NotesHTML = notes
	}
	return view
}

// ListHabits 返回全部习惯
func (a *API) ListHabits(c *gin.Context) {
	habits := a.engine.Habits()
	items := make([]habitView, 0, len(habits))
	for _, habit := range habits {
		items = append(items, a.habitToView(habit))
	}

	c.JSON(http.StatusOK, gin.H{
		"habits":       items,
		"today":        a.engine.Today(),
		"allCompleted": a.engine.AllCompletedToday(),
	})
}

// GetHabit 返回单个习惯详情
func (a *API) GetHabit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	habit, err := a.engine.Habit(id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": a.habitToView(habit)})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	input, ok := parseHabitInput(c)
	if !ok {
		return
	}

	habit, p, err := a.engine.AddHabit(c.Request.Context(), input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withPersistence(gin.H{"habit": a.habitToView(habit)}, p))
}

// UpdateHabit 更新习惯
func (a *API) UpdateHabit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	input, ok := parseHabitInput(c)
	if !ok {
		return
	}

	habit, p, err := a.engine.UpdateHabit(c.Request.Context(), id, input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, withPersistence(gin.H{"habit": a.habitToView(habit)}, p))
}

// DeleteHabit 删除习惯及其完成记录
func (a *API) DeleteHabit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, err := a.engine.DeleteHabit(c.Request.Context(), id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, withPersistence(gin.H{"deleted": true}, p))
}

// UpdateCompletion 设置习惯今天的完成值
func (a *API) UpdateCompletion(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var payload completionPayload
	if !bindJSON(c, &payload, "完成值应为布尔或数字") {
		return
	}
	if payload.Value == nil {
		respondError(c, http.StatusBadRequest, "缺少完成值")
		return
	}

	result, err := a.engine.UpdateCompletion(c.Request.Context(), id, *payload.Value)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, withPersistence(gin.H{
		"habit":        a.habitToView(result.Habit),
		"milestone":    result.Milestone,
		"allCompleted": result.AllCompleted,
	}, result.Persistence))
}

// SkipHabit 跳过指定日期，未指定时跳过今天
func (a *API) SkipHabit(c *gin.Context) {
	a.updateSkip(c, true)
}

// UnskipHabit 取消跳过
func (a *API) UnskipHabit(c *gin.Context) {
	a.updateSkip(c, false)
}

func (a *API) updateSkip(c *gin.Context, skip bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	date := strings.TrimSpace(c.Query("date"))
	if date == "" && c.Request.ContentLength > 0 {
		var payload skipPayload
		if !bindJSON(c, &payload, "请求参数不合法") {
			return
		}
		date = strings.TrimSpace(payload.Date)
	}

	var (
		habit model.Habit
		p     service.Persistence
		err   error
	)
	if skip {
		habit, p, err = a.engine.SkipHabit(c.Request.Context(), id, date)
	} else {
		habit, p, err = a.engine.UnskipHabit(c.Request.Context(), id, date)
	}
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, withPersistence(gin.H{"habit": a.habitToView(habit)}, p))
}

// GetHabitStats 返回区间统计，默认最近 30 天
func (a *API) GetHabitStats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	start, end, ok := a.resolveRange(c)
	if !ok {
		return
	}

	stats, err := a.engine.Stats(id, start, end)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ListCompletions 返回完成记录：date 指定单日，start/end 指定区间，默认今天
func (a *API) ListCompletions(c *gin.Context) {
	if date := strings.TrimSpace(c.Query("date")); date != "" {
		if !model.IsDate(date) {
			respondError(c, http.StatusBadRequest, "无效的日期")
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "completions": nonNil(a.engine.Completions(date))})
		return
	}

	if c.Query("start") == "" && c.Query("end") == "" {
		today := a.engine.Today()
		c.JSON(http.StatusOK, gin.H{"date": today, "completions": nonNil(a.engine.Completions(today))})
		return
	}

	start, end, ok := a.resolveRange(c)
	if !ok {
		return
	}
	dates, err := model.DateRange(start, end)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的日期区间")
		return
	}

	all := a.engine.AllCompletions()
	byDate := make(model.DailyCompletions, len(dates))
	for _, date := range dates {
		byDate[date] = nonNil(all[date])
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "completions": byDate})
}

func nonNil(list []model.Completion) []model.Completion {
	if list == nil {
		return []model.Completion{}
	}
	return list
}

// resolveRange 读取 start/end 查询参数，缺省时以今天为终点回溯 30 天
func (a *API) resolveRange(c *gin.Context) (string, string, bool) {
	end := strings.TrimSpace(c.Query("end"))
	if end == "" {
		end = a.engine.Today()
	}
	endDay, err := model.ParseDate(end)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return "", "", false
	}

	start := strings.TrimSpace(c.Query("start"))
	if start == "" {
		days := defaultStatsDays
		if raw := c.Query("days"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 366 {
				days = parsed
			}
		}
		start = model.FormatDate(endDay.AddDate(0, 0, 1-days))
	}
	if !model.IsDate(start) {
		respondError(c, http.StatusBadRequest, "无效的开始日期")
		return "", "", false
	}
	if start > end {
		respondError(c, http.StatusBadRequest, "开始日期不能晚于结束日期")
		return "", "", false
	}
	return start, end, true
}

func parseHabitInput(c *gin.Context) (service.HabitInput, bool) {
	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return service.HabitInput{}, false
	}

	return service.HabitInput{
		Name:          sanitizeText(payload.Name),
		Emoji:         sanitizeText(payload.Emoji),
		TrackingType:  payload.TrackingType,
		TargetValue:   payload.TargetValue,
		Unit:          sanitizeText(payload.Unit),
		Frequency:     payload.Frequency,
		FrequencyData: payload.FrequencyData,
		Notes:         payload.Notes,
	}, true
}

func handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrHabitLimitReached):
		respondError(c, http.StatusConflict, "习惯数量已达上限")
	case errors.Is(err, service.ErrInvalidHabit):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidValue):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidSettings):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidReminderTime):
		respondError(c, http.StatusBadRequest, "提醒时间应为 HH:MM")
	default:
		log.Printf("[handler] request failed: %v", err)
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
