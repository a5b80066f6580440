package model

import "slices"

// TrackingType 决定完成值的含义
type TrackingType string

const (
	TrackingCheckbox TrackingType = "checkbox"
	TrackingQuantity TrackingType = "quantity"
	TrackingDuration TrackingType = "duration"
	TrackingRating   TrackingType = "rating"
)

// Frequency 描述习惯的重复规则
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// MaxHabitNameRunes 是编辑边界上习惯名称的长度上限
const MaxHabitNameRunes = 25

// FrequencyData 保存重复规则参数
// weekly 使用 DaysOfWeek（0-6，周日为 0），monthly 使用 DaysOfMonth（1-31），
// custom 使用 Interval（天）+ StartDate
type FrequencyData struct {
	DaysOfWeek  []int  `json:"daysOfWeek,omitempty"`
	DaysOfMonth []int  `json:"daysOfMonth,omitempty"`
	Interval    int    `json:"interval,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
}

// Habit 定义了一个被追踪的习惯
// Streaks 由引擎根据完成记录重新计算，UI 不应直接写入
// LastCompleted 为 nil 表示从未完成
type Habit struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Emoji         string        `json:"emoji,omitempty"`
	Streaks       int           `json:"streaks"`
	LastCompleted *string       `json:"lastCompleted"`
	TrackingType  TrackingType  `json:"trackingType,omitempty"`
	TargetValue   float64       `json:"targetValue,omitempty"`
	Unit          string        `json:"unit,omitempty"`
	Frequency     Frequency     `json:"frequency,omitempty"`
	FrequencyData FrequencyData `json:"frequencyData"`
	SkippedDates  []string      `json:"skippedDates"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     string        `json:"createdAt,omitempty"`
}

// Normalize 为旧版本数据补齐缺省字段
func (h *Habit) Normalize() {
	if h.TrackingType == "" {
		h.TrackingType = TrackingCheckbox
	}
	if h.Frequency == "" {
		h.Frequency = FrequencyDaily
	}
	if h.SkippedDates == nil {
		h.SkippedDates = []string{}
	}
	if h.Streaks < 0 {
		h.Streaks = 0
	}
	if h.LastCompleted != nil && *h.LastCompleted == "" {
		h.LastCompleted = nil
	}
}

// IsSkipped 判断某天是否被显式跳过
func (h Habit) IsSkipped(date string) bool {
	return slices.Contains(h.SkippedDates, date)
}

// CompletedOn 判断 LastCompleted 是否等于指定日期
func (h Habit) CompletedOn(date string) bool {
	return h.LastCompleted != nil && *h.LastCompleted == date
}

// Clone 返回深拷贝，避免缓存与调用方共享切片
func (h Habit) Clone() Habit {
	out := h
	if h.LastCompleted != nil {
		last := *h.LastCompleted
		out.LastCompleted = &last
	}
	out.SkippedDates = slices.Clone(h.SkippedDates)
	out.FrequencyData.DaysOfWeek = slices.Clone(h.FrequencyData.DaysOfWeek)
	out.FrequencyData.DaysOfMonth = slices.Clone(h.FrequencyData.DaysOfMonth)
	return out
}

// CloneHabits 深拷贝习惯列表
func CloneHabits(habits []Habit) []Habit {
	if habits == nil {
		return nil
	}
	out := make([]Habit, len(habits))
	for i, h := range habits {
		out[i] = h.Clone()
	}
	return out
}

// ValidTrackingType 判断追踪类型是否受支持
func ValidTrackingType(t TrackingType) bool {
	switch t {
	case TrackingCheckbox, TrackingQuantity, TrackingDuration, TrackingRating:
		return true
	}
	return false
}

// ValidFrequency 判断频率是否受支持
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}
