package service

import (
	"slices"
	"strings"

	"github.com/habitflow/internal/model"
)

// MaxStreakLookback 限制连胜回溯的天数
const MaxStreakLookback = 365

var milestones = []int{7, 30, 100}

// growthStages 按连胜长度排列的成长图标，阈值为进入该阶段所需的最小连胜
var growthStages = []struct {
	minStreak int
	emoji     string
}{
	{0, "🌱"},
	{3, "🌿"},
	{7, "🪴"},
	{30, "🌳"},
	{100, "🌲"},
}

// IsDue 判断习惯在指定日期是否需要完成，跳过的日期一律不需要
// 日期按 UTC 日历日计算
func IsDue(habit model.Habit, date string) bool {
	if habit.IsSkipped(date) {
		return false
	}
	day, err := model.ParseDate(date)
	if err != nil {
		return false
	}

	data := habit.FrequencyData
	switch habit.Frequency {
	case model.FrequencyWeekly:
		if len(data.DaysOfWeek) == 0 {
			return true
		}
		return slices.Contains(data.DaysOfWeek, int(day.Weekday()))
	case model.FrequencyMonthly:
		if len(data.DaysOfMonth) == 0 {
			return true
		}
		return slices.Contains(data.DaysOfMonth, day.Day())
	case model.FrequencyCustom:
		if data.Interval <= 0 || data.StartDate == "" {
			return true
		}
		start, err := model.ParseDate(data.StartDate)
		if err != nil {
			return true
		}
		diff := model.DaysBetween(start, day)
		return ((diff%data.Interval)+data.Interval)%data.Interval == 0
	default:
		return true
	}
}

// completedOn 判断某天是否存在 truthy 的完成记录
func completedOn(habit model.Habit, completions model.DailyCompletions, date string) bool {
	if habit.CompletedOn(date) {
		return true
	}
	list := completions[date]
	idx := model.FindCompletion(list, habit.ID)
	return idx >= 0 && list[idx].Value.Truthy()
}

// accountedFor 表示当天已完成、被跳过或无需完成
func accountedFor(habit model.Habit, completions model.DailyCompletions, date string) bool {
	return completedOn(habit, completions, date) || habit.IsSkipped(date) || !IsDue(habit, date)
}

// createdDate 返回习惯创建当天，未知时返回空串
func createdDate(habit model.Habit) string {
	if len(habit.CreatedAt) < len(model.DateLayout) {
		return ""
	}
	date := habit.CreatedAt[:len(model.DateLayout)]
	if !model.IsDate(date) {
		return ""
	}
	return date
}

// ComputeStreak 从 today 向前回溯连续的已计入天数
// 今天尚未计入时从昨天开始，当天仍可完成；早于创建日的日期不计入
func ComputeStreak(habit model.Habit, completions model.DailyCompletions, today string) int {
	if habit.LastCompleted == nil {
		return 0
	}
	cursor, err := model.ParseDate(today)
	if err != nil {
		return 0
	}
	if !accountedFor(habit, completions, today) {
		cursor = cursor.AddDate(0, 0, -1)
	}

	floor := createdDate(habit)
	streak := 0
	for i := 0; i < MaxStreakLookback; i++ {
		date := model.FormatDate(cursor)
		if floor != "" && date < floor {
			break
		}
		if !accountedFor(habit, completions, date) {
			break
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return streak
}

// IsMilestone 判断连胜是否达到庆祝节点
func IsMilestone(streak int) bool {
	return slices.Contains(milestones, streak)
}

// IsGrowthEmoji 判断图标是否属于成长阶段集合
func IsGrowthEmoji(emoji string) bool {
	emoji = strings.TrimSpace(emoji)
	for _, stage := range growthStages {
		if stage.emoji == emoji {
			return true
		}
	}
	return false
}

// GrowthEmoji 返回展示用图标：成长集合中的图标随连胜长度变化，其余原样返回
func GrowthEmoji(habit model.Habit) string {
	if !IsGrowthEmoji(habit.Emoji) {
		return habit.Emoji
	}
	emoji := growthStages[0].emoji
	for _, stage := range growthStages {
		if habit.Streaks >= stage.minStreak {
			emoji = stage.emoji
		}
	}
	return emoji
}
