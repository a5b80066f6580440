package service

import (
	"fmt"

	"github.com/habitflow/internal/model"
)

// HabitStats 汇总区间内的完成情况
type HabitStats struct {
	HabitID        string  `json:"habitId"`
	RangeStart     string  `json:"rangeStart"`
	RangeEnd       string  `json:"rangeEnd"`
	DueCount       int     `json:"dueCount"`
	CompletedCount int     `json:"completedCount"`
	SkippedCount   int     `json:"skippedCount"`
	CompletionRate float64 `json:"completionRate"`
	CurrentStreak  int     `json:"currentStreak"`
	LongestStreak  int     `json:"longestStreak"`
	TotalValue     float64 `json:"totalValue"`
}

// Stats 计算闭区间 [start, end] 内的完成数、应完成数及连胜
func (e *HabitEngine) Stats(id, start, end string) (*HabitStats, error) {
	dates, err := model.DateRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return nil, ErrHabitNotFound
	}
	habit := e.habits[idx]

	stats := &HabitStats{HabitID: id, RangeStart: start, RangeEnd: end}
	for _, date := range dates {
		if habit.IsSkipped(date) {
			stats.SkippedCount++
		}
		if IsDue(habit, date) {
			stats.DueCount++
		}
		list := e.completions[date]
		if pos := model.FindCompletion(list, id); pos >= 0 && list[pos].Value.Truthy() {
			stats.CompletedCount++
			stats.TotalValue += list[pos].Value.Number()
		}
	}

	target := stats.DueCount
	if target <= 0 {
		target = stats.CompletedCount
	}
	if target > 0 {
		stats.CompletionRate = float64(stats.CompletedCount) / float64(target)
		if stats.CompletionRate > 1 {
			stats.CompletionRate = 1
		}
	}

	stats.CurrentStreak = ComputeStreak(habit, e.completions, e.Today())
	stats.LongestStreak = longestStreak(habit, e.completions, dates)
	return stats, nil
}

// longestStreak 返回区间内最长的连续已计入天数，且该段至少包含一次完成
func longestStreak(habit model.Habit, completions model.DailyCompletions, dates []string) int {
	longest, current := 0, 0
	hasCompletion := false
	floor := createdDate(habit)

	for _, date := range dates {
		if (floor != "" && date < floor) || !accountedFor(habit, completions, date) {
			current, hasCompletion = 0, false
			continue
		}
		current++
		if completedOn(habit, completions, date) {
			hasCompletion = true
		}
		if hasCompletion && current > longest {
			longest = current
		}
	}
	return longest
}
