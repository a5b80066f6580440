package storage

import (
	"slices"
	"time"

	"github.com/habitflow/internal/model"
)

// Options 是各适配器共享的构造参数
type Options struct {
	// CacheTTL 为读缓存有效期，<=0 时使用 DefaultCacheTTL
	CacheTTL time.Duration
	// Retry 为瞬时失败的重试策略
	Retry RetryConfig
	// Legacy 是旧版扁平存储，用于 MigrateFromLocalStorage；为空时跳过迁移
	Legacy FlatStore
	// Now 替换缓存时钟，主要用于测试
	Now func() time.Time
}

func (o Options) cacheOptions() []CacheOption {
	if o.Now == nil {
		return nil
	}
	return []CacheOption{WithCacheClock(o.Now)}
}

func upsertHabit(habits []model.Habit, habit model.Habit) []model.Habit {
	idx := slices.IndexFunc(habits, func(h model.Habit) bool { return h.ID == habit.ID })
	if idx >= 0 {
		habits[idx] = habit
		return habits
	}
	return append(habits, habit)
}

func removeHabit(habits []model.Habit, id string) []model.Habit {
	return slices.DeleteFunc(habits, func(h model.Habit) bool { return h.ID == id })
}

func cloneCompletions(completions []model.Completion) []model.Completion {
	if completions == nil {
		return []model.Completion{}
	}
	return slices.Clone(completions)
}

// dedupeCompletions 保证每个习惯在同一天最多一条记录，后写入者覆盖
func dedupeCompletions(completions []model.Completion) []model.Completion {
	out := make([]model.Completion, 0, len(completions))
	for _, c := range completions {
		if c.HabitID == "" {
			continue
		}
		if idx := model.FindCompletion(out, c.HabitID); idx >= 0 {
			out[idx] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
