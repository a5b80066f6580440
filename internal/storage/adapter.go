package storage

import (
	"context"

	"github.com/habitflow/internal/model"
)

// Kind 标识适配器类型，便于选择策略与诊断
type Kind string

const (
	KindPreferences Kind = "preferences"
	KindLocalDB     Kind = "localdb"
	KindFlat        Kind = "flat"
)

// 扁平存储（旧版 localStorage 风格）使用的键
const (
	flatKeyHabits          = "habits"
	flatKeySettings        = "settings"
	flatKeyCompletionsPref = "completions_"
	flatKeyMigrated        = "migrated_from_local_storage"
)

func flatCompletionsKey(date string) string {
	return flatKeyCompletionsPref + date
}

// Adapter 是所有存储后端实现的统一契约
// 所有 I/O 方法在重试后仍失败时返回 *StorageError
type Adapter interface {
	Kind() Kind

	SaveHabit(ctx context.Context, habit model.Habit) error
	SaveHabits(ctx context.Context, habits []model.Habit) error
	GetAllHabits(ctx context.Context) ([]model.Habit, error)
	DeleteHabit(ctx context.Context, id string) error

	// 旧版布尔视图：仅包含已完成的习惯 ID
	SaveCompletion(ctx context.Context, date string, habitIDs []string) error
	GetCompletion(ctx context.Context, date string) ([]string, error)
	GetAllCompletions(ctx context.Context) (map[string][]string, error)
	ClearCompletions(ctx context.Context) error

	// 带值视图；写入同时更新旧版视图
	SaveCompletionDetails(ctx context.Context, date string, completions []model.Completion) error
	GetCompletionDetails(ctx context.Context, date string) ([]model.Completion, error)
	GetCompletionsForDateRange(ctx context.Context, dates []string) (model.DailyCompletions, error)
	GetAllCompletionDetails(ctx context.Context) (model.DailyCompletions, error)
	ClearCompletionDetails(ctx context.Context) error

	SaveSettings(ctx context.Context, settings model.Settings) error
	GetSettings(ctx context.Context) (model.Settings, error)

	ExportAllData(ctx context.Context) (model.ExportData, error)
	ImportAllData(ctx context.Context, data model.ExportData) error

	// MigrateFromLocalStorage 将旧版扁平存储迁移到当前后端，幂等
	MigrateFromLocalStorage(ctx context.Context) (bool, error)

	// IsSupported 是同步能力探测
	IsSupported() bool
	ClearCache()
	CloseConnection() error
}

// mergeLegacyIDs 根据旧版 ID 列表生成详细记录：保留已有 truthy 值，新 ID 记为 true
func mergeLegacyIDs(existing []model.Completion, habitIDs []string) []model.Completion {
	out := make([]model.Completion, 0, len(habitIDs))
	seen := make(map[string]struct{}, len(habitIDs))
	for _, id := range habitIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		value := model.BoolValue(true)
		if idx := model.FindCompletion(existing, id); idx >= 0 && existing[idx].Value.Truthy() {
			value = existing[idx].Value
		}
		out = append(out, model.Completion{HabitID: id, Value: value})
	}
	return out
}

func legacyView(all model.DailyCompletions) map[string][]string {
	out := make(map[string][]string, len(all))
	for date, list := range all {
		out[date] = model.CompletedIDs(list)
	}
	return out
}

func validateImport(data model.ExportData) error {
	if data.Habits == nil {
		return invalidData("habits must be a list")
	}
	for date := range data.Completions {
		if !model.IsDate(date) {
			return invalidData("completion key %q is not a date", date)
		}
	}
	return nil
}

func normalizeHabits(habits []model.Habit) []model.Habit {
	for i := range habits {
		habits[i].Normalize()
	}
	return habits
}
