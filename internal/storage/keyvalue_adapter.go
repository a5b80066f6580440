package storage

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/habitflow/internal/model"
)

// keyValueAdapter 实现基于 FlatStore 的整集合读写语义
// 多键写入（导入、清空）不具备事务性，失败时可能留下部分写入
type keyValueAdapter struct {
	kind  Kind
	store FlatStore
	cache *Cache
	retry RetryConfig

	// mu 保证写入与缓存更新对读者而言是原子的
	mu sync.Mutex
}

func newKeyValueAdapter(kind Kind, store FlatStore, opts Options) *keyValueAdapter {
	return &keyValueAdapter{
		kind:  kind,
		store: store,
		cache: NewCache(string(kind), opts.CacheTTL, opts.cacheOptions()...),
		retry: opts.Retry,
	}
}

func (a *keyValueAdapter) Kind() Kind { return a.kind }

func (a *keyValueAdapter) run(ctx context.Context, op string, fn func() error) error {
	return withRetry(ctx, a.retry, string(a.kind), op, fn)
}

// Cache 暴露缓存，用于诊断与测试
func (a *keyValueAdapter) Cache() *Cache { return a.cache }

func (a *keyValueAdapter) ClearCache() { a.cache.InvalidateAll() }

func (a *keyValueAdapter) loadHabits() ([]model.Habit, error) {
	raw, ok, err := a.store.GetItem(flatKeyHabits)
	if err != nil || !ok {
		return []model.Habit{}, err
	}
	return decodeHabits([]byte(raw))
}

func (a *keyValueAdapter) writeHabits(habits []model.Habit) error {
	raw, err := encodeHabits(habits)
	if err != nil {
		return permanent(err)
	}
	return a.store.SetItem(flatKeyHabits, string(raw))
}

func (a *keyValueAdapter) SaveHabit(ctx context.Context, habit model.Habit) error {
	if strings.TrimSpace(habit.ID) == "" {
		return newStorageError("saveHabit", "habit id is required", ErrInvalidData)
	}
	return a.SaveHabits(ctx, []model.Habit{habit})
}

func (a *keyValueAdapter) SaveHabits(ctx context.Context, habits []model.Habit) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var saved []model.Habit
	err := a.run(ctx, "saveHabits", func() error {
		current, err := a.loadHabits()
		if err != nil {
			return err
		}
		for _, habit := range habits {
			if habit.ID == "" {
				return invalidData("habit id is required")
			}
			stored := habit.Clone()
			stored.Normalize()
			current = upsertHabit(current, stored)
		}
		if err := a.writeHabits(current); err != nil {
			return err
		}
		saved = current
		return nil
	})
	if err != nil {
		a.cache.Invalidate(cacheKeyHabits)
		return err
	}
	a.cache.Set(cacheKeyHabits, model.CloneHabits(saved))
	return nil
}

func (a *keyValueAdapter) GetAllHabits(ctx context.Context) ([]model.Habit, error) {
	value, err := a.cache.GetOrLoad(cacheKeyHabits, func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var habits []model.Habit
		err := a.run(ctx, "getAllHabits", func() error {
			var err error
			habits, err = a.loadHabits()
			return err
		})
		return habits, err
	})
	if err != nil {
		return nil, err
	}
	return model.CloneHabits(value.([]model.Habit)), nil
}

func (a *keyValueAdapter) DeleteHabit(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var remaining []model.Habit
	err := a.run(ctx, "deleteHabit", func() error {
		current, err := a.loadHabits()
		if err != nil {
			return err
		}
		remaining = removeHabit(current, id)
		return a.writeHabits(remaining)
	})
	if err != nil {
		a.cache.Invalidate(cacheKeyHabits)
		return err
	}
	a.cache.Set(cacheKeyHabits, model.CloneHabits(remaining))
	return nil
}

// loadCompletions 读取单日记录，遇到旧格式时回写为当前格式
func (a *keyValueAdapter) loadCompletions(date string) ([]model.Completion, error) {
	key := flatCompletionsKey(date)
	raw, ok, err := a.store.GetItem(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Completion{}, nil
	}

	completions, upgrade, err := decodeCompletions([]byte(raw))
	if err != nil {
		return nil, err
	}
	if upgrade {
		if encoded, encErr := encodeCompletions(completions); encErr == nil {
			if setErr := a.store.SetItem(key, string(encoded)); setErr != nil {
				log.Printf("[storage] %s upgrade completions %s failed: %v", a.kind, date, setErr)
			}
		}
	}
	return completions, nil
}

func (a *keyValueAdapter) writeCompletions(date string, completions []model.Completion) error {
	key := flatCompletionsKey(date)
	if len(completions) == 0 {
		return a.store.RemoveItem(key)
	}
	raw, err := encodeCompletions(completions)
	if err != nil {
		return permanent(err)
	}
	return a.store.SetItem(key, string(raw))
}

func (a *keyValueAdapter) SaveCompletionDetails(ctx context.Context, date string, completions []model.Completion) error {
	if !model.IsDate(date) {
		return newStorageError("saveCompletionDetails", "invalid date "+date, ErrInvalidData)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stored := dedupeCompletions(completions)
	err := a.run(ctx, "saveCompletionDetails", func() error {
		return a.writeCompletions(date, stored)
	})
	a.cache.Invalidate(cacheKeyAllCompletions)
	if err != nil {
		a.cache.Invalidate(completionsCacheKey(date))
		return err
	}
	a.cache.Set(completionsCacheKey(date), cloneCompletions(stored))
	return nil
}

func (a *keyValueAdapter) GetCompletionDetails(ctx context.Context, date string) ([]model.Completion, error) {
	if !model.IsDate(date) {
		return nil, newStorageError("getCompletionDetails", "invalid date "+date, ErrInvalidData)
	}
	value, err := a.cache.GetOrLoad(completionsCacheKey(date), func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var completions []model.Completion
		err := a.run(ctx, "getCompletionDetails", func() error {
			var err error
			completions, err = a.loadCompletions(date)
			return err
		})
		return completions, err
	})
	if err != nil {
		return nil, err
	}
	return cloneCompletions(value.([]model.Completion)), nil
}

func (a *keyValueAdapter) SaveCompletion(ctx context.Context, date string, habitIDs []string) error {
	if !model.IsDate(date) {
		return newStorageError("saveCompletion", "invalid date "+date, ErrInvalidData)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var merged []model.Completion
	err := a.run(ctx, "saveCompletion", func() error {
		existing, err := a.loadCompletions(date)
		if err != nil {
			return err
		}
		merged = mergeLegacyIDs(existing, habitIDs)
		return a.writeCompletions(date, merged)
	})
	a.cache.Invalidate(cacheKeyAllCompletions)
	if err != nil {
		a.cache.Invalidate(completionsCacheKey(date))
		return err
	}
	a.cache.Set(completionsCacheKey(date), cloneCompletions(merged))
	return nil
}

func (a *keyValueAdapter) GetCompletion(ctx context.Context, date string) ([]string, error) {
	details, err := a.GetCompletionDetails(ctx, date)
	if err != nil {
		return nil, err
	}
	return model.CompletedIDs(details), nil
}

func (a *keyValueAdapter) completionDates() ([]string, error) {
	keys, err := a.store.Keys()
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(keys))
	for _, key := range keys {
		if date, ok := strings.CutPrefix(key, flatKeyCompletionsPref); ok && model.IsDate(date) {
			dates = append(dates, date)
		}
	}
	return dates, nil
}

func (a *keyValueAdapter) loadAllCompletions() (model.DailyCompletions, error) {
	dates, err := a.completionDates()
	if err != nil {
		return nil, err
	}
	all := make(model.DailyCompletions, len(dates))
	for _, date := range dates {
		completions, err := a.loadCompletions(date)
		if errors.Is(err, ErrInvalidData) {
			log.Printf("[storage] %s skip unreadable completions %s: %v", a.kind, date, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(completions) > 0 {
			all[date] = completions
		}
	}
	return all, nil
}

func (a *keyValueAdapter) GetAllCompletionDetails(ctx context.Context) (model.DailyCompletions, error) {
	value, err := a.cache.GetOrLoad(cacheKeyAllCompletions, func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var all model.DailyCompletions
		err := a.run(ctx, "getAllCompletionDetails", func() error {
			var err error
			all, err = a.loadAllCompletions()
			return err
		})
		return all, err
	})
	if err != nil {
		return nil, err
	}
	return value.(model.DailyCompletions).Clone(), nil
}

func (a *keyValueAdapter) GetAllCompletions(ctx context.Context) (map[string][]string, error) {
	all, err := a.GetAllCompletionDetails(ctx)
	if err != nil {
		return nil, err
	}
	return legacyView(all), nil
}

func (a *keyValueAdapter) GetCompletionsForDateRange(ctx context.Context, dates []string) (model.DailyCompletions, error) {
	out := make(model.DailyCompletions, len(dates))
	for _, date := range dates {
		completions, err := a.GetCompletionDetails(ctx, date)
		if err != nil {
			return nil, err
		}
		out[date] = completions
	}
	return out, nil
}

func (a *keyValueAdapter) clearCompletionKeys() error {
	dates, err := a.completionDates()
	if err != nil {
		return err
	}
	for _, date := range dates {
		if err := a.store.RemoveItem(flatCompletionsKey(date)); err != nil {
			return err
		}
	}
	return nil
}

func (a *keyValueAdapter) ClearCompletionDetails(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.run(ctx, "clearCompletionDetails", a.clearCompletionKeys)
	a.cache.InvalidatePrefix(cacheKeyCompletionsFor)
	a.cache.Invalidate(cacheKeyAllCompletions)
	return err
}

// ClearCompletions 与 ClearCompletionDetails 共享同一份按日记录
func (a *keyValueAdapter) ClearCompletions(ctx context.Context) error {
	return a.ClearCompletionDetails(ctx)
}

func (a *keyValueAdapter) SaveSettings(ctx context.Context, settings model.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.run(ctx, "saveSettings", func() error {
		return a.writeSettings(settings)
	})
	if err != nil {
		a.cache.Invalidate(cacheKeySettings)
		return err
	}
	a.cache.Set(cacheKeySettings, settings.Clone())
	return nil
}

func (a *keyValueAdapter) writeSettings(settings model.Settings) error {
	raw, err := settings.MarshalJSON()
	if err != nil {
		return permanent(err)
	}
	return a.store.SetItem(flatKeySettings, string(raw))
}

func (a *keyValueAdapter) loadSettings() (model.Settings, error) {
	raw, ok, err := a.store.GetItem(flatKeySettings)
	if err != nil {
		return model.Settings{}, err
	}
	if !ok {
		return model.DefaultSettings(), nil
	}
	return decodeSettings([]byte(raw))
}

func (a *keyValueAdapter) GetSettings(ctx context.Context) (model.Settings, error) {
	value, err := a.cache.GetOrLoad(cacheKeySettings, func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var settings model.Settings
		err := a.run(ctx, "getSettings", func() error {
			var err error
			settings, err = a.loadSettings()
			return err
		})
		return settings, err
	})
	if err != nil {
		return model.Settings{}, err
	}
	return value.(model.Settings).Clone(), nil
}

// ExportAllData 绕过缓存直接读取
func (a *keyValueAdapter) ExportAllData(ctx context.Context) (model.ExportData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var data model.ExportData
	err := a.run(ctx, "exportAllData", func() error {
		habits, err := a.loadHabits()
		if err != nil {
			return err
		}
		completions, err := a.loadAllCompletions()
		if err != nil {
			return err
		}
		settings, err := a.loadSettings()
		if err != nil {
			return err
		}
		data = model.ExportData{Habits: habits, Completions: completions, Settings: &settings}
		return nil
	})
	return data, err
}

// ImportAllData 先清空再批量写入；各键分别写入，不具备原子性
func (a *keyValueAdapter) ImportAllData(ctx context.Context, data model.ExportData) error {
	if err := validateImport(data); err != nil {
		return newStorageError("importAllData", "invalid import data", unwrapPermanent(err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.InvalidateAll()

	return a.run(ctx, "importAllData", func() error {
		if err := a.clearCompletionKeys(); err != nil {
			return err
		}
		if err := a.store.RemoveItem(flatKeyHabits); err != nil {
			return err
		}
		if err := a.writeHabits(normalizeHabits(model.CloneHabits(data.Habits))); err != nil {
			return err
		}
		for date, completions := range data.Completions {
			if err := a.writeCompletions(date, dedupeCompletions(completions)); err != nil {
				return err
			}
		}
		if data.Settings != nil {
			if err := a.writeSettings(*data.Settings); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *keyValueAdapter) migrationDone() (bool, error) {
	_, ok, err := a.store.GetItem(flatKeyMigrated)
	return ok, err
}

func (a *keyValueAdapter) markMigrated() error {
	return a.store.SetItem(flatKeyMigrated, "true")
}

// migrateFrom 执行一次性迁移，迁移标记写入自身存储
func (a *keyValueAdapter) migrateFrom(ctx context.Context, legacy FlatStore) (bool, error) {
	if legacy == nil {
		return false, nil
	}

	var done bool
	if err := a.run(ctx, "migrationStatus", func() error {
		var err error
		done, err = a.migrationDone()
		return err
	}); err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	report := migrateLegacy(ctx, a.kind, legacy, a)
	if err := a.run(ctx, "markMigrated", a.markMigrated); err != nil {
		return report.Migrated > 0, err
	}
	return report.Migrated > 0, nil
}
