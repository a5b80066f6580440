package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/habitflow/internal/model"
)

const (
	badgerPrefixHabit      = "habit/"
	badgerPrefixCompletion = "completion/"
	badgerKeyHabitOrder    = "meta/habit_order"
	badgerKeySettings      = "settings"
	badgerKeyMigrated      = "meta/" + flatKeyMigrated
)

// LocalDBAdapter 是基于 badger 的本地事务型后端
// 一次调用内的多记录写入在同一事务中提交，要么全部生效要么全部不生效
type LocalDBAdapter struct {
	cfg    BadgerConfig
	cache  *Cache
	retry  RetryConfig
	legacy FlatStore

	connMu sync.Mutex
	bdb    *badger.DB

	// mu 保证写入与缓存更新对读者而言是原子的
	mu sync.Mutex
}

// NewLocalDBAdapter 构造适配器，数据库在首次使用时打开
func NewLocalDBAdapter(cfg BadgerConfig, opts Options) *LocalDBAdapter {
	return &LocalDBAdapter{
		cfg:    cfg,
		cache:  NewCache(string(KindLocalDB), opts.CacheTTL, opts.cacheOptions()...),
		retry:  opts.Retry,
		legacy: opts.Legacy,
	}
}

func (a *LocalDBAdapter) Kind() Kind { return KindLocalDB }

// Cache 暴露缓存，用于诊断与测试
func (a *LocalDBAdapter) Cache() *Cache { return a.cache }

func (a *LocalDBAdapter) conn() (*badger.DB, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if a.bdb != nil {
		return a.bdb, nil
	}
	bdb, err := openBadger(a.cfg)
	if err != nil {
		return nil, err
	}
	a.bdb = bdb
	return bdb, nil
}

func (a *LocalDBAdapter) run(ctx context.Context, op string, fn func() error) error {
	return withRetry(ctx, a.retry, string(KindLocalDB), op, fn)
}

func (a *LocalDBAdapter) view(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	return a.run(ctx, op, func() error {
		bdb, err := a.conn()
		if err != nil {
			return err
		}
		return bdb.View(fn)
	})
}

func (a *LocalDBAdapter) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	return a.run(ctx, op, func() error {
		bdb, err := a.conn()
		if err != nil {
			return err
		}
		return bdb.Update(fn)
	})
}

// IsSupported 数据库能够打开即视为可用
func (a *LocalDBAdapter) IsSupported() bool {
	if _, err := a.conn(); err != nil {
		log.Printf("[storage] localdb backend unavailable: %v", err)
		return false
	}
	return true
}

func (a *LocalDBAdapter) ClearCache() { a.cache.InvalidateAll() }

// CloseConnection 关闭数据库，可在任意状态下重复调用
func (a *LocalDBAdapter) CloseConnection() error {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	a.cache.InvalidateAll()
	if a.bdb == nil {
		return nil
	}
	err := a.bdb.Close()
	a.bdb = nil
	if err != nil {
		return newStorageError("closeConnection", "close badger database", err)
	}
	return nil
}

func readHabitOrder(txn *badger.Txn) ([]string, error) {
	raw, ok, err := txnGet(txn, badgerKeyHabitOrder)
	if err != nil || !ok {
		return nil, err
	}
	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, invalidData("habit order: %v", err)
	}
	return order, nil
}

func writeHabitOrder(txn *badger.Txn, order []string) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return permanent(err)
	}
	return txn.Set([]byte(badgerKeyHabitOrder), raw)
}

func putHabit(txn *badger.Txn, habit model.Habit) error {
	raw, err := json.Marshal(habit)
	if err != nil {
		return permanent(err)
	}
	return txn.Set([]byte(badgerPrefixHabit+habit.ID), raw)
}

// readHabits 按插入顺序返回全部习惯
func readHabits(txn *badger.Txn) ([]model.Habit, error) {
	order, err := readHabitOrder(txn)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Habit)
	var unordered []string
	for _, key := range txnKeys(txn, badgerPrefixHabit) {
		raw, ok, err := txnGet(txn, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		habit, err := decodeHabit(raw)
		if err != nil {
			return nil, err
		}
		byID[habit.ID] = habit
		if !slices.Contains(order, habit.ID) {
			unordered = append(unordered, habit.ID)
		}
	}

	habits := make([]model.Habit, 0, len(byID))
	for _, id := range append(order, unordered...) {
		if habit, ok := byID[id]; ok {
			habits = append(habits, habit)
			delete(byID, id)
		}
	}
	return habits, nil
}

func (a *LocalDBAdapter) SaveHabit(ctx context.Context, habit model.Habit) error {
	if strings.TrimSpace(habit.ID) == "" {
		return newStorageError("saveHabit", "habit id is required", ErrInvalidData)
	}
	habit = habit.Clone()
	habit.Normalize()

	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.update(ctx, "saveHabit", func(txn *badger.Txn) error {
		order, err := readHabitOrder(txn)
		if err != nil {
			return err
		}
		if err := putHabit(txn, habit); err != nil {
			return err
		}
		if !slices.Contains(order, habit.ID) {
			return writeHabitOrder(txn, append(order, habit.ID))
		}
		return nil
	})
	if err != nil {
		a.cache.Invalidate(cacheKeyHabits)
		return err
	}

	// 单条更新直接改写缓存；未缓存时仍需使进行中的加载作废
	if cached, ok := a.cache.Get(cacheKeyHabits); ok {
		habits := model.CloneHabits(cached.([]model.Habit))
		a.cache.Set(cacheKeyHabits, upsertHabit(habits, habit))
	} else {
		a.cache.Invalidate(cacheKeyHabits)
	}
	return nil
}

// SaveHabits 在同一事务中批量写入
func (a *LocalDBAdapter) SaveHabits(ctx context.Context, habits []model.Habit) error {
	for _, habit := range habits {
		if strings.TrimSpace(habit.ID) == "" {
			return newStorageError("saveHabits", "habit id is required", ErrInvalidData)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.Invalidate(cacheKeyHabits)

	return a.update(ctx, "saveHabits", func(txn *badger.Txn) error {
		order, err := readHabitOrder(txn)
		if err != nil {
			return err
		}
		for _, habit := range habits {
			habit = habit.Clone()
			habit.Normalize()
			if err := putHabit(txn, habit); err != nil {
				return err
			}
			if !slices.Contains(order, habit.ID) {
				order = append(order, habit.ID)
			}
		}
		return writeHabitOrder(txn, order)
	})
}

func (a *LocalDBAdapter) GetAllHabits(ctx context.Context) ([]model.Habit, error) {
	value, err := a.cache.GetOrLoad(cacheKeyHabits, func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var habits []model.Habit
		err := a.view(ctx, "getAllHabits", func(txn *badger.Txn) error {
			var err error
			habits, err = readHabits(txn)
			return err
		})
		return habits, err
	})
	if err != nil {
		return nil, err
	}
	return model.CloneHabits(value.([]model.Habit)), nil
}

func (a *LocalDBAdapter) DeleteHabit(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.Invalidate(cacheKeyHabits)

	return a.update(ctx, "deleteHabit", func(txn *badger.Txn) error {
		order, err := readHabitOrder(txn)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(badgerPrefixHabit + id)); err != nil {
			return err
		}
		if idx := slices.Index(order, id); idx >= 0 {
			return writeHabitOrder(txn, slices.Delete(order, idx, idx+1))
		}
		return nil
	})
}

// readCompletions 读取单日记录；upgrade 表示存量数据是旧格式
func readCompletions(txn *badger.Txn, date string) ([]model.Completion, bool, error) {
	raw, ok, err := txnGet(txn, badgerPrefixCompletion+date)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return []model.Completion{}, false, nil
	}
	return decodeCompletions(raw)
}

func putCompletions(txn *badger.Txn, date string, completions []model.Completion) error {
	key := []byte(badgerPrefixCompletion + date)
	if len(completions) == 0 {
		return txn.Delete(key)
	}
	raw, err := encodeCompletions(completions)
	if err != nil {
		return permanent(err)
	}
	return txn.Set(key, raw)
}

func (a *LocalDBAdapter) SaveCompletionDetails(ctx context.Context, date string, completions []model.Completion) error {
	if !model.IsDate(date) {
		return newStorageError("saveCompletionDetails", "invalid date "+date, ErrInvalidData)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stored := dedupeCompletions(completions)
	err := a.update(ctx, "saveCompletionDetails", func(txn *badger.Txn) error {
		return putCompletions(txn, date, stored)
	})
	a.cache.Invalidate(cacheKeyAllCompletions)
	if err != nil {
		a.cache.Invalidate(completionsCacheKey(date))
		return err
	}
	a.cache.Set(completionsCacheKey(date), cloneCompletions(stored))
	return nil
}

func (a *LocalDBAdapter) GetCompletionDetails(ctx context.Context, date string) ([]model.Completion, error) {
	if !model.IsDate(date) {
		return nil, newStorageError("getCompletionDetails", "invalid date "+date, ErrInvalidData)
	}

	value, err := a.cache.GetOrLoad(completionsCacheKey(date), func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var completions []model.Completion
		err := a.update(ctx, "getCompletionDetails", func(txn *badger.Txn) error {
			list, upgrade, err := readCompletions(txn, date)
			if err != nil {
				return err
			}
			completions = list
			if upgrade {
				return putCompletions(txn, date, list)
			}
			return nil
		})
		return completions, err
	})
	if err != nil {
		return nil, err
	}
	return cloneCompletions(value.([]model.Completion)), nil
}

func (a *LocalDBAdapter) SaveCompletion(ctx context.Context, date string, habitIDs []string) error {
	if !model.IsDate(date) {
		return newStorageError("saveCompletion", "invalid date "+date, ErrInvalidData)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var merged []model.Completion
	err := a.update(ctx, "saveCompletion", func(txn *badger.Txn) error {
		existing, _, err := readCompletions(txn, date)
		if err != nil {
			return err
		}
		merged = mergeLegacyIDs(existing, habitIDs)
		return putCompletions(txn, date, merged)
	})
	a.cache.Invalidate(cacheKeyAllCompletions)
	if err != nil {
		a.cache.Invalidate(completionsCacheKey(date))
		return err
	}
	a.cache.Set(completionsCacheKey(date), cloneCompletions(merged))
	return nil
}

func (a *LocalDBAdapter) GetCompletion(ctx context.Context, date string) ([]string, error) {
	details, err := a.GetCompletionDetails(ctx, date)
	if err != nil {
		return nil, err
	}
	return model.CompletedIDs(details), nil
}

func readAllCompletions(txn *badger.Txn) (model.DailyCompletions, error) {
	all := make(model.DailyCompletions)
	for _, key := range txnKeys(txn, badgerPrefixCompletion) {
		date := strings.TrimPrefix(key, badgerPrefixCompletion)
		if !model.IsDate(date) {
			continue
		}
		list, _, err := readCompletions(txn, date)
		if errors.Is(err, ErrInvalidData) {
			log.Printf("[storage] %s skip unreadable completions %s: %v", KindLocalDB, date, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			all[date] = list
		}
	}
	return all, nil
}

func (a *LocalDBAdapter) GetAllCompletionDetails(ctx context.Context) (model.DailyCompletions, error) {
	value, err := a.cache.GetOrLoad(cacheKeyAllCompletions, func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var all model.DailyCompletions
		err := a.view(ctx, "getAllCompletionDetails", func(txn *badger.Txn) error {
			var err error
			all, err = readAllCompletions(txn)
			return err
		})
		return all, err
	})
	if err != nil {
		return nil, err
	}
	return value.(model.DailyCompletions).Clone(), nil
}

func (a *LocalDBAdapter) GetAllCompletions(ctx context.Context) (map[string][]string, error) {
	all, err := a.GetAllCompletionDetails(ctx)
	if err != nil {
		return nil, err
	}
	return legacyView(all), nil
}

func (a *LocalDBAdapter) GetCompletionsForDateRange(ctx context.Context, dates []string) (model.DailyCompletions, error) {
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

func deletePrefix(txn *badger.Txn, prefix string) error {
	for _, key := range txnKeys(txn, prefix) {
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}

func (a *LocalDBAdapter) ClearCompletionDetails(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.update(ctx, "clearCompletionDetails", func(txn *badger.Txn) error {
		return deletePrefix(txn, badgerPrefixCompletion)
	})
	a.cache.InvalidatePrefix(cacheKeyCompletionsFor)
	a.cache.Invalidate(cacheKeyAllCompletions)
	return err
}

// ClearCompletions 与 ClearCompletionDetails 共享同一份按日记录
func (a *LocalDBAdapter) ClearCompletions(ctx context.Context) error {
	return a.ClearCompletionDetails(ctx)
}

func putSettings(txn *badger.Txn, settings model.Settings) error {
	raw, err := settings.MarshalJSON()
	if err != nil {
		return permanent(err)
	}
	return txn.Set([]byte(badgerKeySettings), raw)
}

func readSettings(txn *badger.Txn) (model.Settings, error) {
	raw, ok, err := txnGet(txn, badgerKeySettings)
	if err != nil {
		return model.Settings{}, err
	}
	if !ok {
		return model.DefaultSettings(), nil
	}
	return decodeSettings(raw)
}

func (a *LocalDBAdapter) SaveSettings(ctx context.Context, settings model.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.update(ctx, "saveSettings", func(txn *badger.Txn) error {
		return putSettings(txn, settings)
	})
	if err != nil {
		a.cache.Invalidate(cacheKeySettings)
		return err
	}
	a.cache.Set(cacheKeySettings, settings.Clone())
	return nil
}

func (a *LocalDBAdapter) GetSettings(ctx context.Context) (model.Settings, error) {
	value, err := a.cache.GetOrLoad(cacheKeySettings, func() (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var settings model.Settings
		err := a.view(ctx, "getSettings", func(txn *badger.Txn) error {
			var err error
			settings, err = readSettings(txn)
			return err
		})
		return settings, err
	})
	if err != nil {
		return model.Settings{}, err
	}
	return value.(model.Settings).Clone(), nil
}

// ExportAllData 在同一只读事务中读取，绕过缓存
func (a *LocalDBAdapter) ExportAllData(ctx context.Context) (model.ExportData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var data model.ExportData
	err := a.view(ctx, "exportAllData", func(txn *badger.Txn) error {
		habits, err := readHabits(txn)
		if err != nil {
			return err
		}
		completions, err := readAllCompletions(txn)
		if err != nil {
			return err
		}
		settings, err := readSettings(txn)
		if err != nil {
			return err
		}
		data = model.ExportData{Habits: habits, Completions: completions, Settings: &settings}
		return nil
	})
	return data, err
}

// ImportAllData 清空并写入在同一事务中完成
func (a *LocalDBAdapter) ImportAllData(ctx context.Context, data model.ExportData) error {
	if err := validateImport(data); err != nil {
		return newStorageError("importAllData", "invalid import data", unwrapPermanent(err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.cache.InvalidateAll()

	return a.update(ctx, "importAllData", func(txn *badger.Txn) error {
		if err := deletePrefix(txn, badgerPrefixHabit); err != nil {
			return err
		}
		if err := deletePrefix(txn, badgerPrefixCompletion); err != nil {
			return err
		}

		order := make([]string, 0, len(data.Habits))
		for _, habit := range data.Habits {
			if strings.TrimSpace(habit.ID) == "" {
				return invalidData("habit id is required")
			}
			habit.Normalize()
			if err := putHabit(txn, habit); err != nil {
				return err
			}
			if !slices.Contains(order, habit.ID) {
				order = append(order, habit.ID)
			}
		}
		if err := writeHabitOrder(txn, order); err != nil {
			return err
		}

		for date, completions := range data.Completions {
			if err := putCompletions(txn, date, dedupeCompletions(completions)); err != nil {
				return err
			}
		}
		if data.Settings != nil {
			return putSettings(txn, *data.Settings)
		}
		return nil
	})
}

// MigrateFromLocalStorage 将旧版扁平存储迁入 badger，迁移标记保证只执行一次
func (a *LocalDBAdapter) MigrateFromLocalStorage(ctx context.Context) (bool, error) {
	if a.legacy == nil {
		return false, nil
	}

	var done bool
	if err := a.view(ctx, "migrationStatus", func(txn *badger.Txn) error {
		_, ok, err := txnGet(txn, badgerKeyMigrated)
		done = ok
		return err
	}); err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	report := migrateLegacy(ctx, KindLocalDB, a.legacy, a)
	err := a.update(ctx, "markMigrated", func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyMigrated), []byte("true"))
	})
	return report.Migrated > 0, err
}
