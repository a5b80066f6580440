package storage

import (
	"context"
	"log"
	"strings"

	"github.com/habitflow/internal/model"
)

type migrationTarget interface {
	SaveHabit(ctx context.Context, habit model.Habit) error
	SaveCompletionDetails(ctx context.Context, date string, completions []model.Completion) error
	SaveSettings(ctx context.Context, settings model.Settings) error
}

// MigrationReport 汇总一次迁移的结果
type MigrationReport struct {
	Migrated int
	Failed   int
}

// migrateLegacy 逐条迁移旧版扁平存储中的记录
// 单条失败只记录日志并跳过，不会中断整体迁移
func migrateLegacy(ctx context.Context, kind Kind, source FlatStore, target migrationTarget) MigrationReport {
	var report MigrationReport

	fail := func(what string, err error) {
		report.Failed++
		log.Printf("[storage] %s migrate %s skipped: %v", kind, what, err)
	}

	if raw, ok, err := source.GetItem(flatKeyHabits); err != nil {
		fail("habits", err)
	} else if ok {
		habits, bad, err := decodeHabitRecords([]byte(raw))
		if err != nil {
			fail("habits", err)
		}
		for _, badErr := range bad {
			fail("habit record", badErr)
		}
		for _, habit := range habits {
			if strings.TrimSpace(habit.ID) == "" {
				fail("habit without id", ErrInvalidData)
				continue
			}
			if err := target.SaveHabit(ctx, habit); err != nil {
				fail("habit "+habit.ID, err)
				continue
			}
			report.Migrated++
		}
	}

	keys, err := source.Keys()
	if err != nil {
		fail("completion keys", err)
	}
	for _, key := range keys {
		date, ok := strings.CutPrefix(key, flatKeyCompletionsPref)
		if !ok {
			continue
		}
		if !model.IsDate(date) {
			fail("key "+key, ErrInvalidData)
			continue
		}
		raw, ok, err := source.GetItem(key)
		if err != nil || !ok {
			if err != nil {
				fail("completions "+date, err)
			}
			continue
		}
		completions, _, err := decodeCompletions([]byte(raw))
		if err != nil {
			fail("completions "+date, err)
			continue
		}
		if err := target.SaveCompletionDetails(ctx, date, completions); err != nil {
			fail("completions "+date, err)
			continue
		}
		report.Migrated++
	}

	if raw, ok, err := source.GetItem(flatKeySettings); err != nil {
		fail("settings", err)
	} else if ok {
		settings, err := decodeSettings([]byte(raw))
		if err != nil {
			fail("settings", err)
		} else if err := target.SaveSettings(ctx, settings); err != nil {
			fail("settings", err)
		} else {
			report.Migrated++
		}
	}

	log.Printf("[storage] %s migration finished: migrated=%d failed=%d", kind, report.Migrated, report.Failed)
	return report
}
