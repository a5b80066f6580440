package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/model"
	"gorm.io/gorm"
)

var prefsDBSeq atomic.Int64

type cacheHolder interface {
	Cache() *Cache
}

type adapterCase struct {
	name string
	new  func(t *testing.T, opts Options) Adapter
}

func newTestPreferencesAdapter(t *testing.T, opts Options) *PreferencesAdapter {
	t.Helper()
	dsn := fmt.Sprintf("file:prefs-%d?mode=memory&cache=shared", prefsDBSeq.Add(1))
	adapter := NewPreferencesAdapterWithOpener(func() (*gorm.DB, error) {
		return db.Open(dsn, true)
	}, opts)
	if !adapter.IsSupported() {
		t.Fatal("expected in-memory preferences database to be supported")
	}
	t.Cleanup(func() { adapter.CloseConnection() })
	return adapter
}

func newTestLocalDBAdapter(t *testing.T, opts Options) *LocalDBAdapter {
	t.Helper()
	adapter := NewLocalDBAdapter(InMemoryBadgerConfig(), opts)
	if !adapter.IsSupported() {
		t.Fatal("expected in-memory badger database to be supported")
	}
	t.Cleanup(func() { adapter.CloseConnection() })
	return adapter
}

func adapterCases() []adapterCase {
	return []adapterCase{
		{name: "flat", new: func(t *testing.T, opts Options) Adapter { return NewFlatAdapter(nil, opts) }},
		{name: "preferences", new: func(t *testing.T, opts Options) Adapter { return newTestPreferencesAdapter(t, opts) }},
		{name: "localdb", new: func(t *testing.T, opts Options) Adapter { return newTestLocalDBAdapter(t, opts) }},
	}
}

func forEachAdapter(t *testing.T, fn func(t *testing.T, adapter Adapter)) {
	for _, tc := range adapterCases() {
		t.Run(tc.name, func(t *testing.T) {
			fn(t, tc.new(t, Options{}))
		})
	}
}

func habitIDs(habits []model.Habit) []string {
	ids := make([]string, 0, len(habits))
	for _, h := range habits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestAdapterHabitRoundTrip(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()

		if err := adapter.SaveHabit(ctx, model.Habit{ID: "h1", Name: "阅读"}); err != nil {
			t.Fatalf("SaveHabit returned error: %v", err)
		}
		if err := adapter.SaveHabit(ctx, model.Habit{ID: "h2", Name: "跑步"}); err != nil {
			t.Fatalf("SaveHabit returned error: %v", err)
		}

		habits, err := adapter.GetAllHabits(ctx)
		if err != nil {
			t.Fatalf("GetAllHabits returned error: %v", err)
		}
		if got := habitIDs(habits); !slices.Equal(got, []string{"h1", "h2"}) {
			t.Fatalf("expected insertion order [h1 h2], got %v", got)
		}
		if habits[0].TrackingType != model.TrackingCheckbox || habits[0].Frequency != model.FrequencyDaily {
			t.Fatalf("expected defaults to be applied, got %+v", habits[0])
		}

		if err := adapter.SaveHabit(ctx, model.Habit{ID: "h1", Name: "晨读"}); err != nil {
			t.Fatalf("SaveHabit update returned error: %v", err)
		}
		if err := adapter.DeleteHabit(ctx, "h2"); err != nil {
			t.Fatalf("DeleteHabit returned error: %v", err)
		}

		habits, err = adapter.GetAllHabits(ctx)
		if err != nil {
			t.Fatalf("GetAllHabits returned error: %v", err)
		}
		if len(habits) != 1 || habits[0].Name != "晨读" {
			t.Fatalf("unexpected habits after update/delete: %+v", habits)
		}

		// 调用方修改返回值不应影响缓存
		habits[0].Name = "mutated"
		again, _ := adapter.GetAllHabits(ctx)
		if again[0].Name != "晨读" {
			t.Fatalf("cached habits were mutated through returned slice")
		}
	})
}

func TestAdapterSaveHabitsBatch(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		batch := []model.Habit{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"}}
		if err := adapter.SaveHabits(ctx, batch); err != nil {
			t.Fatalf("SaveHabits returned error: %v", err)
		}
		habits, err := adapter.GetAllHabits(ctx)
		if err != nil {
			t.Fatalf("GetAllHabits returned error: %v", err)
		}
		if got := habitIDs(habits); !slices.Equal(got, []string{"a", "b", "c"}) {
			t.Fatalf("unexpected habits: %v", got)
		}

		if err := adapter.SaveHabits(ctx, []model.Habit{{ID: "d"}, {ID: ""}}); err == nil {
			t.Fatal("expected error for habit without id")
		}
	})
}

func TestAdapterCompletionDetailsDriveLegacyView(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		date := "2024-03-01"

		details := []model.Completion{
			{HabitID: "h1", Value: model.BoolValue(true)},
			{HabitID: "h2", Value: model.BoolValue(false)},
			{HabitID: "h3", Value: model.NumberValue(5)},
			{HabitID: "h4", Value: model.NumberValue(0)},
		}
		if err := adapter.SaveCompletionDetails(ctx, date, details); err != nil {
			t.Fatalf("SaveCompletionDetails returned error: %v", err)
		}

		got, err := adapter.GetCompletionDetails(ctx, date)
		if err != nil {
			t.Fatalf("GetCompletionDetails returned error: %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("expected 4 detail records, got %+v", got)
		}

		ids, err := adapter.GetCompletion(ctx, date)
		if err != nil {
			t.Fatalf("GetCompletion returned error: %v", err)
		}
		if !slices.Equal(ids, []string{"h1", "h3"}) {
			t.Fatalf("expected legacy view [h1 h3], got %v", ids)
		}

		all, err := adapter.GetAllCompletions(ctx)
		if err != nil {
			t.Fatalf("GetAllCompletions returned error: %v", err)
		}
		if !slices.Equal(all[date], []string{"h1", "h3"}) {
			t.Fatalf("expected all view to match, got %v", all)
		}
	})
}

func TestAdapterSaveCompletionKeepsExistingValues(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		date := "2024-03-02"

		if err := adapter.SaveCompletionDetails(ctx, date, []model.Completion{
			{HabitID: "h1", Value: model.NumberValue(30)},
			{HabitID: "h2", Value: model.BoolValue(true)},
		}); err != nil {
			t.Fatalf("SaveCompletionDetails returned error: %v", err)
		}

		if err := adapter.SaveCompletion(ctx, date, []string{"h1", "h3"}); err != nil {
			t.Fatalf("SaveCompletion returned error: %v", err)
		}

		got, err := adapter.GetCompletionDetails(ctx, date)
		if err != nil {
			t.Fatalf("GetCompletionDetails returned error: %v", err)
		}
		want := []model.Completion{
			{HabitID: "h1", Value: model.NumberValue(30)},
			{HabitID: "h3", Value: model.BoolValue(true)},
		}
		if !slices.Equal(got, want) {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	})
}

func TestAdapterPerDateCacheIsolation(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		cache := adapter.(cacheHolder).Cache()

		if _, err := adapter.GetCompletionDetails(ctx, "2024-01-01"); err != nil {
			t.Fatalf("GetCompletionDetails returned error: %v", err)
		}
		if _, err := adapter.GetCompletionDetails(ctx, "2024-01-02"); err != nil {
			t.Fatalf("GetCompletionDetails returned error: %v", err)
		}
		if _, err := adapter.GetAllCompletionDetails(ctx); err != nil {
			t.Fatalf("GetAllCompletionDetails returned error: %v", err)
		}

		if err := adapter.SaveCompletion(ctx, "2024-01-01", []string{"h1"}); err != nil {
			t.Fatalf("SaveCompletion returned error: %v", err)
		}

		if _, ok := cache.Get(completionsCacheKey("2024-01-02")); !ok {
			t.Fatal("expected other date to stay cached")
		}
		if _, ok := cache.Get(cacheKeyAllCompletions); ok {
			t.Fatal("expected aggregate completions to be invalidated")
		}

		all, err := adapter.GetAllCompletions(ctx)
		if err != nil {
			t.Fatalf("GetAllCompletions returned error: %v", err)
		}
		if !slices.Equal(all["2024-01-01"], []string{"h1"}) {
			t.Fatalf("expected fresh aggregate after write, got %v", all)
		}
	})
}

func TestAdapterDateRangeIncludesEmptyDates(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		if err := adapter.SaveCompletion(ctx, "2024-02-02", []string{"h1"}); err != nil {
			t.Fatalf("SaveCompletion returned error: %v", err)
		}

		dates := []string{"2024-02-01", "2024-02-02", "2024-02-03"}
		got, err := adapter.GetCompletionsForDateRange(ctx, dates)
		if err != nil {
			t.Fatalf("GetCompletionsForDateRange returned error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected every requested date, got %v", got)
		}
		if len(got["2024-02-01"]) != 0 || len(got["2024-02-02"]) != 1 {
			t.Fatalf("unexpected range result: %+v", got)
		}
	})
}

func TestAdapterRejectsInvalidDate(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		err := adapter.SaveCompletion(context.Background(), "not-a-date", []string{"h1"})
		if !errors.Is(err, ErrInvalidData) {
			t.Fatalf("expected ErrInvalidData, got %v", err)
		}
	})
}

func TestAdapterClearCompletions(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		_ = adapter.SaveCompletion(ctx, "2024-01-01", []string{"h1"})
		_ = adapter.SaveCompletionDetails(ctx, "2024-01-02", []model.Completion{{HabitID: "h1", Value: model.NumberValue(3)}})
		if err := adapter.SaveHabit(ctx, model.Habit{ID: "h1"}); err != nil {
			t.Fatalf("SaveHabit returned error: %v", err)
		}

		if err := adapter.ClearCompletions(ctx); err != nil {
			t.Fatalf("ClearCompletions returned error: %v", err)
		}

		all, err := adapter.GetAllCompletionDetails(ctx)
		if err != nil {
			t.Fatalf("GetAllCompletionDetails returned error: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected no completions, got %v", all)
		}
		ids, _ := adapter.GetCompletion(ctx, "2024-01-01")
		if len(ids) != 0 {
			t.Fatalf("expected cleared day to be empty, got %v", ids)
		}
		habits, _ := adapter.GetAllHabits(ctx)
		if len(habits) != 1 {
			t.Fatalf("expected habits to survive clearing completions, got %v", habits)
		}
	})
}

func TestAdapterSettingsDefaultsAndPassthrough(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		settings, err := adapter.GetSettings(ctx)
		if err != nil {
			t.Fatalf("GetSettings returned error: %v", err)
		}
		if settings.MaxHabits != model.DefaultMaxHabits || !settings.ShowStreakBadges {
			t.Fatalf("unexpected default settings: %+v", settings)
		}

		if err := adapter.SaveSettings(ctx, model.Settings{
			MaxHabits:        5,
			ShowStreakBadges: false,
			Extra:            map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)},
		}); err != nil {
			t.Fatalf("SaveSettings returned error: %v", err)
		}

		adapter.ClearCache()
		got, err := adapter.GetSettings(ctx)
		if err != nil {
			t.Fatalf("GetSettings returned error: %v", err)
		}
		if got.MaxHabits != 5 || got.ShowStreakBadges {
			t.Fatalf("unexpected settings: %+v", got)
		}
		if string(got.Extra["theme"]) != `"dark"` {
			t.Fatalf("expected unknown field to survive, got %v", got.Extra)
		}
	})
}

func TestAdapterExportImportRoundTrip(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		settings := model.Settings{MaxHabits: 4, ShowStreakBadges: true}
		data := model.ExportData{
			Habits: []model.Habit{{ID: "h1", Name: "冥想"}, {ID: "h2", Name: "喝水", TrackingType: model.TrackingQuantity, TargetValue: 8}},
			Completions: model.DailyCompletions{
				"2024-01-01": {{HabitID: "h1", Value: model.BoolValue(true)}},
				"2024-01-02": {{HabitID: "h2", Value: model.NumberValue(6)}},
			},
			Settings: &settings,
		}

		// 先写入一些将被覆盖的数据
		_ = adapter.SaveHabit(ctx, model.Habit{ID: "old"})
		_ = adapter.SaveCompletion(ctx, "2023-12-31", []string{"old"})

		if err := adapter.ImportAllData(ctx, data); err != nil {
			t.Fatalf("ImportAllData returned error: %v", err)
		}

		habits, err := adapter.GetAllHabits(ctx)
		if err != nil {
			t.Fatalf("GetAllHabits returned error: %v", err)
		}
		if got := habitIDs(habits); !slices.Equal(got, []string{"h1", "h2"}) {
			t.Fatalf("expected imported habits, got %v", got)
		}

		exported, err := adapter.ExportAllData(ctx)
		if err != nil {
			t.Fatalf("ExportAllData returned error: %v", err)
		}
		if !slices.Equal(exported.Completions.Dates(), []string{"2024-01-01", "2024-01-02"}) {
			t.Fatalf("unexpected exported dates: %v", exported.Completions.Dates())
		}
		if exported.Completions["2024-01-02"][0].Value != model.NumberValue(6) {
			t.Fatalf("expected numeric value to survive, got %+v", exported.Completions["2024-01-02"])
		}
		if exported.Settings == nil || exported.Settings.MaxHabits != 4 {
			t.Fatalf("expected settings to be exported, got %+v", exported.Settings)
		}
	})
}

func TestAdapterImportRejectsInvalidData(t *testing.T) {
	forEachAdapter(t, func(t *testing.T, adapter Adapter) {
		ctx := context.Background()
		if err := adapter.SaveHabit(ctx, model.Habit{ID: "keep"}); err != nil {
			t.Fatalf("SaveHabit returned error: %v", err)
		}

		tests := []struct {
			name string
			data model.ExportData
		}{
			{name: "missing habits", data: model.ExportData{Completions: model.DailyCompletions{}}},
			{name: "bad completion key", data: model.ExportData{
				Habits:      []model.Habit{},
				Completions: model.DailyCompletions{"yesterday": nil},
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := adapter.ImportAllData(ctx, tt.data)
				if !errors.Is(err, ErrInvalidData) {
					t.Fatalf("expected ErrInvalidData, got %v", err)
				}
				if !IsStorageError(err) {
					t.Fatalf("expected StorageError, got %T", err)
				}
			})
		}

		habits, _ := adapter.GetAllHabits(ctx)
		if len(habits) != 1 {
			t.Fatalf("expected existing data to be untouched, got %v", habits)
		}
	})
}

func TestKeyValueAdapterUpgradesLegacyCompletionShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []model.Completion
	}{
		{
			name: "id list",
			raw:  `["h1","h2"]`,
			want: []model.Completion{{HabitID: "h1", Value: model.BoolValue(true)}, {HabitID: "h2", Value: model.BoolValue(true)}},
		},
		{
			name: "unversioned details",
			raw:  `[{"habitId":"h1","value":12}]`,
			want: []model.Completion{{HabitID: "h1", Value: model.NumberValue(12)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			_ = store.SetItem(flatCompletionsKey("2024-01-01"), tt.raw)
			adapter := NewFlatAdapter(store, Options{})

			got, err := adapter.GetCompletionDetails(context.Background(), "2024-01-01")
			if err != nil {
				t.Fatalf("GetCompletionDetails returned error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}

			raw, _, _ := store.GetItem(flatCompletionsKey("2024-01-01"))
			if _, upgrade, err := decodeCompletions([]byte(raw)); err != nil || upgrade {
				t.Fatalf("expected stored record to be rewritten in current format, got %s", raw)
			}
		})
	}
}

func TestLocalDBAdapterUpgradesLegacyCompletionShape(t *testing.T) {
	adapter := newTestLocalDBAdapter(t, Options{})
	bdb, err := adapter.conn()
	if err != nil {
		t.Fatalf("conn returned error: %v", err)
	}
	if err := bdb.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefixCompletion+"2024-01-01"), []byte(`["h1"]`))
	}); err != nil {
		t.Fatalf("seed legacy record: %v", err)
	}

	ids, err := adapter.GetCompletion(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("GetCompletion returned error: %v", err)
	}
	if !slices.Equal(ids, []string{"h1"}) {
		t.Fatalf("expected [h1], got %v", ids)
	}

	var raw []byte
	_ = bdb.View(func(txn *badger.Txn) error {
		raw, _, err = txnGet(txn, badgerPrefixCompletion+"2024-01-01")
		return err
	})
	if _, upgrade, err := decodeCompletions(raw); err != nil || upgrade {
		t.Fatalf("expected record to be rewritten, got %s", raw)
	}
}

func TestLocalDBAdapterReconnectsAfterClose(t *testing.T) {
	dir := t.TempDir()
	adapter := NewLocalDBAdapter(BadgerConfig{Path: dir}, Options{})
	ctx := context.Background()

	if err := adapter.SaveHabit(ctx, model.Habit{ID: "h1", Name: "写作"}); err != nil {
		t.Fatalf("SaveHabit returned error: %v", err)
	}
	if err := adapter.CloseConnection(); err != nil {
		t.Fatalf("CloseConnection returned error: %v", err)
	}
	if err := adapter.CloseConnection(); err != nil {
		t.Fatalf("second CloseConnection returned error: %v", err)
	}

	habits, err := adapter.GetAllHabits(ctx)
	if err != nil {
		t.Fatalf("GetAllHabits after reconnect returned error: %v", err)
	}
	if len(habits) != 1 || habits[0].Name != "写作" {
		t.Fatalf("expected persisted habit after reconnect, got %+v", habits)
	}
	_ = adapter.CloseConnection()
}

func TestPreferencesAdapterWithoutPathIsUnsupported(t *testing.T) {
	adapter := NewPreferencesAdapter("", Options{})
	if adapter.IsSupported() {
		t.Fatal("expected adapter without database path to be unsupported")
	}
	if err := adapter.CloseConnection(); err != nil {
		t.Fatalf("CloseConnection returned error: %v", err)
	}
}

func TestGetAllCompletionDetailsSkipsCorruptDates(t *testing.T) {
	good := `{"version":2,"completions":[{"habitId":"h1","value":true}]}`

	t.Run("flat", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.SetItem(flatCompletionsKey("2024-01-01"), good)
		_ = store.SetItem(flatCompletionsKey("2024-01-02"), `{broken`)
		adapter := NewFlatAdapter(store, Options{})

		all, err := adapter.GetAllCompletionDetails(context.Background())
		if err != nil {
			t.Fatalf("GetAllCompletionDetails returned error: %v", err)
		}
		if !slices.Equal(all.Dates(), []string{"2024-01-01"}) {
			t.Fatalf("expected only the readable date, got %v", all.Dates())
		}
	})

	t.Run("localdb", func(t *testing.T) {
		adapter := newTestLocalDBAdapter(t, Options{})
		bdb, err := adapter.conn()
		if err != nil {
			t.Fatalf("conn returned error: %v", err)
		}
		if err := bdb.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(badgerPrefixCompletion+"2024-01-01"), []byte(good)); err != nil {
				return err
			}
			return txn.Set([]byte(badgerPrefixCompletion+"2024-01-02"), []byte(`{broken`))
		}); err != nil {
			t.Fatalf("seed records: %v", err)
		}

		all, err := adapter.GetAllCompletionDetails(context.Background())
		if err != nil {
			t.Fatalf("GetAllCompletionDetails returned error: %v", err)
		}
		if !slices.Equal(all.Dates(), []string{"2024-01-01"}) {
			t.Fatalf("expected only the readable date, got %v", all.Dates())
		}
	})
}

func TestLocalDBSaveHabitDropsConcurrentStaleLoad(t *testing.T) {
	adapter := newTestLocalDBAdapter(t, Options{})
	ctx := context.Background()

	// 加载读到旧列表之后、回填之前发生写入
	_, err := adapter.Cache().GetOrLoad(cacheKeyHabits, func() (any, error) {
		stale := []model.Habit{}
		if err := adapter.SaveHabit(ctx, model.Habit{ID: "h1", Name: "阅读"}); err != nil {
			return nil, err
		}
		return stale, nil
	})
	if err != nil {
		t.Fatalf("GetOrLoad returned error: %v", err)
	}

	habits, err := adapter.GetAllHabits(ctx)
	if err != nil {
		t.Fatalf("GetAllHabits returned error: %v", err)
	}
	if !slices.Equal(habitIDs(habits), []string{"h1"}) {
		t.Fatalf("expected stale load to be discarded, got %v", habitIDs(habits))
	}
}
