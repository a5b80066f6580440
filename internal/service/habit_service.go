package service

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/habitflow/internal/model"
	"github.com/habitflow/internal/storage"
)

// DefaultHabitEmoji 是新习惯的默认图标，属于成长阶段集合
const DefaultHabitEmoji = "🌱"

// Persistence 描述一次变更是否已落盘；内存状态无论成败都已更新
type Persistence struct {
	Persisted bool
	Err       error
}

func persisted() Persistence { return Persistence{Persisted: true} }

// HabitInput 定义创建/更新习惯时可配置字段
type HabitInput struct {
	Name          string
	Emoji         string
	TrackingType  model.TrackingType
	TargetValue   float64
	Unit          string
	Frequency     model.Frequency
	FrequencyData model.FrequencyData
	Notes         string
}

// CompletionResult 是 UpdateCompletion 的返回
type CompletionResult struct {
	Habit        model.Habit
	Milestone    bool
	AllCompleted bool
	Persistence  Persistence
}

// HabitEngine 持有会话期间的习惯、完成记录与设置
// 所有方法串行执行；每次写入先尝试存储，失败时仍保留内存变更并上报
type HabitEngine struct {
	mu          sync.Mutex
	adapter     storage.Adapter
	now         func() time.Time
	loc         *time.Location
	reporter    Reporter
	reminder    Reminder
	habits      []model.Habit
	completions model.DailyCompletions
	settings    model.Settings
}

// EngineOption 定制引擎
type EngineOption func(*HabitEngine)

// WithClock 替换时钟，主要用于测试
func WithClock(now func() time.Time) EngineOption {
	return func(e *HabitEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation 指定"今天"所在的时区
func WithLocation(loc *time.Location) EngineOption {
	return func(e *HabitEngine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithReporter 指定错误上报边界
func WithReporter(r Reporter) EngineOption {
	return func(e *HabitEngine) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithReminder 指定提醒调度方
func WithReminder(r Reminder) EngineOption {
	return func(e *HabitEngine) {
		e.reminder = r
	}
}

// NewHabitEngine 构造 HabitEngine，需调用 Load 读取持久化数据
func NewHabitEngine(adapter storage.Adapter, opts ...EngineOption) *HabitEngine {
	e := &HabitEngine{
		adapter:     adapter,
		now:         time.Now,
		loc:         time.UTC,
		reporter:    discardReporter{},
		habits:      []model.Habit{},
		completions: model.DailyCompletions{},
		settings:    model.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today 返回引擎时区下的当天日期
func (e *HabitEngine) Today() string {
	return model.DateOf(e.now(), e.loc)
}

// Adapter 返回当前使用的存储适配器
func (e *HabitEngine) Adapter() storage.Adapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adapter
}

// Load 执行旧数据迁移并读取全部状态，连胜会按今天重新计算
func (e *HabitEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

// Rebind 切换存储适配器并重新加载
func (e *HabitEngine) Rebind(ctx context.Context, adapter storage.Adapter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapter = adapter
	return e.loadLocked(ctx)
}

func (e *HabitEngine) loadLocked(ctx context.Context) error {
	if migrated, err := e.adapter.MigrateFromLocalStorage(ctx); err != nil {
		e.report("migrate", "legacy migration failed", err)
	} else if migrated {
		log.Printf("[engine] migrated legacy data into %s backend", e.adapter.Kind())
	}

	habits, err := e.adapter.GetAllHabits(ctx)
	if err != nil {
		return fmt.Errorf("load habits: %w", err)
	}
	completions, err := e.adapter.GetAllCompletionDetails(ctx)
	if err != nil {
		return fmt.Errorf("load completions: %w", err)
	}
	settings, err := e.adapter.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	e.habits = habits
	e.completions = completions
	if e.completions == nil {
		e.completions = model.DailyCompletions{}
	}
	e.settings = settings

	today := e.Today()
	var changed []model.Habit
	for i := range e.habits {
		streak := ComputeStreak(e.habits[i], e.completions, today)
		if streak != e.habits[i].Streaks {
			e.habits[i].Streaks = streak
			changed = append(changed, e.habits[i].Clone())
		}
	}
	if len(changed) > 0 {
		if err := e.adapter.SaveHabits(ctx, changed); err != nil {
			e.report("load", "persist recomputed streaks failed", err)
		}
	}

	log.Printf("[engine] loaded %d habits, %d completion records from %s backend", len(e.habits), e.completions.Count(), e.adapter.Kind())
	return nil
}

func (e *HabitEngine) report(op, message string, err error) Persistence {
	appErr := NewAppError(op, message, err)
	appErr.Time = e.now()
	e.reporter.Report(appErr)
	return Persistence{Err: err}
}

// persist 依次执行写入，遇到第一个失败即停止并上报
func (e *HabitEngine) persist(op string, writes ...func() error) Persistence {
	for _, write := range writes {
		if err := write(); err != nil {
			return e.report(op, "storage write failed, change kept in memory only", err)
		}
	}
	return persisted()
}

func (e *HabitEngine) indexOf(id string) int {
	return slices.IndexFunc(e.habits, func(h model.Habit) bool { return h.ID == id })
}

// Habits 返回全部习惯的副本
func (e *HabitEngine) Habits() []model.Habit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CloneHabits(e.habits)
}

// Habit 返回单个习惯
func (e *HabitEngine) Habit(id string) (model.Habit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexOf(id)
	if idx < 0 {
		return model.Habit{}, ErrHabitNotFound
	}
	return e.habits[idx].Clone(), nil
}

// Completions 返回指定日期的完成记录
func (e *HabitEngine) Completions(date string) []model.Completion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.completions[date])
}

// AllCompletions 返回全部完成记录的副本
func (e *HabitEngine) AllCompletions() model.DailyCompletions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completions.Clone()
}

// IsCompletedToday 判断习惯今天是否已完成
func (e *HabitEngine) IsCompletedToday(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexOf(id)
	if idx < 0 {
		return false
	}
	return completedOn(e.habits[idx], e.completions, e.Today())
}

func normalizeInput(input HabitInput) (HabitInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Emoji = strings.TrimSpace(input.Emoji)
	input.Unit = strings.TrimSpace(input.Unit)
	input.Notes = strings.TrimSpace(input.Notes)

	if input.Name == "" {
		return input, fmt.Errorf("%w: name is required", ErrInvalidHabit)
	}
	if utf8.RuneCountInString(input.Name) > model.MaxHabitNameRunes {
		return input, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidHabit, model.MaxHabitNameRunes)
	}
	if input.TrackingType == "" {
		input.TrackingType = model.TrackingCheckbox
	}
	if !model.ValidTrackingType(input.TrackingType) {
		return input, fmt.Errorf("%w: unsupported tracking type %s", ErrInvalidHabit, input.TrackingType)
	}
	if input.Frequency == "" {
		input.Frequency = model.FrequencyDaily
	}
	if !model.ValidFrequency(input.Frequency) {
		return input, fmt.Errorf("%w: unsupported frequency %s", ErrInvalidHabit, input.Frequency)
	}
	if input.TargetValue < 0 {
		return input, fmt.Errorf("%w: target must not be negative", ErrInvalidHabit)
	}

	data := input.FrequencyData
	for _, d := range data.DaysOfWeek {
		if d < 0 || d > 6 {
			return input, fmt.Errorf("%w: day of week %d out of range", ErrInvalidHabit, d)
		}
	}
	for _, d := range data.DaysOfMonth {
		if d < 1 || d > 31 {
			return input, fmt.Errorf("%w: day of month %d out of range", ErrInvalidHabit, d)
		}
	}
	if data.Interval < 0 {
		return input, fmt.Errorf("%w: interval must be positive", ErrInvalidHabit)
	}
	if data.StartDate != "" && !model.IsDate(data.StartDate) {
		return input, fmt.Errorf("%w: start date %q is not a date", ErrInvalidHabit, data.StartDate)
	}
	if input.Frequency == model.FrequencyCustom && data.StartDate == "" && data.Interval > 0 {
		return input, fmt.Errorf("%w: custom frequency requires a start date", ErrInvalidHabit)
	}
	return input, nil
}

func applyInput(habit *model.Habit, input HabitInput) {
	habit.Name = input.Name
	if input.Emoji != "" {
		habit.Emoji = input.Emoji
	}
	habit.TrackingType = input.TrackingType
	habit.TargetValue = input.TargetValue
	habit.Unit = input.Unit
	habit.Frequency = input.Frequency
	habit.FrequencyData = model.FrequencyData{
		DaysOfWeek:  slices.Clone(input.FrequencyData.DaysOfWeek),
		DaysOfMonth: slices.Clone(input.FrequencyData.DaysOfMonth),
		Interval:    input.FrequencyData.Interval,
		StartDate:   input.FrequencyData.StartDate,
	}
	habit.Notes = input.Notes
	if habit.TrackingType == model.TrackingCheckbox {
		habit.TargetValue = 0
		habit.Unit = ""
	}
}

// AddHabit 新建习惯，数量受 settings.maxHabits 限制
func (e *HabitEngine) AddHabit(ctx context.Context, input HabitInput) (model.Habit, Persistence, error) {
	input, err := normalizeInput(input)
	if err != nil {
		return model.Habit{}, Persistence{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if limit := e.settings.MaxHabits; limit > 0 && len(e.habits) >= limit {
		return model.Habit{}, Persistence{}, fmt.Errorf("%w: at most %d habits", ErrHabitLimitReached, limit)
	}

	habit := model.Habit{
		ID:           uuid.NewString(),
		Emoji:        DefaultHabitEmoji,
		SkippedDates: []string{},
		CreatedAt:    e.now().In(e.loc).Format(time.RFC3339),
	}
	applyInput(&habit, input)

	e.habits = append(e.habits, habit)
	stored := habit.Clone()
	p := e.persist("addHabit", func() error { return e.adapter.SaveHabit(ctx, stored) })
	return habit.Clone(), p, nil
}

// UpdateHabit 更新习惯的可编辑字段，ID、连胜与跳过日期保持不变
func (e *HabitEngine) UpdateHabit(ctx context.Context, id string, input HabitInput) (model.Habit, Persistence, error) {
	input, err := normalizeInput(input)
	if err != nil {
		return model.Habit{}, Persistence{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return model.Habit{}, Persistence{}, ErrHabitNotFound
	}

	habit := &e.habits[idx]
	applyInput(habit, input)
	habit.Streaks = ComputeStreak(*habit, e.completions, e.Today())

	stored := habit.Clone()
	p := e.persist("updateHabit", func() error { return e.adapter.SaveHabit(ctx, stored) })
	return stored, p, nil
}

// DeleteHabit 删除习惯并级联删除其完成记录
func (e *HabitEngine) DeleteHabit(ctx context.Context, id string) (Persistence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return Persistence{}, ErrHabitNotFound
	}
	e.habits = slices.Delete(e.habits, idx, idx+1)

	writes := []func() error{func() error { return e.adapter.DeleteHabit(ctx, id) }}
	for _, date := range e.completions.Dates() {
		list := e.completions[date]
		pos := model.FindCompletion(list, id)
		if pos < 0 {
			continue
		}
		remaining := slices.Delete(slices.Clone(list), pos, pos+1)
		if len(remaining) == 0 {
			delete(e.completions, date)
		} else {
			e.completions[date] = remaining
		}
		day := date
		writes = append(writes, func() error {
			return e.adapter.SaveCompletionDetails(ctx, day, slices.Clone(remaining))
		})
	}

	return e.persist("deleteHabit", writes...), nil
}

// validateValue 按追踪类型校验完成值
func validateValue(habit model.Habit, value model.Value) error {
	switch habit.TrackingType {
	case model.TrackingCheckbox:
		if value.IsNumber() {
			return fmt.Errorf("%w: checkbox habits take true or false", ErrInvalidValue)
		}
	case model.TrackingQuantity, model.TrackingDuration:
		if !value.IsNumber() || value.Number() < 0 {
			return fmt.Errorf("%w: %s habits take a non-negative number", ErrInvalidValue, habit.TrackingType)
		}
	case model.TrackingRating:
		n := value.Number()
		if !value.IsNumber() || n != float64(int(n)) || n < 1 || n > 10 {
			return fmt.Errorf("%w: rating must be an integer between 1 and 10", ErrInvalidValue)
		}
	}
	return nil
}

// UpdateCompletion 设置习惯今天的完成值
//
//	checkbox 且值为 false：删除今天的记录，lastCompleted 等于今天时清空
//	今天已有记录：原地更新值；仅当旧值不计为完成而新值计为完成时才更新连胜
//	今天没有记录：追加记录，truthy 时更新 lastCompleted 与连胜并检测里程碑
//
// AllCompleted 在写入新记录之后计算
func (e *HabitEngine) UpdateCompletion(ctx context.Context, id string, value model.Value) (CompletionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return CompletionResult{}, ErrHabitNotFound
	}
	habit := &e.habits[idx]
	if err := validateValue(*habit, value); err != nil {
		return CompletionResult{}, err
	}

	today := e.Today()
	list := slices.Clone(e.completions[today])
	pos := model.FindCompletion(list, id)

	var (
		milestone   bool
		habitDirty  bool
		recordDirty = true
	)
	switch {
	case habit.TrackingType == model.TrackingCheckbox && value.IsFalse():
		if pos < 0 {
			recordDirty = false
			break
		}
		list = slices.Delete(list, pos, pos+1)
		if habit.CompletedOn(today) {
			habit.LastCompleted = nil
			habitDirty = true
		}
	case pos >= 0:
		wasCompleted := list[pos].Value.Truthy()
		list[pos].Value = value
		if !wasCompleted && value.Truthy() {
			milestone = e.markCompletedLocked(habit, today, list)
			habitDirty = true
		}
	default:
		list = append(list, model.Completion{HabitID: id, Value: value})
		if value.Truthy() {
			milestone = e.markCompletedLocked(habit, today, list)
			habitDirty = true
		}
	}

	e.setCompletions(today, list)

	var writes []func() error
	if recordDirty {
		stored := slices.Clone(list)
		writes = append(writes, func() error { return e.adapter.SaveCompletionDetails(ctx, today, stored) })
	}
	if habitDirty {
		stored := habit.Clone()
		writes = append(writes, func() error { return e.adapter.SaveHabit(ctx, stored) })
	}

	result := CompletionResult{
		Habit:        habit.Clone(),
		Milestone:    milestone,
		AllCompleted: e.allCompletedLocked(today),
		Persistence:  e.persist("updateCompletion", writes...),
	}
	if milestone {
		log.Printf("[engine] habit %s reached a %d day streak", id, habit.Streaks)
	}
	return result, nil
}

// markCompletedLocked 记录今天完成并重新计算连胜，返回是否达到里程碑
func (e *HabitEngine) markCompletedLocked(habit *model.Habit, today string, list []model.Completion) bool {
	last := today
	habit.LastCompleted = &last
	e.setCompletions(today, list)
	habit.Streaks = ComputeStreak(*habit, e.completions, today)
	return IsMilestone(habit.Streaks)
}

func (e *HabitEngine) setCompletions(date string, list []model.Completion) {
	if len(list) == 0 {
		delete(e.completions, date)
		return
	}
	e.completions[date] = list
}

// allCompletedLocked 判断当天所有需要完成的习惯是否都已完成
func (e *HabitEngine) allCompletedLocked(date string) bool {
	due := 0
	for _, habit := range e.habits {
		if !IsDue(habit, date) {
			continue
		}
		due++
		if !completedOn(habit, e.completions, date) {
			return false
		}
	}
	return due > 0
}

// AllCompletedToday 判断今天需要完成的习惯是否全部完成
func (e *HabitEngine) AllCompletedToday() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allCompletedLocked(e.Today())
}

// SkipHabit 将日期加入跳过集合，date 为空时使用今天；已跳过时不做任何事
func (e *HabitEngine) SkipHabit(ctx context.Context, id, date string) (model.Habit, Persistence, error) {
	return e.setSkipped(ctx, id, date, true)
}

// UnskipHabit 将日期移出跳过集合，未跳过时不做任何事
func (e *HabitEngine) UnskipHabit(ctx context.Context, id, date string) (model.Habit, Persistence, error) {
	return e.setSkipped(ctx, id, date, false)
}

func (e *HabitEngine) setSkipped(ctx context.Context, id, date string, skip bool) (model.Habit, Persistence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if date == "" {
		date = e.Today()
	}
	if !model.IsDate(date) {
		return model.Habit{}, Persistence{}, fmt.Errorf("%w: %q is not a date", ErrInvalidValue, date)
	}

	idx := e.indexOf(id)
	if idx < 0 {
		return model.Habit{}, Persistence{}, ErrHabitNotFound
	}
	habit := &e.habits[idx]

	if habit.IsSkipped(date) == skip {
		return habit.Clone(), persisted(), nil
	}
	if skip {
		habit.SkippedDates = append(habit.SkippedDates, date)
		slices.Sort(habit.SkippedDates)
	} else {
		habit.SkippedDates = slices.DeleteFunc(habit.SkippedDates, func(d string) bool { return d == date })
	}
	habit.Streaks = ComputeStreak(*habit, e.completions, e.Today())

	op := "unskipHabit"
	if skip {
		op = "skipHabit"
	}
	stored := habit.Clone()
	p := e.persist(op, func() error { return e.adapter.SaveHabit(ctx, stored) })
	return stored, p, nil
}

// Settings 返回当前设置
func (e *HabitEngine) Settings() model.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Clone()
}

// UpdateSettings 覆盖设置，未识别的字段原样保留
func (e *HabitEngine) UpdateSettings(ctx context.Context, settings model.Settings) (model.Settings, Persistence, error) {
	if settings.MaxHabits < 1 {
		return model.Settings{}, Persistence{}, fmt.Errorf("%w: maxHabits must be at least 1", ErrInvalidSettings)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings = settings.Clone()
	stored := settings.Clone()
	p := e.persist("updateSettings", func() error { return e.adapter.SaveSettings(ctx, stored) })
	return settings.Clone(), p, nil
}

// SetDailyReminder 校验时间并交给外部调度方，未配置调度方时返回 false
func (e *HabitEngine) SetDailyReminder(timeString string) (bool, error) {
	normalized, err := ParseReminderTime(timeString)
	if err != nil {
		return false, err
	}
	if e.reminder == nil {
		return false, nil
	}
	return e.reminder.SetDailyReminder(normalized), nil
}

// Export 读取适配器中的全部数据
func (e *HabitEngine) Export(ctx context.Context) (model.ExportData, error) {
	e.mu.Lock()
	adapter := e.adapter
	e.mu.Unlock()

	data, err := adapter.ExportAllData(ctx)
	if err != nil {
		return model.ExportData{}, fmt.Errorf("export data: %w", err)
	}
	return data, nil
}

// Import 用 data 替换全部数据并重新加载
// 非事务后端可能只写入了一部分，失败后同样从存储重新加载，使内存与存储一致
func (e *HabitEngine) Import(ctx context.Context, data model.ExportData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.adapter.ImportAllData(ctx, data); err != nil {
		e.report("import", "import data failed", err)
		if reloadErr := e.loadLocked(ctx); reloadErr != nil {
			log.Printf("[engine] reload after failed import failed: %v", reloadErr)
		}
		return fmt.Errorf("import data: %w", err)
	}
	return e.loadLocked(ctx)
}
