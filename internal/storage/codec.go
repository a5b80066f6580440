package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/habitflow/internal/model"
)

// completionEnvelopeVersion 是当前写入的按日完成记录版本
const completionEnvelopeVersion = 2

// completionEnvelope 是带版本标签的按日完成记录
type completionEnvelope struct {
	Version     int                `json:"version"`
	Completions []model.Completion `json:"completions"`
}

// encodeCompletions 总是写入带版本的结构
func encodeCompletions(completions []model.Completion) ([]byte, error) {
	if completions == nil {
		completions = []model.Completion{}
	}
	return json.Marshal(completionEnvelope{Version: completionEnvelopeVersion, Completions: completions})
}

// decodeCompletions 识别三种历史格式：
//
//	{"version":2,"completions":[...]}   当前格式
//	["habitId", ...]                    最早的 ID 数组，值视为 true
//	[{"habitId":..,"value":..}, ...]    无版本的详细记录
//
// upgrade 为 true 表示读到的是旧格式，调用方应回写为当前格式
func decodeCompletions(raw []byte) (completions []model.Completion, upgrade bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []model.Completion{}, false, nil
	}

	switch trimmed[0] {
	case '{':
		var env completionEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, false, fmt.Errorf("%w: completion envelope: %v", ErrInvalidData, err)
		}
		if env.Version > completionEnvelopeVersion {
			return nil, false, fmt.Errorf("%w: completion envelope version %d is newer than supported", ErrInvalidData, env.Version)
		}
		if env.Completions == nil {
			env.Completions = []model.Completion{}
		}
		return env.Completions, env.Version < completionEnvelopeVersion, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, false, fmt.Errorf("%w: completion list: %v", ErrInvalidData, err)
		}
		out := make([]model.Completion, 0, len(items))
		for _, item := range items {
			c, err := decodeCompletionItem(item)
			if err != nil {
				return nil, false, err
			}
			if c.HabitID == "" || model.FindCompletion(out, c.HabitID) >= 0 {
				continue
			}
			out = append(out, c)
		}
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unrecognized completion payload", ErrInvalidData)
	}
}

func decodeCompletionItem(item json.RawMessage) (model.Completion, error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return model.Completion{}, fmt.Errorf("%w: legacy completion id: %v", ErrInvalidData, err)
		}
		return model.Completion{HabitID: id, Value: model.BoolValue(true)}, nil
	}

	var c model.Completion
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return model.Completion{}, fmt.Errorf("%w: completion record: %v", ErrInvalidData, err)
	}
	return c, nil
}

func encodeHabits(habits []model.Habit) ([]byte, error) {
	if habits == nil {
		habits = []model.Habit{}
	}
	return json.Marshal(habits)
}

// decodeHabits 读取固定键下的裸习惯数组，并补齐旧数据缺失的字段
func decodeHabits(raw []byte) ([]model.Habit, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []model.Habit{}, nil
	}
	var habits []model.Habit
	if err := json.Unmarshal(trimmed, &habits); err != nil {
		return nil, fmt.Errorf("%w: habits: %v", ErrInvalidData, err)
	}
	return normalizeHabits(habits), nil
}

// decodeHabitRecords 逐条解码习惯数组，无法解码的元素单独返回错误而不影响其他元素
// 只有整体不是数组时才返回 err
func decodeHabitRecords(raw []byte) ([]model.Habit, []error, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []model.Habit{}, nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, nil, fmt.Errorf("%w: habits: %v", ErrInvalidData, err)
	}

	habits := make([]model.Habit, 0, len(items))
	var bad []error
	for i, item := range items {
		habit, err := decodeHabit(item)
		if err != nil {
			bad = append(bad, fmt.Errorf("habit #%d: %w", i, err))
			continue
		}
		habits = append(habits, habit)
	}
	return habits, bad, nil
}

func decodeHabit(raw []byte) (model.Habit, error) {
	var habit model.Habit
	if err := json.Unmarshal(raw, &habit); err != nil {
		return model.Habit{}, fmt.Errorf("%w: habit: %v", ErrInvalidData, err)
	}
	habit.Normalize()
	return habit, nil
}

func decodeSettings(raw []byte) (model.Settings, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return model.DefaultSettings(), nil
	}
	var settings model.Settings
	if err := json.Unmarshal(trimmed, &settings); err != nil {
		return model.Settings{}, fmt.Errorf("%w: settings: %v", ErrInvalidData, err)
	}
	return settings, nil
}
