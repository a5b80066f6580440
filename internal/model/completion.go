package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Value 是完成值：checkbox 使用布尔，quantity/duration/rating 使用数字
type Value struct {
	number   float64
	flag     bool
	isNumber bool
}

// BoolValue 构造布尔完成值
func BoolValue(b bool) Value {
	return Value{flag: b}
}

// NumberValue 构造数值完成值
func NumberValue(n float64) Value {
	return Value{number: n, isNumber: true}
}

// IsNumber 表示该值是否为数字
func (v Value) IsNumber() bool { return v.isNumber }

// Number 返回数值，布尔值 true 视为 1
func (v Value) Number() float64 {
	if v.isNumber {
		return v.number
	}
	if v.flag {
		return 1
	}
	return 0
}

// Bool 返回布尔含义
func (v Value) Bool() bool {
	if v.isNumber {
		return v.number != 0
	}
	return v.flag
}

// IsFalse 表示显式的 false
func (v Value) IsFalse() bool {
	return !v.isNumber && !v.flag
}

// Truthy 判断该值是否计为"已完成"：false 与 0 都不算
func (v Value) Truthy() bool {
	return v.Bool()
}

func (v Value) String() string {
	if v.isNumber {
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	}
	return strconv.FormatBool(v.flag)
}

// MarshalJSON 输出裸 true/false 或数字
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isNumber {
		return json.Marshal(v.number)
	}
	return json.Marshal(v.flag)
}

// UnmarshalJSON 接受布尔、数字与 null（null 视为 false）
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = BoolValue(false)
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*v = BoolValue(true)
		return nil
	case bytes.Equal(trimmed, []byte("false")):
		*v = BoolValue(false)
		return nil
	}

	var n float64
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("completion value must be boolean or number: %s", string(trimmed))
	}
	*v = NumberValue(n)
	return nil
}

// Completion 是某个习惯在某一天的完成记录
type Completion struct {
	HabitID string `json:"habitId"`
	Value   Value  `json:"value"`
}

// DailyCompletions 以日期为键的完成记录集合
type DailyCompletions map[string][]Completion

// CompletedIDs 返回 truthy 记录对应的习惯 ID，顺序与记录一致
func CompletedIDs(completions []Completion) []string {
	ids := make([]string, 0, len(completions))
	for _, c := range completions {
		if c.Value.Truthy() {
			ids = append(ids, c.HabitID)
		}
	}
	return ids
}

// FindCompletion 返回指定习惯的记录下标，不存在时为 -1
func FindCompletion(completions []Completion, habitID string) int {
	return slices.IndexFunc(completions, func(c Completion) bool {
		return c.HabitID == habitID
	})
}

// Clone 深拷贝
func (d DailyCompletions) Clone() DailyCompletions {
	if d == nil {
		return nil
	}
	out := make(DailyCompletions, len(d))
	for date, list := range d {
		out[date] = slices.Clone(list)
	}
	return out
}

// Dates 返回升序日期列表
func (d DailyCompletions) Dates() []string {
	return slices.Sorted(maps.Keys(d))
}

// Count 返回所有日期下的记录总数
func (d DailyCompletions) Count() int {
	total := 0
	for _, list := range d {
		total += len(list)
	}
	return total
}

// ExportData 是引擎与存储适配器之间的导出结构
type ExportData struct {
	Habits      []Habit          `json:"habits"`
	Completions DailyCompletions `json:"completions"`
	Settings    *Settings        `json:"settings,omitempty"`
}
