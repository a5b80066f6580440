package model

import (
	"encoding/json"
	"maps"
)

const (
	// DefaultMaxHabits 默认允许的习惯数量
	DefaultMaxHabits = 3
)

// Settings 是进程级偏好设置
// 未识别的字段原样保留，保证向前兼容
type Settings struct {
	MaxHabits        int
	ShowStreakBadges bool
	Extra            map[string]json.RawMessage
}

// DefaultSettings 返回默认设置
func DefaultSettings() Settings {
	return Settings{MaxHabits: DefaultMaxHabits, ShowStreakBadges: true}
}

// Clone 深拷贝
func (s Settings) Clone() Settings {
	out := s
	out.Extra = maps.Clone(s.Extra)
	return out
}

// MarshalJSON 输出已知字段并合并额外字段
func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}

	maxHabits, err := json.Marshal(s.MaxHabits)
	if err != nil {
		return nil, err
	}
	badges, err := json.Marshal(s.ShowStreakBadges)
	if err != nil {
		return nil, err
	}
	out["maxHabits"] = maxHabits
	out["showStreakBadges"] = badges

	return json.Marshal(out)
}

// UnmarshalJSON 从默认值出发覆盖已知字段，其余存入 Extra
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := DefaultSettings()
	if v, ok := raw["maxHabits"]; ok {
		if err := json.Unmarshal(v, &result.MaxHabits); err != nil {
			return err
		}
		delete(raw, "maxHabits")
	}
	if v, ok := raw["showStreakBadges"]; ok {
		if err := json.Unmarshal(v, &result.ShowStreakBadges); err != nil {
			return err
		}
		delete(raw, "showStreakBadges")
	}
	if len(raw) > 0 {
		result.Extra = raw
	}

	*s = result
	return nil
}
