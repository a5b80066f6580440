package model

import (
	"fmt"
	"time"
)

// DateLayout 是持久化使用的日期格式
const DateLayout = "2006-01-02"

// ParseDate 将 YYYY-MM-DD 解析为 UTC 午夜
// 所有日期运算都在 UTC 日历日上进行，不受夏令时影响
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// FormatDate 输出日期字符串
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf 取 t 在 loc 下的日历日
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// AddDays 在日期字符串上加减天数
func AddDays(date string, days int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, days)), nil
}

// DaysBetween 返回 to - from 的整天数
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// IsDate 判断字符串是否为合法日期
func IsDate(value string) bool {
	_, err := ParseDate(value)
	return err == nil
}

// DateRange 返回闭区间内的所有日期
func DateRange(start, end string) ([]string, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: end before start")
	}

	dates := make([]string, 0, DaysBetween(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, FormatDate(d))
	}
	return dates, nil
}
