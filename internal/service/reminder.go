package service

import (
	"log"
	"strings"
	"sync"
	"time"
)

// Reminder 是外部的每日提醒调度方，核心只提供 HH:MM 时间串
type Reminder interface {
	SetDailyReminder(timeString string) bool
}

// ParseReminderTime 校验并规范化 HH:MM
func ParseReminderTime(value string) (string, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse("15:04", value)
	if err != nil || len(value) != len("15:04") {
		return "", ErrInvalidReminderTime
	}
	return t.Format("15:04"), nil
}

// LogReminder 只记录提醒时间，用于没有系统调度能力的环境
type LogReminder struct {
	mu   sync.Mutex
	time string
}

func (r *LogReminder) SetDailyReminder(timeString string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.time = timeString
	log.Printf("[reminder] daily reminder set to %s", timeString)
	return true
}

// Current 返回最近一次设置的时间
func (r *LogReminder) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.time
}
