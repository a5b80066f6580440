package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/habitflow/internal/storage"
)

var (
	// ErrHabitNotFound 在指定习惯不存在时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrHabitLimitReached 在习惯数量达到 maxHabits 时返回
	ErrHabitLimitReached = errors.New("habit limit reached")
	// ErrInvalidHabit 表示习惯字段不合法
	ErrInvalidHabit = errors.New("invalid habit")
	// ErrInvalidValue 表示完成值与追踪类型不匹配
	ErrInvalidValue = errors.New("invalid completion value")
	// ErrInvalidReminderTime 表示提醒时间不是 HH:MM
	ErrInvalidReminderTime = errors.New("invalid reminder time")
	// ErrInvalidSettings 表示设置值不合法
	ErrInvalidSettings = errors.New("invalid settings")
)

// ErrorCategory 是面向用户的错误分类
type ErrorCategory string

const (
	CategoryStorage     ErrorCategory = "storage"
	CategoryNetwork     ErrorCategory = "network"
	CategoryUserInput   ErrorCategory = "user_input"
	CategoryApplication ErrorCategory = "application"
	CategoryUnknown     ErrorCategory = "unknown"
)

// AppError 是上报边界使用的领域错误
type AppError struct {
	Category ErrorCategory
	Op       string
	Message  string
	Cause    error
	Time     time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Category, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Category, e.Op, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// NewAppError 根据错误链推断分类
func NewAppError(op, message string, cause error) *AppError {
	return &AppError{
		Category: Classify(cause),
		Op:       op,
		Message:  message,
		Cause:    cause,
		Time:     time.Now(),
	}
}

// Classify 将错误映射到分类
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category
	}

	var restoreErr *RestoreError
	switch {
	case errors.As(err, &restoreErr),
		errors.Is(err, storage.ErrInvalidData),
		errors.Is(err, ErrHabitNotFound),
		errors.Is(err, ErrHabitLimitReached),
		errors.Is(err, ErrInvalidHabit),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrInvalidReminderTime),
		errors.Is(err, ErrInvalidSettings):
		return CategoryUserInput
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	if storage.IsStorageError(err) {
		return CategoryStorage
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryApplication
	}

	return CategoryUnknown
}
