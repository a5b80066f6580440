package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidData 表示导入或持久化数据结构不合法，不会重试
	ErrInvalidData = errors.New("invalid data structure")
	// ErrNotFound 表示记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrUnsupported 表示当前环境不支持该后端
	ErrUnsupported = errors.New("storage backend not supported")
)

// StorageError 包装后端 I/O 失败
type StorageError struct {
	Op      string
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage %s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func newStorageError(op, message string, cause error) *StorageError {
	return &StorageError{Op: op, Message: message, Cause: cause}
}

// IsStorageError 判断错误链中是否包含 StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// permanentError 标记不应重试的错误
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// permanent 包装错误，使重试逻辑立即放弃
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	if errors.As(err, &p) {
		return true
	}
	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func invalidData(format string, args ...any) error {
	return permanent(fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...)))
}
