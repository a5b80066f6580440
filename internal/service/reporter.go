package service

import (
	"log"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	maxReportSnippetRunes = 512
	defaultRecentReports  = 20
)

// Reporter 是错误上报边界，实现方负责通知用户
type Reporter interface {
	Report(err *AppError)
}

// LogReporter 将错误写入日志并保留最近的若干条，供 HTTP 层提示
type LogReporter struct {
	mu     sync.Mutex
	limit  int
	recent []AppError
}

// NewLogReporter 构造 LogReporter，limit<=0 时保留 20 条
func NewLogReporter(limit int) *LogReporter {
	if limit <= 0 {
		limit = defaultRecentReports
	}
	return &LogReporter{limit: limit}
}

// Report 记录错误
func (r *LogReporter) Report(err *AppError) {
	if err == nil {
		return
	}
	logReport(err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, *err)
	if len(r.recent) > r.limit {
		r.recent = r.recent[len(r.recent)-r.limit:]
	}
}

// Recent 返回最近的错误，最新的在最后
func (r *LogReporter) Recent() []AppError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppError, len(r.recent))
	copy(out, r.recent)
	return out
}

// logReport 输出错误摘要，过长的原因会被截断
func logReport(err *AppError) {
	cause := ""
	if err.Cause != nil {
		cause = strings.TrimSpace(err.Cause.Error())
	}
	if utf8.RuneCountInString(cause) > maxReportSnippetRunes {
		cause = string([]rune(cause)[:maxReportSnippetRunes]) + "…(truncated)"
	}
	if cause == "" {
		log.Printf("[habitflow %s] %s: %s", err.Category, err.Op, err.Message)
		return
	}
	log.Printf("[habitflow %s] %s: %s: %s", err.Category, err.Op, err.Message, cause)
}

type discardReporter struct{}

func (discardReporter) Report(err *AppError) {
	if err != nil {
		logReport(err)
	}
}
