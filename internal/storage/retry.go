package storage

import (
	"context"
	"log"
	"time"
)

// RetryConfig 配置瞬时失败的重试策略
type RetryConfig struct {
	MaxAttempts int           // 总尝试次数（默认 3）
	BaseDelay   time.Duration // 首次重试前的等待（默认 20ms）
	MaxDelay    time.Duration // 等待上限（默认 500ms）
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

// backoff 返回第 attempt 次失败后的等待时长（attempt 从 1 开始）
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// withRetry 以指数退避执行 fn，最终失败时包装为 StorageError
func withRetry(ctx context.Context, cfg RetryConfig, adapter, op string, fn func() error) error {
	cfg = cfg.normalized()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			observeOperation(adapter, op, resultOK)
			return nil
		}
		if isPermanent(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.backoff(attempt)
		log.Printf("[storage] %s %s attempt %d/%d failed, retrying in %s: %v", adapter, op, attempt, cfg.MaxAttempts, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			observeOperation(adapter, op, resultError)
			return newStorageError(op, "operation abandoned", ctx.Err())
		case <-timer.C:
		}
	}

	observeOperation(adapter, op, resultError)
	if se, ok := lastErr.(*StorageError); ok {
		return se
	}
	return newStorageError(op, adapter+" backend failure", unwrapPermanent(lastErr))
}

func unwrapPermanent(err error) error {
	if p, ok := err.(permanentError); ok {
		return p.err
	}
	return err
}
