package storage

import (
	"context"
)

// FlatAdapter 是兜底后端，直接使用 localStorage 风格的扁平键值存储
type FlatAdapter struct {
	*keyValueAdapter
}

// NewFlatAdapter 基于给定 FlatStore 构造适配器，store 为空时使用内存存储
func NewFlatAdapter(store FlatStore, opts Options) *FlatAdapter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &FlatAdapter{keyValueAdapter: newKeyValueAdapter(KindFlat, store, opts)}
}

// IsSupported 扁平存储总是可用
func (a *FlatAdapter) IsSupported() bool { return true }

// MigrateFromLocalStorage 扁平存储本身就是旧版介质，无需迁移
func (a *FlatAdapter) MigrateFromLocalStorage(context.Context) (bool, error) {
	return false, nil
}

// CloseConnection 无连接可关闭
func (a *FlatAdapter) CloseConnection() error { return nil }

// Store 返回底层存储
func (a *FlatAdapter) Store() FlatStore { return a.store }
