package storage

import (
	"context"
	"log"

	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
)

// PreferencesAdapter 对应原生平台的偏好存储
// 每个集合整体读取、整体重写；多键写入没有事务保护，失败时可能部分写入
type PreferencesAdapter struct {
	*keyValueAdapter
	prefs  *PreferenceStore
	legacy FlatStore
}

// NewPreferencesAdapter 基于偏好库路径构造适配器，path 为空表示当前平台不提供偏好存储
func NewPreferencesAdapter(path string, opts Options) *PreferencesAdapter {
	var open func() (*gorm.DB, error)
	if path != "" {
		open = func() (*gorm.DB, error) {
			return db.Open(path, true)
		}
	}
	return NewPreferencesAdapterWithOpener(open, opts)
}

// NewPreferencesAdapterWithOpener 使用自定义连接函数构造适配器，主要用于测试
func NewPreferencesAdapterWithOpener(open func() (*gorm.DB, error), opts Options) *PreferencesAdapter {
	prefs := NewPreferenceStore(open)
	return &PreferencesAdapter{
		keyValueAdapter: newKeyValueAdapter(KindPreferences, prefs, opts),
		prefs:           prefs,
		legacy:          opts.Legacy,
	}
}

// IsSupported 仅当偏好库已配置且可连通时返回 true
func (a *PreferencesAdapter) IsSupported() bool {
	if err := a.prefs.Ping(); err != nil {
		log.Printf("[storage] preferences backend unavailable: %v", err)
		return false
	}
	return true
}

// MigrateFromLocalStorage 将旧版扁平存储迁入偏好库
func (a *PreferencesAdapter) MigrateFromLocalStorage(ctx context.Context) (bool, error) {
	return a.migrateFrom(ctx, a.legacy)
}

// CloseConnection 关闭偏好库连接并清空缓存，可重复调用
func (a *PreferencesAdapter) CloseConnection() error {
	a.cache.InvalidateAll()
	return a.prefs.Close()
}
