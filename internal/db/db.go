package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultPreferencesPath 是偏好库的默认文件名
const DefaultPreferencesPath = "habitflow-preferences.db"

// Open 打开偏好数据库并执行自动迁移。
// databasePath 为空时将回退到默认值 habitflow-preferences.db。
func Open(databasePath string, silent bool) (*gorm.DB, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = DefaultPreferencesPath
	}

	if !isMemoryDSN(path) {
		if err := ensureParentDir(path); err != nil {
			return nil, err
		}
	}

	level := logger.Warn
	if silent {
		level = logger.Silent
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, err
	}

	// 自动迁移模式，为偏好键值表建表
	if err := gdb.AutoMigrate(&Preference{}); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Close 关闭底层连接，db 为空时忽略
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemoryDSN(path string) bool {
	return strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory") || path == ":memory:"
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
