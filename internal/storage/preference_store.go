package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/habitflow/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceStore 在 gorm 偏好表上实现 FlatStore
// 连接在首次使用时建立，关闭后可再次惰性重连
type PreferenceStore struct {
	mu   sync.Mutex
	open func() (*gorm.DB, error)
	gdb  *gorm.DB
}

// NewPreferenceStore 构造偏好存储，open 负责建立连接
func NewPreferenceStore(open func() (*gorm.DB, error)) *PreferenceStore {
	return &PreferenceStore{open: open}
}

func (s *PreferenceStore) conn() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gdb != nil {
		return s.gdb, nil
	}
	if s.open == nil {
		return nil, permanent(fmt.Errorf("%w: preferences database not configured", ErrUnsupported))
	}
	gdb, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open preferences database: %w", err)
	}
	s.gdb = gdb
	return gdb, nil
}

// Ping 校验连接可用
func (s *PreferenceStore) Ping() error {
	gdb, err := s.conn()
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭连接，可重复调用
func (s *PreferenceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gdb == nil {
		return nil
	}
	err := db.Close(s.gdb)
	s.gdb = nil
	return err
}

func (s *PreferenceStore) GetItem(key string) (string, bool, error) {
	gdb, err := s.conn()
	if err != nil {
		return "", false, err
	}

	var record db.Preference
	result := gdb.Where("key = ?", key).Limit(1).Find(&record)
	if result.Error != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", false, nil
	}
	return record.Value, true, nil
}

func (s *PreferenceStore) SetItem(key, value string) error {
	gdb, err := s.conn()
	if err != nil {
		return err
	}

	record := db.Preference{Key: key, Value: value}
	if err := gdb.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("upsert preference %s: %w", key, err)
	}
	return nil
}

func (s *PreferenceStore) RemoveItem(key string) error {
	gdb, err := s.conn()
	if err != nil {
		return err
	}
	if err := gdb.Unscoped().Where("key = ?", key).Delete(&db.Preference{}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}

func (s *PreferenceStore) Keys() ([]string, error) {
	gdb, err := s.conn()
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := gdb.Model(&db.Preference{}).Order("key ASC").Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list preference keys: %w", err)
	}
	return keys, nil
}
