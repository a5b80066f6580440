package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FlatStore 是最简单的字符串键值存储（localStorage 语义）
// 实现必须是并发安全的
type FlatStore interface {
	// GetItem 返回值与是否存在
	GetItem(key string) (string, bool, error)
	// SetItem 覆盖写入
	SetItem(key, value string) error
	// RemoveItem 删除键，键不存在时不报错
	RemoveItem(key string) error
	// Keys 返回所有键，按字典序
	Keys() ([]string, error)
}

// MemoryStore 是进程内的 FlatStore
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore 创建空的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *MemoryStore) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// FileStore 将全部键值保存在单个 JSON 文件中，每次写入整体重写
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore 创建文件存储，父目录不存在时自动创建
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create file store directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path 返回文件路径
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file store: %w", err)
	}
	data := map[string]string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode file store: %w", err)
	}
	return data, nil
}

func (f *FileStore) save(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode file store: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write file store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace file store: %w", err)
	}
	return nil
}

func (f *FileStore) GetItem(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := data[key]
	return value, ok, nil
}

func (f *FileStore) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return err
	}
	data[key] = value
	return f.save(data)
}

func (f *FileStore) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.save(data)
}

func (f *FileStore) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}
