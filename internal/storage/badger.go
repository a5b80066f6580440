package storage

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig 描述本地事务型数据库的打开方式
type BadgerConfig struct {
	// Path 是数据目录，InMemory 为 true 时忽略
	Path string
	// InMemory 启用纯内存模式，主要用于测试
	InMemory bool
	// SyncWrites 每次提交都落盘
	SyncWrites bool
	// Verbose 为 true 时将 badger 内部日志输出到标准 log
	Verbose bool
}

// DefaultBadgerConfig 返回生产环境默认配置
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig 返回测试用配置
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger 将 badger 的日志接口适配到标准 log
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[badger] ERROR "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Printf("[badger] WARN "+format, args...)
}

func (badgerLogger) Infof(string, ...interface{}) {}

func (badgerLogger) Debugf(string, ...interface{}) {}

// openBadger 按配置打开数据库，目录不存在时自动创建
func openBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, permanent(fmt.Errorf("%w: badger path is required for persistent database", ErrUnsupported))
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Verbose {
		opts = opts.WithLogger(badgerLogger{})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return bdb, nil
}

// txnGet 读取键值，键不存在时返回 ok=false
func txnGet(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// txnKeys 返回指定前缀下的全部键（已拷贝）
func txnKeys(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}
