package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL 是缓存条目的默认有效期
const DefaultCacheTTL = 60 * time.Second

const (
	cacheKeyHabits         = "habits"
	cacheKeyAllCompletions = "allCompletions"
	cacheKeySettings       = "settings"
	cacheKeyCompletionsFor = "completions_"
)

func completionsCacheKey(date string) string {
	return cacheKeyCompletionsFor + date
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// CacheStats 汇总缓存状态
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
	TTL     time.Duration
}

// Cache 是每个适配器独享的 TTL 读缓存，不持久化，不是数据源
// 每个 key 维护一个失效代数：加载期间若 key 被写入或失效，加载结果不会回填
type Cache struct {
	name    string
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
	gens    map[string]uint64
	epoch   uint64
	hits    int64
	misses  int64
	flight  singleflight.Group
}

// CacheOption 定制缓存
type CacheOption func(*Cache)

// WithCacheClock 替换时钟，主要用于测试
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache 构造缓存，ttl<=0 时使用默认值
func NewCache(name string, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		name:    name,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 返回未过期的缓存值
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (any, bool) {
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expires) {
		c.hits++
		observeCache(c.name, true)
		return entry.value, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.misses++
	observeCache(c.name, false)
	return nil, false
}

// Set 写入缓存并刷新有效期
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumpLocked(key)
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
}

// Invalidate 使单个 key 失效，不影响其他 key
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.bumpLocked(key)
		delete(c.entries, key)
	}
}

// InvalidatePrefix 使指定前缀的所有 key 失效
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.bumpLocked(key)
			delete(c.entries, key)
		}
	}
	c.epoch++
}

// InvalidateAll 清空全部条目，批量导入后必须调用
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.gens = make(map[string]uint64)
	c.epoch++
}

// Len 返回当前条目数（含尚未清理的过期条目）
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats 返回缓存统计
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses, TTL: c.ttl}
}

// GetOrLoad 命中时直接返回，否则调用 load 并在未被并发写入时回填
// 同一 key、同一代数的并发加载通过 singleflight 合并
func (c *Cache) GetOrLoad(key string, load func() (any, error)) (any, error) {
	c.mu.Lock()
	if value, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return value, nil
	}
	gen, epoch := c.gens[key], c.epoch
	c.mu.Unlock()

	flightKey := fmt.Sprintf("%s#%d.%d", key, epoch, gen)
	value, err, _ := c.flight.Do(flightKey, func() (any, error) {
		return load()
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[key] == gen && c.epoch == epoch {
		c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	return value, nil
}

func (c *Cache) bumpLocked(key string) {
	c.gens[key]++
}
