package storage

import (
	"log"
	"sync"
)

// Candidate 是一个可被探测的后端
type Candidate struct {
	Name Kind
	New  func() Adapter
}

// Registry 按优先级探测后端并缓存选择结果，并发安全
type Registry struct {
	mu         sync.Mutex
	candidates []Candidate
	current    Adapter
}

// NewRegistry 按给定顺序构造注册表，排在前面的候选优先
func NewRegistry(candidates ...Candidate) *Registry {
	return &Registry{candidates: candidates}
}

// Get 返回当前进程选定的适配器，首次调用时按顺序探测
// 所有候选都不可用时回退到内存扁平存储，保证调用方总能拿到适配器
func (r *Registry) Get() Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return r.current
	}

	for _, c := range r.candidates {
		if c.New == nil {
			continue
		}
		adapter := c.New()
		if adapter == nil {
			continue
		}
		if adapter.IsSupported() {
			r.choose(adapter)
			return adapter
		}
		if err := adapter.CloseConnection(); err != nil {
			log.Printf("[storage] close rejected %s backend failed: %v", c.Name, err)
		}
		log.Printf("[storage] %s backend not supported, trying next", c.Name)
	}

	log.Printf("[storage] no configured backend available, using in-memory flat store")
	fallback := NewFlatAdapter(nil, Options{})
	r.choose(fallback)
	return fallback
}

func (r *Registry) choose(adapter Adapter) {
	r.current = adapter
	adapterSelections.WithLabelValues(string(adapter.Kind())).Inc()
	log.Printf("[storage] selected %s backend", adapter.Kind())
}

// Current 返回已选定的适配器，尚未选择时返回 nil
func (r *Registry) Current() Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reset 关闭并丢弃当前选择，下次 Get 时重新探测
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	err := r.current.CloseConnection()
	r.current = nil
	return err
}

// DefaultConfig 描述默认注册表使用的各后端位置
type DefaultConfig struct {
	// PreferencesPath 为空表示当前平台不提供偏好存储
	PreferencesPath string
	// LocalDBPath 为空表示不启用本地事务库
	LocalDBPath string
	// LegacyStorePath 为旧版扁平存储文件，既是迁移来源也是兜底后端
	LegacyStorePath string
	Options         Options
}

// NewDefaultRegistry 以 偏好存储 → 本地事务库 → 扁平存储 的顺序构造注册表
func NewDefaultRegistry(cfg DefaultConfig) (*Registry, error) {
	var legacy FlatStore
	if cfg.LegacyStorePath != "" {
		fileStore, err := NewFileStore(cfg.LegacyStorePath)
		if err != nil {
			return nil, err
		}
		legacy = fileStore
	}

	opts := cfg.Options
	opts.Legacy = legacy

	return NewRegistry(
		Candidate{Name: KindPreferences, New: func() Adapter {
			return NewPreferencesAdapter(cfg.PreferencesPath, opts)
		}},
		Candidate{Name: KindLocalDB, New: func() Adapter {
			if cfg.LocalDBPath == "" {
				return nil
			}
			return NewLocalDBAdapter(DefaultBadgerConfig(cfg.LocalDBPath), opts)
		}},
		Candidate{Name: KindFlat, New: func() Adapter {
			flatOpts := opts
			flatOpts.Legacy = nil
			return NewFlatAdapter(legacy, flatOpts)
		}},
	), nil
}
