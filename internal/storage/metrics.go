package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
	resultHit   = "hit"
	resultMiss  = "miss"
)

var (
	// storageOperations 按后端、操作与结果统计存储调用
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitflow_storage_operations_total",
		Help: "Storage adapter operations by adapter, operation and result",
	}, []string{"adapter", "operation", "result"})

	// cacheRequests 统计读缓存命中情况
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitflow_cache_requests_total",
		Help: "Read cache lookups by adapter and result",
	}, []string{"adapter", "result"})

	// adapterSelections 统计适配器选择结果
	adapterSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitflow_adapter_selections_total",
		Help: "Adapter selections by kind",
	}, []string{"kind"})
)

func observeOperation(adapter, op, result string) {
	storageOperations.WithLabelValues(adapter, op, result).Inc()
}

func observeCache(adapter string, hit bool) {
	result := resultMiss
	if hit {
		result = resultHit
	}
	cacheRequests.WithLabelValues(adapter, result).Inc()
}
