package memory

import (
	"sync"
	"time"

	"broker-client/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory. Tests use it to assert
// on what the client did; the status API can serve its Snapshot as JSON.
type MemoryCollector struct {
	mu sync.RWMutex

	requestsByEndpoint map[string]int64
	requestsByStatus   map[string]int64
	validations        map[metrics.ValidationOutcome]int64

	refreshSuccesses int64
	refreshFailures  int64
	refreshWaiters   []int

	cacheRefreshes map[metrics.RefreshOutcome]int64
	sliceFailures  map[string]int64

	circuitStates map[string]metrics.CircuitState
	circuitOpens  map[string]int64

	storageOps    map[string]int64
	storageErrors map[string]int64

	queueDepth    map[string]int
	droppedWrites map[string]int64
	asyncWrites   map[string]int64
	asyncErrors   map[string]int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.resetLocked()
	return mc
}

func (mc *MemoryCollector) resetLocked() {
	mc.requestsByEndpoint = make(map[string]int64)
	mc.requestsByStatus = make(map[string]int64)
	mc.validations = make(map[metrics.ValidationOutcome]int64)
	mc.refreshSuccesses = 0
	mc.refreshFailures = 0
	mc.refreshWaiters = nil
	mc.cacheRefreshes = make(map[metrics.RefreshOutcome]int64)
	mc.sliceFailures = make(map[string]int64)
	mc.circuitStates = make(map[string]metrics.CircuitState)
	mc.circuitOpens = make(map[string]int64)
	mc.storageOps = make(map[string]int64)
	mc.storageErrors = make(map[string]int64)
	mc.queueDepth = make(map[string]int)
	mc.droppedWrites = make(map[string]int64)
	mc.asyncWrites = make(map[string]int64)
	mc.asyncErrors = make(map[string]int64)
}

// RecordRequest records a backend request.
func (mc *MemoryCollector) RecordRequest(endpoint string, status int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requestsByEndpoint[endpoint]++
	mc.requestsByStatus[metrics.StatusClass(status)]++
}

// RecordValidation records a token validation check.
func (mc *MemoryCollector) RecordValidation(outcome metrics.ValidationOutcome) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.validations[outcome]++
}

// RecordRefresh records a refresh-token exchange.
func (mc *MemoryCollector) RecordRefresh(success bool, waiters int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if success {
		mc.refreshSuccesses++
	} else {
		mc.refreshFailures++
	}
	mc.refreshWaiters = append(mc.refreshWaiters, waiters)
}

// RecordCacheRefresh records a balance cache refresh.
func (mc *MemoryCollector) RecordCacheRefresh(outcome metrics.RefreshOutcome, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.cacheRefreshes[outcome]++
}

// RecordSliceFailure records a failed slice fetch.
func (mc *MemoryCollector) RecordSliceFailure(slice string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sliceFailures[slice]++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	old := mc.circuitStates[name]
	mc.circuitStates[name] = state

	// Count transitions to open
	if old != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.circuitOpens[name]++
	}
}

// RecordStorageOp records a storage backend operation.
func (mc *MemoryCollector) RecordStorageOp(backend, operation string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := backend + "/" + operation
	mc.storageOps[key]++
	if !success {
		mc.storageErrors[key]++
	}
}

// RecordQueueDepth records the current async writer queue depth.
func (mc *MemoryCollector) RecordQueueDepth(name string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.queueDepth[name] = depth
}

// RecordWriteDropped records a dropped async write.
func (mc *MemoryCollector) RecordWriteDropped(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.droppedWrites[name]++
}

// RecordAsyncWrite records an async write operation.
func (mc *MemoryCollector) RecordAsyncWrite(name string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.asyncWrites[name]++
	if !success {
		mc.asyncErrors[name]++
	}
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	RequestsByEndpoint map[string]int64                    `json:"requests_by_endpoint"`
	RequestsByStatus   map[string]int64                    `json:"requests_by_status"`
	Validations        map[metrics.ValidationOutcome]int64 `json:"validations"`
	RefreshSuccesses   int64                               `json:"refresh_successes"`
	RefreshFailures    int64                               `json:"refresh_failures"`
	RefreshWaiters     []int                               `json:"refresh_waiters"`
	CacheRefreshes     map[metrics.RefreshOutcome]int64    `json:"cache_refreshes"`
	SliceFailures      map[string]int64                    `json:"slice_failures"`
	CircuitOpens       map[string]int64                    `json:"circuit_opens"`
	StorageOps         map[string]int64                    `json:"storage_ops"`
	StorageErrors      map[string]int64                    `json:"storage_errors"`
	DroppedWrites      map[string]int64                    `json:"dropped_writes"`
	AsyncWrites        map[string]int64                    `json:"async_writes"`
	AsyncErrors        map[string]int64                    `json:"async_errors"`
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return Snapshot{
		RequestsByEndpoint: copyMap(mc.requestsByEndpoint),
		RequestsByStatus:   copyMap(mc.requestsByStatus),
		Validations:        copyMap(mc.validations),
		RefreshSuccesses:   mc.refreshSuccesses,
		RefreshFailures:    mc.refreshFailures,
		RefreshWaiters:     append([]int(nil), mc.refreshWaiters...),
		CacheRefreshes:     copyMap(mc.cacheRefreshes),
		SliceFailures:      copyMap(mc.sliceFailures),
		CircuitOpens:       copyMap(mc.circuitOpens),
		StorageOps:         copyMap(mc.storageOps),
		StorageErrors:      copyMap(mc.storageErrors),
		DroppedWrites:      copyMap(mc.droppedWrites),
		AsyncWrites:        copyMap(mc.asyncWrites),
		AsyncErrors:        copyMap(mc.asyncErrors),
	}
}

// CircuitState returns the last recorded state for name.
func (mc *MemoryCollector) CircuitState(name string) metrics.CircuitState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.circuitStates[name]
}

// QueueDepth returns the last reported queue depth for name.
func (mc *MemoryCollector) QueueDepth(name string) int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.queueDepth[name]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.resetLocked()
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
