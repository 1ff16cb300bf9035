package memory

import (
	"sync"
	"time"

	"roundup/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-operation gateway metrics
	operations map[string]*OperationMetrics

	// Circuit breakers by name
	circuits map[string]*CircuitMetrics

	// Workflow-level metrics
	runs             map[string]int64
	transferred      int64
	transferredCount int64
}

// OperationMetrics holds metrics for a single gateway operation.
type OperationMetrics struct {
	Calls     int64
	Successes int64
	Failures  int64
	Retries   int64

	// Latencies (simple stats)
	Latencies []time.Duration
}

// CircuitMetrics holds the state history of one circuit breaker.
type CircuitMetrics struct {
	State metrics.CircuitState
	Opens int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		operations: make(map[string]*OperationMetrics),
		circuits:   make(map[string]*CircuitMetrics),
		runs:       make(map[string]int64),
	}
}

// operation returns the metrics for op, creating them if needed. Callers hold mu.
func (mc *MemoryCollector) operation(op string) *OperationMetrics {
	om, exists := mc.operations[op]
	if !exists {
		om = &OperationMetrics{}
		mc.operations[op] = om
	}
	return om
}

// RecordCall records one gateway call attempt.
func (mc *MemoryCollector) RecordCall(operation string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	om := mc.operation(operation)
	om.Calls++
	if success {
		om.Successes++
	} else {
		om.Failures++
	}
	om.Latencies = append(om.Latencies, duration)
}

// RecordRetry records a retry of a gateway call.
func (mc *MemoryCollector) RecordRetry(operation string, attempt int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.operation(operation).Retries++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm, exists := mc.circuits[name]
	if !exists {
		cm = &CircuitMetrics{}
		mc.circuits[name] = cm
	}

	// Count transitions to open
	if cm.State != metrics.CircuitOpen && state == metrics.CircuitOpen {
		cm.Opens++
	}
	cm.State = state
}

// RecordRun records a finished workflow run.
func (mc *MemoryCollector) RecordRun(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.runs[outcome]++
}

// RecordRoundUp records an amount moved into a savings goal.
func (mc *MemoryCollector) RecordRoundUp(amountMinorUnits int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.transferred += amountMinorUnits
	mc.transferredCount++
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Operations       map[string]OperationMetrics
	Circuits         map[string]CircuitMetrics
	Runs             map[string]int64
	Transferred      int64
	TransferredCount int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Operations:       make(map[string]OperationMetrics, len(mc.operations)),
		Circuits:         make(map[string]CircuitMetrics, len(mc.circuits)),
		Runs:             make(map[string]int64, len(mc.runs)),
		Transferred:      mc.transferred,
		TransferredCount: mc.transferredCount,
	}

	for op, om := range mc.operations {
		cp := *om
		cp.Latencies = append([]time.Duration(nil), om.Latencies...)
		snapshot.Operations[op] = cp
	}
	for name, cm := range mc.circuits {
		snapshot.Circuits[name] = *cm
	}
	for outcome, n := range mc.runs {
		snapshot.Runs[outcome] = n
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.operations = make(map[string]*OperationMetrics)
	mc.circuits = make(map[string]*CircuitMetrics)
	mc.runs = make(map[string]int64)
	mc.transferred = 0
	mc.transferredCount = 0
}

// GetOperationMetrics returns a copy of the metrics for one operation, or nil.
func (mc *MemoryCollector) GetOperationMetrics(operation string) *OperationMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if om, exists := mc.operations[operation]; exists {
		cp := *om
		return &cp
	}
	return nil
}
