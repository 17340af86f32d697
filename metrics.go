package authreg

import "sync/atomic"

// MetricID defines a public type used by authreg APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant or variable used by the registry engine.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant or variable used by the registry engine.
	MetricLoginFailure
	// MetricKeyLoginSuccess is an exported constant or variable used by the registry engine.
	MetricKeyLoginSuccess
	// MetricKeyLoginFailure is an exported constant or variable used by the registry engine.
	MetricKeyLoginFailure
	// MetricConnectionLimitHit is an exported constant or variable used by the registry engine.
	MetricConnectionLimitHit
	// MetricLogoutSuccess is an exported constant or variable used by the registry engine.
	MetricLogoutSuccess
	// MetricLogoutFailure is an exported constant or variable used by the registry engine.
	MetricLogoutFailure
	// MetricLogoutNoConnections is an exported constant or variable used by the registry engine.
	MetricLogoutNoConnections
	// MetricCredentialOverwritten is an exported constant or variable used by the registry engine.
	MetricCredentialOverwritten
	// MetricCredentialAdded is an exported constant or variable used by the registry engine.
	MetricCredentialAdded
	// MetricCredentialDuplicate is an exported constant or variable used by the registry engine.
	MetricCredentialDuplicate
	// MetricPermsChanged is an exported constant or variable used by the registry engine.
	MetricPermsChanged
	// MetricPermsChangeDenied is an exported constant or variable used by the registry engine.
	MetricPermsChangeDenied
	// MetricTokenIssued is an exported constant or variable used by the registry engine.
	MetricTokenIssued
	// MetricTokenRejected is an exported constant or variable used by the registry engine.
	MetricTokenRejected
	// MetricTokenRevoked is an exported constant or variable used by the registry engine.
	MetricTokenRevoked
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by authreg APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
//
// Counters are stored in cache-line-padded slots and incremented atomically;
// the write path is allocation-free.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time deep copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a new [Metrics] instance. When cfg.Enabled is false,
// all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

// Enabled reports whether the metrics system records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments a counter by one.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value returns the current value of one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
