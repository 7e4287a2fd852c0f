package gatekit

import "sync/atomic"

// MetricID defines a public type used by the authentication engine APIs.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant or variable used by the authentication engine.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant or variable used by the authentication engine.
	MetricLoginFailure
	// MetricLoginDenied is an exported constant or variable used by the authentication engine.
	MetricLoginDenied
	// MetricLoginRateLimited is an exported constant or variable used by the authentication engine.
	MetricLoginRateLimited
	// MetricChallengeIssued is an exported constant or variable used by the authentication engine.
	MetricChallengeIssued
	// MetricChallengeSuccess is an exported constant or variable used by the authentication engine.
	MetricChallengeSuccess
	// MetricChallengeFailure is an exported constant or variable used by the authentication engine.
	MetricChallengeFailure
	// MetricChallengeExceeded is an exported constant or variable used by the authentication engine.
	MetricChallengeExceeded
	// MetricMFASetupStarted is an exported constant or variable used by the authentication engine.
	MetricMFASetupStarted
	// MetricMFASetupCompleted is an exported constant or variable used by the authentication engine.
	MetricMFASetupCompleted
	// MetricMFADisabled is an exported constant or variable used by the authentication engine.
	MetricMFADisabled
	// MetricBackupCodeUsed is an exported constant or variable used by the authentication engine.
	MetricBackupCodeUsed
	// MetricRateLimitHit is an exported constant or variable used by the authentication engine.
	MetricRateLimitHit
	// MetricBlockSet is an exported constant or variable used by the authentication engine.
	MetricBlockSet
	// MetricAuditPushed is an exported constant or variable used by the authentication engine.
	MetricAuditPushed
	// MetricSecurityEventCreated is an exported constant or variable used by the authentication engine.
	MetricSecurityEventCreated

	metricCount
)

type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// Metrics is the engine's lock-free counter registry.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricCount]paddedCounter
}

// MetricsSnapshot defines a public type used by the authentication engine APIs.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled describes the enabled operation and its observable behavior.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].value.Add(1)
}

// Value describes the value operation and its observable behavior.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot describes the snapshot operation and its observable behavior.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricCount)),
	}
	if m == nil || !m.enabled {
		return snapshot
	}
	for id := MetricID(0); id < metricCount; id++ {
		snapshot.Counters[id] = m.counters[id].value.Load()
	}
	return snapshot
}
