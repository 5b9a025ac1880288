// Package metrics is a process-local metrics collector exposed over the
// metrics endpoint. Values reset on restart.
package metrics

import (
	"sync"
	"time"
)

// TimerMetric captures timing information for one named operation
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// OutcomeMetric captures success/failure counts and the failure rate
type OutcomeMetric struct {
	Total       int64   `json:"total"`
	Failures    int64   `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

type timerState struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
}

type outcomeState struct {
	total    int64
	failures int64
}

// Metrics is the main metrics collector
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]int64
	gauges    map[string]int64
	timers    map[string]*timerState
	outcomes  map[string]*outcomeState
	health    map[string]bool
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]int64),
		gauges:    make(map[string]int64),
		timers:    make(map[string]*timerState),
		outcomes:  make(map[string]*outcomeState),
		health:    make(map[string]bool),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// RecordTimer records one duration measurement in milliseconds
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, exists := m.timers[name]
	if !exists {
		timer = &timerState{minMs: durationMs, maxMs: durationMs}
		m.timers[name] = timer
	}

	timer.count++
	timer.totalMs += durationMs
	if durationMs < timer.minMs {
		timer.minMs = durationMs
	}
	if durationMs > timer.maxMs {
		timer.maxMs = durationMs
	}
}

// RecordOutcome records one success or failure for failure rate tracking
func (m *Metrics) RecordOutcome(name string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, exists := m.outcomes[name]
	if !exists {
		outcome = &outcomeState{}
		m.outcomes[name] = outcome
	}

	outcome.total++
	if !success {
		outcome.failures++
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[component] = isHealthy
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, value := range m.counters {
		counters[name] = value
	}
	return counters
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gauges := make(map[string]int64, len(m.gauges))
	for name, value := range m.gauges {
		gauges[name] = value
	}
	return gauges
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	timers := make(map[string]TimerMetric, len(m.timers))
	for name, timer := range m.timers {
		var average float64
		if timer.count > 0 {
			average = float64(timer.totalMs) / float64(timer.count)
		}
		timers[name] = TimerMetric{
			Count:         timer.count,
			TotalTimeMs:   timer.totalMs,
			AverageTimeMs: average,
			MinTimeMs:     timer.minMs,
			MaxTimeMs:     timer.maxMs,
		}
	}
	return timers
}

// GetOutcomes returns all outcome rates
func (m *Metrics) GetOutcomes() map[string]OutcomeMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outcomes := make(map[string]OutcomeMetric, len(m.outcomes))
	for name, outcome := range m.outcomes {
		var rate float64
		if outcome.total > 0 {
			rate = float64(outcome.failures) / float64(outcome.total) * 100.0
		}
		outcomes[name] = OutcomeMetric{
			Total:       outcome.total,
			Failures:    outcome.failures,
			FailureRate: rate,
		}
	}
	return outcomes
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]bool, len(m.health))
	for name, healthy := range m.health {
		checks[name] = healthy
	}
	return checks
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"outcomes":       m.GetOutcomes(),
		"health_checks":  m.GetHealthChecks(),
	}
}
