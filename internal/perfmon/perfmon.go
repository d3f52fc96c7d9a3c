// Package perfmon is the gateway's performance monitor, recording
// named operation durations and counters. Workers
// report via worker.PerformanceTimeEvent/PerformanceCountEvent, routed
// here through gateway.Core.SetPerformanceSink.
package perfmon

import (
	"fmt"
	"sync"
	"time"

	"github.com/fieldwire/modgate/internal/worker"
)

// durationStat tracks a named duration's count, running total, and most
// recent sample, so both averages and last-observed latency are cheap
// to report.
type durationStat struct {
	count int64
	totalMS float64
	lastMS float64
}

// Monitor aggregates poll/write durations and reconnect counters for
// every device/connection a gateway core is running.
type Monitor struct {
	mu sync.RWMutex

	durations map[string]*durationStat
	counters map[string]int64

	startTime time.Time
}

// New constructs an empty Monitor.
func New() *Monitor {
	return &Monitor{
		durations: make(map[string]*durationStat),
		counters: make(map[string]int64),
		startTime: time.Now(),
	}
}

// RecordDuration folds one sample of a named operation ("poll.<name>",
// "write.push.<action_id>") into its running stats.
func (m *Monitor) RecordDuration(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.durations[name]
	if !ok {
		s = &durationStat{}
		m.durations[name] = s
	}
	ms := float64(d.Microseconds()) / 1000.0
	s.count++
	s.totalMS += ms
	s.lastMS = ms
}

// IncrementCounter adds delta to a named counter ("reconnect.attempt",
// "reconnect.success", "reconnect.fail").
func (m *Monitor) IncrementCounter(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Observe is a worker.S2C sink suitable for gateway.Core.SetPerformanceSink:
// it dispatches PerformanceTimeEvent/PerformanceCountEvent into the
// monitor and ignores every other event type.
func (m *Monitor) Observe(ev worker.S2C) {
	switch e := ev.(type) {
	case worker.PerformanceTimeEvent:
		m.RecordDuration(e.Name, e.Duration)
	case worker.PerformanceCountEvent:
		m.IncrementCounter(e.Name, e.Delta)
	}
}

// Snapshot returns the current metrics as a JSON-friendly map.
func (m *Monitor) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	durations := make(map[string]interface{}, len(m.durations))
	for name, s := range m.durations {
		avg := 0.0
		if s.count > 0 {
			avg = s.totalMS / float64(s.count)
		}
		durations[name] = map[string]interface{}{
			"count": s.count,
			"avg_ms": avg,
			"last_ms": s.lastMS,
		}
	}
	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = v
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"durations": durations,
		"counters": counters,
	}
}

// PrometheusFormat renders every tracked duration and counter as
// Prometheus exposition text.
func (m *Monitor) PrometheusFormat() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := fmt.Sprintf("# HELP modgate_uptime_seconds Gateway uptime in seconds\n# TYPE modgate_uptime_seconds gauge\nmodgate_uptime_seconds %d\n", int64(time.Since(m.startTime).Seconds()))

	for name, s := range m.durations {
		metric := sanitizeMetricName(name)
		avg := 0.0
		if s.count > 0 {
			avg = s.totalMS / float64(s.count)
		}
		out += fmt.Sprintf("\n# HELP modgate_%s_duration_ms_avg Average duration of %s in milliseconds\n# TYPE modgate_%s_duration_ms_avg gauge\nmodgate_%s_duration_ms_avg %.3f\n", metric, name, metric, metric, avg)
		out += fmt.Sprintf("# HELP modgate_%s_total Total observations of %s\n# TYPE modgate_%s_total counter\nmodgate_%s_total %d\n", metric, name, metric, metric, s.count)
	}

	for name, v := range m.counters {
		metric := sanitizeMetricName(name)
		out += fmt.Sprintf("\n# HELP modgate_%s_total Total count of %s\n# TYPE modgate_%s_total counter\nmodgate_%s_total %d\n", metric, name, metric, metric, v)
	}

	return out
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}
