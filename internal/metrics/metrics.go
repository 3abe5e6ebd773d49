package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxDurationSamples = 1000

type Metrics struct {
	mutex       sync.RWMutex
	accepted    int64
	selections  map[string]int64
	active      map[string]int64
	unreachable map[string]int64
	outcomes    map[string]map[string]int64
	bytesUp     map[string]int64
	bytesDown   map[string]int64
	durations   map[string][]time.Duration
	startTime   time.Time
}

// Snapshot is a point-in-time view of the collected metrics. Active counts
// are exact. Every other counter can fall short by up to DroppedEvents.
type Snapshot struct {
	TotalSessions  int64                     `json:"total_sessions"`
	ActiveSessions int64                     `json:"active_sessions"`
	DroppedEvents  int64                     `json:"dropped_events"`
	Uptime         time.Duration             `json:"uptime"`
	Backends       map[string]BackendMetrics `json:"backends"`
	Algorithm      string                    `json:"algorithm"`
}

type BackendMetrics struct {
	Selections  int64            `json:"selections"`
	Active      int64            `json:"active"`
	Unreachable int64            `json:"unreachable"`
	Outcomes    map[string]int64 `json:"outcomes"`
	BytesUp     int64            `json:"bytes_up"`
	BytesDown   int64            `json:"bytes_down"`
	AvgDuration time.Duration    `json:"avg_duration"`
	P50Duration time.Duration    `json:"p50_duration"`
	P95Duration time.Duration    `json:"p95_duration"`
	P99Duration time.Duration    `json:"p99_duration"`
}

func (m *Metrics) IncrementAccepted() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.accepted++
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

// OpenSession marks a session on backend as active.
func (m *Metrics) OpenSession(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.active[backend]++
}

// CloseSession ends an active session on backend. The count never goes
// below zero.
func (m *Metrics) CloseSession(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.active[backend] > 0 {
		m.active[backend]--
	}
}

func (m *Metrics) RecordUnreachable(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unreachable[backend]++
}

// RecordSessionClosed records how a session on backend ended.
func (m *Metrics) RecordSessionClosed(backend, outcome string, duration time.Duration, bytesUp, bytesDown int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.outcomes[backend] == nil {
		m.outcomes[backend] = make(map[string]int64)
	}
	m.outcomes[backend][outcome]++

	m.bytesUp[backend] += bytesUp
	m.bytesDown[backend] += bytesDown

	m.durations[backend] = append(m.durations[backend], duration)
	if len(m.durations[backend]) > maxDurationSamples {
		m.durations[backend] = m.durations[backend][1:]
	}
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalSessions: m.accepted,
		Uptime:        time.Since(m.startTime),
		Backends:      make(map[string]BackendMetrics),
		Algorithm:     algorithm,
	}

	// Collect all known backend addresses
	allBackends := make(map[string]bool)
	for backend := range m.selections {
		allBackends[backend] = true
	}
	for backend := range m.unreachable {
		allBackends[backend] = true
	}
	for backend := range m.outcomes {
		allBackends[backend] = true
	}
	for backend := range m.active {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		snap.ActiveSessions += m.active[backend]

		outcomes := make(map[string]int64, len(m.outcomes[backend]))
		for outcome, count := range m.outcomes[backend] {
			outcomes[outcome] = count
		}

		bm := BackendMetrics{
			Selections:  m.selections[backend],
			Active:      m.active[backend],
			Unreachable: m.unreachable[backend],
			Outcomes:    outcomes,
			BytesUp:     m.bytesUp[backend],
			BytesDown:   m.bytesDown[backend],
		}

		durations := m.durations[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgDuration = average(sorted)
			bm.P50Duration = percentile(sorted, 0.50)
			bm.P95Duration = percentile(sorted, 0.95)
			bm.P99Duration = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		selections:  make(map[string]int64),
		active:      make(map[string]int64),
		unreachable: make(map[string]int64),
		outcomes:    make(map[string]map[string]int64),
		bytesUp:     make(map[string]int64),
		bytesDown:   make(map[string]int64),
		durations:   make(map[string][]time.Duration),
		startTime:   time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
