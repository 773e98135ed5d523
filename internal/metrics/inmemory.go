package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ChatAdmitted      uint64
	RejectedQuota     uint64
	RejectedRateLimit uint64
	AccrualFailures   uint64
	MinutesAccrued    float64
	UpstreamCalls     uint64
	UpstreamFailures  map[int]uint64
	HTTPRequests      uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	chatAdmitted      uint64
	rejectedQuota     uint64
	rejectedRateLimit uint64
	accrualFailures   uint64
	upstreamCalls     uint64
	httpRequests      uint64

	mu               sync.Mutex
	minutesAccrued   float64
	upstreamFailures map[int]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{upstreamFailures: make(map[int]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	failures := make(map[int]uint64, len(m.upstreamFailures))
	for k, v := range m.upstreamFailures {
		failures[k] = v
	}
	minutes := m.minutesAccrued
	m.mu.Unlock()

	return Snapshot{
		ChatAdmitted:      atomic.LoadUint64(&m.chatAdmitted),
		RejectedQuota:     atomic.LoadUint64(&m.rejectedQuota),
		RejectedRateLimit: atomic.LoadUint64(&m.rejectedRateLimit),
		AccrualFailures:   atomic.LoadUint64(&m.accrualFailures),
		MinutesAccrued:    minutes,
		UpstreamCalls:     atomic.LoadUint64(&m.upstreamCalls),
		UpstreamFailures:  failures,
		HTTPRequests:      atomic.LoadUint64(&m.httpRequests),
	}
}

// IncChatAdmitted increments the admitted counter.
func (m *InMemoryRecorder) IncChatAdmitted() {
	atomic.AddUint64(&m.chatAdmitted, 1)
}

// IncChatRejected increments the rejection counter for reason.
func (m *InMemoryRecorder) IncChatRejected(reason string) {
	switch reason {
	case RejectQuota:
		atomic.AddUint64(&m.rejectedQuota, 1)
	case RejectRateLimit:
		atomic.AddUint64(&m.rejectedRateLimit, 1)
	}
}

// IncAccrualFailure increments the accrual failure counter.
func (m *InMemoryRecorder) IncAccrualFailure() {
	atomic.AddUint64(&m.accrualFailures, 1)
}

// AddMinutesAccrued adds to the accrued minutes total.
func (m *InMemoryRecorder) AddMinutesAccrued(minutes float64) {
	m.mu.Lock()
	m.minutesAccrued += minutes
	m.mu.Unlock()
}

// ObserveUpstreamDuration counts an upstream call.
func (m *InMemoryRecorder) ObserveUpstreamDuration(duration time.Duration) {
	atomic.AddUint64(&m.upstreamCalls, 1)
}

// IncUpstreamFailure counts a failed upstream call by status.
func (m *InMemoryRecorder) IncUpstreamFailure(status int) {
	m.mu.Lock()
	m.upstreamFailures[status]++
	m.mu.Unlock()
}

// ObserveHTTPRequest counts a served request.
func (m *InMemoryRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.httpRequests, 1)
}
