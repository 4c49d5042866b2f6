package providers

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

const (
	// AdmissionWindow is the trailing window the per-minute cap applies to.
	AdmissionWindow = time.Minute

	// RankingWindow is the trailing window ranking signals are computed over.
	// Nothing older is retained.
	RankingWindow = 5 * time.Minute
)

// NoLatency is reported as the average latency of a provider with no samples
// in the ranking window. It compares worse than any measured latency.
const NoLatency = math.MaxFloat64

type sample struct {
	at        time.Time
	isError   bool
	latencyMs int64
}

// Snapshot is a consistent view of a provider's signals taken under a single
// lock acquisition.
type Snapshot struct {
	Name                 string  `json:"name"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
	CanAccept            bool    `json:"can_accept"`
	RequestsLastMinute   int     `json:"requests_last_minute"`
	SuccessesLastMinute  int     `json:"successes_last_minute"`
	ErrorRateLastMinute  float64 `json:"error_rate_last_minute"`
	ErrorCountLast5Min   int     `json:"error_count_last_5_min"`
	AvgLatencyLast5Min   float64 `json:"-"`
	InFlight             int     `json:"in_flight"`
}

// HasLatency reports whether the snapshot carries a measured average latency.
func (s Snapshot) HasLatency() bool {
	return s.AvgLatencyLast5Min != NoLatency
}

// MarshalJSON reports the average latency as null when there are no samples.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	out := struct {
		plain
		AvgLatencyMs *float64 `json:"avg_latency_last_5_min_ms"`
	}{plain: plain(s)}
	if s.HasLatency() {
		avg := s.AvgLatencyLast5Min
		out.AvgLatencyMs = &avg
	}
	return json.Marshal(out)
}

// ProviderMetrics keeps the recent outcome log of one provider and derives
// admission and ranking signals from it. Every read and write prunes the log
// first, under the same lock.
type ProviderMetrics struct {
	desc  Descriptor
	clock Clock

	mu                 sync.Mutex
	samples            []sample
	requestsLastMinute int
	// reserved counts dispatches that were admitted but have not reported an
	// outcome yet.
	reserved int
}

// NewProviderMetrics creates an empty metrics store for desc.
func NewProviderMetrics(desc Descriptor, clock Clock) *ProviderMetrics {
	if clock == nil {
		clock = SystemClock
	}
	return &ProviderMetrics{
		desc:  desc,
		clock: clock,
	}
}

// Descriptor returns the provider's static description.
func (m *ProviderMetrics) Descriptor() Descriptor {
	return m.desc
}

// Name returns the provider name.
func (m *ProviderMetrics) Name() string {
	return m.desc.Name
}

// RecordOutcome appends an outcome timestamped now.
func (m *ProviderMetrics) RecordOutcome(isError bool, latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(isError, latencyMs)
}

// Reserve claims an admission slot for a dispatch that has not completed yet.
// It returns false when the provider is at its cap.
func (m *ProviderMetrics) Reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.clock.Now())
	if !m.canAcceptLocked() {
		return false
	}
	m.reserved++
	return true
}

// Complete records the outcome of a reserved dispatch and releases its slot.
func (m *ProviderMetrics) Complete(isError bool, latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reserved > 0 {
		m.reserved--
	}
	m.appendLocked(isError, latencyMs)
}

// CanAcceptRequest reports whether the provider is under its per-minute cap.
// It does not consume capacity.
func (m *ProviderMetrics) CanAcceptRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.clock.Now())
	return m.canAcceptLocked()
}

// RequestsLastMinute returns the number of outcomes in the admission window.
func (m *ProviderMetrics) RequestsLastMinute() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.clock.Now())
	return m.requestsLastMinute
}

// SuccessesLastMinute returns the number of successful outcomes in the admission window.
func (m *ProviderMetrics) SuccessesLastMinute() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneLocked(now)
	successes, _ := m.countSinceLocked(now.Add(-AdmissionWindow))
	return successes
}

// ErrorRateLastMinute returns the fraction of failed outcomes in the admission
// window, or 0 when the window is empty.
func (m *ProviderMetrics) ErrorRateLastMinute() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneLocked(now)
	return m.errorRateLocked(now)
}

// ErrorCountLast5Min returns the number of failed outcomes in the ranking window.
func (m *ProviderMetrics) ErrorCountLast5Min() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneLocked(now)
	_, errs := m.countSinceLocked(now.Add(-RankingWindow))
	return errs
}

// AvgLatencyLast5Min returns the mean latency in milliseconds over the ranking
// window, or NoLatency when the window is empty.
func (m *ProviderMetrics) AvgLatencyLast5Min() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneLocked(now)
	return m.avgLatencyLocked(now)
}

// Snapshot returns every signal as of one instant.
func (m *ProviderMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneLocked(now)

	successes, _ := m.countSinceLocked(now.Add(-AdmissionWindow))
	_, errs := m.countSinceLocked(now.Add(-RankingWindow))

	return Snapshot{
		Name:                 m.desc.Name,
		MaxRequestsPerMinute: m.desc.MaxRequestsPerMinute,
		CanAccept:            m.canAcceptLocked(),
		RequestsLastMinute:   m.requestsLastMinute,
		SuccessesLastMinute:  successes,
		ErrorRateLastMinute:  m.errorRateLocked(now),
		ErrorCountLast5Min:   errs,
		AvgLatencyLast5Min:   m.avgLatencyLocked(now),
		InFlight:             m.reserved,
	}
}

func (m *ProviderMetrics) appendLocked(isError bool, latencyMs int64) {
	if latencyMs < 0 {
		latencyMs = 0
	}
	now := m.clock.Now()
	m.samples = append(m.samples, sample{at: now, isError: isError, latencyMs: latencyMs})
	m.pruneLocked(now)
}

// pruneLocked drops samples older than the ranking window and recounts the
// admission window from what is left.
func (m *ProviderMetrics) pruneLocked(now time.Time) {
	fiveMinutesAgo := now.Add(-RankingWindow)
	oneMinuteAgo := now.Add(-AdmissionWindow)

	kept := m.samples[:0]
	recent := 0
	for _, s := range m.samples {
		if s.at.Before(fiveMinutesAgo) {
			continue
		}
		kept = append(kept, s)
		if !s.at.Before(oneMinuteAgo) {
			recent++
		}
	}
	clear(m.samples[len(kept):])
	m.samples = kept
	m.requestsLastMinute = recent
}

func (m *ProviderMetrics) canAcceptLocked() bool {
	return m.requestsLastMinute+m.reserved < m.desc.MaxRequestsPerMinute
}

// countSinceLocked returns the successful and failed outcomes at or after since.
func (m *ProviderMetrics) countSinceLocked(since time.Time) (successes, errs int) {
	for _, s := range m.samples {
		if s.at.Before(since) {
			continue
		}
		if s.isError {
			errs++
		} else {
			successes++
		}
	}
	return successes, errs
}

func (m *ProviderMetrics) errorRateLocked(now time.Time) float64 {
	successes, errs := m.countSinceLocked(now.Add(-AdmissionWindow))
	total := successes + errs
	if total == 0 {
		return 0
	}
	return float64(errs) / float64(total)
}

func (m *ProviderMetrics) avgLatencyLocked(now time.Time) float64 {
	since := now.Add(-RankingWindow)
	var sum int64
	n := 0
	for _, s := range m.samples {
		if s.at.Before(since) {
			continue
		}
		sum += s.latencyMs
		n++
	}
	if n == 0 {
		return NoLatency
	}
	return float64(sum) / float64(n)
}
