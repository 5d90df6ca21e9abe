package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one Engine counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that issued a token pair.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts logins rejected as unauthorized.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins rejected by the failure limiter.
	MetricLoginRateLimited
	// MetricRenewSuccess counts renewals that rotated the session secret.
	MetricRenewSuccess
	// MetricRenewFailure counts rejected renewals, including lost races.
	MetricRenewFailure
	// MetricLogout counts logouts that cleared the session secret.
	MetricLogout
	// MetricPasswordRehashed counts legacy or weak hashes replaced after login.
	MetricPasswordRehashed
	// MetricRegisterSuccess counts created principals.
	MetricRegisterSuccess
	// MetricRegisterConflict counts registrations rejected for a duplicate email or phone.
	MetricRegisterConflict
	// MetricRegisterRateLimited counts registrations rejected by the limiter.
	MetricRegisterRateLimited
	// MetricRecoveryInitiated counts dispatched recovery codes.
	MetricRecoveryInitiated
	// MetricRecoveryDispatchFailed counts recovery codes the mailer could not deliver.
	MetricRecoveryDispatchFailed
	// MetricRecoveryCompleted counts completed password recoveries.
	MetricRecoveryCompleted
	// MetricRecoveryInvalidCode counts rejected recovery codes.
	MetricRecoveryInvalidCode
	// MetricRecoveryRateLimited counts recovery requests rejected by a limiter.
	MetricRecoveryRateLimited
	// MetricExternalCacheHit counts external responses served from the cache.
	MetricExternalCacheHit
	// MetricExternalCacheMiss counts external responses fetched upstream.
	MetricExternalCacheMiss
	// MetricExternalRefresh counts successful third-party credential refreshes.
	MetricExternalRefresh
	// MetricExternalRefreshFailure counts failed third-party credential refreshes.
	MetricExternalRefreshFailure
	// MetricExternalPersistFailure counts refreshed tokens the principal store did not record.
	MetricExternalPersistFailure
	// MetricAuthenticateLatency is the access token verification latency histogram.
	MetricAuthenticateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free Engine counters. A disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters for cfg. Latency is only recorded when both flags are set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id. Unknown ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only MetricAuthenticateLatency has a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthenticateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Counters are read one by one, so a snapshot taken
// under load is not a single atomic cut. A disabled Metrics yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
