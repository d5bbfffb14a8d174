package usbip

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-usbip/internal/interfaces"
)

// LatencyBuckets defines the URB latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks protocol and transfer statistics for a server
type Metrics struct {
	// Client lifecycle
	ClientsAccepted atomic.Uint64
	ClientsRejected atomic.Uint64
	ClientsClosed   atomic.Uint64

	// Operations before import
	DevlistOps     atomic.Uint64
	ImportOps      atomic.Uint64
	ImportFailures atomic.Uint64

	// Commands after import
	SubmitOps    atomic.Uint64
	UnlinkOps    atomic.Uint64
	UnlinkMisses atomic.Uint64 // unlinks that found no pending URB
	URBErrors    atomic.Uint64 // completions with a non-zero status

	// Byte counters, from the device's point of view
	BytesIn  atomic.Uint64 // host to device (OUT)
	BytesOut atomic.Uint64 // device to host (IN)

	ProtocolErrors atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64

	// Latency histogram buckets (cumulative)
	// Each bucket[i] contains the count of URBs with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records one completed URB
func (m *Metrics) RecordSubmit(outBytes, inBytes uint64, latencyNs uint64, status int32) {
	m.SubmitOps.Add(1)
	m.BytesIn.Add(outBytes)
	m.BytesOut.Add(inBytes)
	if status != 0 {
		m.URBErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// recordLatency records URB latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	ClientsAccepted uint64 `json:"clients_accepted"`
	ClientsRejected uint64 `json:"clients_rejected"`
	ClientsClosed   uint64 `json:"clients_closed"`
	ClientsActive   uint64 `json:"clients_active"`

	DevlistOps     uint64 `json:"devlist_ops"`
	ImportOps      uint64 `json:"import_ops"`
	ImportFailures uint64 `json:"import_failures"`

	SubmitOps    uint64 `json:"submit_ops"`
	UnlinkOps    uint64 `json:"unlink_ops"`
	UnlinkMisses uint64 `json:"unlink_misses"`
	URBErrors    uint64 `json:"urb_errors"`

	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`

	ProtocolErrors uint64 `json:"protocol_errors"`

	AvgLatencyNs uint64 `json:"avg_latency_ns"`
	UptimeNs     uint64 `json:"uptime_ns"`

	LatencyP50Ns  uint64 `json:"latency_p50_ns"`
	LatencyP99Ns  uint64 `json:"latency_p99_ns"`
	LatencyP999Ns uint64 `json:"latency_p999_ns"`

	LatencyHistogram [numLatencyBuckets]uint64 `json:"latency_histogram"`

	SubmitRate float64 `json:"submit_rate"` // URBs per second
	ErrorRate  float64 `json:"error_rate"`  // Percentage of failed URBs
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ClientsAccepted: m.ClientsAccepted.Load(),
		ClientsRejected: m.ClientsRejected.Load(),
		ClientsClosed:   m.ClientsClosed.Load(),
		DevlistOps:      m.DevlistOps.Load(),
		ImportOps:       m.ImportOps.Load(),
		ImportFailures:  m.ImportFailures.Load(),
		SubmitOps:       m.SubmitOps.Load(),
		UnlinkOps:       m.UnlinkOps.Load(),
		UnlinkMisses:    m.UnlinkMisses.Load(),
		URBErrors:       m.URBErrors.Load(),
		BytesIn:         m.BytesIn.Load(),
		BytesOut:        m.BytesOut.Load(),
		ProtocolErrors:  m.ProtocolErrors.Load(),
	}

	if snap.ClientsAccepted > snap.ClientsClosed {
		snap.ClientsActive = snap.ClientsAccepted - snap.ClientsClosed
	}

	count := m.LatencyCount.Load()
	if count > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / count
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.SubmitRate = float64(snap.SubmitOps) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.SubmitOps > 0 {
		snap.ErrorRate = float64(snap.URBErrors) / float64(snap.SubmitOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if count > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.LatencyCount.Load()
	if total == 0 {
		return 0
	}

	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.ClientsAccepted, &m.ClientsRejected, &m.ClientsClosed,
		&m.DevlistOps, &m.ImportOps, &m.ImportFailures,
		&m.SubmitOps, &m.UnlinkOps, &m.UnlinkMisses, &m.URBErrors,
		&m.BytesIn, &m.BytesOut, &m.ProtocolErrors,
		&m.TotalLatencyNs, &m.LatencyCount,
	} {
		c.Store(0)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives server events; see interfaces.Observer.
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveAccept(bool)                          {}
func (NoOpObserver) ObserveDisconnect()                          {}
func (NoOpObserver) ObserveDevlist()                             {}
func (NoOpObserver) ObserveImport(bool)                          {}
func (NoOpObserver) ObserveSubmit(uint64, uint64, uint64, int32) {}
func (NoOpObserver) ObserveUnlink(bool)                          {}
func (NoOpObserver) ObserveProtocolError()                       {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAccept(rejected bool) {
	if rejected {
		o.metrics.ClientsRejected.Add(1)
		return
	}
	o.metrics.ClientsAccepted.Add(1)
}

func (o *MetricsObserver) ObserveDisconnect() {
	o.metrics.ClientsClosed.Add(1)
}

func (o *MetricsObserver) ObserveDevlist() {
	o.metrics.DevlistOps.Add(1)
}

func (o *MetricsObserver) ObserveImport(success bool) {
	o.metrics.ImportOps.Add(1)
	if !success {
		o.metrics.ImportFailures.Add(1)
	}
}

func (o *MetricsObserver) ObserveSubmit(outBytes, inBytes uint64, latencyNs uint64, status int32) {
	o.metrics.RecordSubmit(outBytes, inBytes, latencyNs, status)
}

func (o *MetricsObserver) ObserveUnlink(found bool) {
	o.metrics.UnlinkOps.Add(1)
	if !found {
		o.metrics.UnlinkMisses.Add(1)
	}
}

func (o *MetricsObserver) ObserveProtocolError() {
	o.metrics.ProtocolErrors.Add(1)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
