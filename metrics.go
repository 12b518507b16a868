package hipc

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
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

// Metrics tracks operational statistics across every subsystem in the
// runtime. A single Metrics value is normally shared by every component in
// one Runtime (spec.md §4 components all take an *Observer).
type Metrics struct {
	// MessageQ
	PutOps     atomic.Uint64
	GetOps     atomic.Uint64
	UnblockOps atomic.Uint64
	PutErrors  atomic.Uint64
	GetErrors  atomic.Uint64

	// Notify
	NotifyFires   atomic.Uint64
	NotifyDropped atomic.Uint64 // SendEvent calls that delivered nothing

	// MMU / Loader
	MmuFaults   atomic.Uint64
	MmuResets   atomic.Uint64

	// HeapMemMP / HeapMultiBufMP
	HeapAllocs      atomic.Uint64
	HeapFrees       atomic.Uint64
	HeapAllocErrors atomic.Uint64

	// GateMP
	GateEnters    atomic.Uint64
	GateContested atomic.Uint64 // enter() calls that had to wait

	// Latency histograms, one per tracked operation (cumulative counts,
	// bucket[i] = count of samples with latency <= LatencyBuckets[i]).
	GetLatency  latencyHistogram
	GateLatency latencyHistogram

	StartTime atomic.Int64
}

type latencyHistogram struct {
	buckets    [numLatencyBuckets]atomic.Uint64
	total      atomic.Uint64
	count      atomic.Uint64
}

func (h *latencyHistogram) record(latencyNs uint64) {
	h.total.Add(latencyNs)
	h.count.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			h.buckets[i].Add(1)
		}
	}
}

func (h *latencyHistogram) percentile(p float64) uint64 {
	total := h.count.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)
	prevBucket, prevCount := uint64(0), uint64(0)
	for i, bucket := range LatencyBuckets {
		count := h.buckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			frac := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(frac*float64(bucket-prevBucket))
		}
		prevBucket, prevCount = bucket, count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

func (h *latencyHistogram) snapshot() (avg uint64, p50 uint64, p99 uint64, hist [numLatencyBuckets]uint64) {
	count := h.count.Load()
	if count > 0 {
		avg = h.total.Load() / count
		p50 = h.percentile(0.50)
		p99 = h.percentile(0.99)
	}
	for i := range hist {
		hist[i] = h.buckets[i].Load()
	}
	return
}

// NewMetrics creates a zeroed metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) RecordPut(success bool) {
	m.PutOps.Add(1)
	if !success {
		m.PutErrors.Add(1)
	}
}

func (m *Metrics) RecordGet(latencyNs uint64, success bool) {
	m.GetOps.Add(1)
	if !success {
		m.GetErrors.Add(1)
	}
	m.GetLatency.record(latencyNs)
}

func (m *Metrics) RecordUnblock() { m.UnblockOps.Add(1) }

func (m *Metrics) RecordNotifyFire(delivered bool) {
	m.NotifyFires.Add(1)
	if !delivered {
		m.NotifyDropped.Add(1)
	}
}

func (m *Metrics) RecordMmuFault() { m.MmuFaults.Add(1) }
func (m *Metrics) RecordMmuReset() { m.MmuResets.Add(1) }

func (m *Metrics) RecordHeapAlloc(success bool) {
	m.HeapAllocs.Add(1)
	if !success {
		m.HeapAllocErrors.Add(1)
	}
}

func (m *Metrics) RecordHeapFree() { m.HeapFrees.Add(1) }

func (m *Metrics) RecordGateEnter(latencyNs uint64, contested bool) {
	m.GateEnters.Add(1)
	if contested {
		m.GateContested.Add(1)
	}
	m.GateLatency.record(latencyNs)
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// further synchronization.
type MetricsSnapshot struct {
	PutOps, GetOps, UnblockOps       uint64
	PutErrors, GetErrors             uint64
	NotifyFires, NotifyDropped       uint64
	MmuFaults, MmuResets             uint64
	HeapAllocs, HeapFrees            uint64
	HeapAllocErrors                  uint64
	GateEnters, GateContested        uint64

	GetAvgLatencyNs, GetP50Ns, GetP99Ns    uint64
	GateAvgLatencyNs, GateP50Ns, GateP99Ns uint64
	GetLatencyHistogram                    [numLatencyBuckets]uint64
	GateLatencyHistogram                   [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot takes a consistent-enough point-in-time copy of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PutOps:          m.PutOps.Load(),
		GetOps:          m.GetOps.Load(),
		UnblockOps:      m.UnblockOps.Load(),
		PutErrors:       m.PutErrors.Load(),
		GetErrors:       m.GetErrors.Load(),
		NotifyFires:     m.NotifyFires.Load(),
		NotifyDropped:   m.NotifyDropped.Load(),
		MmuFaults:       m.MmuFaults.Load(),
		MmuResets:       m.MmuResets.Load(),
		HeapAllocs:      m.HeapAllocs.Load(),
		HeapFrees:       m.HeapFrees.Load(),
		HeapAllocErrors: m.HeapAllocErrors.Load(),
		GateEnters:      m.GateEnters.Load(),
		GateContested:   m.GateContested.Load(),
		UptimeNs:        uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
	snap.GetAvgLatencyNs, snap.GetP50Ns, snap.GetP99Ns, snap.GetLatencyHistogram = m.GetLatency.snapshot()
	snap.GateAvgLatencyNs, snap.GateP50Ns, snap.GateP99Ns, snap.GateLatencyHistogram = m.GateLatency.snapshot()
	return snap
}

// Reset zeroes all counters. Useful for testing.
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer is the pluggable hook every blocking or cross-processor
// operation reports through (spec.md components A-L).
type Observer interface {
	ObservePut(success bool)
	ObserveGet(latencyNs uint64, success bool)
	ObserveUnblock()
	ObserveNotifyFire(delivered bool)
	ObserveMmuFault()
	ObserveHeapAlloc(success bool)
	ObserveHeapFree()
	ObserveGateEnter(latencyNs uint64, contested bool)
}

// NoOpObserver discards every observation. It is the default Observer for
// components constructed without one.
type NoOpObserver struct{}

func (NoOpObserver) ObservePut(bool)                {}
func (NoOpObserver) ObserveGet(uint64, bool)         {}
func (NoOpObserver) ObserveUnblock()                 {}
func (NoOpObserver) ObserveNotifyFire(bool)          {}
func (NoOpObserver) ObserveMmuFault()                {}
func (NoOpObserver) ObserveHeapAlloc(bool)           {}
func (NoOpObserver) ObserveHeapFree()                {}
func (NoOpObserver) ObserveGateEnter(uint64, bool)    {}

// MetricsObserver is an Observer backed by a Metrics value.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePut(success bool)                     { o.metrics.RecordPut(success) }
func (o *MetricsObserver) ObserveGet(latencyNs uint64, success bool)   { o.metrics.RecordGet(latencyNs, success) }
func (o *MetricsObserver) ObserveUnblock()                             { o.metrics.RecordUnblock() }
func (o *MetricsObserver) ObserveNotifyFire(delivered bool)            { o.metrics.RecordNotifyFire(delivered) }
func (o *MetricsObserver) ObserveMmuFault()                            { o.metrics.RecordMmuFault() }
func (o *MetricsObserver) ObserveHeapAlloc(success bool)               { o.metrics.RecordHeapAlloc(success) }
func (o *MetricsObserver) ObserveHeapFree()                            { o.metrics.RecordHeapFree() }
func (o *MetricsObserver) ObserveGateEnter(latencyNs uint64, contested bool) {
	o.metrics.RecordGateEnter(latencyNs, contested)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
