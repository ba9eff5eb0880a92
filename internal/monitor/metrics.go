package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks bridge-wide counters and request latency.
type SystemMetrics struct {
	// Latency histogram for the HTTP API.
	RequestLatency *LatencyHistogram

	// Counters
	apiRequests  uint64
	apiErrors    uint64
	quoteUpdates uint64
	tradesPushed uint64
	pushFailures uint64

	started time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and lazily
// recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RequestLatency: NewLatencyHistogram(1000),
		started:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementRequests counts one handled API request.
func (m *SystemMetrics) IncrementRequests() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts one 4xx/5xx API response.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// IncrementQuoteUpdates counts one price-cache write.
func (m *SystemMetrics) IncrementQuoteUpdates() {
	atomic.AddUint64(&m.quoteUpdates, 1)
}

// IncrementTradesPushed counts one successful upstream push.
func (m *SystemMetrics) IncrementTradesPushed() {
	atomic.AddUint64(&m.tradesPushed, 1)
}

// IncrementPushFailures counts one failed upstream push or close.
func (m *SystemMetrics) IncrementPushFailures() {
	atomic.AddUint64(&m.pushFailures, 1)
}

// MetricsSnapshot is a point-in-time view for the metrics endpoint.
type MetricsSnapshot struct {
	RequestLatency LatencyStats `json:"request_latency"`
	APIRequests    uint64       `json:"api_requests"`
	APIErrors      uint64       `json:"api_errors"`
	QuoteUpdates   uint64       `json:"quote_updates"`
	TradesPushed   uint64       `json:"trades_pushed"`
	PushFailures   uint64       `json:"push_failures"`
	UptimeSeconds  float64      `json:"uptime_seconds"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	HeapSys        uint64       `json:"heap_sys_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		RequestLatency: m.RequestLatency.Stats(),
		APIRequests:    atomic.LoadUint64(&m.apiRequests),
		APIErrors:      atomic.LoadUint64(&m.apiErrors),
		QuoteUpdates:   atomic.LoadUint64(&m.quoteUpdates),
		TradesPushed:   atomic.LoadUint64(&m.tradesPushed),
		PushFailures:   atomic.LoadUint64(&m.pushFailures),
		UptimeSeconds:  time.Since(m.started).Seconds(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
