package keeper

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// ---------------------------------------------------------------------------
// Module Metrics -- in-process telemetry for the sybil module
// ---------------------------------------------------------------------------
//
// Counters use sync/atomic and timing windows use mutex-protected ring
// buffers, so queries and the scan goroutine can record concurrently.
// Exporters (Prometheus, JSON snapshot) live in prometheus.go.
// ---------------------------------------------------------------------------

// AtomicCounter is a lock-free monotonic counter using sync/atomic.
type AtomicCounter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *AtomicCounter) Inc() { atomic.AddInt64(&c.value, 1) }

// Add increments the counter by delta.
func (c *AtomicCounter) Add(delta int64) { atomic.AddInt64(&c.value, delta) }

// Get returns the current counter value.
func (c *AtomicCounter) Get() int64 { return atomic.LoadInt64(&c.value) }

// Reset sets the counter to 0.
func (c *AtomicCounter) Reset() { atomic.StoreInt64(&c.value, 0) }

// AtomicGauge is a lock-free gauge (can go up or down).
type AtomicGauge struct {
	value int64
}

// Set stores a new value.
func (g *AtomicGauge) Set(v int64) { atomic.StoreInt64(&g.value, v) }

// Get returns the current value.
func (g *AtomicGauge) Get() int64 { return atomic.LoadInt64(&g.value) }

// TimingHistogram records the most recent N durations and provides summary
// statistics over that window.
type TimingHistogram struct {
	mu       sync.Mutex
	samples  []time.Duration
	capacity int
	cursor   int
	count    int64 // total samples ever recorded
}

// NewTimingHistogram creates a histogram that retains at most capacity samples.
func NewTimingHistogram(capacity int) *TimingHistogram {
	if capacity <= 0 {
		capacity = 1000
	}
	return &TimingHistogram{
		samples:  make([]time.Duration, capacity),
		capacity: capacity,
	}
}

// Record adds a duration sample.
func (h *TimingHistogram) Record(d time.Duration) {
	h.mu.Lock()
	h.samples[h.cursor%h.capacity] = d
	h.cursor++
	h.count++
	h.mu.Unlock()
}

// HistogramSummary holds summary statistics over a histogram window.
type HistogramSummary struct {
	Count int64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Summary computes summary statistics from the buffered samples. Count is
// the total ever recorded, not just the window size.
func (h *TimingHistogram) Summary() HistogramSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.cursor
	if n > h.capacity {
		n = h.capacity
	}
	if n == 0 {
		return HistogramSummary{Count: h.count}
	}

	active := make([]time.Duration, n)
	copy(active, h.samples[:n])
	sortDurations(active)

	var sum time.Duration
	for _, d := range active {
		sum += d
	}

	return HistogramSummary{
		Count: h.count,
		Min:   active[0],
		Max:   active[n-1],
		Avg:   sum / time.Duration(n),
		P50:   active[percentileIndex(n, 50)],
		P95:   active[percentileIndex(n, 95)],
		P99:   active[percentileIndex(n, 99)],
	}
}

// sortDurations performs an insertion sort (fast for small N, no alloc).
func sortDurations(a []time.Duration) {
	for i := 1; i < len(a); i++ {
		key := a[i]
		j := i - 1
		for j >= 0 && a[j] > key {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = key
	}
}

// percentileIndex clamps the p-th percentile index to [0, n-1].
func percentileIndex(n, p int) int {
	idx := (n * p) / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// ---------------------------------------------------------------------------
// ModuleMetrics -- aggregated telemetry for the sybil module
// ---------------------------------------------------------------------------

// ModuleMetrics collects all telemetry for the sybil module. One instance is
// held by the Keeper and shared by every copy of it.
type ModuleMetrics struct {
	// --- Scans ---
	ScansTotal    AtomicCounter
	ScansSkipped  AtomicCounter // interval not yet elapsed
	ScansFailed   AtomicCounter
	ScansForced   AtomicCounter
	ProfilesBuilt AtomicGauge
	ProfilesSkip  AtomicGauge

	// --- Detection ---
	CandidatesTotal    AtomicCounter
	DetectionsTotal    AtomicCounter
	DetectionsCritical AtomicCounter
	DetectionsHigh     AtomicCounter
	DetectionsMedium   AtomicCounter
	DetectionsLow      AtomicCounter

	// --- Penalties ---
	PenaltiesApplied AtomicCounter
	PenaltiesFailed  AtomicCounter
	PenaltiesSkipped AtomicCounter
	LedgerTimeouts   AtomicCounter
	StakeSlashed     AtomicCounter // cumulative base units, saturating
	ValidatorsBanned AtomicCounter
	ValidatorsJailed AtomicCounter
	Releases         AtomicCounter

	// --- Validator set ---
	TotalValidators   AtomicGauge
	FlaggedValidators AtomicGauge

	// --- Timing ---
	ScanDuration    *TimingHistogram
	ProfileDuration *TimingHistogram
	PenaltyDuration *TimingHistogram

	LastScanHeight AtomicGauge
}

// NewModuleMetrics creates a new ModuleMetrics with all histograms initialized.
func NewModuleMetrics() *ModuleMetrics {
	return &ModuleMetrics{
		ScanDuration:    NewTimingHistogram(500),
		ProfileDuration: NewTimingHistogram(500),
		PenaltyDuration: NewTimingHistogram(1000),
	}
}

// RecordScan records one completed scan.
func (m *ModuleMetrics) RecordScan(report types.ScanReport, duration time.Duration) {
	m.ScansTotal.Inc()
	if report.Forced {
		m.ScansForced.Inc()
	}
	if report.Error != "" {
		m.ScansFailed.Inc()
	}
	m.ProfilesBuilt.Set(int64(report.ProfilesBuilt))
	m.ProfilesSkip.Set(int64(report.ProfilesSkipped))
	m.LastScanHeight.Set(report.Height)
	for _, n := range report.Candidates {
		m.CandidatesTotal.Add(int64(n))
	}
	for _, det := range report.Detections {
		m.RecordDetection(det.Severity)
	}
	if m.ScanDuration != nil {
		m.ScanDuration.Record(duration)
	}
}

// RecordDetection counts one fused detection by severity.
func (m *ModuleMetrics) RecordDetection(sev types.Severity) {
	m.DetectionsTotal.Inc()
	switch sev {
	case types.SeverityCritical:
		m.DetectionsCritical.Inc()
	case types.SeverityHigh:
		m.DetectionsHigh.Inc()
	case types.SeverityMedium:
		m.DetectionsMedium.Inc()
	case types.SeverityLow:
		m.DetectionsLow.Inc()
	}
}

// RecordPenalties folds an ApplySummary into the counters.
func (m *ModuleMetrics) RecordPenalties(summary types.ApplySummary, duration time.Duration) {
	m.PenaltiesApplied.Add(int64(summary.Applied))
	m.PenaltiesFailed.Add(int64(summary.Failed))
	m.PenaltiesSkipped.Add(int64(summary.Skipped))
	m.ValidatorsBanned.Add(int64(summary.BannedCount))
	m.ValidatorsJailed.Add(int64(summary.JailedCount))
	m.StakeSlashed.Add(saturatingInt64(summary.TotalSlashed))
	if m.PenaltyDuration != nil {
		m.PenaltyDuration.Record(duration)
	}
}

func saturatingInt64(v sdkmath.Int) int64 {
	if v.IsNil() || !v.IsPositive() {
		return 0
	}
	if !v.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return v.Int64()
}

// Reset zeroes all counters and re-initializes histograms. Tests only.
func (m *ModuleMetrics) Reset() {
	for _, c := range []*AtomicCounter{
		&m.ScansTotal, &m.ScansSkipped, &m.ScansFailed, &m.ScansForced,
		&m.CandidatesTotal, &m.DetectionsTotal, &m.DetectionsCritical,
		&m.DetectionsHigh, &m.DetectionsMedium, &m.DetectionsLow,
		&m.PenaltiesApplied, &m.PenaltiesFailed, &m.PenaltiesSkipped,
		&m.LedgerTimeouts, &m.StakeSlashed, &m.ValidatorsBanned,
		&m.ValidatorsJailed, &m.Releases,
	} {
		c.Reset()
	}
	m.ProfilesBuilt.Set(0)
	m.ProfilesSkip.Set(0)
	m.TotalValidators.Set(0)
	m.FlaggedValidators.Set(0)
	m.LastScanHeight.Set(0)

	m.ScanDuration = NewTimingHistogram(500)
	m.ProfileDuration = NewTimingHistogram(500)
	m.PenaltyDuration = NewTimingHistogram(1000)
}

// ---------------------------------------------------------------------------
// Snapshot -- point-in-time export
// ---------------------------------------------------------------------------

// MetricsSnapshot is a JSON-friendly snapshot of all module metrics.
type MetricsSnapshot struct {
	BlockHeight int64  `json:"block_height"`
	Timestamp   string `json:"timestamp"`

	ScansTotal   int64 `json:"scans_total"`
	ScansSkipped int64 `json:"scans_skipped"`
	ScansFailed  int64 `json:"scans_failed"`
	ScansForced  int64 `json:"scans_forced"`

	CandidatesTotal    int64 `json:"candidates_total"`
	DetectionsTotal    int64 `json:"detections_total"`
	DetectionsCritical int64 `json:"detections_critical"`
	DetectionsHigh     int64 `json:"detections_high"`
	DetectionsMedium   int64 `json:"detections_medium"`
	DetectionsLow      int64 `json:"detections_low"`

	PenaltiesApplied int64 `json:"penalties_applied"`
	PenaltiesFailed  int64 `json:"penalties_failed"`
	PenaltiesSkipped int64 `json:"penalties_skipped"`
	LedgerTimeouts   int64 `json:"ledger_timeouts"`
	StakeSlashed     int64 `json:"stake_slashed"`
	ValidatorsBanned int64 `json:"validators_banned"`
	ValidatorsJailed int64 `json:"validators_jailed"`
	Releases         int64 `json:"releases"`

	TotalValidators   int64 `json:"total_validators"`
	FlaggedValidators int64 `json:"flagged_validators"`

	ScanMs    *TimingSummaryMs `json:"scan_ms,omitempty"`
	ProfileMs *TimingSummaryMs `json:"profile_ms,omitempty"`
	PenaltyMs *TimingSummaryMs `json:"penalty_ms,omitempty"`
}

// TimingSummaryMs is a histogram summary with durations in milliseconds.
type TimingSummaryMs struct {
	Count int64   `json:"count"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

func histSummaryToMs(s HistogramSummary) *TimingSummaryMs {
	if s.Count == 0 {
		return nil
	}
	return &TimingSummaryMs{
		Count: s.Count,
		MinMs: float64(s.Min) / float64(time.Millisecond),
		MaxMs: float64(s.Max) / float64(time.Millisecond),
		AvgMs: float64(s.Avg) / float64(time.Millisecond),
		P50Ms: float64(s.P50) / float64(time.Millisecond),
		P95Ms: float64(s.P95) / float64(time.Millisecond),
		P99Ms: float64(s.P99) / float64(time.Millisecond),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *ModuleMetrics) Snapshot(blockHeight int64, blockTime time.Time) MetricsSnapshot {
	return MetricsSnapshot{
		BlockHeight: blockHeight,
		Timestamp:   blockTime.UTC().Format(time.RFC3339),

		ScansTotal:   m.ScansTotal.Get(),
		ScansSkipped: m.ScansSkipped.Get(),
		ScansFailed:  m.ScansFailed.Get(),
		ScansForced:  m.ScansForced.Get(),

		CandidatesTotal:    m.CandidatesTotal.Get(),
		DetectionsTotal:    m.DetectionsTotal.Get(),
		DetectionsCritical: m.DetectionsCritical.Get(),
		DetectionsHigh:     m.DetectionsHigh.Get(),
		DetectionsMedium:   m.DetectionsMedium.Get(),
		DetectionsLow:      m.DetectionsLow.Get(),

		PenaltiesApplied: m.PenaltiesApplied.Get(),
		PenaltiesFailed:  m.PenaltiesFailed.Get(),
		PenaltiesSkipped: m.PenaltiesSkipped.Get(),
		LedgerTimeouts:   m.LedgerTimeouts.Get(),
		StakeSlashed:     m.StakeSlashed.Get(),
		ValidatorsBanned: m.ValidatorsBanned.Get(),
		ValidatorsJailed: m.ValidatorsJailed.Get(),
		Releases:         m.Releases.Get(),

		TotalValidators:   m.TotalValidators.Get(),
		FlaggedValidators: m.FlaggedValidators.Get(),

		ScanMs:    histSummaryToMs(m.ScanDuration.Summary()),
		ProfileMs: histSummaryToMs(m.ProfileDuration.Summary()),
		PenaltyMs: histSummaryToMs(m.PenaltyDuration.Summary()),
	}
}

// EmitMetricsEvent emits a metrics summary as an SDK event. Called from the
// EndBlocker after a scan so indexers can follow detection activity without
// scraping Prometheus.
func (m *ModuleMetrics) EmitMetricsEvent(ctx sdk.Context) {
	snap := m.Snapshot(ctx.BlockHeight(), ctx.BlockTime())

	emitEventIfPossible(ctx, sdk.NewEvent(
		"sybil_module_metrics",
		sdk.NewAttribute("block_height", strconv.FormatInt(snap.BlockHeight, 10)),
		sdk.NewAttribute("scans_total", strconv.FormatInt(snap.ScansTotal, 10)),
		sdk.NewAttribute("scans_failed", strconv.FormatInt(snap.ScansFailed, 10)),
		sdk.NewAttribute("detections_total", strconv.FormatInt(snap.DetectionsTotal, 10)),
		sdk.NewAttribute("penalties_applied", strconv.FormatInt(snap.PenaltiesApplied, 10)),
		sdk.NewAttribute("penalties_failed", strconv.FormatInt(snap.PenaltiesFailed, 10)),
		sdk.NewAttribute("validators_banned", strconv.FormatInt(snap.ValidatorsBanned, 10)),
		sdk.NewAttribute("flagged_validators", strconv.FormatInt(snap.FlaggedValidators, 10)),
	))
}
