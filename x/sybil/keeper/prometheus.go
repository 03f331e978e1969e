package keeper

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// PrometheusExporter exports sybil metrics in Prometheus text format.
type PrometheusExporter struct {
	namespace string
	subsystem string

	metrics *ModuleMetrics

	customCounters map[string]*AtomicCounter
	customGauges   map[string]*AtomicGauge
	customMu       sync.RWMutex

	defaultLabels map[string]string
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(metrics *ModuleMetrics, chainID string) *PrometheusExporter {
	labels := map[string]string{}
	if chainID != "" {
		labels["chain_id"] = chainID
	}
	return &PrometheusExporter{
		namespace:      "sybilguard",
		subsystem:      "sybil",
		metrics:        metrics,
		customCounters: make(map[string]*AtomicCounter),
		customGauges:   make(map[string]*AtomicGauge),
		defaultLabels:  labels,
	}
}

// SetDefaultLabel sets a label included with all metrics.
func (pe *PrometheusExporter) SetDefaultLabel(name, value string) {
	pe.customMu.Lock()
	pe.defaultLabels[name] = value
	pe.customMu.Unlock()
}

// RegisterCounter registers a custom counter metric.
func (pe *PrometheusExporter) RegisterCounter(name string) *AtomicCounter {
	pe.customMu.Lock()
	defer pe.customMu.Unlock()

	if c, exists := pe.customCounters[name]; exists {
		return c
	}
	c := &AtomicCounter{}
	pe.customCounters[name] = c
	return c
}

// RegisterGauge registers a custom gauge metric.
func (pe *PrometheusExporter) RegisterGauge(name string) *AtomicGauge {
	pe.customMu.Lock()
	defer pe.customMu.Unlock()

	if g, exists := pe.customGauges[name]; exists {
		return g
	}
	g := &AtomicGauge{}
	pe.customGauges[name] = g
	return g
}

// ServeHTTP implements http.Handler for Prometheus scraping.
func (pe *PrometheusExporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(pe.Render()))
}

// Render returns the exposition text for the current metrics.
func (pe *PrometheusExporter) Render() string {
	pe.customMu.RLock()
	defer pe.customMu.RUnlock()

	var sb strings.Builder
	pe.exportModuleMetrics(&sb)
	pe.exportCustomMetrics(&sb)
	return sb.String()
}

func (pe *PrometheusExporter) exportModuleMetrics(sb *strings.Builder) {
	m := pe.metrics
	if m == nil {
		return
	}

	pe.writeCounter(sb, "scans_total", "Completed detection scans", m.ScansTotal.Get())
	pe.writeCounter(sb, "scans_skipped_total", "Scans skipped because the interval had not elapsed", m.ScansSkipped.Get())
	pe.writeCounter(sb, "scans_failed_total", "Scans that failed to build profiles", m.ScansFailed.Get())
	pe.writeCounter(sb, "scans_forced_total", "Scans that bypassed the interval", m.ScansForced.Get())
	pe.writeGauge(sb, "profiles_built", "Profiles built by the last scan", m.ProfilesBuilt.Get())
	pe.writeGauge(sb, "profiles_skipped", "Validators skipped for missing data in the last scan", m.ProfilesSkip.Get())

	pe.writeCounter(sb, "candidates_total", "Cluster candidates produced by detectors", m.CandidatesTotal.Get())
	pe.writeCounter(sb, "detections_total", "Fused Sybil detections", m.DetectionsTotal.Get())
	pe.writeCounter(sb, "detections_critical_total", "CRITICAL detections", m.DetectionsCritical.Get())
	pe.writeCounter(sb, "detections_high_total", "HIGH detections", m.DetectionsHigh.Get())
	pe.writeCounter(sb, "detections_medium_total", "MEDIUM detections", m.DetectionsMedium.Get())
	pe.writeCounter(sb, "detections_low_total", "LOW detections", m.DetectionsLow.Get())

	pe.writeCounter(sb, "penalties_applied_total", "Penalty actions applied", m.PenaltiesApplied.Get())
	pe.writeCounter(sb, "penalties_failed_total", "Penalty actions the ledger refused", m.PenaltiesFailed.Get())
	pe.writeCounter(sb, "penalties_skipped_total", "Penalty actions skipped as already applied or banned", m.PenaltiesSkipped.Get())
	pe.writeCounter(sb, "ledger_timeouts_total", "Ledger calls that exceeded their deadline", m.LedgerTimeouts.Get())
	pe.writeCounter(sb, "stake_slashed_total", "Stake slashed in base units", m.StakeSlashed.Get())
	pe.writeCounter(sb, "validators_banned_total", "Validators permanently banned", m.ValidatorsBanned.Get())
	pe.writeCounter(sb, "validators_jailed_total", "Temporary jails imposed", m.ValidatorsJailed.Get())
	pe.writeCounter(sb, "releases_total", "Validators released from jail or monitoring", m.Releases.Get())

	pe.writeGauge(sb, "total_validators", "Validators known to the registry", m.TotalValidators.Get())
	pe.writeGauge(sb, "flagged_validators", "Validators banned, jailed or monitored", m.FlaggedValidators.Get())
	pe.writeGauge(sb, "last_scan_height", "Block height of the last scan", m.LastScanHeight.Get())

	if m.ScanDuration != nil {
		pe.writeHistogramSummary(sb, "scan_seconds", "Scan duration distribution", m.ScanDuration.Summary())
	}
	if m.ProfileDuration != nil {
		pe.writeHistogramSummary(sb, "profile_build_seconds", "Profile build duration distribution", m.ProfileDuration.Summary())
	}
	if m.PenaltyDuration != nil {
		pe.writeHistogramSummary(sb, "penalty_batch_seconds", "Penalty batch duration distribution", m.PenaltyDuration.Summary())
	}
}

func (pe *PrometheusExporter) exportCustomMetrics(sb *strings.Builder) {
	names := make([]string, 0, len(pe.customCounters))
	for name := range pe.customCounters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pe.writeCounter(sb, name, "", pe.customCounters[name].Get())
	}

	names = make([]string, 0, len(pe.customGauges))
	for name := range pe.customGauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pe.writeGauge(sb, name, "", pe.customGauges[name].Get())
	}
}

func (pe *PrometheusExporter) writeCounter(sb *strings.Builder, name, help string, value int64) {
	fullName := pe.fullName(name)
	if help != "" {
		sb.WriteString(fmt.Sprintf("# HELP %s %s\n", fullName, help))
	}
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", fullName))
	sb.WriteString(fmt.Sprintf("%s%s %d\n", fullName, pe.formatLabels(), value))
}

func (pe *PrometheusExporter) writeGauge(sb *strings.Builder, name, help string, value int64) {
	fullName := pe.fullName(name)
	if help != "" {
		sb.WriteString(fmt.Sprintf("# HELP %s %s\n", fullName, help))
	}
	sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", fullName))
	sb.WriteString(fmt.Sprintf("%s%s %d\n", fullName, pe.formatLabels(), value))
}

func (pe *PrometheusExporter) writeHistogramSummary(sb *strings.Builder, name, help string, summary HistogramSummary) {
	fullName := pe.fullName(name)
	if help != "" {
		sb.WriteString(fmt.Sprintf("# HELP %s %s\n", fullName, help))
	}
	sb.WriteString(fmt.Sprintf("# TYPE %s summary\n", fullName))

	labels := pe.formatLabels()
	pe.writeQuantile(sb, fullName, labels, "0.5", summary.P50)
	pe.writeQuantile(sb, fullName, labels, "0.95", summary.P95)
	pe.writeQuantile(sb, fullName, labels, "0.99", summary.P99)

	sb.WriteString(fmt.Sprintf("%s_sum%s %f\n", fullName, labels, summary.Avg.Seconds()*float64(summary.Count)))
	sb.WriteString(fmt.Sprintf("%s_count%s %d\n", fullName, labels, summary.Count))
}

func (pe *PrometheusExporter) writeQuantile(sb *strings.Builder, name, baseLabels, quantile string, value time.Duration) {
	if baseLabels == "" {
		sb.WriteString(fmt.Sprintf("%s{quantile=\"%s\"} %f\n", name, quantile, value.Seconds()))
		return
	}
	labels := strings.TrimSuffix(baseLabels, "}")
	sb.WriteString(fmt.Sprintf("%s%s,quantile=\"%s\"} %f\n", name, labels, quantile, value.Seconds()))
}

func (pe *PrometheusExporter) fullName(name string) string {
	return fmt.Sprintf("%s_%s_%s", pe.namespace, pe.subsystem, name)
}

// formatLabels expects customMu to be held.
func (pe *PrometheusExporter) formatLabels() string {
	if len(pe.defaultLabels) == 0 {
		return ""
	}

	labels := make([]string, 0, len(pe.defaultLabels))
	for k, v := range pe.defaultLabels {
		labels = append(labels, fmt.Sprintf("%s=\"%s\"", k, v))
	}
	sort.Strings(labels)

	return "{" + strings.Join(labels, ",") + "}"
}

// PrometheusHandler returns an HTTP handler for the keeper's metrics.
func (k Keeper) PrometheusHandler(chainID string) http.Handler {
	return NewPrometheusExporter(k.metrics, chainID)
}
