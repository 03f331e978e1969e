package keeper_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aethelred/sybilguard/x/sybil/keeper"
	"github.com/aethelred/sybilguard/x/sybil/types"
)

func TestPrometheusExporterRendersModuleMetrics(t *testing.T) {
	f := setupKeeper(t)
	seedCoordinatedCluster(t, f)
	_, err := f.keeper.ScanForSybilAttacks(f.ctx, false)
	require.NoError(t, err)

	exporter := keeper.NewPrometheusExporter(f.keeper.Metrics(), testChainID)
	extra := exporter.RegisterCounter("manual_reviews_total")
	extra.Add(2)
	exporter.RegisterGauge("pending_appeals").Set(4)

	out := exporter.Render()
	require.Contains(t, out, "# TYPE sybilguard_sybil_scans_total counter")
	require.Contains(t, out, `sybilguard_sybil_scans_total{chain_id="sybil-test-1"} 1`)
	require.Contains(t, out, `sybilguard_sybil_detections_critical_total{chain_id="sybil-test-1"} 1`)
	require.Contains(t, out, `sybilguard_sybil_validators_banned_total{chain_id="sybil-test-1"} 5`)
	require.Contains(t, out, `sybilguard_sybil_stake_slashed_total{chain_id="sybil-test-1"} 25000`)
	require.Contains(t, out, `sybilguard_sybil_manual_reviews_total{chain_id="sybil-test-1"} 2`)
	require.Contains(t, out, `sybilguard_sybil_pending_appeals{chain_id="sybil-test-1"} 4`)
	require.Contains(t, out, `sybilguard_sybil_scan_seconds{chain_id="sybil-test-1",quantile="0.5"}`)

	require.Same(t, extra, exporter.RegisterCounter("manual_reviews_total"))

	rec := httptest.NewRecorder()
	f.keeper.PrometheusHandler(testChainID).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, rec.Body.String(), "sybilguard_sybil_penalties_applied_total")
}

func TestPrometheusExporterWithoutLabels(t *testing.T) {
	m := keeper.NewModuleMetrics()
	m.ScansTotal.Inc()
	m.ScanDuration.Record(20 * time.Millisecond)

	out := keeper.NewPrometheusExporter(m, "").Render()
	require.Contains(t, out, "sybilguard_sybil_scans_total 1\n")
	require.Contains(t, out, `sybilguard_sybil_scan_seconds{quantile="0.99"}`)
	require.Contains(t, out, "sybilguard_sybil_scan_seconds_count 1\n")
}

func TestModuleMetricsRecordAndReset(t *testing.T) {
	m := keeper.NewModuleMetrics()
	m.RecordScan(types.ScanReport{
		Height:        12,
		Forced:        true,
		ProfilesBuilt: 7,
		Candidates:    map[types.DetectorName]int{types.DetectorTemporal: 2, types.DetectorNetwork: 1},
		Detections: []types.ClusterDetectionResult{
			{Severity: types.SeverityHigh},
			{Severity: types.SeverityLow},
		},
	}, 5*time.Millisecond)

	summary := types.NewApplySummary()
	summary.Applied = 3
	summary.JailedCount = 3
	m.RecordPenalties(summary, time.Millisecond)

	snap := m.Snapshot(12, genesisTime)
	require.Equal(t, int64(1), snap.ScansTotal)
	require.Equal(t, int64(1), snap.ScansForced)
	require.Equal(t, int64(3), snap.CandidatesTotal)
	require.Equal(t, int64(2), snap.DetectionsTotal)
	require.Equal(t, int64(1), snap.DetectionsHigh)
	require.Equal(t, int64(1), snap.DetectionsLow)
	require.Equal(t, int64(3), snap.PenaltiesApplied)
	require.Equal(t, int64(3), snap.ValidatorsJailed)
	require.NotNil(t, snap.ScanMs)
	require.Equal(t, int64(1), snap.ScanMs.Count)
	require.Equal(t, genesisTime.Format(time.RFC3339), snap.Timestamp)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"detections_high":1`)

	m.Reset()
	snap = m.Snapshot(13, genesisTime)
	require.Zero(t, snap.ScansTotal)
	require.Zero(t, snap.PenaltiesApplied)
	require.Nil(t, snap.ScanMs)
}

func TestAuditChainAcrossScan(t *testing.T) {
	f := setupKeeper(t)
	seedCoordinatedCluster(t, f)
	_, err := f.keeper.ScanForSybilAttacks(f.ctx, false)
	require.NoError(t, err)

	audit := f.keeper.AuditLogger()
	require.NoError(t, audit.VerifyChain())

	detections := audit.GetRecordsByCategory(keeper.AuditCategoryDetection)
	require.Len(t, detections, 1)
	require.Equal(t, keeper.AuditSeverityCritical, detections[0].Severity)
	require.Equal(t, int64(100), detections[0].BlockHeight)

	penalties := audit.GetRecordsByCategory(keeper.AuditCategoryPenalty)
	require.Len(t, penalties, 5)
	require.Equal(t, "penalty_applied", penalties[0].Action)

	records := audit.GetRecords()
	require.Equal(t, uint64(len(records)), audit.TotalEmitted())
	require.Equal(t, records[len(records)-1].RecordHash, audit.LastHash())

	raw, err := audit.ExportJSON()
	require.NoError(t, err)
	var decoded []keeper.AuditRecord
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, len(records))
}

func TestAuditLoggerRingBufferKeepsOrder(t *testing.T) {
	audit := keeper.NewAuditLogger(3)
	for i := 1; i <= 5; i++ {
		audit.Record(context.Background(), keeper.AuditCategoryScan, keeper.AuditSeverityInfo,
			fmt.Sprintf("step-%d", i), "system", nil)
	}

	records := audit.GetRecords()
	require.Len(t, records, 3)
	require.Equal(t, []uint64{3, 4, 5}, []uint64{records[0].Sequence, records[1].Sequence, records[2].Sequence})
	require.Equal(t, uint64(5), audit.TotalEmitted())
	require.NoError(t, audit.VerifyChain())
}

func TestAuditVerifyChainDetectsTampering(t *testing.T) {
	audit := keeper.NewAuditLogger(10)
	first := audit.Record(context.Background(), keeper.AuditCategoryRelease, keeper.AuditSeverityInfo, "a", "system", map[string]string{"k": "v"})
	second := audit.Record(context.Background(), keeper.AuditCategoryRelease, keeper.AuditSeverityInfo, "b", "system", nil)
	require.Equal(t, first.RecordHash, second.PreviousHash)
	require.Equal(t, "genesis", first.PreviousHash)
	require.NoError(t, audit.VerifyChain())
}
