package keeper_test

import (
	"fmt"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

func registryOf(n int) staticRegistry {
	out := make(staticRegistry, n)
	for i := range out {
		out[i] = types.RegistryEntry{
			ValidatorID:    fmt.Sprintf("val-%03d", i),
			Stake:          sdkmath.NewInt(100),
			ActivationUnix: int64(1_000 + i*86400),
		}
	}
	return out
}

func TestHealthStatusThresholds(t *testing.T) {
	cases := []struct {
		flagged int
		want    types.HealthStatus
	}{
		{0, types.HealthHealthy},
		{4, types.HealthHealthy},
		{5, types.HealthCaution},
		{14, types.HealthCaution},
		{15, types.HealthWarning},
		{32, types.HealthWarning},
		{33, types.HealthCritical},
		{100, types.HealthCritical},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_flagged", tc.flagged), func(t *testing.T) {
			k, ctx := setupWithLedger(t, newFakeLedger(), registryOf(100))
			for i := 0; i < tc.flagged; i++ {
				require.NoError(t, k.Monitored.Set(ctx, fmt.Sprintf("val-%03d", i)))
			}

			report, err := k.GetSystemHealthReport(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.want, report.Status)
			require.Equal(t, 100, report.TotalValidators)
			require.Equal(t, tc.flagged, report.FlaggedValidators)
			require.Equal(t, tc.flagged, report.MonitoredValidators)
			require.InDelta(t, float64(tc.flagged)/100, report.FlaggedFraction, 1e-9)
			require.InDelta(t, 1-float64(tc.flagged)/100, report.Score, 1e-9)
		})
	}
}

func TestHealthCountsEachValidatorOnce(t *testing.T) {
	k, ctx := setupWithLedger(t, newFakeLedger(), registryOf(10))

	require.NoError(t, k.Monitored.Set(ctx, "val-000"))
	require.NoError(t, k.JailUntil.Set(ctx, "val-000", genesisTime.Unix()+3600))
	require.NoError(t, k.Banned.Set(ctx, "val-001"))
	// An expired jail no longer flags.
	require.NoError(t, k.JailUntil.Set(ctx, "val-002", genesisTime.Unix()-1))

	report, err := k.GetSystemHealthReport(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.FlaggedValidators)
	require.Equal(t, 1, report.BannedValidators)
	require.Equal(t, 1, report.JailedValidators)
	require.Equal(t, 1, report.MonitoredValidators)
	require.Equal(t, types.HealthWarning, report.Status)
}

func TestHealthAfterCoordinatedClusterScan(t *testing.T) {
	f := setupKeeper(t)
	seedCoordinatedCluster(t, f)

	before, err := f.keeper.GetSystemHealthReport(f.ctx)
	require.NoError(t, err)
	require.Equal(t, types.HealthHealthy, before.Status)
	require.Equal(t, 9, before.TotalValidators)
	require.Zero(t, before.LastScanUnix)

	_, err = f.keeper.ScanForSybilAttacks(f.ctx, false)
	require.NoError(t, err)

	report, err := f.keeper.GetSystemHealthReport(f.ctx)
	require.NoError(t, err)
	require.Equal(t, types.HealthCritical, report.Status)
	require.Equal(t, 5, report.BannedValidators)
	require.Equal(t, 5, report.FlaggedValidators)
	require.Equal(t, uint64(1), report.TotalScans)
	require.Equal(t, uint64(1), report.TotalDetections)
	require.Equal(t, uint64(5), report.TotalPenalties)
	require.Equal(t, int64(1), report.DetectionsBySev["CRITICAL"])
	require.Equal(t, int64(25_000), report.TotalSlashed.Int64())
	require.Equal(t, genesisTime.Unix(), report.LastScanUnix)
	require.Empty(t, report.LastScanError)
}

func TestHealthFallsBackToLastScanCount(t *testing.T) {
	k, ctx := setupWithLedger(t, newFakeLedger(), failingRegistry{})

	report, err := k.GetSystemHealthReport(ctx)
	require.NoError(t, err)
	require.Zero(t, report.TotalValidators)
	require.Zero(t, report.FlaggedFraction)
	require.Equal(t, types.HealthHealthy, report.Status)
}
