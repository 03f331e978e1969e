package keeper_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aethelred/sybilguard/x/sybil/keeper"
	"github.com/aethelred/sybilguard/x/sybil/types"
)

func TestMsgScanRequiresAuthority(t *testing.T) {
	f := setupKeeper(t)
	seedCoordinatedCluster(t, f)
	srv := keeper.NewMsgServerImpl(f.keeper)

	_, err := srv.Scan(f.ctx, nil)
	require.Error(t, err)

	_, err = srv.Scan(f.ctx, &types.MsgScan{})
	require.Error(t, err)

	_, err = srv.Scan(f.ctx, &types.MsgScan{Authority: "intruder"})
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.Zero(t, f.keeper.GetStats(f.ctx).TotalScans)

	resp, err := srv.Scan(f.ctx, &types.MsgScan{Authority: testAuthority})
	require.NoError(t, err)
	require.Len(t, resp.Detections, 1)

	// Inside the interval an unforced scan is a no-op with an empty result.
	resp, err = srv.Scan(f.ctx, &types.MsgScan{Authority: testAuthority})
	require.NoError(t, err)
	require.NotNil(t, resp.Detections)
	require.Empty(t, resp.Detections)
}

func TestMsgUpdateParams(t *testing.T) {
	f := setupKeeper(t)
	srv := keeper.NewMsgServerImpl(f.keeper)

	params := types.DefaultParams()
	params.ScanIntervalSeconds = 120
	params.AutoScan = false

	_, err := srv.UpdateParams(f.ctx, &types.MsgUpdateParams{Authority: "intruder", Params: params})
	require.ErrorIs(t, err, types.ErrUnauthorized)

	bad := params
	bad.MinDetectorOverlap = 1
	_, err = srv.UpdateParams(f.ctx, &types.MsgUpdateParams{Authority: testAuthority, Params: bad})
	require.ErrorIs(t, err, types.ErrInvalidParams)

	_, err = srv.UpdateParams(f.ctx, &types.MsgUpdateParams{Authority: testAuthority, Params: params})
	require.NoError(t, err)
	require.Equal(t, params, f.keeper.GetParams(f.ctx))

	records := f.keeper.AuditLogger().GetRecordsByCategory(keeper.AuditCategoryGovernance)
	require.Len(t, records, 1)
	require.Equal(t, "params_updated", records[0].Action)
	require.Equal(t, "3600 -> 120", records[0].Details["changed_scan_interval_seconds"])
	require.Contains(t, records[0].Details, "changed_auto_scan")
	require.NotContains(t, records[0].Details, "changed_temporal_window_seconds")
}

func TestMsgReleaseValidator(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))
	srv := keeper.NewMsgServerImpl(f.keeper)

	_, err := srv.ReleaseValidator(f.ctx, &types.MsgReleaseValidator{Authority: testAuthority, ValidatorID: "c-0"})
	require.Error(t, err, "a reason is required")

	_, err = srv.ReleaseValidator(f.ctx, &types.MsgReleaseValidator{Authority: "intruder", ValidatorID: "c-0", Reason: "x"})
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.True(t, f.keeper.IsValidatorJailed(f.ctx, "c-0"))

	_, err = srv.ReleaseValidator(f.ctx, &types.MsgReleaseValidator{Authority: testAuthority, ValidatorID: "c-0", Reason: "appeal upheld"})
	require.NoError(t, err)
	require.False(t, f.keeper.IsValidatorJailed(f.ctx, "c-0"))

	_, err = srv.ReleaseValidator(f.ctx, &types.MsgReleaseValidator{Authority: testAuthority, ValidatorID: "c-0", Reason: "again"})
	require.ErrorIs(t, err, types.ErrNotPenalized)
}

func TestQueryServer(t *testing.T) {
	f := setupKeeper(t)
	sybils := seedCoordinatedCluster(t, f)
	_, err := f.keeper.ScanForSybilAttacks(f.ctx, false)
	require.NoError(t, err)
	q := keeper.NewQueryServerImpl(f.keeper)

	_, err = q.RiskScore(f.ctx, nil)
	require.Error(t, err)
	_, err = q.RiskScore(f.ctx, &types.QueryRiskScoreRequest{ValidatorID: "  "})
	require.Error(t, err)

	risk, err := q.RiskScore(f.ctx, &types.QueryRiskScoreRequest{ValidatorID: sybils[0]})
	require.NoError(t, err)
	require.Equal(t, types.StateBanned, risk.Risk.State)
	require.Equal(t, 1.0, risk.Risk.Score)

	health, err := q.HealthReport(f.ctx, &types.QueryHealthReportRequest{})
	require.NoError(t, err)
	require.Equal(t, types.HealthCritical, health.Report.Status)

	_, err = q.Detections(f.ctx, &types.QueryDetectionsRequest{Limit: -1})
	require.Error(t, err)
	dets, err := q.Detections(f.ctx, &types.QueryDetectionsRequest{})
	require.NoError(t, err)
	require.Len(t, dets.Detections, 1)

	pens, err := q.Penalties(f.ctx, &types.QueryPenaltiesRequest{ValidatorID: sybils[1]})
	require.NoError(t, err)
	require.Len(t, pens.Penalties, 1)
	require.Equal(t, sybils[1], pens.Penalties[0].ValidatorID)

	none, err := q.Penalties(f.ctx, &types.QueryPenaltiesRequest{ValidatorID: "honest-0"})
	require.NoError(t, err)
	require.NotNil(t, none.Penalties)
	require.Empty(t, none.Penalties)

	params, err := q.Params(f.ctx, &types.QueryParamsRequest{})
	require.NoError(t, err)
	require.Equal(t, types.DefaultParams(), params.Params)
}

func TestEndBlocker(t *testing.T) {
	f := setupKeeper(t)
	seedCoordinatedCluster(t, f)

	require.NoError(t, f.keeper.EndBlocker(f.ctx))
	require.Equal(t, uint64(1), f.keeper.GetStats(f.ctx).TotalScans)
	require.True(t, hasEvent(f.ctx, "sybil_module_metrics"))

	// Next block inside the interval: no new scan.
	next := f.ctx.WithBlockHeight(101).WithBlockTime(genesisTime.Add(5 * time.Second))
	require.NoError(t, f.keeper.EndBlocker(next))
	require.Equal(t, uint64(1), f.keeper.GetStats(f.ctx).TotalScans)
}

func TestEndBlockerReleasesJailsWithoutAutoScan(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	params := types.DefaultParams()
	params.AutoScan = false
	require.NoError(t, f.keeper.SetParams(f.ctx, params))
	f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))

	require.NoError(t, f.keeper.EndBlocker(f.at(genesisTime.Add(48*time.Hour))))
	_, jailed := f.keeper.JailedUntil(f.ctx, "c-0")
	require.False(t, jailed)
	require.Zero(t, f.keeper.GetStats(f.ctx).TotalScans)
}

func TestEndBlockerSwallowsScanFailure(t *testing.T) {
	k, ctx := setupWithLedger(t, newFakeLedger(), failingRegistry{})

	require.NoError(t, k.EndBlocker(ctx))
	require.Equal(t, uint64(1), k.GetStats(ctx).FailedScans)
}
