package keeper_test

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/aethelred/sybilguard/x/sybil/keeper"
	"github.com/aethelred/sybilguard/x/sybil/penalty"
	"github.com/aethelred/sybilguard/x/sybil/types"
)

// actionsFor plans the actions of a hand-built cluster. The cluster id is
// salted with the tier so that it differs from mediumActions over the same
// members.
func actionsFor(sev types.Severity, members ...string) []types.PenaltyAction {
	result := types.ClusterDetectionResult{
		ClusterID:        types.ClusterIDFor(append([]string{sev.String()}, members...)),
		Validators:       members,
		Severity:         sev,
		DetectionVectors: map[types.DetectorName]float64{types.DetectorTemporal: 1, types.DetectorEconomic: 1},
	}
	return penalty.ProcessDetection(result, nil)
}

func TestJailExpiresAfterWindow(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}

	summary := f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))
	require.Equal(t, 3, summary.Applied)
	require.Equal(t, 3, summary.JailedCount)
	require.Zero(t, summary.Failed)
	require.Equal(t, int64(600), summary.TotalSlashed.Int64())

	require.True(t, f.keeper.IsValidatorJailed(f.at(genesisTime.Add(23*time.Hour)), "c-0"))

	require.False(t, f.keeper.IsValidatorJailed(f.at(genesisTime.Add(25*time.Hour)), "c-0"))
	_, ok := f.keeper.JailedUntil(f.ctx, "c-0")
	require.False(t, ok, "expired jail must be purged on read")
	require.False(t, f.validators.IsJailed(f.at(genesisTime.Add(25*time.Hour)), "c-0"))

	// Monitoring outlives the jail.
	require.Equal(t, types.StateMonitored, f.keeper.GetValidatorState(f.at(genesisTime.Add(25*time.Hour)), "c-0"))
	require.Equal(t, types.StateJailed, f.keeper.GetValidatorState(f.ctx, "c-1"))
}

func TestCheckAndReleaseJailed(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))

	released, err := f.keeper.CheckAndReleaseJailed(f.at(genesisTime.Add(time.Hour)))
	require.NoError(t, err)
	require.Empty(t, released)

	released, err = f.keeper.CheckAndReleaseJailed(f.at(genesisTime.Add(24 * time.Hour)))
	require.NoError(t, err)
	require.Equal(t, []string{"c-0", "c-1", "c-2"}, released)
	require.Equal(t, int64(3), f.keeper.Metrics().Releases.Get())
	require.Len(t, f.keeper.AuditLogger().GetRecordsByCategory(keeper.AuditCategoryRelease), 3)
}

func TestApplyPenaltiesIsIdempotent(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	actions := mediumActions("c-0", "c-1", "c-2")

	first := f.keeper.ApplyPenalties(f.ctx, actions)
	require.Equal(t, 3, first.Applied)

	second := f.keeper.ApplyPenalties(f.ctx, actions)
	require.Zero(t, second.Applied)
	require.Equal(t, 3, second.Skipped)
	require.True(t, second.TotalSlashed.IsZero())

	stake, err := f.validators.GetStake(f.ctx, "c-0")
	require.NoError(t, err)
	require.Equal(t, int64(800), stake.Int64())
	require.Len(t, f.validators.GetSlashingRecords(f.ctx, "c-0"), 2) // slash + jail
}

func TestJailIsNeverShortened(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2", "c-3"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}

	high := f.keeper.ApplyPenalties(f.ctx, actionsFor(types.SeverityHigh, "c-0", "c-1", "c-2"))
	require.Equal(t, 3, high.Applied)
	until, ok := f.keeper.JailedUntil(f.ctx, "c-0")
	require.True(t, ok)
	require.Equal(t, genesisTime.Add(48*time.Hour).Unix(), until)

	medium := f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-3"))
	require.Equal(t, 3, medium.Applied)

	until, _ = f.keeper.JailedUntil(f.ctx, "c-0")
	require.Equal(t, genesisTime.Add(48*time.Hour).Unix(), until)
	until, _ = f.keeper.JailedUntil(f.ctx, "c-3")
	require.Equal(t, genesisTime.Add(24*time.Hour).Unix(), until)

	action, found := f.keeper.GetPenalty(f.ctx, types.ClusterIDFor([]string{"c-0", "c-1", "c-3"}), "c-0")
	require.True(t, found)
	require.Equal(t, genesisTime.Add(48*time.Hour).Unix(), action.JailUntilUnix)
}

func TestApplyPenaltiesReportsFailuresWithoutAborting(t *testing.T) {
	f := setupKeeper(t)
	f.register(t, "c-0", 1_000, genesisTime.Unix()-86400, "")
	f.register(t, "c-1", 1_000, genesisTime.Unix()-86400, "")

	actions := mediumActions("c-0", "c-1", "ghost")
	bogus := actions[0]
	bogus.ClusterID = "sybil-bogus"
	bogus.Type = "bogus"
	actions = append(actions, bogus)

	summary := f.keeper.ApplyPenalties(f.ctx, actions)
	require.Equal(t, 2, summary.Applied)
	require.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Failures, 2)
	require.Equal(t, "ghost", summary.Failures[0].ValidatorID)
	require.Contains(t, summary.Failures[0].Reason, types.ErrValidatorNotFound.Error())
	require.Contains(t, summary.Failures[1].Reason, types.ErrInvalidPenalty.Error())

	require.True(t, hasEvent(f.ctx, types.EventTypePenaltyFailed))
	stats := f.keeper.GetStats(f.ctx)
	require.Equal(t, uint64(2), stats.TotalPenalties)
	require.Equal(t, uint64(2), stats.FailedPenalties)
	require.Equal(t, int64(2), f.keeper.Metrics().PenaltiesFailed.Get())
}

func TestLedgerTimeoutFailsActionAndRetrySucceeds(t *testing.T) {
	ledger := newFakeLedger("t-0")
	ledger.blockSlash = true
	k, ctx := setupWithLedger(t, ledger, nil)

	params := types.DefaultParams()
	params.LedgerTimeoutMs = 20
	require.NoError(t, k.SetParams(ctx, params))

	actions := actionsFor(types.SeverityHigh, "t-0")
	summary := k.ApplyPenalties(ctx, actions)
	require.Equal(t, 1, summary.Failed)
	require.Contains(t, summary.Failures[0].Reason, types.ErrLedgerTimeout.Error())
	require.Equal(t, int64(1), k.Metrics().LedgerTimeouts.Get())
	require.False(t, k.IsValidatorJailed(ctx, "t-0"))

	ledger.mu.Lock()
	ledger.blockSlash = false
	ledger.mu.Unlock()

	summary = k.ApplyPenalties(ctx, actions)
	require.Equal(t, 1, summary.Applied)
	require.Equal(t, 1, ledger.slashes("t-0"))
	require.True(t, k.IsValidatorJailed(ctx, "t-0"))
}

func TestLateLedgerSuccessCountsAsApplied(t *testing.T) {
	ledger := newFakeLedger("late-0")
	ledger.slashDelay = 50 * time.Millisecond
	k, ctx := setupWithLedger(t, ledger, nil)

	params := types.DefaultParams()
	params.LedgerTimeoutMs = 10
	require.NoError(t, k.SetParams(ctx, params))

	summary := k.ApplyPenalties(ctx, actionsFor(types.SeverityHigh, "late-0"))
	require.Equal(t, 1, summary.Applied)
	require.Zero(t, summary.Failed)
	require.Equal(t, 1, ledger.slashes("late-0"))
	require.Zero(t, k.Metrics().LedgerTimeouts.Get())
}

func TestPartialFailureResumesWithoutReslashing(t *testing.T) {
	ledger := newFakeLedger("x", "y", "z")
	ledger.jailErr = errors.New("ledger busy")
	k, ctx := setupWithLedger(t, ledger, nil)

	actions := mediumActions("x", "y", "z")
	summary := k.ApplyPenalties(ctx, actions)
	require.Equal(t, 3, summary.Failed)
	for _, id := range []string{"x", "y", "z"} {
		require.Equal(t, 1, ledger.slashes(id))
		stored, found := k.GetPenalty(ctx, actions[0].ClusterID, id)
		require.True(t, found)
		require.True(t, stored.SlashApplied)
		require.False(t, stored.Applied)
		require.Equal(t, int64(200), stored.SlashedAmount.Int64())
	}

	ledger.mu.Lock()
	ledger.jailErr = nil
	ledger.mu.Unlock()

	summary = k.ApplyPenalties(ctx, actions)
	require.Equal(t, 3, summary.Applied)
	require.True(t, summary.TotalSlashed.IsZero())
	for _, id := range []string{"x", "y", "z"} {
		require.Equal(t, 1, ledger.slashes(id), "slash must not repeat on retry")
		stored, _ := k.GetPenalty(ctx, actions[0].ClusterID, id)
		require.True(t, stored.Applied)
		require.Equal(t, int64(200), stored.SlashedAmount.Int64())
	}
}

func TestLowSeverityReducesVotingWeight(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"l-0", "l-1", "l-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}

	summary := f.keeper.ApplyPenalties(f.ctx, actionsFor(types.SeverityLow, "l-0", "l-1", "l-2"))
	require.Equal(t, 3, summary.Applied)
	require.True(t, summary.TotalSlashed.IsZero())

	factor, ok := f.keeper.GetVotingWeight(f.ctx, "l-0")
	require.True(t, ok)
	require.True(t, factor.Equal(sdkmath.LegacyNewDecWithPrec(5, 1)))
	ledgerWeight, err := f.validators.GetVotingWeight(f.ctx, "l-0")
	require.NoError(t, err)
	require.True(t, ledgerWeight.Equal(sdkmath.LegacyNewDecWithPrec(5, 1)))
	require.True(t, f.keeper.IsMonitored(f.ctx, "l-0"))
	require.False(t, f.keeper.IsValidatorJailed(f.ctx, "l-0"))

	risk, err := f.keeper.GetValidatorRiskScore(f.ctx, "l-0")
	require.NoError(t, err)
	require.InDelta(t, 0.5, risk.Score, 1e-9)
	require.Equal(t, types.SeverityMedium, risk.Level)
	require.Equal(t, types.StateMonitored, risk.State)
	require.Equal(t, 1, risk.ActivePenalties)
	require.Len(t, risk.Factors, 3)
}

func TestRiskScoreByState(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2", "b-0", "b-1", "b-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))
	f.keeper.ApplyPenalties(f.ctx, actionsFor(types.SeverityCritical, "b-0", "b-1", "b-2"))

	jailed, err := f.keeper.GetValidatorRiskScore(f.ctx, "c-0")
	require.NoError(t, err)
	require.Equal(t, types.StateJailed, jailed.State)
	require.InDelta(t, 1.0, jailed.Score, 1e-9) // jail + monitoring + one penalty
	require.Equal(t, types.SeverityCritical, jailed.Level)

	afterJail, err := f.keeper.GetValidatorRiskScore(f.at(genesisTime.Add(30*time.Hour)), "c-0")
	require.NoError(t, err)
	require.Equal(t, types.StateMonitored, afterJail.State)
	require.InDelta(t, 0.4, afterJail.Score, 1e-9)

	banned, err := f.keeper.GetValidatorRiskScore(f.ctx, "b-0")
	require.NoError(t, err)
	require.Equal(t, types.StateBanned, banned.State)
	require.Equal(t, 1.0, banned.Score)
	require.Equal(t, types.SeverityCritical, banned.Level)

	clean, err := f.keeper.GetValidatorRiskScore(f.ctx, "unknown")
	require.NoError(t, err)
	require.Equal(t, types.StateActive, clean.State)
	require.Zero(t, clean.Score)
	require.Empty(t, clean.Factors)
}

func TestBannedValidatorsAreSkipped(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"b-0", "b-1", "b-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	first := f.keeper.ApplyPenalties(f.ctx, actionsFor(types.SeverityCritical, "b-0", "b-1", "b-2"))
	require.Equal(t, 3, first.BannedCount)

	// A different cluster naming a banned validator does not touch it again.
	again := f.keeper.ApplyPenalties(f.ctx, mediumActions("b-0", "b-1", "b-2"))
	require.Equal(t, 3, again.Skipped)
	require.Zero(t, again.Failed)
	_, jailed := f.keeper.JailedUntil(f.ctx, "b-0")
	require.False(t, jailed)
	require.False(t, f.keeper.IsMonitored(f.ctx, "b-0"))
}

func TestReleaseValidator(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2", "b-0", "b-1", "b-2"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))
	f.keeper.ApplyPenalties(f.ctx, actionsFor(types.SeverityCritical, "b-0", "b-1", "b-2"))

	require.NoError(t, f.keeper.ReleaseValidator(f.ctx, "c-0", testAuthority, "false positive"))
	require.False(t, f.keeper.IsValidatorJailed(f.ctx, "c-0"))
	require.False(t, f.keeper.IsMonitored(f.ctx, "c-0"))
	require.False(t, f.validators.IsJailed(f.ctx, "c-0"))
	require.True(t, hasEvent(f.ctx, types.EventTypeValidatorReleased))

	err := f.keeper.ReleaseValidator(f.ctx, "c-0", testAuthority, "again")
	require.ErrorIs(t, err, types.ErrNotPenalized)

	err = f.keeper.ReleaseValidator(f.ctx, "b-0", testAuthority, "appeal")
	require.ErrorIs(t, err, types.ErrValidatorBanned)
	require.True(t, f.keeper.IsBanned(f.ctx, "b-0"))

	// Monitoring alone can be lifted after the jail has run out.
	later := f.at(genesisTime.Add(25 * time.Hour))
	require.False(t, f.keeper.IsValidatorJailed(later, "c-1"))
	require.NoError(t, f.keeper.ReleaseValidator(later, "c-1", testAuthority, "reviewed"))
	require.Equal(t, types.StateActive, f.keeper.GetValidatorState(later, "c-1"))
}

func TestGetPenaltiesFiltersAndOrders(t *testing.T) {
	f := setupKeeper(t)
	for _, id := range []string{"c-0", "c-1", "c-2", "c-3"} {
		f.register(t, id, 1_000, genesisTime.Unix()-86400, "")
	}
	f.keeper.ApplyPenalties(f.ctx, mediumActions("c-0", "c-1", "c-2"))
	f.keeper.ApplyPenalties(f.ctx, actionsFor(types.SeverityLow, "c-0", "c-1", "c-3"))

	all, err := f.keeper.GetPenalties(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		require.True(t, prev.ClusterID < cur.ClusterID ||
			(prev.ClusterID == cur.ClusterID && prev.ValidatorID < cur.ValidatorID))
	}

	mine, err := f.keeper.GetPenalties(f.ctx, "c-0")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	for _, p := range mine {
		require.Equal(t, "c-0", p.ValidatorID)
		require.Equal(t, penalty.ActionID(p.ClusterID, "c-0"), p.ID)
	}
}
