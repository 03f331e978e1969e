package keeper_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/runtime"
	sdk "github.com/cosmos/cosmos-sdk/types"
	govv1 "github.com/cosmos/cosmos-sdk/x/gov/types/v1"
	"github.com/stretchr/testify/require"

	"github.com/aethelred/sybilguard/internal/memstore"
	"github.com/aethelred/sybilguard/x/sybil/keeper"
	"github.com/aethelred/sybilguard/x/sybil/penalty"
	"github.com/aethelred/sybilguard/x/sybil/telemetry"
	"github.com/aethelred/sybilguard/x/sybil/types"
	valkeeper "github.com/aethelred/sybilguard/x/validator/keeper"
	valtypes "github.com/aethelred/sybilguard/x/validator/types"
)

const (
	testAuthority = "sybil-authority"
	testChainID   = "sybil-test-1"
)

var genesisTime = time.Unix(1_770_000_000, 0).UTC()

// fixture wires the sybil keeper to a real validator ledger over one
// in-memory multistore.
type fixture struct {
	ctx        sdk.Context
	keeper     keeper.Keeper
	validators valkeeper.Keeper
	gov        *keeper.GovVoteLedger
	net        *telemetry.Collector
}

func setupKeeper(t *testing.T) fixture {
	t.Helper()

	sybilKey := storetypes.NewKVStoreKey(types.StoreKey)
	valKey := storetypes.NewKVStoreKey(valtypes.StoreKey)
	ctx, err := memstore.NewContext(testChainID, 100, genesisTime, sybilKey, valKey)
	require.NoError(t, err)

	vk := valkeeper.NewKeeper(runtime.NewKVStoreService(valKey), log.NewNopLogger(), testAuthority)
	gov := keeper.NewGovVoteLedger()
	net := telemetry.NewCollector("test-salt", telemetry.DefaultMaxBlocks)

	k := keeper.NewKeeper(runtime.NewKVStoreService(sybilKey), log.NewNopLogger(), testAuthority, vk, vk.SybilRegistry(), gov)
	k.SetTelemetrySource(net)
	k.SetFundingTracer(vk.SybilRegistry())

	return fixture{ctx: ctx, keeper: k, validators: vk, gov: gov, net: net}
}

// register adds a validator activated at the given unix time.
func (f fixture) register(t *testing.T, id string, stake int64, activation int64, region types.SpectralRegion) {
	t.Helper()
	rec := valtypes.NewValidatorRecord(id, "addr-"+id, sdkmath.NewInt(stake), activation)
	rec.SpectralRegion = string(region)
	require.NoError(t, f.validators.RegisterValidator(f.ctx, rec))
}

// fund records the transfer that funded the validator's operator address.
func (f fixture) fund(t *testing.T, id, funder string, unix int64) {
	t.Helper()
	require.NoError(t, f.validators.RecordFunding(f.ctx, valtypes.FundingEdge{
		From:   funder,
		To:     "addr-" + id,
		Amount: sdkmath.NewInt(1_000),
		Unix:   unix,
	}))
}

// vote casts an alternating yes/no pattern over proposals [0, n) through the
// gov adapter, keyed by operator address.
func (f fixture) vote(id string, n int) {
	for j := 0; j < n; j++ {
		option := govv1.OptionYes
		if j%2 == 1 {
			option = govv1.OptionNo
		}
		f.gov.RecordGovVote(govv1.Vote{
			ProposalId: uint64(j + 1),
			Voter:      "addr-" + id,
			Options:    govv1.NewNonSplitVoteOption(option),
		}, genesisTime.Unix())
	}
}

// at returns the fixture context moved to blockTime.
func (f fixture) at(blockTime time.Time) sdk.Context {
	return f.ctx.WithBlockTime(blockTime)
}

// seedCoordinatedCluster registers five validators, one per spectral region,
// within ten minutes of each other, funded by one source and voting in
// lockstep, plus four unrelated honest validators.
func seedCoordinatedCluster(t *testing.T, f fixture) []string {
	t.Helper()
	base := genesisTime.Add(-24 * time.Hour).Unix()

	var sybils []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("sybil-%d", i)
		f.register(t, id, 10_000, base+int64(i*120), types.AllSpectralRegions[i])
		f.fund(t, id, "funder", base)
		f.vote(id, 6)
		sybils = append(sybils, id)
	}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("honest-%d", i)
		f.register(t, id, 10_000, base-int64((i+1)*30*86400), "")
		f.fund(t, id, fmt.Sprintf("own-%d", i), base-int64((i+1)*30*86400))
	}
	return sybils
}

// mediumActions plans the MEDIUM tier actions (20% slash, 24h jail,
// monitoring) for a hand-built cluster.
func mediumActions(members ...string) []types.PenaltyAction {
	result := types.ClusterDetectionResult{
		ClusterID:        types.ClusterIDFor(members),
		Validators:       members,
		Severity:         types.SeverityMedium,
		ConfidenceScore:  0.4,
		DetectionVectors: map[types.DetectorName]float64{types.DetectorTemporal: 1, types.DetectorBehavioral: 1},
	}
	stakes := make(map[string]sdkmath.Int, len(members))
	for _, m := range members {
		stakes[m] = sdkmath.NewInt(1_000)
	}
	return penalty.ProcessDetection(result, stakes)
}

// fakeLedger is a scriptable StakeLedger.
type fakeLedger struct {
	mu sync.Mutex

	known      map[string]bool
	slashCalls map[string]int
	jailErr    error
	blockSlash bool
	slashDelay time.Duration
}

func newFakeLedger(ids ...string) *fakeLedger {
	l := &fakeLedger{known: make(map[string]bool), slashCalls: make(map[string]int)}
	for _, id := range ids {
		l.known[id] = true
	}
	return l
}

func (l *fakeLedger) HasValidator(_ context.Context, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.known[id]
}

func (l *fakeLedger) GetStake(context.Context, string) (sdkmath.Int, error) {
	return sdkmath.NewInt(1_000), nil
}

func (l *fakeLedger) Slash(ctx context.Context, id string, fraction sdkmath.LegacyDec, _ string) (sdkmath.Int, error) {
	l.mu.Lock()
	block, delay := l.blockSlash, l.slashDelay
	l.mu.Unlock()
	time.Sleep(delay)
	if block {
		<-ctx.Done()
		return sdkmath.ZeroInt(), ctx.Err()
	}
	l.mu.Lock()
	l.slashCalls[id]++
	l.mu.Unlock()
	return fraction.MulInt(sdkmath.NewInt(1_000)).TruncateInt(), nil
}

func (l *fakeLedger) Jail(context.Context, string, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jailErr
}

func (l *fakeLedger) Unjail(context.Context, string) error { return nil }

func (l *fakeLedger) Tombstone(context.Context, string, string) error { return nil }

func (l *fakeLedger) ReduceVotingWeight(context.Context, string, sdkmath.LegacyDec) error {
	return nil
}

func (l *fakeLedger) slashes(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slashCalls[id]
}

// setupWithLedger builds a keeper over a fake ledger and no registry.
func setupWithLedger(t *testing.T, ledger keeper.StakeLedger, registry keeper.ValidatorRegistry) (keeper.Keeper, sdk.Context) {
	t.Helper()
	key := storetypes.NewKVStoreKey(types.StoreKey)
	ctx, err := memstore.NewContext(testChainID, 100, genesisTime, key)
	require.NoError(t, err)
	k := keeper.NewKeeper(runtime.NewKVStoreService(key), log.NewNopLogger(), testAuthority, ledger, registry, nil)
	return k, ctx
}

type failingRegistry struct{}

func (failingRegistry) ListValidators(context.Context) ([]types.RegistryEntry, error) {
	return nil, errors.New("registry offline")
}

// slowRegistry answers after delay without looking at ctx.
type slowRegistry struct {
	entries []types.RegistryEntry
	delay   time.Duration
}

func (r slowRegistry) ListValidators(context.Context) ([]types.RegistryEntry, error) {
	time.Sleep(r.delay)
	return r.entries, nil
}

type staticRegistry []types.RegistryEntry

func (r staticRegistry) ListValidators(context.Context) ([]types.RegistryEntry, error) {
	return r, nil
}

func TestParamsDefaultAndUpdate(t *testing.T) {
	f := setupKeeper(t)

	require.Equal(t, types.DefaultParams(), f.keeper.GetParams(f.ctx))

	params := types.DefaultParams()
	params.ScanIntervalSeconds = 60
	params.MergeStrategy = types.MergeGreedy
	require.NoError(t, f.keeper.SetParams(f.ctx, params))
	require.Equal(t, params, f.keeper.GetParams(f.ctx))

	params.MinClusterSize = 1
	err := f.keeper.SetParams(f.ctx, params)
	require.ErrorIs(t, err, types.ErrInvalidParams)
	require.Equal(t, int64(60), f.keeper.GetParams(f.ctx).ScanIntervalSeconds)
}

func TestStatsStartZeroed(t *testing.T) {
	f := setupKeeper(t)

	stats := f.keeper.GetStats(f.ctx)
	require.Zero(t, stats.TotalScans)
	require.NotNil(t, stats.DetectionsBySev)
	require.True(t, stats.TotalSlashed.IsZero())
	require.Nil(t, f.keeper.LastScanReport())
	require.Equal(t, testAuthority, f.keeper.GetAuthority())
}

func TestBuildProfilesAssemblesCollaboratorData(t *testing.T) {
	f := setupKeeper(t)
	base := genesisTime.Add(-time.Hour).Unix()

	f.register(t, "val-a", 5_000, base, types.RegionGamma)
	f.fund(t, "val-a", "treasury", base-10)
	f.vote("val-a", 3)
	require.NoError(t, f.net.ObserveConnection("val-a", "198.51.100.7", "ExampleNet", []string{"val-b"}))
	f.net.ObserveBlock("val-a", "b1", 1_000)
	f.net.ObserveBlock("val-a", "b2", 3_000)

	// Funded only through a delegation: the earliest delegator is the source.
	f.register(t, "val-b", 5_000, base, "")
	require.NoError(t, f.validators.Delegate(f.ctx, "val-b", "whale", sdkmath.NewInt(100)))

	profiles, skipped, err := f.keeper.BuildProfiles(f.ctx, types.DefaultParams())
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, profiles, 2)

	a := profiles[0]
	require.Equal(t, "val-a", a.ValidatorID)
	require.Equal(t, types.RegionGamma, a.SpectralRegion)
	require.Equal(t, "treasury", a.FundingSource)
	require.Equal(t, base-10, a.FundingTimestamp)
	require.Len(t, a.VotesCast, 3)
	require.Equal(t, "1", a.VotesCast[0].ProposalID)
	require.Equal(t, types.VoteApprove, a.VotesCast[0].Choice)
	require.Equal(t, types.VoteReject, a.VotesCast[1].Choice)
	require.NotEmpty(t, a.IPHash)
	require.Equal(t, telemetry.HashISP([]byte("test-salt"), "ExampleNet"), a.ISPHash)
	require.Equal(t, []string{"val-b"}, a.ConnectedPeers)
	require.Equal(t, []float64{2000}, a.BlockTimingSignature)

	b := profiles[1]
	require.Equal(t, "whale", b.FundingSource)
	require.Equal(t, genesisTime.Unix(), b.FundingTimestamp)
	require.Empty(t, b.VotesCast)
}

func TestBuildProfilesSkipsUnusableEntries(t *testing.T) {
	registry := staticRegistry{
		{ValidatorID: "ok", Stake: sdkmath.NewInt(10), ActivationUnix: 1},
		{ValidatorID: "", Stake: sdkmath.NewInt(10)},
		{ValidatorID: "no-stake"},
		{ValidatorID: "bad-region", Stake: sdkmath.NewInt(10), SpectralRegion: "ultrasonic"},
		{ValidatorID: "negative", Stake: sdkmath.NewInt(10), ActivationUnix: -5},
		{ValidatorID: "ok", Stake: sdkmath.NewInt(10), ActivationUnix: 1},
	}
	k, ctx := setupWithLedger(t, newFakeLedger(), registry)

	profiles, skipped, err := k.BuildProfiles(ctx, types.DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 5, skipped)
	require.Len(t, profiles, 1)
	require.Equal(t, "ok", profiles[0].ValidatorID)
}

func TestBuildProfilesFailsClosedOnRegistryError(t *testing.T) {
	k, ctx := setupWithLedger(t, newFakeLedger(), failingRegistry{})

	_, _, err := k.BuildProfiles(ctx, types.DefaultParams())
	require.ErrorIs(t, err, types.ErrProfileFetch)

	k, ctx = setupWithLedger(t, newFakeLedger(), nil)
	_, _, err = k.BuildProfiles(ctx, types.DefaultParams())
	require.ErrorIs(t, err, types.ErrProfileFetch)
}

func TestBuildProfilesDiscardsLateRegistryAnswer(t *testing.T) {
	k, ctx := setupWithLedger(t, newFakeLedger(), slowRegistry{entries: registryOf(3), delay: 50 * time.Millisecond})
	params := types.DefaultParams()
	params.ProfileFetchTimeoutMs = 10

	_, _, err := k.BuildProfiles(ctx, params)
	require.ErrorIs(t, err, types.ErrProfileFetch)
	require.ErrorContains(t, err, context.DeadlineExceeded.Error())
}

func TestTimingDeltasSortsBlocks(t *testing.T) {
	require.Nil(t, keeper.TimingDeltas(nil))
	require.Nil(t, keeper.TimingDeltas([]types.BlockRecord{{TimestampMs: 5}}))

	got := keeper.TimingDeltas([]types.BlockRecord{
		{BlockID: "c", TimestampMs: 3_500},
		{BlockID: "a", TimestampMs: 1_000},
		{BlockID: "b", TimestampMs: 2_000},
	})
	require.Equal(t, []float64{1000, 1500}, got)
}
