package keeper_test

import (
	"fmt"
	"testing"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/runtime"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/aethelred/sybilguard/internal/memstore"
	"github.com/aethelred/sybilguard/x/validator/keeper"
	"github.com/aethelred/sybilguard/x/validator/types"
)

var genesisTime = time.Unix(1_770_000_000, 0).UTC()

// createTestKeeper builds a Keeper backed by an in-memory IAVL store.
func createTestKeeper(t *testing.T) (keeper.Keeper, sdk.Context) {
	t.Helper()

	storeKey := storetypes.NewKVStoreKey(types.StoreKey)
	ctx, err := memstore.NewContext("validator-test-1", 100, genesisTime, storeKey)
	require.NoError(t, err)

	k := keeper.NewKeeper(runtime.NewKVStoreService(storeKey), log.NewNopLogger(), "authority")
	return k, ctx
}

func registerValidator(t *testing.T, k keeper.Keeper, ctx sdk.Context, id string, stake int64) {
	t.Helper()
	rec := types.NewValidatorRecord(id, "addr-"+id, sdkmath.NewInt(stake), genesisTime.Unix())
	require.NoError(t, k.RegisterValidator(ctx, rec))
}

func TestRegisterAndFetchValidator(t *testing.T) {
	k, ctx := createTestKeeper(t)
	registerValidator(t, k, ctx, "val-1", 1000)

	rec, err := k.GetValidator(ctx, "val-1")
	require.NoError(t, err)
	require.Equal(t, "addr-val-1", rec.Address)
	require.True(t, rec.VotingWeight.Equal(sdkmath.LegacyOneDec()))
	require.True(t, k.HasValidator(ctx, "val-1"))
	require.False(t, k.HasValidator(ctx, "val-2"))

	events := ctx.EventManager().Events()
	require.NotEmpty(t, events)
	require.Equal(t, "validator_registered", events[0].Type)

	_, err = k.GetValidator(ctx, "missing")
	require.ErrorIs(t, err, types.ErrValidatorNotFound)
}

func TestRegisterValidatorRejectsInvalidAndTombstoned(t *testing.T) {
	k, ctx := createTestKeeper(t)

	err := k.RegisterValidator(ctx, types.NewValidatorRecord("", "addr", sdkmath.NewInt(1), 0))
	require.ErrorIs(t, err, types.ErrInvalidRecord)

	registerValidator(t, k, ctx, "val-1", 1000)
	require.NoError(t, k.Tombstone(ctx, "val-1", "test"))
	err = k.RegisterValidator(ctx, types.NewValidatorRecord("val-1", "addr", sdkmath.NewInt(1), 0))
	require.ErrorIs(t, err, types.ErrTombstoned)
}

func TestRegisterValidatorEnforcesCap(t *testing.T) {
	k, ctx := createTestKeeper(t)
	params := types.DefaultParams()
	params.MaxValidators = 2
	require.NoError(t, k.SetParams(ctx, params))

	registerValidator(t, k, ctx, "val-1", 10)
	registerValidator(t, k, ctx, "val-2", 10)
	err := k.RegisterValidator(ctx, types.NewValidatorRecord("val-3", "addr", sdkmath.NewInt(10), 0))
	require.ErrorIs(t, err, types.ErrValidatorSetFull)

	// Updating an existing validator is not blocked by the cap.
	registerValidator(t, k, ctx, "val-2", 20)
}

func TestDelegateAddsStake(t *testing.T) {
	k, ctx := createTestKeeper(t)
	registerValidator(t, k, ctx, "val-1", 1000)

	require.NoError(t, k.Delegate(ctx, "val-1", "alice", sdkmath.NewInt(250)))
	stake, err := k.GetStake(ctx, "val-1")
	require.NoError(t, err)
	require.Equal(t, int64(1250), stake.Int64())

	rec, err := k.GetValidator(ctx, "val-1")
	require.NoError(t, err)
	require.Len(t, rec.Delegations, 1)
	require.Equal(t, genesisTime.Unix(), rec.Delegations[0].Unix)

	require.Error(t, k.Delegate(ctx, "val-1", "alice", sdkmath.ZeroInt()))
	require.ErrorIs(t, k.Delegate(ctx, "nobody", "alice", sdkmath.NewInt(1)), types.ErrValidatorNotFound)
}

func TestGenesisRoundTrip(t *testing.T) {
	k, ctx := createTestKeeper(t)

	gs := types.DefaultGenesisState()
	for i := 1; i <= 3; i++ {
		rec := types.NewValidatorRecord(fmt.Sprintf("val-%d", i), fmt.Sprintf("addr-%d", i), sdkmath.NewInt(int64(i*100)), genesisTime.Unix())
		gs.Validators = append(gs.Validators, rec)
	}
	gs.FundingEdges = append(gs.FundingEdges, types.FundingEdge{From: "treasury", To: "addr-1", Amount: sdkmath.NewInt(100), Unix: 5})
	gs.Tombstoned = append(gs.Tombstoned, "val-3")
	require.NoError(t, k.InitGenesis(ctx, gs))

	exported, err := k.ExportGenesis(ctx)
	require.NoError(t, err)
	require.Len(t, exported.Validators, 3)
	require.Equal(t, "val-1", exported.Validators[0].ValidatorID)
	require.Len(t, exported.FundingEdges, 1)
	require.Equal(t, []string{"val-3"}, exported.Tombstoned)
	require.Equal(t, types.DefaultParams(), exported.Params)
	require.NoError(t, exported.Validate())
}

func TestGenesisValidateRejectsDuplicates(t *testing.T) {
	gs := types.DefaultGenesisState()
	rec := types.NewValidatorRecord("val-1", "addr", sdkmath.NewInt(1), 0)
	gs.Validators = []types.ValidatorRecord{rec, rec}
	require.ErrorContains(t, gs.Validate(), "duplicate validator")
}

func TestAuthorityAndParams(t *testing.T) {
	k, ctx := createTestKeeper(t)
	require.Equal(t, "authority", k.GetAuthority())
	require.Equal(t, types.DefaultParams(), k.GetParams(ctx))
	require.Error(t, k.SetParams(ctx, types.Params{}))
}
