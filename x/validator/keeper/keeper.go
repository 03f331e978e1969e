package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cosmossdk.io/collections"
	"cosmossdk.io/core/store"
	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/validator/types"
)

// Keeper is the stake ledger and validator registry.
type Keeper struct {
	storeService store.KVStoreService
	logger       log.Logger
	authority    string

	// State collections. Records are stored as JSON.
	Validators           collections.Map[string, string]
	FundingEdges         collections.Map[string, string]
	SlashingRecords      collections.Map[string, string]
	SlashingRecordCount  collections.Item[uint64]
	TombstonedValidators collections.KeySet[string]
	ValidatorJailUntil   collections.Map[string, int64]
	Params               collections.Item[string]
}

// NewKeeper creates a new Keeper instance
func NewKeeper(
	storeService store.KVStoreService,
	logger log.Logger,
	authority string,
) Keeper {
	sb := collections.NewSchemaBuilder(storeService)

	return Keeper{
		storeService: storeService,
		logger:       logger.With("module", "x/"+types.ModuleName),
		authority:    authority,
		Validators: collections.NewMap(
			sb,
			collections.NewPrefix(types.ValidatorKeyPrefix),
			"validators",
			collections.StringKey,
			collections.StringValue,
		),
		FundingEdges: collections.NewMap(
			sb,
			collections.NewPrefix(types.FundingEdgeKeyPrefix),
			"funding_edges",
			collections.StringKey,
			collections.StringValue,
		),
		SlashingRecords: collections.NewMap(
			sb,
			collections.NewPrefix(types.SlashingRecordKeyPrefix),
			"slashing_records",
			collections.StringKey,
			collections.StringValue,
		),
		SlashingRecordCount: collections.NewItem(
			sb,
			collections.NewPrefix(types.SlashingRecordCountKey),
			"slashing_record_count",
			collections.Uint64Value,
		),
		TombstonedValidators: collections.NewKeySet(
			sb,
			collections.NewPrefix(types.TombstonedValidatorKeyPrefix),
			"tombstoned_validators",
			collections.StringKey,
		),
		ValidatorJailUntil: collections.NewMap(
			sb,
			collections.NewPrefix(types.ValidatorJailUntilKeyPrefix),
			"validator_jail_until",
			collections.StringKey,
			collections.Int64Value,
		),
		Params: collections.NewItem(
			sb,
			collections.NewPrefix(types.ParamsKey),
			"params",
			collections.StringValue,
		),
	}
}

// GetAuthority returns the module's governance authority address
func (k Keeper) GetAuthority() string {
	return k.authority
}

// GetParams returns stored params, falling back to defaults.
func (k Keeper) GetParams(ctx context.Context) types.Params {
	raw, err := k.Params.Get(ctx)
	if err != nil {
		return types.DefaultParams()
	}
	var params types.Params
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return types.DefaultParams()
	}
	return params
}

// SetParams validates and stores params.
func (k Keeper) SetParams(ctx context.Context, params types.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return k.Params.Set(ctx, string(raw))
}

// RegisterValidator adds or updates a validator record.
func (k Keeper) RegisterValidator(ctx context.Context, record types.ValidatorRecord) error {
	record.ValidatorID = strings.TrimSpace(record.ValidatorID)
	record.Address = strings.TrimSpace(record.Address)
	if record.VotingWeight.IsNil() {
		record.VotingWeight = sdkmath.LegacyOneDec()
	}
	if err := record.Validate(); err != nil {
		return errorsmod.Wrap(types.ErrInvalidRecord, err.Error())
	}

	if tombstoned, err := k.TombstonedValidators.Has(ctx, record.ValidatorID); err == nil && tombstoned {
		return errorsmod.Wrapf(types.ErrTombstoned, "validator %s", record.ValidatorID)
	}

	exists, err := k.Validators.Has(ctx, record.ValidatorID)
	if err != nil {
		return err
	}
	if !exists {
		count, err := k.countValidators(ctx)
		if err != nil {
			return err
		}
		if limit := k.GetParams(ctx).MaxValidators; count >= limit {
			return errorsmod.Wrapf(types.ErrValidatorSetFull, "cap %d reached", limit)
		}
	}

	if err := k.setValidator(ctx, record); err != nil {
		return err
	}

	k.logger.Info("Validator registered",
		"validator", record.ValidatorID,
		"address", record.Address,
		"stake", record.Stake.String(),
		"region", record.SpectralRegion,
	)

	sdkCtx, _ := contextNow(ctx)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		"validator_registered",
		sdk.NewAttribute("validator", record.ValidatorID),
		sdk.NewAttribute("address", record.Address),
		sdk.NewAttribute("stake", record.Stake.String()),
	))
	return nil
}

// Delegate bonds additional stake to a validator.
func (k Keeper) Delegate(ctx context.Context, validatorID, delegator string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("delegation amount must be positive")
	}
	record, err := k.GetValidator(ctx, validatorID)
	if err != nil {
		return err
	}
	_, now := contextNow(ctx)
	record.Stake = record.Stake.Add(amount)
	record.Delegations = append(record.Delegations, types.Delegation{
		Delegator: delegator,
		Amount:    amount,
		Unix:      now.Unix(),
	})
	return k.setValidator(ctx, record)
}

// GetValidator retrieves a validator record.
func (k Keeper) GetValidator(ctx context.Context, validatorID string) (types.ValidatorRecord, error) {
	raw, err := k.Validators.Get(ctx, validatorID)
	if err != nil {
		return types.ValidatorRecord{}, errorsmod.Wrapf(types.ErrValidatorNotFound, "%s", validatorID)
	}
	return decodeValidator(raw)
}

// HasValidator reports whether the ledger knows the validator.
func (k Keeper) HasValidator(ctx context.Context, validatorID string) bool {
	ok, err := k.Validators.Has(ctx, validatorID)
	return err == nil && ok
}

// GetStake returns the validator's current bonded stake.
func (k Keeper) GetStake(ctx context.Context, validatorID string) (sdkmath.Int, error) {
	record, err := k.GetValidator(ctx, validatorID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return record.Stake, nil
}

// GetAllValidators returns every record ordered by validator id.
func (k Keeper) GetAllValidators(ctx context.Context) ([]types.ValidatorRecord, error) {
	var records []types.ValidatorRecord
	err := k.Validators.Walk(ctx, nil, func(_ string, raw string) (bool, error) {
		record, err := decodeValidator(raw)
		if err != nil {
			return true, err
		}
		records = append(records, record)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ValidatorID < records[j].ValidatorID })
	return records, nil
}

func (k Keeper) countValidators(ctx context.Context) (int, error) {
	count := 0
	err := k.Validators.Walk(ctx, nil, func(string, string) (bool, error) {
		count++
		return false, nil
	})
	return count, err
}

// InitGenesis initializes the module's state from genesis
func (k Keeper) InitGenesis(ctx context.Context, gs *types.GenesisState) error {
	if gs == nil {
		gs = types.DefaultGenesisState()
	}
	if err := gs.Validate(); err != nil {
		return err
	}
	if err := k.SetParams(ctx, gs.Params); err != nil {
		return err
	}
	for _, v := range gs.Validators {
		if v.VotingWeight.IsNil() {
			v.VotingWeight = sdkmath.LegacyOneDec()
		}
		if err := k.setValidator(ctx, v); err != nil {
			return err
		}
	}
	for _, e := range gs.FundingEdges {
		if err := k.RecordFunding(ctx, e); err != nil {
			return err
		}
	}
	for _, id := range gs.Tombstoned {
		if err := k.TombstonedValidators.Set(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ExportGenesis exports the module's state
func (k Keeper) ExportGenesis(ctx context.Context) (*types.GenesisState, error) {
	validators, err := k.GetAllValidators(ctx)
	if err != nil {
		return nil, err
	}

	var edges []types.FundingEdge
	err = k.FundingEdges.Walk(ctx, nil, func(_ string, raw string) (bool, error) {
		var edge types.FundingEdge
		if err := json.Unmarshal([]byte(raw), &edge); err != nil {
			return true, fmt.Errorf("decode funding edge: %w", err)
		}
		edges = append(edges, edge)
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	tombstoned := []string{}
	err = k.TombstonedValidators.Walk(ctx, nil, func(id string) (bool, error) {
		tombstoned = append(tombstoned, id)
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if validators == nil {
		validators = []types.ValidatorRecord{}
	}
	if edges == nil {
		edges = []types.FundingEdge{}
	}
	return &types.GenesisState{
		Params:       k.GetParams(ctx),
		Validators:   validators,
		FundingEdges: edges,
		Tombstoned:   tombstoned,
	}, nil
}

func (k Keeper) setValidator(ctx context.Context, record types.ValidatorRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return k.Validators.Set(ctx, record.ValidatorID, string(raw))
}

func decodeValidator(raw string) (types.ValidatorRecord, error) {
	var record types.ValidatorRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return types.ValidatorRecord{}, fmt.Errorf("decode validator: %w", err)
	}
	return record, nil
}

func unwrapSDKContext(ctx context.Context) (sdk.Context, bool) {
	if ctx == nil {
		return sdk.Context{}, false
	}
	if sdkCtx, ok := ctx.(sdk.Context); ok {
		return sdkCtx, true
	}
	if val := ctx.Value(sdk.SdkContextKey); val != nil {
		if sdkCtx, ok := val.(sdk.Context); ok {
			return sdkCtx, true
		}
	}
	return sdk.Context{}, false
}

func contextNow(ctx context.Context) (sdk.Context, time.Time) {
	if sdkCtx, ok := unwrapSDKContext(ctx); ok {
		return sdkCtx, sdkCtx.BlockTime()
	}
	return sdk.Context{}, time.Now().UTC()
}

func emitEventIfPossible(ctx sdk.Context, event sdk.Event) {
	if em := ctx.EventManager(); em != nil {
		em.EmitEvent(event)
	}
}
