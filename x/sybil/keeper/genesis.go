package keeper

import (
	"context"
	"sort"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// InitGenesis initializes the module's state from genesis.
func (k Keeper) InitGenesis(ctx context.Context, gs *types.GenesisState) error {
	if gs == nil {
		gs = types.DefaultGenesis()
	}
	if err := gs.Validate(); err != nil {
		return errorsmod.Wrap(types.ErrInvalidGenesis, err.Error())
	}
	if err := k.SetParams(ctx, gs.Params); err != nil {
		return err
	}

	var maxSeq uint64
	for _, det := range gs.Detections {
		if det.Sequence > maxSeq {
			maxSeq = det.Sequence
		}
	}
	for _, det := range gs.Detections {
		if det.Sequence == 0 {
			maxSeq++
			det.Sequence = maxSeq
		}
		if err := k.setDetection(ctx, det); err != nil {
			return err
		}
	}
	if err := k.DetectionCount.Set(ctx, maxSeq); err != nil {
		return err
	}

	for _, action := range gs.Penalties {
		if action.SlashedAmount.IsNil() {
			action.SlashedAmount = sdkmath.ZeroInt()
		}
		if err := k.setPenalty(ctx, action); err != nil {
			return err
		}
	}
	for _, id := range gs.Banned {
		if err := k.Banned.Set(ctx, id); err != nil {
			return err
		}
	}
	for _, entry := range gs.Jailed {
		if err := k.JailUntil.Set(ctx, entry.ValidatorID, entry.JailUntilUnix); err != nil {
			return err
		}
	}
	for _, id := range gs.Monitored {
		if err := k.Monitored.Set(ctx, id); err != nil {
			return err
		}
	}
	for _, entry := range gs.JailCounts {
		if err := k.JailCounts.Set(ctx, entry.ValidatorID, entry.Count); err != nil {
			return err
		}
	}
	for _, entry := range gs.VotingWeights {
		if err := k.VotingWeights.Set(ctx, entry.ValidatorID, entry.Factor.String()); err != nil {
			return err
		}
	}
	if gs.LastScanUnix > 0 {
		if err := k.LastScan.Set(ctx, gs.LastScanUnix); err != nil {
			return err
		}
	}

	stats := gs.Stats
	if stats.DetectionsBySev == nil {
		stats.DetectionsBySev = make(map[string]int64)
	}
	if stats.TotalSlashed.IsNil() {
		stats.TotalSlashed = sdkmath.ZeroInt()
	}
	return k.setStats(ctx, stats)
}

// ExportGenesis exports the module's state.
func (k Keeper) ExportGenesis(ctx context.Context) (*types.GenesisState, error) {
	gs := types.DefaultGenesis()
	gs.Params = k.GetParams(ctx)
	gs.Stats = k.GetStats(ctx)

	err := k.Detections.Walk(ctx, nil, func(_ uint64, raw string) (bool, error) {
		det, err := decodeDetection(raw)
		if err != nil {
			return true, err
		}
		gs.Detections = append(gs.Detections, det)
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	penalties, err := k.GetPenalties(ctx, "")
	if err != nil {
		return nil, err
	}
	if penalties != nil {
		gs.Penalties = penalties
	}

	err = k.Banned.Walk(ctx, nil, func(id string) (bool, error) {
		gs.Banned = append(gs.Banned, id)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	err = k.JailUntil.Walk(ctx, nil, func(id string, until int64) (bool, error) {
		gs.Jailed = append(gs.Jailed, types.JailEntry{ValidatorID: id, JailUntilUnix: until})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	err = k.Monitored.Walk(ctx, nil, func(id string) (bool, error) {
		gs.Monitored = append(gs.Monitored, id)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	err = k.JailCounts.Walk(ctx, nil, func(id string, count uint64) (bool, error) {
		gs.JailCounts = append(gs.JailCounts, types.JailCountEntry{ValidatorID: id, Count: count})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	err = k.VotingWeights.Walk(ctx, nil, func(id string, raw string) (bool, error) {
		factor, err := sdkmath.LegacyNewDecFromStr(raw)
		if err != nil {
			return true, err
		}
		gs.VotingWeights = append(gs.VotingWeights, types.VotingWeightEntry{ValidatorID: id, Factor: factor})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if last, err := k.LastScan.Get(ctx); err == nil {
		gs.LastScanUnix = last
	}

	sort.Slice(gs.Detections, func(i, j int) bool { return gs.Detections[i].Sequence < gs.Detections[j].Sequence })
	return gs, nil
}
