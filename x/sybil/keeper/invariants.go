package keeper

import (
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// RegisterInvariants registers all module invariants with the invariant registry.
func RegisterInvariants(ir sdk.InvariantRegistry, k Keeper) {
	ir.RegisterRoute(types.ModuleName, "banned-is-terminal", BannedIsTerminalInvariant(k))
	ir.RegisterRoute(types.ModuleName, "applied-bans-recorded", AppliedBansRecordedInvariant(k))
	ir.RegisterRoute(types.ModuleName, "penalty-records-valid", PenaltyRecordsValidInvariant(k))
	ir.RegisterRoute(types.ModuleName, "detection-sequence-consistency", DetectionSequenceInvariant(k))
}

// AllInvariants runs all invariants of the sybil module.
func AllInvariants(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		invariants := []sdk.Invariant{
			BannedIsTerminalInvariant(k),
			AppliedBansRecordedInvariant(k),
			PenaltyRecordsValidInvariant(k),
			DetectionSequenceInvariant(k),
		}
		for _, inv := range invariants {
			if msg, broken := inv(ctx); broken {
				return msg, broken
			}
		}
		return "", false
	}
}

// BannedIsTerminalInvariant checks that no banned validator still carries a
// temporary jail or monitoring flag.
func BannedIsTerminalInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var msg string
		broken := false

		_ = k.Banned.Walk(ctx, nil, func(id string) (bool, error) {
			if has, _ := k.JailUntil.Has(ctx, id); has {
				msg += fmt.Sprintf("INVARIANT BROKEN: banned validator %s has a temporary jail\n", id)
				broken = true
			}
			if has, _ := k.Monitored.Has(ctx, id); has {
				msg += fmt.Sprintf("INVARIANT BROKEN: banned validator %s is still monitored\n", id)
				broken = true
			}
			return false, nil
		})

		return sdk.FormatInvariant(types.ModuleName, "banned-is-terminal", msg), broken
	}
}

// AppliedBansRecordedInvariant checks that every applied permanent action
// left its validator in the banned set.
func AppliedBansRecordedInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var msg string
		broken := false

		_ = k.Penalties.Walk(ctx, nil, func(key string, raw string) (bool, error) {
			action, err := decodePenalty(raw)
			if err != nil {
				return false, nil
			}
			if action.Applied && action.Permanent && !k.IsBanned(ctx, action.ValidatorID) {
				msg += fmt.Sprintf("INVARIANT BROKEN: applied ban %s but %s is not banned\n", key, action.ValidatorID)
				broken = true
			}
			return false, nil
		})

		return sdk.FormatInvariant(types.ModuleName, "applied-bans-recorded", msg), broken
	}
}

// PenaltyRecordsValidInvariant checks stored actions decode, validate, and
// never report a negative slash.
func PenaltyRecordsValidInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var msg string
		broken := false

		_ = k.Penalties.Walk(ctx, nil, func(key string, raw string) (bool, error) {
			action, err := decodePenalty(raw)
			if err != nil {
				msg += fmt.Sprintf("INVARIANT BROKEN: penalty %s does not decode: %v\n", key, err)
				broken = true
				return false, nil
			}
			if err := action.Validate(); err != nil {
				msg += fmt.Sprintf("INVARIANT BROKEN: penalty %s is invalid: %v\n", key, err)
				broken = true
			}
			if !action.SlashedAmount.IsNil() && action.SlashedAmount.IsNegative() {
				msg += fmt.Sprintf("INVARIANT BROKEN: penalty %s slashed a negative amount\n", key)
				broken = true
			}
			if key != types.PenaltyKey(action.ClusterID, action.ValidatorID) {
				msg += fmt.Sprintf("INVARIANT BROKEN: penalty stored under %s belongs to %s\n", key,
					types.PenaltyKey(action.ClusterID, action.ValidatorID))
				broken = true
			}
			return false, nil
		})

		return sdk.FormatInvariant(types.ModuleName, "penalty-records-valid", msg), broken
	}
}

// DetectionSequenceInvariant checks that no stored detection is ahead of the
// sequence counter and that each record matches its key.
func DetectionSequenceInvariant(k Keeper) sdk.Invariant {
	return func(ctx sdk.Context) (string, bool) {
		var msg string
		broken := false

		counter, err := k.DetectionCount.Get(ctx)
		if err != nil {
			counter = 0
		}

		_ = k.Detections.Walk(ctx, nil, func(seq uint64, raw string) (bool, error) {
			result, err := decodeDetection(raw)
			if err != nil {
				msg += fmt.Sprintf("INVARIANT BROKEN: detection %d does not decode: %v\n", seq, err)
				broken = true
				return false, nil
			}
			if seq > counter {
				msg += fmt.Sprintf("INVARIANT BROKEN: detection %d is ahead of counter %d\n", seq, counter)
				broken = true
			}
			if result.Sequence != seq {
				msg += fmt.Sprintf("INVARIANT BROKEN: detection stored at %d carries sequence %d\n", seq, result.Sequence)
				broken = true
			}
			return false, nil
		})

		return sdk.FormatInvariant(types.ModuleName, "detection-sequence-consistency", msg), broken
	}
}
