package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/validator/types"
)

// Slash burns fraction of the validator's stake and returns the amount
// removed. Tombstoned validators can no longer be slashed.
func (k Keeper) Slash(ctx context.Context, validatorID string, fraction sdkmath.LegacyDec, reason string) (sdkmath.Int, error) {
	if fraction.IsNil() || fraction.IsNegative() || fraction.GT(sdkmath.LegacyOneDec()) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrInvalidFraction, "%s", fraction)
	}
	if tombstoned, err := k.TombstonedValidators.Has(ctx, validatorID); err == nil && tombstoned {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(types.ErrTombstoned, "validator %s", validatorID)
	}

	record, err := k.GetValidator(ctx, validatorID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	amount := fraction.MulInt(record.Stake).TruncateInt()
	record.Stake = record.Stake.Sub(amount)
	if err := k.setValidator(ctx, record); err != nil {
		return sdkmath.ZeroInt(), err
	}

	sdkCtx, now := contextNow(ctx)
	if err := k.appendSlashingRecord(ctx, types.SlashingRecord{
		ValidatorID:   validatorID,
		Height:        sdkCtx.BlockHeight(),
		Reason:        reason,
		SlashFraction: fraction.String(),
		SlashedAmount: amount.String(),
		TimestampUnix: now.Unix(),
	}); err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to record slashing: %w", err)
	}

	k.logger.Error("Validator slashed",
		"validator", validatorID,
		"fraction", fraction.String(),
		"amount", amount.String(),
		"remaining", record.Stake.String(),
		"reason", reason,
	)

	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		"validator_slashed",
		sdk.NewAttribute("validator", validatorID),
		sdk.NewAttribute("slash_fraction", fraction.String()),
		sdk.NewAttribute("amount", amount.String()),
		sdk.NewAttribute("reason", reason),
	))

	return amount, nil
}

// Jail takes the validator offline until now+duration. A later jail never
// shortens an existing one.
func (k Keeper) Jail(ctx context.Context, validatorID string, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("jail duration must be positive")
	}
	if !k.HasValidator(ctx, validatorID) {
		return errorsmod.Wrapf(types.ErrValidatorNotFound, "%s", validatorID)
	}
	if tombstoned, err := k.TombstonedValidators.Has(ctx, validatorID); err == nil && tombstoned {
		return errorsmod.Wrapf(types.ErrTombstoned, "validator %s", validatorID)
	}

	if maxJail := time.Duration(k.GetParams(ctx).MaxJailSeconds) * time.Second; duration > maxJail {
		duration = maxJail
	}

	sdkCtx, now := contextNow(ctx)
	jailUntil := now.Add(duration).Unix()
	if existing, err := k.ValidatorJailUntil.Get(ctx, validatorID); err == nil && existing > jailUntil {
		jailUntil = existing
	}
	if err := k.ValidatorJailUntil.Set(ctx, validatorID, jailUntil); err != nil {
		return err
	}

	if err := k.appendSlashingRecord(ctx, types.SlashingRecord{
		ValidatorID:   validatorID,
		Height:        sdkCtx.BlockHeight(),
		Reason:        fmt.Sprintf("jailed for %s", duration),
		SlashFraction: sdkmath.LegacyZeroDec().String(),
		SlashedAmount: "0",
		Jailed:        true,
		TimestampUnix: now.Unix(),
	}); err != nil {
		return err
	}

	k.logger.Info("Validator jailed",
		"validator", validatorID,
		"jail_until", jailUntil,
	)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		"validator_jailed",
		sdk.NewAttribute("validator", validatorID),
		sdk.NewAttribute("jail_until", fmt.Sprintf("%d", jailUntil)),
	))
	return nil
}

// Unjail lifts a temporary jail.
func (k Keeper) Unjail(ctx context.Context, validatorID string) error {
	if !k.HasValidator(ctx, validatorID) {
		return errorsmod.Wrapf(types.ErrValidatorNotFound, "%s", validatorID)
	}
	return k.ValidatorJailUntil.Remove(ctx, validatorID)
}

// IsJailed reports whether a temporary jail is active. Expired entries are
// cleared on read.
func (k Keeper) IsJailed(ctx context.Context, validatorID string) bool {
	jailUntil, err := k.ValidatorJailUntil.Get(ctx, validatorID)
	if err != nil {
		return false
	}
	_, now := contextNow(ctx)
	if now.Unix() < jailUntil {
		return true
	}
	_ = k.ValidatorJailUntil.Remove(ctx, validatorID)
	return false
}

// Tombstone permanently bans the validator.
func (k Keeper) Tombstone(ctx context.Context, validatorID string, reason string) error {
	if !k.HasValidator(ctx, validatorID) {
		return errorsmod.Wrapf(types.ErrValidatorNotFound, "%s", validatorID)
	}
	if tombstoned, err := k.TombstonedValidators.Has(ctx, validatorID); err == nil && tombstoned {
		return nil
	}
	if err := k.TombstonedValidators.Set(ctx, validatorID); err != nil {
		return err
	}
	_ = k.ValidatorJailUntil.Remove(ctx, validatorID)

	sdkCtx, now := contextNow(ctx)
	if err := k.appendSlashingRecord(ctx, types.SlashingRecord{
		ValidatorID:   validatorID,
		Height:        sdkCtx.BlockHeight(),
		Reason:        reason,
		SlashFraction: sdkmath.LegacyZeroDec().String(),
		SlashedAmount: "0",
		Jailed:        true,
		Tombstoned:    true,
		TimestampUnix: now.Unix(),
	}); err != nil {
		return err
	}

	k.logger.Error("Validator tombstoned",
		"validator", validatorID,
		"reason", reason,
	)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		"validator_tombstoned",
		sdk.NewAttribute("validator", validatorID),
		sdk.NewAttribute("reason", reason),
	))
	return nil
}

// IsTombstoned reports whether the validator is permanently banned.
func (k Keeper) IsTombstoned(ctx context.Context, validatorID string) bool {
	ok, err := k.TombstonedValidators.Has(ctx, validatorID)
	return err == nil && ok
}

// ReduceVotingWeight caps the validator's voting weight at factor. Weight
// only ever goes down through this call.
func (k Keeper) ReduceVotingWeight(ctx context.Context, validatorID string, factor sdkmath.LegacyDec) error {
	if factor.IsNil() || factor.IsNegative() || factor.GT(sdkmath.LegacyOneDec()) {
		return errorsmod.Wrapf(types.ErrInvalidFraction, "voting weight %s", factor)
	}
	record, err := k.GetValidator(ctx, validatorID)
	if err != nil {
		return err
	}
	if record.VotingWeight.IsNil() || factor.LT(record.VotingWeight) {
		record.VotingWeight = factor
	}
	if err := k.setValidator(ctx, record); err != nil {
		return err
	}

	k.logger.Info("Validator voting weight reduced",
		"validator", validatorID,
		"voting_weight", record.VotingWeight.String(),
	)
	return nil
}

// GetVotingWeight returns the validator's current voting weight.
func (k Keeper) GetVotingWeight(ctx context.Context, validatorID string) (sdkmath.LegacyDec, error) {
	record, err := k.GetValidator(ctx, validatorID)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if record.VotingWeight.IsNil() {
		return sdkmath.LegacyOneDec(), nil
	}
	return record.VotingWeight, nil
}

// GetSlashingRecords returns all slashing records for a validator
func (k Keeper) GetSlashingRecords(ctx context.Context, validatorID string) []types.SlashingRecord {
	var records []types.SlashingRecord

	_ = k.SlashingRecords.Walk(ctx, nil, func(_ string, raw string) (bool, error) {
		var record types.SlashingRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return false, nil
		}
		if record.ValidatorID == validatorID {
			records = append(records, record)
		}
		return false, nil
	})

	return records
}

// GetRecentSlashingRecords returns up to limit records in key order.
func (k Keeper) GetRecentSlashingRecords(ctx context.Context, limit int) []types.SlashingRecord {
	var records []types.SlashingRecord
	if limit <= 0 {
		return records
	}

	_ = k.SlashingRecords.Walk(ctx, nil, func(_ string, raw string) (bool, error) {
		var record types.SlashingRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return false, nil
		}
		records = append(records, record)
		return len(records) >= limit, nil
	})

	return records
}

func (k Keeper) appendSlashingRecord(ctx context.Context, record types.SlashingRecord) error {
	seq, err := k.SlashingRecordCount.Get(ctx)
	if err != nil {
		seq = 0
	}
	seq++
	if err := k.SlashingRecordCount.Set(ctx, seq); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return k.SlashingRecords.Set(ctx, types.SlashingRecordKey(record.ValidatorID, seq), string(raw))
}
