package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// ApplyPenalties enforces a batch of actions against the stake ledger. It is
// serialized with scans. A failing action is reported in the summary and
// never aborts the batch.
func (k Keeper) ApplyPenalties(ctx context.Context, actions []types.PenaltyAction) types.ApplySummary {
	k.scanMu.Lock()
	defer k.scanMu.Unlock()
	return k.applyPenalties(ctx, k.GetParams(ctx), actions)
}

func (k Keeper) applyPenalties(ctx context.Context, params types.Params, actions []types.PenaltyAction) types.ApplySummary {
	start := time.Now()
	summary := types.NewApplySummary()

	for _, action := range actions {
		outcome, err := k.applyOne(ctx, params, action)
		switch {
		case err != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, types.PenaltyFailure{
				ValidatorID: action.ValidatorID,
				ClusterID:   action.ClusterID,
				Reason:      err.Error(),
			})
			k.recordPenaltyFailure(ctx, action, err)
		case outcome.skipped:
			summary.Skipped++
		default:
			summary.Applied++
			summary.TotalSlashed = summary.TotalSlashed.Add(outcome.slashed)
			if outcome.banned {
				summary.BannedCount++
			}
			if outcome.jailed {
				summary.JailedCount++
			}
		}
	}

	k.metrics.RecordPenalties(summary, time.Since(start))
	if err := k.recordPenaltyStats(ctx, summary); err != nil {
		k.logger.Error("Failed to persist penalty stats", "err", err)
	}
	return summary
}

type applyOutcome struct {
	skipped bool
	banned  bool
	jailed  bool
	slashed sdkmath.Int
}

// applyOne runs the ledger steps of one action. The slash is persisted as
// soon as it succeeds, so retrying a half-applied action never slashes twice.
func (k Keeper) applyOne(ctx context.Context, params types.Params, action types.PenaltyAction) (applyOutcome, error) {
	outcome := applyOutcome{slashed: sdkmath.ZeroInt()}

	if err := action.Validate(); err != nil {
		return outcome, errorsmod.Wrap(types.ErrInvalidPenalty, err.Error())
	}
	if k.ledger == nil {
		return outcome, fmt.Errorf("no stake ledger configured")
	}

	if stored, found := k.GetPenalty(ctx, action.ClusterID, action.ValidatorID); found {
		if stored.Applied {
			outcome.skipped = true
			return outcome, nil
		}
		action.SlashApplied = stored.SlashApplied
		action.SlashedAmount = stored.SlashedAmount
	}
	if action.SlashedAmount.IsNil() {
		action.SlashedAmount = sdkmath.ZeroInt()
	}

	id := action.ValidatorID
	if k.IsBanned(ctx, id) {
		outcome.skipped = true
		k.logger.Debug("Skipping penalty for banned validator", "validator", id, "cluster", action.ClusterID)
		return outcome, nil
	}

	err := k.withLedgerDeadline(ctx, params, "lookup", id, func(c context.Context) error {
		if !k.ledger.HasValidator(c, id) {
			return errorsmod.Wrapf(types.ErrValidatorNotFound, "%s", id)
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}

	_, now := contextNow(ctx)

	if action.Slashes() && !action.SlashApplied {
		var slashed sdkmath.Int
		err := k.withLedgerDeadline(ctx, params, "slash", id, func(c context.Context) error {
			var slashErr error
			slashed, slashErr = k.ledger.Slash(c, id, action.SlashFraction, action.Reason)
			return slashErr
		})
		if err != nil {
			return outcome, err
		}
		if slashed.IsNil() {
			slashed = sdkmath.ZeroInt()
		}
		action.SlashApplied = true
		action.SlashedAmount = slashed
		outcome.slashed = slashed
		if err := k.setPenalty(ctx, action); err != nil {
			return outcome, err
		}
	}

	switch {
	case action.Permanent:
		err := k.withLedgerDeadline(ctx, params, "tombstone", id, func(c context.Context) error {
			return k.ledger.Tombstone(c, id, action.Reason)
		})
		if err != nil {
			return outcome, err
		}
		if err := k.markBanned(ctx, id); err != nil {
			return outcome, err
		}
		outcome.banned = true

	case action.JailDurationSeconds > 0:
		err := k.withLedgerDeadline(ctx, params, "jail", id, func(c context.Context) error {
			return k.ledger.Jail(c, id, action.JailDuration())
		})
		if err != nil {
			return outcome, err
		}
		until, err := k.extendJail(ctx, id, now.Add(action.JailDuration()).Unix())
		if err != nil {
			return outcome, err
		}
		action.JailUntilUnix = until
		outcome.jailed = true
	}

	if action.ReducesVotingWeight() {
		err := k.withLedgerDeadline(ctx, params, "reduce_voting_weight", id, func(c context.Context) error {
			return k.ledger.ReduceVotingWeight(c, id, action.VotingWeightFactor)
		})
		if err != nil {
			return outcome, err
		}
		if err := k.lowerVotingWeight(ctx, id, action.VotingWeightFactor); err != nil {
			return outcome, err
		}
	}

	if action.Monitor && !action.Permanent {
		if err := k.Monitored.Set(ctx, id); err != nil {
			return outcome, err
		}
	}

	action.Applied = true
	action.AppliedAtUnix = now.Unix()
	if err := k.setPenalty(ctx, action); err != nil {
		return outcome, err
	}

	k.recordPenaltyApplied(ctx, action)
	return outcome, nil
}

// withLedgerDeadline runs one ledger call under LedgerTimeout. A call that
// completes without error counts as done even if the deadline passed.
func (k Keeper) withLedgerDeadline(ctx context.Context, params types.Params, op, validatorID string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, params.LedgerTimeout())
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		k.metrics.LedgerTimeouts.Inc()
		return errorsmod.Wrapf(types.ErrLedgerTimeout, "%s %s after %s", op, validatorID, params.LedgerTimeout())
	}
	return err
}

func (k Keeper) markBanned(ctx context.Context, validatorID string) error {
	if err := k.Banned.Set(ctx, validatorID); err != nil {
		return err
	}
	if err := k.JailUntil.Remove(ctx, validatorID); err != nil {
		return err
	}
	return k.Monitored.Remove(ctx, validatorID)
}

// extendJail never shortens an existing jail window.
func (k Keeper) extendJail(ctx context.Context, validatorID string, until int64) (int64, error) {
	if existing, err := k.JailUntil.Get(ctx, validatorID); err == nil && existing > until {
		until = existing
	}
	if err := k.JailUntil.Set(ctx, validatorID, until); err != nil {
		return 0, err
	}
	count, err := k.JailCounts.Get(ctx, validatorID)
	if err != nil {
		count = 0
	}
	return until, k.JailCounts.Set(ctx, validatorID, count+1)
}

func (k Keeper) lowerVotingWeight(ctx context.Context, validatorID string, factor sdkmath.LegacyDec) error {
	if current, ok := k.GetVotingWeight(ctx, validatorID); ok && current.LTE(factor) {
		return nil
	}
	return k.VotingWeights.Set(ctx, validatorID, factor.String())
}

// GetVotingWeight returns the reduced voting weight factor, if any.
func (k Keeper) GetVotingWeight(ctx context.Context, validatorID string) (sdkmath.LegacyDec, bool) {
	raw, err := k.VotingWeights.Get(ctx, validatorID)
	if err != nil {
		return sdkmath.LegacyOneDec(), false
	}
	factor, err := sdkmath.LegacyNewDecFromStr(raw)
	if err != nil {
		return sdkmath.LegacyOneDec(), false
	}
	return factor, true
}

// IsBanned reports whether the validator is permanently banned.
func (k Keeper) IsBanned(ctx context.Context, validatorID string) bool {
	ok, err := k.Banned.Has(ctx, validatorID)
	return err == nil && ok
}

// IsMonitored reports whether the validator is under enhanced monitoring.
func (k Keeper) IsMonitored(ctx context.Context, validatorID string) bool {
	ok, err := k.Monitored.Has(ctx, validatorID)
	return err == nil && ok
}

// JailedUntil returns the jail expiry without clearing it.
func (k Keeper) JailedUntil(ctx context.Context, validatorID string) (int64, bool) {
	until, err := k.JailUntil.Get(ctx, validatorID)
	if err != nil {
		return 0, false
	}
	return until, true
}

// IsValidatorJailed reports whether a temporary jail is in force. An expired
// jail is released on read. Banned validators report false; see IsBanned.
func (k Keeper) IsValidatorJailed(ctx context.Context, validatorID string) bool {
	until, ok := k.JailedUntil(ctx, validatorID)
	if !ok {
		return false
	}
	_, now := contextNow(ctx)
	if now.Unix() < until {
		return true
	}
	k.releaseJail(ctx, validatorID, "system", "jail expired")
	return false
}

// CheckAndReleaseJailed releases every validator whose jail has expired and
// returns their ids in order.
func (k Keeper) CheckAndReleaseJailed(ctx context.Context) ([]string, error) {
	_, now := contextNow(ctx)

	var expired []string
	err := k.JailUntil.Walk(ctx, nil, func(id string, until int64) (bool, error) {
		if now.Unix() >= until {
			expired = append(expired, id)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range expired {
		k.releaseJail(ctx, id, "system", "jail expired")
	}
	return expired, nil
}

// ReleaseValidator lifts a temporary jail and monitoring early. Bans are
// terminal and cannot be lifted.
func (k Keeper) ReleaseValidator(ctx context.Context, validatorID, actor, reason string) error {
	if k.IsBanned(ctx, validatorID) {
		return errorsmod.Wrapf(types.ErrValidatorBanned, "%s", validatorID)
	}
	_, jailed := k.JailedUntil(ctx, validatorID)
	monitored := k.IsMonitored(ctx, validatorID)
	if !jailed && !monitored {
		return errorsmod.Wrapf(types.ErrNotPenalized, "%s", validatorID)
	}
	if monitored {
		if err := k.Monitored.Remove(ctx, validatorID); err != nil {
			return err
		}
	}
	if jailed {
		k.releaseJail(ctx, validatorID, actor, reason)
	} else {
		k.recordRelease(ctx, validatorID, actor, reason)
	}
	return nil
}

func (k Keeper) releaseJail(ctx context.Context, validatorID, actor, reason string) {
	if err := k.JailUntil.Remove(ctx, validatorID); err != nil {
		k.logger.Error("Failed to clear jail", "validator", validatorID, "err", err)
		return
	}
	if k.ledger != nil {
		err := k.withLedgerDeadline(ctx, k.GetParams(ctx), "unjail", validatorID, func(c context.Context) error {
			return k.ledger.Unjail(c, validatorID)
		})
		if err != nil && !errors.Is(err, types.ErrValidatorNotFound) {
			k.logger.Warn("Ledger unjail failed", "validator", validatorID, "err", err)
		}
	}
	k.recordRelease(ctx, validatorID, actor, reason)
}

func (k Keeper) recordRelease(ctx context.Context, validatorID, actor, reason string) {
	k.metrics.Releases.Inc()
	k.logger.Info("Validator released", "validator", validatorID, "actor", actor, "reason", reason)
	k.auditLogger.AuditValidatorReleased(ctx, validatorID, actor, reason)

	sdkCtx, _ := contextNow(ctx)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		types.EventTypeValidatorReleased,
		sdk.NewAttribute(types.AttributeKeyValidator, validatorID),
		sdk.NewAttribute(types.AttributeKeyReason, reason),
	))
}

// GetPenalty returns the stored action for a (cluster, validator) pair.
func (k Keeper) GetPenalty(ctx context.Context, clusterID, validatorID string) (types.PenaltyAction, bool) {
	raw, err := k.Penalties.Get(ctx, types.PenaltyKey(clusterID, validatorID))
	if err != nil {
		return types.PenaltyAction{}, false
	}
	action, err := decodePenalty(raw)
	if err != nil {
		k.logger.Error("Corrupt penalty record", "cluster", clusterID, "validator", validatorID, "err", err)
		return types.PenaltyAction{}, false
	}
	return action, true
}

// GetPenalties returns stored actions, filtered to one validator when
// validatorID is non-empty, ordered by cluster then validator.
func (k Keeper) GetPenalties(ctx context.Context, validatorID string) ([]types.PenaltyAction, error) {
	var out []types.PenaltyAction
	err := k.Penalties.Walk(ctx, nil, func(_ string, raw string) (bool, error) {
		action, err := decodePenalty(raw)
		if err != nil {
			return true, err
		}
		if validatorID == "" || action.ValidatorID == validatorID {
			out = append(out, action)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClusterID != out[j].ClusterID {
			return out[i].ClusterID < out[j].ClusterID
		}
		return out[i].ValidatorID < out[j].ValidatorID
	})
	return out, nil
}

func (k Keeper) setPenalty(ctx context.Context, action types.PenaltyAction) error {
	raw, err := json.Marshal(action)
	if err != nil {
		return err
	}
	return k.Penalties.Set(ctx, types.PenaltyKey(action.ClusterID, action.ValidatorID), string(raw))
}

func decodePenalty(raw string) (types.PenaltyAction, error) {
	var action types.PenaltyAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return types.PenaltyAction{}, fmt.Errorf("decode penalty: %w", err)
	}
	return action, nil
}

func (k Keeper) recordPenaltyApplied(ctx context.Context, action types.PenaltyAction) {
	k.logger.Info("Penalty applied",
		"validator", action.ValidatorID,
		"cluster", action.ClusterID,
		"type", string(action.Type),
		"slashed", action.SlashedAmount.String(),
		"permanent", action.Permanent,
		"escalated", action.Escalated,
	)
	k.auditLogger.AuditPenaltyApplied(ctx, action)

	sdkCtx, _ := contextNow(ctx)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		types.EventTypePenaltyApplied,
		sdk.NewAttribute(types.AttributeKeyValidator, action.ValidatorID),
		sdk.NewAttribute(types.AttributeKeyClusterID, action.ClusterID),
		sdk.NewAttribute(types.AttributeKeyPenalty, string(action.Type)),
		sdk.NewAttribute(types.AttributeKeySeverity, action.Severity.String()),
		sdk.NewAttribute(types.AttributeKeySlashed, action.SlashedAmount.String()),
		sdk.NewAttribute(types.AttributeKeyJailUntil, strconv.FormatInt(action.JailUntilUnix, 10)),
	))
}

func (k Keeper) recordPenaltyFailure(ctx context.Context, action types.PenaltyAction, cause error) {
	k.logger.Warn("Penalty failed",
		"validator", action.ValidatorID,
		"cluster", action.ClusterID,
		"type", string(action.Type),
		"err", cause,
	)
	k.auditLogger.AuditPenaltyFailed(ctx, action, cause.Error())

	sdkCtx, _ := contextNow(ctx)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		types.EventTypePenaltyFailed,
		sdk.NewAttribute(types.AttributeKeyValidator, action.ValidatorID),
		sdk.NewAttribute(types.AttributeKeyClusterID, action.ClusterID),
		sdk.NewAttribute(types.AttributeKeyReason, cause.Error()),
	))
}

func (k Keeper) recordPenaltyStats(ctx context.Context, summary types.ApplySummary) error {
	if summary.Applied == 0 && summary.Failed == 0 {
		return nil
	}
	stats := k.GetStats(ctx)
	stats.TotalPenalties += uint64(summary.Applied)
	stats.FailedPenalties += uint64(summary.Failed)
	if !summary.TotalSlashed.IsNil() {
		stats.TotalSlashed = stats.TotalSlashed.Add(summary.TotalSlashed)
	}
	return k.setStats(ctx, stats)
}
