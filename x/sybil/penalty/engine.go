package penalty

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// actionNamespace scopes penalty ids so that the same (cluster, validator)
// pair always yields the same id across retries and nodes.
var actionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sybil.penalty"))

// ActionID returns the deterministic id of the action for one cluster member.
func ActionID(clusterID, validatorID string) string {
	return uuid.NewSHA1(actionNamespace, []byte(types.PenaltyKey(clusterID, validatorID))).String()
}

// ProcessDetection turns one detection into one unapplied action per member.
// It has no side effects. Members without a known stake are still penalized;
// their slash amount is resolved against the ledger at application time.
func ProcessDetection(result types.ClusterDetectionResult, stakes map[string]sdkmath.Int) []types.PenaltyAction {
	policy := PolicyFor(result.Severity)
	reason := fmt.Sprintf("sybil cluster %s (%s, confidence %.2f): %s",
		result.ClusterID, result.Severity, result.ConfidenceScore, strings.Join(detectorNames(result), ","))

	actions := make([]types.PenaltyAction, 0, len(result.Validators))
	for _, id := range types.SortedUnique(result.Validators) {
		stake, ok := stakes[id]
		if !ok || stake.IsNil() {
			stake = sdkmath.ZeroInt()
		}
		actions = append(actions, types.PenaltyAction{
			ID:                  ActionID(result.ClusterID, id),
			ValidatorID:         id,
			ClusterID:           result.ClusterID,
			Type:                policy.Type,
			Severity:            result.Severity,
			Reason:              reason,
			SlashFraction:       policy.SlashFraction,
			JailDurationSeconds: int64(policy.JailDuration.Seconds()),
			Permanent:           policy.Permanent,
			VotingWeightFactor:  policy.VotingWeightFactor,
			Monitor:             policy.Monitor,
			StakeAtDetection:    stake,
			SlashedAmount:       sdkmath.ZeroInt(),
		})
	}
	return actions
}

// Escalate turns a temporary jail into a permanent ban for a validator that
// has been jailed before. Other actions are returned unchanged.
func Escalate(action types.PenaltyAction, priorJails uint64) types.PenaltyAction {
	if priorJails == 0 || action.Permanent || action.JailDurationSeconds <= 0 {
		return action
	}
	action.Type = types.PenaltyBan
	action.Permanent = true
	action.JailDurationSeconds = 0
	action.Escalated = true
	action.Reason = fmt.Sprintf("%s; re-offence after %d prior jail(s)", action.Reason, priorJails)
	return action
}

// ExpectedSlash is the amount a fraction removes from a stake.
func ExpectedSlash(stake sdkmath.Int, fraction sdkmath.LegacyDec) sdkmath.Int {
	if stake.IsNil() || fraction.IsNil() || !fraction.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return fraction.MulInt(stake).TruncateInt()
}

func detectorNames(result types.ClusterDetectionResult) []string {
	names := result.Detectors()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
