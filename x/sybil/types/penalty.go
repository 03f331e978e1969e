package types

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// PenaltyType is the primary enforcement carried by a PenaltyAction.
type PenaltyType string

const (
	PenaltySlash               PenaltyType = "slash"
	PenaltyJail                PenaltyType = "jail"
	PenaltyBan                 PenaltyType = "ban"
	PenaltyVotingWeightReduced PenaltyType = "voting_weight_reduction"
	PenaltyMonitor             PenaltyType = "monitor"
)

// PenaltyAction is the enforcement planned for one validator of one cluster.
// It is applied at most once; Applied guards against double slashing when a
// batch is retried.
type PenaltyAction struct {
	ID          string      `json:"id"`
	ValidatorID string      `json:"validator_id"`
	ClusterID   string      `json:"cluster_id"`
	Type        PenaltyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Reason      string      `json:"reason"`

	SlashFraction       sdkmath.LegacyDec `json:"slash_fraction"`
	JailDurationSeconds int64             `json:"jail_duration_seconds,omitempty"`
	Permanent           bool              `json:"permanent,omitempty"`
	VotingWeightFactor  sdkmath.LegacyDec `json:"voting_weight_factor"`
	Monitor             bool              `json:"monitor,omitempty"`
	Escalated           bool              `json:"escalated,omitempty"`

	StakeAtDetection sdkmath.Int `json:"stake_at_detection"`

	Applied       bool        `json:"applied"`
	SlashApplied  bool        `json:"slash_applied,omitempty"`
	AppliedAtUnix int64       `json:"applied_at_unix,omitempty"`
	JailUntilUnix int64       `json:"jail_until_unix,omitempty"`
	SlashedAmount sdkmath.Int `json:"slashed_amount"`
}

// JailDuration returns the finite jail window. Permanent actions report zero.
func (a PenaltyAction) JailDuration() time.Duration {
	return time.Duration(a.JailDurationSeconds) * time.Second
}

// Jails reports whether applying the action takes the validator offline.
func (a PenaltyAction) Jails() bool {
	return a.Permanent || a.JailDurationSeconds > 0
}

// Slashes reports whether the action burns stake.
func (a PenaltyAction) Slashes() bool {
	return !a.SlashFraction.IsNil() && a.SlashFraction.IsPositive()
}

// ReducesVotingWeight reports whether the action lowers voting power.
func (a PenaltyAction) ReducesVotingWeight() bool {
	return !a.VotingWeightFactor.IsNil() && a.VotingWeightFactor.LT(sdkmath.LegacyOneDec())
}

// Validate checks the action before it is persisted or applied.
func (a PenaltyAction) Validate() error {
	if a.ValidatorID == "" {
		return fmt.Errorf("penalty validator id cannot be empty")
	}
	if a.ClusterID == "" {
		return fmt.Errorf("penalty cluster id cannot be empty")
	}
	switch a.Type {
	case PenaltySlash, PenaltyJail, PenaltyBan, PenaltyVotingWeightReduced, PenaltyMonitor:
	default:
		return fmt.Errorf("unknown penalty type %q", a.Type)
	}
	if !a.SlashFraction.IsNil() && (a.SlashFraction.IsNegative() || a.SlashFraction.GT(sdkmath.LegacyOneDec())) {
		return fmt.Errorf("slash fraction %s outside [0,1]", a.SlashFraction)
	}
	if !a.VotingWeightFactor.IsNil() && (a.VotingWeightFactor.IsNegative() || a.VotingWeightFactor.GT(sdkmath.LegacyOneDec())) {
		return fmt.Errorf("voting weight factor %s outside [0,1]", a.VotingWeightFactor)
	}
	if a.JailDurationSeconds < 0 {
		return fmt.Errorf("jail duration cannot be negative")
	}
	return nil
}

// PenaltyFailure records one action the ledger refused.
type PenaltyFailure struct {
	ValidatorID string `json:"validator_id"`
	ClusterID   string `json:"cluster_id"`
	Reason      string `json:"reason"`
}

// ApplySummary reports the outcome of one ApplyPenalties batch.
type ApplySummary struct {
	Applied      int              `json:"applied"`
	Failed       int              `json:"failed"`
	Skipped      int              `json:"skipped"`
	TotalSlashed sdkmath.Int      `json:"total_slashed"`
	BannedCount  int              `json:"banned_count"`
	JailedCount  int              `json:"jailed_count"`
	Failures     []PenaltyFailure `json:"failures,omitempty"`
}

// NewApplySummary returns an empty summary with a zero slash total.
func NewApplySummary() ApplySummary {
	return ApplySummary{TotalSlashed: sdkmath.ZeroInt()}
}

// Merge folds another batch summary into s.
func (s *ApplySummary) Merge(other ApplySummary) {
	s.Applied += other.Applied
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.BannedCount += other.BannedCount
	s.JailedCount += other.JailedCount
	if s.TotalSlashed.IsNil() {
		s.TotalSlashed = sdkmath.ZeroInt()
	}
	if !other.TotalSlashed.IsNil() {
		s.TotalSlashed = s.TotalSlashed.Add(other.TotalSlashed)
	}
	s.Failures = append(s.Failures, other.Failures...)
}
