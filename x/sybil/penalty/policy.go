// Package penalty maps fused detections onto enforcement actions. Everything
// here is pure; applying actions to the ledger is the keeper's job.
package penalty

import (
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// Policy is the enforcement attached to one severity tier.
type Policy struct {
	Type               types.PenaltyType
	SlashFraction      sdkmath.LegacyDec
	JailDuration       time.Duration
	Permanent          bool
	VotingWeightFactor sdkmath.LegacyDec
	Monitor            bool
}

// Table is the fixed severity to action policy.
var Table = map[types.Severity]Policy{
	types.SeverityCritical: {
		Type:               types.PenaltyBan,
		SlashFraction:      sdkmath.LegacyNewDecWithPrec(50, 2),
		Permanent:          true,
		VotingWeightFactor: sdkmath.LegacyOneDec(),
	},
	types.SeverityHigh: {
		Type:               types.PenaltySlash,
		SlashFraction:      sdkmath.LegacyNewDecWithPrec(30, 2),
		JailDuration:       48 * time.Hour,
		VotingWeightFactor: sdkmath.LegacyOneDec(),
	},
	types.SeverityMedium: {
		Type:               types.PenaltySlash,
		SlashFraction:      sdkmath.LegacyNewDecWithPrec(20, 2),
		JailDuration:       24 * time.Hour,
		VotingWeightFactor: sdkmath.LegacyOneDec(),
		Monitor:            true,
	},
	types.SeverityLow: {
		Type:               types.PenaltyVotingWeightReduced,
		SlashFraction:      sdkmath.LegacyZeroDec(),
		VotingWeightFactor: sdkmath.LegacyNewDecWithPrec(50, 2),
		Monitor:            true,
	},
	types.SeverityNone: {
		Type:               types.PenaltyMonitor,
		SlashFraction:      sdkmath.LegacyZeroDec(),
		VotingWeightFactor: sdkmath.LegacyOneDec(),
		Monitor:            true,
	},
}

// PolicyFor returns the policy of a tier. Unknown tiers fall back to
// monitoring only.
func PolicyFor(sev types.Severity) Policy {
	if p, ok := Table[sev]; ok {
		return p
	}
	return Table[types.SeverityNone]
}

// Describe renders the policy as a short human-readable action.
func (p Policy) Describe() string {
	var parts []string
	if p.SlashFraction.IsPositive() {
		parts = append(parts, fmt.Sprintf("slash %s%% of stake", p.SlashFraction.MulInt64(100).TruncateInt()))
	}
	switch {
	case p.Permanent:
		parts = append(parts, "permanent ban")
	case p.JailDuration > 0:
		parts = append(parts, fmt.Sprintf("jail %s", p.JailDuration))
	}
	if p.VotingWeightFactor.LT(sdkmath.LegacyOneDec()) {
		parts = append(parts, fmt.Sprintf("reduce voting weight to %s%%", p.VotingWeightFactor.MulInt64(100).TruncateInt()))
	}
	if p.Monitor {
		parts = append(parts, "enhanced monitoring")
	}
	return strings.Join(parts, " + ")
}

// RecommendedAction describes the enforcement a tier will trigger.
func RecommendedAction(sev types.Severity) string {
	return PolicyFor(sev).Describe()
}
