package keeper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// Risk contributions of each enforcement state. A ban is terminal and scores
// the maximum on its own.
const (
	riskJailed         = 0.6
	riskMonitored      = 0.3
	riskReducedWeight  = 0.1
	riskPerPenalty     = 0.1
	riskPrecisionScale = 1e6
)

// GetValidatorRiskScore derives a validator's risk from its persisted
// penalty state. It does not depend on a scan having run in this process.
func (k Keeper) GetValidatorRiskScore(ctx context.Context, validatorID string) (types.RiskScore, error) {
	penalties, err := k.GetPenalties(ctx, validatorID)
	if err != nil {
		return types.RiskScore{}, err
	}
	active := 0
	for _, p := range penalties {
		if p.Applied {
			active++
		}
	}

	risk := types.RiskScore{
		ValidatorID:     validatorID,
		State:           types.StateActive,
		ActivePenalties: active,
		Factors:         []string{},
	}

	if k.IsBanned(ctx, validatorID) {
		risk.Score = 1
		risk.Level = types.SeverityCritical
		risk.State = types.StateBanned
		risk.Factors = append(risk.Factors, "permanently banned")
		return risk, nil
	}

	score := 0.0
	if until, ok := k.JailedUntil(ctx, validatorID); ok {
		_, now := contextNow(ctx)
		if now.Unix() < until {
			score += riskJailed
			risk.State = types.StateJailed
			risk.Factors = append(risk.Factors, fmt.Sprintf("jailed until %s", time.Unix(until, 0).UTC().Format(time.RFC3339)))
		}
	}
	if k.IsMonitored(ctx, validatorID) {
		score += riskMonitored
		if risk.State == types.StateActive {
			risk.State = types.StateMonitored
		}
		risk.Factors = append(risk.Factors, "under enhanced monitoring")
	}
	if factor, ok := k.GetVotingWeight(ctx, validatorID); ok {
		score += riskReducedWeight
		risk.Factors = append(risk.Factors, fmt.Sprintf("voting weight reduced to %s", factor))
	}
	if active > 0 {
		score += riskPerPenalty * float64(active)
		risk.Factors = append(risk.Factors, fmt.Sprintf("%d applied penalt%s", active, plural(active, "y", "ies")))
	}

	risk.Score = math.Min(math.Round(score*riskPrecisionScale)/riskPrecisionScale, 1)
	risk.Level = types.SeverityFromScore(risk.Score)
	return risk, nil
}

// GetValidatorState reports the strongest enforcement state in force.
func (k Keeper) GetValidatorState(ctx context.Context, validatorID string) types.ValidatorState {
	switch {
	case k.IsBanned(ctx, validatorID):
		return types.StateBanned
	case k.IsValidatorJailed(ctx, validatorID):
		return types.StateJailed
	case k.IsMonitored(ctx, validatorID):
		return types.StateMonitored
	default:
		return types.StateActive
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
