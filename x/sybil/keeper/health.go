package keeper

import (
	"context"
	"math"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// GetSystemHealthReport summarizes how much of the validator set is flagged
// together with the running detection and penalty totals.
func (k Keeper) GetSystemHealthReport(ctx context.Context) (types.HealthReport, error) {
	params := k.GetParams(ctx)
	stats := k.GetStats(ctx)

	banned, jailed, monitored, err := k.penaltyCounts(ctx)
	if err != nil {
		return types.HealthReport{}, err
	}
	flagged, err := k.flaggedValidators(ctx)
	if err != nil {
		return types.HealthReport{}, err
	}

	total := stats.LastValidatorCount
	if k.registry != nil {
		if entries, err := k.registry.ListValidators(ctx); err == nil {
			total = len(entries)
		} else {
			k.logger.Warn("Registry unavailable for health report, using last scan count", "err", err)
		}
	}

	fraction := 0.0
	if total > 0 {
		fraction = math.Min(float64(len(flagged))/float64(total), 1)
	}

	bySev := make(map[string]int64, len(stats.DetectionsBySev))
	for sev, n := range stats.DetectionsBySev {
		bySev[sev] = n
	}

	report := types.HealthReport{
		Status:              healthStatus(params, fraction),
		Score:               math.Round((1-fraction)*riskPrecisionScale) / riskPrecisionScale,
		FlaggedFraction:     fraction,
		TotalValidators:     total,
		FlaggedValidators:   len(flagged),
		BannedValidators:    banned,
		JailedValidators:    jailed,
		MonitoredValidators: monitored,
		TotalScans:          stats.TotalScans,
		TotalDetections:     stats.TotalDetections,
		TotalPenalties:      stats.TotalPenalties,
		DetectionsBySev:     bySev,
		TotalSlashed:        stats.TotalSlashed,
	}
	if last, err := k.LastScan.Get(ctx); err == nil {
		report.LastScanUnix = last
	}
	if snap := k.lastReport.Load(); snap != nil {
		if snap.StartedUnix > report.LastScanUnix {
			report.LastScanUnix = snap.StartedUnix
		}
		report.LastScanError = snap.Error
	}
	return report, nil
}

func healthStatus(params types.Params, fraction float64) types.HealthStatus {
	switch {
	case fraction >= params.HealthCriticalFraction:
		return types.HealthCritical
	case fraction >= params.HealthWarningFraction:
		return types.HealthWarning
	case fraction >= params.HealthCautionFraction:
		return types.HealthCaution
	default:
		return types.HealthHealthy
	}
}

// penaltyCounts counts banned, actively jailed and monitored validators.
func (k Keeper) penaltyCounts(ctx context.Context) (banned, jailed, monitored int, err error) {
	_, now := contextNow(ctx)
	err = k.Banned.Walk(ctx, nil, func(string) (bool, error) {
		banned++
		return false, nil
	})
	if err != nil {
		return
	}
	err = k.JailUntil.Walk(ctx, nil, func(_ string, until int64) (bool, error) {
		if now.Unix() < until {
			jailed++
		}
		return false, nil
	})
	if err != nil {
		return
	}
	err = k.Monitored.Walk(ctx, nil, func(string) (bool, error) {
		monitored++
		return false, nil
	})
	return
}

// flaggedValidators is the set of validators banned, jailed or monitored.
func (k Keeper) flaggedValidators(ctx context.Context) (map[string]struct{}, error) {
	_, now := contextNow(ctx)
	flagged := make(map[string]struct{})
	add := func(id string) (bool, error) {
		flagged[id] = struct{}{}
		return false, nil
	}
	if err := k.Banned.Walk(ctx, nil, add); err != nil {
		return nil, err
	}
	err := k.JailUntil.Walk(ctx, nil, func(id string, until int64) (bool, error) {
		if now.Unix() < until {
			flagged[id] = struct{}{}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if err := k.Monitored.Walk(ctx, nil, add); err != nil {
		return nil, err
	}
	return flagged, nil
}
