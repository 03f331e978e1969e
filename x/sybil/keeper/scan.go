package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/collections"
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/sybil/detection"
	"github.com/aethelred/sybilguard/x/sybil/fusion"
	"github.com/aethelred/sybilguard/x/sybil/penalty"
	"github.com/aethelred/sybilguard/x/sybil/types"
)

// ScanForSybilAttacks runs one detection pass: build profiles, run the
// detector suite, fuse candidates, then plan and apply penalties. Scans are
// serialized. Unless force is set, a scan inside ScanInterval of the last
// completed one is a no-op returning no detections.
//
// A profile-build failure records a failed ScanReport and returns the error
// with no detections; nothing is penalized.
func (k Keeper) ScanForSybilAttacks(ctx context.Context, force bool) ([]types.ClusterDetectionResult, error) {
	k.scanMu.Lock()
	defer k.scanMu.Unlock()

	sdkCtx, now := contextNow(ctx)
	params := k.GetParams(ctx)

	if !force {
		if last, err := k.LastScan.Get(ctx); err == nil && now.Unix()-last < params.ScanIntervalSeconds {
			k.metrics.ScansSkipped.Inc()
			return nil, nil
		}
	}

	start := time.Now()
	report := types.ScanReport{
		Height:      sdkCtx.BlockHeight(),
		StartedUnix: now.Unix(),
		Forced:      force,
		Candidates:  make(map[types.DetectorName]int),
		Detections:  []types.ClusterDetectionResult{},
		Penalties:   types.NewApplySummary(),
	}

	profiles, skipped, err := k.BuildProfiles(ctx, params)
	if err != nil {
		k.failScan(ctx, report, start, err)
		return nil, err
	}
	report.ProfilesBuilt = len(profiles)
	report.ProfilesSkipped = skipped

	set := detection.NewSuite(params).Run(profiles)
	for name, cands := range set {
		report.Candidates[name] = len(cands)
	}
	results := fusion.NewEngine(params).Fuse(set, profiles, now.Unix())

	stakes := make(map[string]sdkmath.Int, len(profiles))
	for _, p := range profiles {
		stakes[p.ValidatorID] = p.Stake
	}

	for i := range results {
		seq, err := k.nextDetectionSequence(ctx)
		if err != nil {
			k.failScan(ctx, report, start, err)
			return nil, err
		}
		results[i].Sequence = seq
		if err := k.setDetection(ctx, results[i]); err != nil {
			k.failScan(ctx, report, start, err)
			return nil, err
		}
		k.recordDetection(ctx, results[i])

		actions := k.planPenalties(ctx, results[i], stakes)
		report.Penalties.Merge(k.applyPenalties(ctx, params, actions))
	}
	report.Detections = results

	if err := k.LastScan.Set(ctx, now.Unix()); err != nil {
		k.failScan(ctx, report, start, err)
		return nil, err
	}
	if err := k.recordScanStats(ctx, results, len(profiles)+skipped, false); err != nil {
		k.logger.Error("Failed to persist scan stats", "err", err)
	}

	elapsed := time.Since(start)
	report.DurationMs = elapsed.Milliseconds()
	k.publish(report, elapsed)
	k.metrics.TotalValidators.Set(int64(len(profiles) + skipped))
	k.refreshFlaggedGauge(ctx)

	k.logger.Info("Sybil scan completed",
		"height", report.Height,
		"forced", force,
		"profiles", report.ProfilesBuilt,
		"skipped", report.ProfilesSkipped,
		"candidates", set.Count(),
		"detections", len(results),
		"penalties_applied", report.Penalties.Applied,
		"penalties_failed", report.Penalties.Failed,
		"slashed", report.Penalties.TotalSlashed.String(),
		"duration_ms", report.DurationMs,
	)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		types.EventTypeScanCompleted,
		sdk.NewAttribute(types.AttributeKeyCount, strconv.Itoa(len(results))),
		sdk.NewAttribute("profiles", strconv.Itoa(report.ProfilesBuilt)),
		sdk.NewAttribute("penalties_applied", strconv.Itoa(report.Penalties.Applied)),
		sdk.NewAttribute("penalties_failed", strconv.Itoa(report.Penalties.Failed)),
	))

	return results, nil
}

// planPenalties turns a detection into actions, escalating jails for repeat
// offenders, and persists the plan before anything is applied.
func (k Keeper) planPenalties(ctx context.Context, result types.ClusterDetectionResult, stakes map[string]sdkmath.Int) []types.PenaltyAction {
	planned := penalty.ProcessDetection(result, stakes)
	actions := make([]types.PenaltyAction, 0, len(planned))
	for _, action := range planned {
		if prior, err := k.JailCounts.Get(ctx, action.ValidatorID); err == nil {
			action = penalty.Escalate(action, prior)
		}
		if _, found := k.GetPenalty(ctx, action.ClusterID, action.ValidatorID); !found {
			if err := k.setPenalty(ctx, action); err != nil {
				k.logger.Error("Failed to persist planned penalty", "validator", action.ValidatorID, "err", err)
			}
		}
		actions = append(actions, action)
	}
	return actions
}

func (k Keeper) recordDetection(ctx context.Context, result types.ClusterDetectionResult) {
	detectors := make([]string, 0, len(result.DetectionVectors))
	for _, d := range result.Detectors() {
		detectors = append(detectors, string(d))
	}

	k.logger.Warn("Sybil cluster detected",
		"cluster", result.ClusterID,
		"severity", result.Severity.String(),
		"confidence", result.ConfidenceScore,
		"validators", len(result.Validators),
		"detectors", strings.Join(detectors, ","),
	)
	k.auditLogger.AuditClusterDetected(ctx, result)

	sdkCtx, _ := contextNow(ctx)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		types.EventTypeClusterDetected,
		sdk.NewAttribute(types.AttributeKeyClusterID, result.ClusterID),
		sdk.NewAttribute(types.AttributeKeySeverity, result.Severity.String()),
		sdk.NewAttribute(types.AttributeKeyConfidence, strconv.FormatFloat(result.ConfidenceScore, 'f', 4, 64)),
		sdk.NewAttribute(types.AttributeKeyDetectors, strings.Join(detectors, ",")),
		sdk.NewAttribute(types.AttributeKeyCount, strconv.Itoa(len(result.Validators))),
	))
}

func (k Keeper) failScan(ctx context.Context, report types.ScanReport, start time.Time, cause error) {
	elapsed := time.Since(start)
	report.Error = cause.Error()
	report.DurationMs = elapsed.Milliseconds()
	report.Detections = []types.ClusterDetectionResult{}

	if err := k.recordScanStats(ctx, nil, 0, true); err != nil {
		k.logger.Error("Failed to persist scan stats", "err", err)
	}
	k.publish(report, elapsed)

	k.logger.Error("Sybil scan failed", "height", report.Height, "err", cause)
	k.auditLogger.AuditScanFailed(ctx, cause.Error())

	sdkCtx, _ := contextNow(ctx)
	emitEventIfPossible(sdkCtx, sdk.NewEvent(
		types.EventTypeScanFailed,
		sdk.NewAttribute(types.AttributeKeyReason, cause.Error()),
	))
}

// publish swaps in the new report for lock-free readers.
func (k Keeper) publish(report types.ScanReport, elapsed time.Duration) {
	snapshot := report
	k.lastReport.Store(&snapshot)
	k.metrics.RecordScan(snapshot, elapsed)
}

func (k Keeper) recordScanStats(ctx context.Context, results []types.ClusterDetectionResult, validators int, failed bool) error {
	stats := k.GetStats(ctx)
	stats.TotalScans++
	if failed {
		stats.FailedScans++
		return k.setStats(ctx, stats)
	}
	stats.TotalDetections += uint64(len(results))
	for _, r := range results {
		stats.DetectionsBySev[r.Severity.String()]++
	}
	stats.LastValidatorCount = validators
	return k.setStats(ctx, stats)
}

func (k Keeper) refreshFlaggedGauge(ctx context.Context) {
	flagged, err := k.flaggedValidators(ctx)
	if err != nil {
		k.logger.Error("Failed to count flagged validators", "err", err)
		return
	}
	k.metrics.FlaggedValidators.Set(int64(len(flagged)))
}

// GetDetection returns one stored detection by history sequence.
func (k Keeper) GetDetection(ctx context.Context, sequence uint64) (types.ClusterDetectionResult, error) {
	raw, err := k.Detections.Get(ctx, sequence)
	if err != nil {
		return types.ClusterDetectionResult{}, errorsmod.Wrapf(types.ErrDetectionNotFound, "sequence %d", sequence)
	}
	return decodeDetection(raw)
}

// GetRecentDetections returns up to limit detections, newest first.
func (k Keeper) GetRecentDetections(ctx context.Context, limit int) ([]types.ClusterDetectionResult, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	iter, err := k.Detections.Iterate(ctx, new(collections.Range[uint64]).Descending())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []types.ClusterDetectionResult
	for ; iter.Valid() && len(out) < limit; iter.Next() {
		raw, err := iter.Value()
		if err != nil {
			return nil, err
		}
		result, err := decodeDetection(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func decodeDetection(raw string) (types.ClusterDetectionResult, error) {
	var result types.ClusterDetectionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return types.ClusterDetectionResult{}, fmt.Errorf("decode detection: %w", err)
	}
	return result, nil
}
