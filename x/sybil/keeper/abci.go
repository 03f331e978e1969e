package keeper

import (
	"context"
)

// EndBlocker releases expired jails and, when AutoScan is enabled, runs the
// interval-gated scan. Scan failures are logged and recorded in the scan
// report; they never fail the block.
func (k Keeper) EndBlocker(ctx context.Context) error {
	released, err := k.CheckAndReleaseJailed(ctx)
	if err != nil {
		k.logger.Error("Failed to release expired jails", "err", err)
	} else if len(released) > 0 {
		k.logger.Info("Released expired jails", "count", len(released))
	}

	if !k.GetParams(ctx).AutoScan {
		return nil
	}
	if _, err := k.ScanForSybilAttacks(ctx, false); err != nil {
		k.logger.Error("Automatic sybil scan failed", "err", err)
		return nil
	}
	if sdkCtx, ok := unwrapSDKContext(ctx); ok {
		if snap := k.LastScanReport(); snap != nil && snap.Height == sdkCtx.BlockHeight() {
			k.metrics.EmitMetricsEvent(sdkCtx)
		}
	}
	return nil
}
