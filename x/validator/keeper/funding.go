package keeper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aethelred/sybilguard/x/validator/types"
)

// RecordFunding stores the transfer that first funded edge.To. Later edges
// into the same address are ignored: only the initial stake's provenance
// matters for tracing.
func (k Keeper) RecordFunding(ctx context.Context, edge types.FundingEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if has, err := k.FundingEdges.Has(ctx, edge.To); err != nil {
		return err
	} else if has {
		return nil
	}
	raw, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	return k.FundingEdges.Set(ctx, edge.To, string(raw))
}

// GetFundingEdge returns the edge that funded address.
func (k Keeper) GetFundingEdge(ctx context.Context, address string) (types.FundingEdge, bool) {
	raw, err := k.FundingEdges.Get(ctx, address)
	if err != nil {
		return types.FundingEdge{}, false
	}
	var edge types.FundingEdge
	if err := json.Unmarshal([]byte(raw), &edge); err != nil {
		return types.FundingEdge{}, false
	}
	return edge, true
}

// FundingTrace is the result of walking funding edges upstream.
type FundingTrace struct {
	Origin string
	// FundedUnix is when the traced address itself was funded.
	FundedUnix int64
	Hops       int
}

// TraceFundingOrigin walks funding edges from address back to the first
// address with no recorded funder, stopping after MaxFundingHops or on a
// cycle. ok is false when address has no recorded funding.
func (k Keeper) TraceFundingOrigin(ctx context.Context, address string) (FundingTrace, bool, error) {
	first, ok := k.GetFundingEdge(ctx, address)
	if !ok {
		return FundingTrace{}, false, nil
	}

	maxHops := k.GetParams(ctx).MaxFundingHops
	trace := FundingTrace{Origin: first.From, FundedUnix: first.Unix, Hops: 1}
	visited := map[string]struct{}{address: {}, first.From: {}}
	for trace.Hops < maxHops {
		edge, ok := k.GetFundingEdge(ctx, trace.Origin)
		if !ok {
			break
		}
		if _, seen := visited[edge.From]; seen {
			k.logger.Warn("Funding cycle detected",
				"address", address,
				"at", edge.From,
			)
			break
		}
		visited[edge.From] = struct{}{}
		trace.Origin = edge.From
		trace.Hops++
	}
	if trace.Origin == "" {
		return FundingTrace{}, false, fmt.Errorf("funding trace for %s ended at an empty address", address)
	}
	return trace, true, nil
}
