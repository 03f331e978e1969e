package keeper

import (
	"context"

	sybiltypes "github.com/aethelred/sybilguard/x/sybil/types"
)

// SybilRegistry exposes the ledger as the registry and funding tracer the
// sybil module reads from.
type SybilRegistry struct {
	keeper Keeper
}

// SybilRegistry returns the read adapter over k.
func (k Keeper) SybilRegistry() SybilRegistry {
	return SybilRegistry{keeper: k}
}

// ListValidators returns every registered validator, tombstoned ones included.
func (r SybilRegistry) ListValidators(ctx context.Context) ([]sybiltypes.RegistryEntry, error) {
	records, err := r.keeper.GetAllValidators(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]sybiltypes.RegistryEntry, 0, len(records))
	for _, rec := range records {
		delegations := make([]sybiltypes.Delegation, 0, len(rec.Delegations))
		for _, d := range rec.Delegations {
			delegations = append(delegations, sybiltypes.Delegation{
				Delegator: d.Delegator,
				Amount:    d.Amount,
				Unix:      d.Unix,
			})
		}
		entries = append(entries, sybiltypes.RegistryEntry{
			ValidatorID:    rec.ValidatorID,
			Address:        rec.Address,
			Stake:          rec.Stake,
			ActivationUnix: rec.ActivationUnix,
			SpectralRegion: rec.SpectralRegion,
			Delegations:    delegations,
		})
	}
	return entries, nil
}

// TraceFundingOrigin resolves where the address's stake came from.
func (r SybilRegistry) TraceFundingOrigin(ctx context.Context, address string) (sybiltypes.FundingOrigin, bool) {
	trace, ok, err := r.keeper.TraceFundingOrigin(ctx, address)
	if err != nil {
		r.keeper.logger.Warn("Funding trace failed", "address", address, "err", err)
		return sybiltypes.FundingOrigin{}, false
	}
	if !ok {
		return sybiltypes.FundingOrigin{}, false
	}
	return sybiltypes.FundingOrigin{
		Source: trace.Origin,
		Unix:   trace.FundedUnix,
		Hops:   trace.Hops,
	}, true
}
