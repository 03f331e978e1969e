package keeper

import (
	"context"
	"sort"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// BuildProfiles assembles the per-scan feature record of every registered
// validator. All collaborator reads share one ProfileFetchTimeout deadline;
// exceeding it fails the whole build. A validator whose registry entry is
// unusable is skipped and counted instead of being guessed at.
func (k Keeper) BuildProfiles(ctx context.Context, params types.Params) ([]types.ValidatorProfile, int, error) {
	if k.registry == nil {
		return nil, 0, errorsmod.Wrap(types.ErrProfileFetch, "no validator registry configured")
	}

	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, params.ProfileFetchTimeout())
	defer cancel()

	entries, err := k.registry.ListValidators(fetchCtx)
	if err != nil {
		return nil, 0, errorsmod.Wrapf(types.ErrProfileFetch, "list validators: %v", err)
	}
	if err := fetchCtx.Err(); err != nil {
		return nil, 0, errorsmod.Wrapf(types.ErrProfileFetch, "list validators: %v", err)
	}

	votes, err := k.collectVotes(fetchCtx, entries)
	if err != nil {
		return nil, 0, err
	}

	profiles := make([]types.ValidatorProfile, 0, len(entries))
	skipped := 0
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if err := fetchCtx.Err(); err != nil {
			return nil, 0, errorsmod.Wrapf(types.ErrProfileFetch, "building profiles: %v", err)
		}
		profile, reason := k.buildProfile(fetchCtx, entry, votes)
		if reason == "" {
			if _, dup := seen[profile.ValidatorID]; dup {
				reason = "duplicate registry entry"
			}
		}
		if reason != "" {
			skipped++
			k.logger.Warn("Skipping validator profile", "validator", entry.ValidatorID, "reason", reason)
			continue
		}
		seen[profile.ValidatorID] = struct{}{}
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ValidatorID < profiles[j].ValidatorID })
	k.metrics.ProfileDuration.Record(time.Since(start))
	return profiles, skipped, nil
}

// buildProfile returns the profile, or a non-empty reason when the entry must
// be skipped.
func (k Keeper) buildProfile(ctx context.Context, entry types.RegistryEntry, votes map[string][]types.VoteRecord) (types.ValidatorProfile, string) {
	id := strings.TrimSpace(entry.ValidatorID)
	if id == "" {
		return types.ValidatorProfile{}, "missing validator id"
	}
	if entry.Stake.IsNil() {
		return types.ValidatorProfile{}, "missing stake"
	}
	if entry.ActivationUnix < 0 {
		return types.ValidatorProfile{}, "negative activation time"
	}

	profile := types.ValidatorProfile{
		ValidatorID:      id,
		Address:          strings.TrimSpace(entry.Address),
		Stake:            entry.Stake,
		RegistrationTime: entry.ActivationUnix,
		VotesCast:        votes[id],
	}
	if entry.SpectralRegion != "" {
		region, err := types.ParseSpectralRegion(entry.SpectralRegion)
		if err != nil {
			return types.ValidatorProfile{}, err.Error()
		}
		profile.SpectralRegion = region
	}

	if k.telemetry != nil {
		if t, ok := k.telemetry.ValidatorTelemetry(ctx, id); ok {
			profile.IPHash = t.IPHash
			profile.ISPHash = t.ISPHash
			profile.ConnectedPeers = append([]string(nil), t.ConnectedPeers...)
			profile.BlocksCreated = append([]types.BlockRecord(nil), t.Blocks...)
			profile.BlockTimingSignature = append([]float64(nil), t.TimingDeltasMs...)
			if len(profile.BlockTimingSignature) == 0 {
				profile.BlockTimingSignature = TimingDeltas(t.Blocks)
			}
		}
	}

	if origin, ok := k.fundingOrigin(ctx, profile.Address); ok {
		profile.FundingSource = origin.Source
		profile.FundingTimestamp = origin.Unix
	} else if first, ok := earliestDelegation(entry.Delegations); ok {
		profile.FundingSource = first.Delegator
		profile.FundingTimestamp = first.Unix
	}

	if err := profile.Validate(); err != nil {
		return types.ValidatorProfile{}, err.Error()
	}
	return profile, ""
}

// collectVotes regroups the proposal-keyed vote ledger by validator. Votes
// cast under an operator address are attributed to its validator id.
func (k Keeper) collectVotes(ctx context.Context, entries []types.RegistryEntry) (map[string][]types.VoteRecord, error) {
	out := make(map[string][]types.VoteRecord)
	if k.governance == nil {
		return out, nil
	}

	byProposal, err := k.governance.VotesByProposal(ctx)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrProfileFetch, "governance votes: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errorsmod.Wrapf(types.ErrProfileFetch, "governance votes: %v", err)
	}

	byAddress := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Address != "" {
			byAddress[e.Address] = e.ValidatorID
		}
	}

	for proposalID, ballots := range byProposal {
		for _, v := range ballots {
			voter := v.ValidatorID
			if id, ok := byAddress[voter]; ok {
				voter = id
			}
			if voter == "" {
				continue
			}
			out[voter] = append(out[voter], types.VoteRecord{
				ProposalID: proposalID,
				Choice:     v.Choice,
				Timestamp:  v.Timestamp,
			})
		}
	}
	for id := range out {
		records := out[id]
		sort.Slice(records, func(i, j int) bool {
			if records[i].ProposalID != records[j].ProposalID {
				return records[i].ProposalID < records[j].ProposalID
			}
			return records[i].Timestamp < records[j].Timestamp
		})
	}
	return out, nil
}

func (k Keeper) fundingOrigin(ctx context.Context, address string) (types.FundingOrigin, bool) {
	if k.funding == nil || address == "" {
		return types.FundingOrigin{}, false
	}
	if origin, ok := k.fundingCache.Get(address); ok {
		return origin, true
	}
	origin, ok := k.funding.TraceFundingOrigin(ctx, address)
	if !ok || origin.Source == "" {
		return types.FundingOrigin{}, false
	}
	k.fundingCache.Add(address, origin)
	return origin, true
}

func earliestDelegation(delegations []types.Delegation) (types.Delegation, bool) {
	var first types.Delegation
	found := false
	for _, d := range delegations {
		if d.Delegator == "" {
			continue
		}
		if !found || d.Unix < first.Unix {
			first = d
			found = true
		}
	}
	return first, found
}

// TimingDeltas returns the gaps in milliseconds between consecutive blocks,
// ordered by timestamp.
func TimingDeltas(blocks []types.BlockRecord) []float64 {
	if len(blocks) < 2 {
		return nil
	}
	ts := make([]int64, len(blocks))
	for i, b := range blocks {
		ts[i] = b.TimestampMs
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	deltas := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		deltas = append(deltas, float64(ts[i]-ts[i-1]))
	}
	return deltas
}
