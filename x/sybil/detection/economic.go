package detection

import (
	"fmt"
	"math"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// EconomicDetector flags validators funded from the same origin.
type EconomicDetector struct {
	spanSeconds int64
	minMembers  int
}

func NewEconomicDetector(params types.Params) EconomicDetector {
	return EconomicDetector{
		spanSeconds: params.EconomicFundingSpanSeconds,
		minMembers:  params.MinClusterSize,
	}
}

func (EconomicDetector) Name() types.DetectorName { return types.DetectorEconomic }

func (d EconomicDetector) Detect(profiles []types.ValidatorProfile) []types.ClusterCandidate {
	if len(profiles) < minProfiles {
		return nil
	}

	groups := make(map[string][]types.ValidatorProfile)
	for _, p := range byID(profiles) {
		if p.FundingSource == "" {
			continue
		}
		groups[p.FundingSource] = append(groups[p.FundingSource], p)
	}

	var out []types.ClusterCandidate
	for source, group := range groups {
		if len(group) < d.minMembers {
			continue
		}
		members := make([]string, 0, len(group))
		first, last := int64(math.MaxInt64), int64(0)
		dated := 0
		for _, p := range group {
			members = append(members, p.ValidatorID)
			if p.FundingTimestamp <= 0 {
				continue
			}
			dated++
			first = min(first, p.FundingTimestamp)
			last = max(last, p.FundingTimestamp)
		}

		sizeScore := math.Min(float64(len(group))/10, 1)
		timeScore := 0.0
		evidence := fmt.Sprintf("%d validators funded by %s", len(group), source)
		if dated >= d.minMembers && d.spanSeconds > 0 {
			span := last - first
			timeScore = 1 - math.Min(float64(span)/float64(d.spanSeconds), 1)
			evidence = fmt.Sprintf("%s within %ds", evidence, span)
		}
		out = append(out, types.NewClusterCandidate(
			types.DetectorEconomic,
			members,
			clamp01(0.5*sizeScore+0.5*timeScore),
			evidence,
		))
	}
	return sortCandidates(out)
}
