// Package detection implements the independent Sybil detection vectors.
//
// Every detector is a pure function of the profile snapshot it is handed: it
// never mutates its input, never returns an error, and yields an empty result
// whenever the data it needs is missing.
package detection

import (
	"sort"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// Detector proposes candidate clusters along one dimension of coordination.
type Detector interface {
	Name() types.DetectorName
	Detect(profiles []types.ValidatorProfile) []types.ClusterCandidate
}

// minProfiles is the smallest population any detector will look at.
const minProfiles = 2

// Eligible drops profiles that carry neither stake nor activity. The input
// slice is left untouched.
func Eligible(profiles []types.ValidatorProfile) []types.ValidatorProfile {
	out := make([]types.ValidatorProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.ValidatorID == "" || !p.IsEligible() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortCandidates(cands []types.ClusterCandidate) []types.ClusterCandidate {
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].ClusterID < cands[j].ClusterID
	})
	return cands
}

// dedupe keeps the highest-metric candidate for each cluster id.
func dedupe(cands []types.ClusterCandidate) []types.ClusterCandidate {
	best := make(map[string]types.ClusterCandidate, len(cands))
	for _, c := range cands {
		if prev, ok := best[c.ClusterID]; ok && prev.Metric >= c.Metric {
			continue
		}
		best[c.ClusterID] = c
	}
	out := make([]types.ClusterCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return sortCandidates(out)
}

func byID(profiles []types.ValidatorProfile) []types.ValidatorProfile {
	out := append([]types.ValidatorProfile(nil), profiles...)
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorID < out[j].ValidatorID })
	return out
}
