package detection

import (
	"fmt"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// SpectralDetector escalates behavioral cliques whose members span many
// spectral regions. Regions are assigned to force independence, so identical
// voting across them is the strongest signal available.
type SpectralDetector struct {
	minRegions int
}

func NewSpectralDetector(params types.Params) SpectralDetector {
	return SpectralDetector{minRegions: params.MinSpectralRegions}
}

func (SpectralDetector) Name() types.DetectorName { return types.DetectorSpectral }

// Detect runs on behavioral output; it has nothing to say without it.
func (d SpectralDetector) Detect(profiles []types.ValidatorProfile, behavioral []types.ClusterCandidate) []types.ClusterCandidate {
	if len(profiles) < minProfiles || len(behavioral) == 0 {
		return nil
	}

	regionOf := make(map[string]types.SpectralRegion, len(profiles))
	for _, p := range profiles {
		regionOf[p.ValidatorID] = p.SpectralRegion
	}

	var out []types.ClusterCandidate
	for _, cand := range behavioral {
		regions := CountRegions(cand.Members, regionOf)
		if regions < d.minRegions {
			continue
		}
		out = append(out, types.NewClusterCandidate(
			types.DetectorSpectral,
			cand.Members,
			float64(regions)/float64(len(types.AllSpectralRegions)),
			fmt.Sprintf("correlated clique %s spans %d spectral regions", cand.ClusterID, regions),
		))
	}
	return sortCandidates(out)
}

// CountRegions counts the distinct, non-empty regions among members.
func CountRegions(members []string, regionOf map[string]types.SpectralRegion) int {
	seen := make(map[types.SpectralRegion]struct{})
	for _, id := range members {
		if r := regionOf[id]; r != "" {
			seen[r] = struct{}{}
		}
	}
	return len(seen)
}
