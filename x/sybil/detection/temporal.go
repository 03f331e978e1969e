package detection

import (
	"fmt"
	"math"
	"sort"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// TemporalDetector flags validators registered in bursts.
type TemporalDetector struct {
	windowSeconds int64
	minMembers    int
}

func NewTemporalDetector(params types.Params) TemporalDetector {
	return TemporalDetector{
		windowSeconds: params.TemporalWindowSeconds,
		minMembers:    params.MinClusterSize,
	}
}

func (TemporalDetector) Name() types.DetectorName { return types.DetectorTemporal }

// Detect slides a window over registration times. Windows do not overlap: once
// a burst is reported, scanning resumes after its last member.
func (d TemporalDetector) Detect(profiles []types.ValidatorProfile) []types.ClusterCandidate {
	if len(profiles) < minProfiles || d.windowSeconds <= 0 {
		return nil
	}

	registered := make([]types.ValidatorProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.RegistrationTime > 0 {
			registered = append(registered, p)
		}
	}
	sort.Slice(registered, func(i, j int) bool {
		if registered[i].RegistrationTime != registered[j].RegistrationTime {
			return registered[i].RegistrationTime < registered[j].RegistrationTime
		}
		return registered[i].ValidatorID < registered[j].ValidatorID
	})

	var out []types.ClusterCandidate
	for i := 0; i < len(registered); {
		j := i
		for j+1 < len(registered) && registered[j+1].RegistrationTime-registered[i].RegistrationTime <= d.windowSeconds {
			j++
		}
		count := j - i + 1
		if count < d.minMembers {
			i++
			continue
		}

		members := make([]string, 0, count)
		for _, p := range registered[i : j+1] {
			members = append(members, p.ValidatorID)
		}
		span := registered[j].RegistrationTime - registered[i].RegistrationTime
		perMinute := float64(count) / math.Max(float64(span)/60, 1)
		out = append(out, types.NewClusterCandidate(
			types.DetectorTemporal,
			members,
			perMinute,
			fmt.Sprintf("%d validators registered within %ds (%.2f/min)", count, span, perMinute),
		))
		i = j + 1
	}
	return sortCandidates(out)
}
