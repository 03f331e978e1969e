package detection

import (
	"fmt"
	"math"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// DeviceDetector clusters block-timing fingerprints with DBSCAN over the
// (mean, std-dev) of each validator's inter-block deltas.
type DeviceDetector struct {
	epsilonMs  float64
	minSamples int
	minTiming  int
	minMembers int
}

func NewDeviceDetector(params types.Params) DeviceDetector {
	return DeviceDetector{
		epsilonMs:  params.DeviceEpsilonMs,
		minSamples: params.DeviceMinSamples,
		minTiming:  params.MinTimingSamples,
		minMembers: params.MinClusterSize,
	}
}

func (DeviceDetector) Name() types.DetectorName { return types.DetectorDevice }

func (d DeviceDetector) Detect(profiles []types.ValidatorProfile) []types.ClusterCandidate {
	if len(profiles) < minProfiles || d.epsilonMs <= 0 {
		return nil
	}

	points := make([]point, 0, len(profiles))
	for _, p := range byID(profiles) {
		if len(p.BlockTimingSignature) < d.minTiming {
			continue
		}
		points = append(points, point{
			id: p.ValidatorID,
			x:  mean(p.BlockTimingSignature),
			y:  stdDev(p.BlockTimingSignature),
		})
	}
	if len(points) < d.minMembers {
		return nil
	}

	index := make(map[string]point, len(points))
	for _, pt := range points {
		index[pt.id] = pt
	}

	var out []types.ClusterCandidate
	for _, members := range groupLabels(points, dbscan(points, d.epsilonMs, d.minSamples)) {
		if len(members) < d.minMembers {
			continue
		}
		var spread float64
		centre := point{}
		for _, id := range members {
			centre.x += index[id].x
			centre.y += index[id].y
		}
		centre.x /= float64(len(members))
		centre.y /= float64(len(members))
		for _, id := range members {
			spread = math.Max(spread, distance(centre, index[id]))
		}
		out = append(out, types.NewClusterCandidate(
			types.DetectorDevice,
			members,
			clamp01(1-spread/d.epsilonMs),
			fmt.Sprintf("%d validators share timing fingerprint mean=%.1fms std=%.1fms", len(members), centre.x, centre.y),
		))
	}
	return sortCandidates(out)
}
