package detection

import (
	"fmt"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

const (
	ispMetric    = 0.6
	subnetMetric = 0.9
)

// NetworkDetector groups validators by shared ISP and shared subnet.
type NetworkDetector struct {
	ispMinGroup    int
	subnetMinGroup int
	prefixLen      int
}

func NewNetworkDetector(params types.Params) NetworkDetector {
	return NetworkDetector{
		ispMinGroup:    max(params.ISPMinGroupSize, params.MinClusterSize),
		subnetMinGroup: max(params.SubnetMinGroupSize, params.MinClusterSize),
		prefixLen:      params.SubnetPrefixLength,
	}
}

func (NetworkDetector) Name() types.DetectorName { return types.DetectorNetwork }

// Detect relies on the ip hash being subnet preserving: its leading
// characters identify the subnet, so a shared prefix means a shared subnet.
func (d NetworkDetector) Detect(profiles []types.ValidatorProfile) []types.ClusterCandidate {
	if len(profiles) < minProfiles {
		return nil
	}

	byISP := make(map[string][]string)
	bySubnet := make(map[string][]string)
	for _, p := range byID(profiles) {
		if p.ISPHash != "" {
			byISP[p.ISPHash] = append(byISP[p.ISPHash], p.ValidatorID)
		}
		if d.prefixLen > 0 && len(p.IPHash) >= d.prefixLen {
			prefix := p.IPHash[:d.prefixLen]
			bySubnet[prefix] = append(bySubnet[prefix], p.ValidatorID)
		}
	}

	var out []types.ClusterCandidate
	for isp, members := range byISP {
		if len(members) < d.ispMinGroup {
			continue
		}
		out = append(out, types.NewClusterCandidate(
			types.DetectorNetwork,
			members,
			ispMetric,
			fmt.Sprintf("%d validators share isp %s", len(members), shortHash(isp)),
		))
	}
	for prefix, members := range bySubnet {
		if len(members) < d.subnetMinGroup {
			continue
		}
		out = append(out, types.NewClusterCandidate(
			types.DetectorNetwork,
			members,
			subnetMetric,
			fmt.Sprintf("%d validators share subnet %s", len(members), prefix),
		))
	}
	return dedupe(out)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
