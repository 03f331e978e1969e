package detection

import (
	"fmt"
	"math"
	"sort"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// BehavioralDetector groups validators whose voting records move together.
type BehavioralDetector struct {
	threshold      float64
	minSharedVotes int
	minMembers     int
}

func NewBehavioralDetector(params types.Params) BehavioralDetector {
	return BehavioralDetector{
		threshold:      params.BehavioralCorrelationThreshold,
		minSharedVotes: params.MinSharedVotes,
		minMembers:     params.MinClusterSize,
	}
}

func (BehavioralDetector) Name() types.DetectorName { return types.DetectorBehavioral }

// voteVector maps proposal id to the signed choice. When a validator voted
// more than once on a proposal the latest vote wins.
func voteVector(p types.ValidatorProfile) map[string]float64 {
	latest := make(map[string]types.VoteRecord, len(p.VotesCast))
	for _, v := range p.VotesCast {
		if prev, ok := latest[v.ProposalID]; ok && prev.Timestamp > v.Timestamp {
			continue
		}
		latest[v.ProposalID] = v
	}
	out := make(map[string]float64, len(latest))
	for id, v := range latest {
		out[id] = v.Choice.Signed()
	}
	return out
}

// proposalsSeen returns the sorted union of proposal ids voted on by any
// profile.
func proposalsSeen(profiles []types.ValidatorProfile) []string {
	seen := make(map[string]struct{})
	for _, p := range profiles {
		for _, v := range p.VotesCast {
			seen[v.ProposalID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// signedSeries lays a vote map over every proposal seen. A missing vote is 0.
func signedSeries(v map[string]float64, proposals []string) []float64 {
	out := make([]float64, len(proposals))
	for i, id := range proposals {
		out[i] = v[id]
	}
	return out
}

// correlation computes Pearson over the full signed series. ok is false when
// the two validators voted together on fewer than minShared proposals.
func correlation(a, b map[string]float64, xs, ys []float64, minShared int) (float64, bool) {
	shared := 0
	for id := range a {
		if _, ok := b[id]; ok {
			shared++
		}
	}
	if shared < minShared {
		return 0, false
	}
	return pearson(xs, ys), true
}

// Detect builds cliques greedily in validator id order: a validator joins a
// clique only when it correlates above the threshold with every member.
func (d BehavioralDetector) Detect(profiles []types.ValidatorProfile) []types.ClusterCandidate {
	if len(profiles) < minProfiles {
		return nil
	}

	sorted := byID(profiles)
	vectors := make([]map[string]float64, 0, len(sorted))
	ids := make([]string, 0, len(sorted))
	for _, p := range sorted {
		if len(p.VotesCast) < d.minSharedVotes {
			continue
		}
		vectors = append(vectors, voteVector(p))
		ids = append(ids, p.ValidatorID)
	}
	n := len(ids)
	if n < minProfiles {
		return nil
	}
	proposals := proposalsSeen(sorted)
	series := make([][]float64, n)
	for i, v := range vectors {
		series[i] = signedSeries(v, proposals)
	}

	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		for j := range corr[i] {
			corr[i][j] = math.NaN()
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if r, ok := correlation(vectors[i], vectors[j], series[i], series[j], d.minSharedVotes); ok {
				corr[i][j] = r
				corr[j][i] = r
			}
		}
	}

	assigned := make([]bool, n)
	var out []types.ClusterCandidate
	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}
		clique := []int{i}
		for j := i + 1; j < n; j++ {
			if assigned[j] {
				continue
			}
			fits := true
			for _, m := range clique {
				if r := corr[m][j]; math.IsNaN(r) || r <= d.threshold {
					fits = false
					break
				}
			}
			if fits {
				clique = append(clique, j)
			}
		}
		if len(clique) < d.minMembers {
			continue
		}

		var sum float64
		var pairs int
		members := make([]string, 0, len(clique))
		for a, m := range clique {
			assigned[m] = true
			members = append(members, ids[m])
			for _, o := range clique[a+1:] {
				sum += corr[m][o]
				pairs++
			}
		}
		meanCorr := sum / float64(pairs)
		metric := clamp01(0.7*meanCorr + 0.3*math.Min(float64(len(clique))/10, 1))
		out = append(out, types.NewClusterCandidate(
			types.DetectorBehavioral,
			members,
			metric,
			fmt.Sprintf("%d validators vote with mean correlation %.3f", len(clique), meanCorr),
		))
	}
	return sortCandidates(out)
}
