// Package fusion combines per-detector candidate clusters into corroborated
// Sybil detections.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/aethelred/sybilguard/x/sybil/detection"
	"github.com/aethelred/sybilguard/x/sybil/penalty"
	"github.com/aethelred/sybilguard/x/sybil/types"
)

const scorePrecision = 1e6

// Engine is stateless; one instance may be shared across scans.
type Engine struct {
	params types.Params
}

func NewEngine(params types.Params) Engine {
	return Engine{params: params}
}

// implication is one (detector, candidate) pair that named a validator.
type implication struct {
	detector  types.DetectorName
	clusterID string
}

// index maps each implicated validator to the pairs that implicated it.
type index map[string][]implication

func buildIndex(set detection.CandidateSet) index {
	idx := make(index)
	for _, name := range types.AllDetectors {
		for _, cand := range set[name] {
			for _, m := range cand.Members {
				idx[m] = append(idx[m], implication{detector: name, clusterID: cand.ClusterID})
			}
		}
	}
	return idx
}

func (idx index) validators() []string {
	out := make([]string, 0, len(idx))
	for id := range idx {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// overlap counts the distinct detectors that placed a and b in the same
// candidate cluster.
func (idx index) overlap(a, b string) int {
	shared := make(map[types.DetectorName]struct{})
	for _, ia := range idx[a] {
		for _, ib := range idx[b] {
			if ia == ib {
				shared[ia.detector] = struct{}{}
			}
		}
	}
	return len(shared)
}

// Fuse merges the candidate set into detections. now stamps every result.
// A validator appears in at most one returned detection.
func (e Engine) Fuse(set detection.CandidateSet, profiles []types.ValidatorProfile, now int64) []types.ClusterDetectionResult {
	idx := buildIndex(set)
	if len(idx) == 0 {
		return nil
	}

	var groups [][]string
	switch e.params.MergeStrategy {
	case types.MergeGreedy:
		groups = e.greedyGroups(idx)
	default:
		groups = e.componentGroups(idx)
	}

	regionOf := make(map[string]types.SpectralRegion, len(profiles))
	for _, p := range profiles {
		regionOf[p.ValidatorID] = p.SpectralRegion
	}

	var out []types.ClusterDetectionResult
	for _, group := range groups {
		if len(group) < e.params.MinClusterSize {
			continue
		}
		if res, ok := e.score(group, set, regionOf, now); ok {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].ClusterID < out[j].ClusterID
	})
	return out
}

// componentGroups returns the connected components of the graph whose edges
// join validators corroborated by at least MinDetectorOverlap detectors.
func (e Engine) componentGroups(idx index) [][]string {
	ids := idx.validators()
	parent := make([]int, len(ids))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			if idx.overlap(ids[i], ids[j]) < e.params.MinDetectorOverlap {
				continue
			}
			ri, rj := find(i), find(j)
			if ri != rj {
				parent[max(ri, rj)] = min(ri, rj)
			}
		}
	}

	byRoot := make(map[int][]string)
	var roots []int
	for i, id := range ids {
		r := find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], id)
	}
	sort.Ints(roots)
	out := make([][]string, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}

// greedyGroups seeds a group with the first unprocessed validator and
// absorbs every unprocessed validator that overlaps the seed.
func (e Engine) greedyGroups(idx index) [][]string {
	ids := idx.validators()
	processed := make(map[string]bool, len(ids))
	var out [][]string
	for _, seed := range ids {
		if processed[seed] {
			continue
		}
		processed[seed] = true
		group := []string{seed}
		for _, other := range ids {
			if processed[other] {
				continue
			}
			if idx.overlap(seed, other) >= e.params.MinDetectorOverlap {
				processed[other] = true
				group = append(group, other)
			}
		}
		out = append(out, group)
	}
	return out
}

// score recomputes the contributing detectors of a group and builds the
// detection. ok is false when the group is not corroborated as a whole.
func (e Engine) score(
	group []string,
	set detection.CandidateSet,
	regionOf map[string]types.SpectralRegion,
	now int64,
) (types.ClusterDetectionResult, bool) {
	members := types.SortedUnique(group)
	inGroup := make(map[string]struct{}, len(members))
	for _, m := range members {
		inGroup[m] = struct{}{}
	}

	vectors := make(map[types.DetectorName]float64)
	var evidence []string
	var total float64
	for _, name := range types.AllDetectors {
		best, found := bestOverlap(set[name], inGroup, e.params.MinClusterSize)
		if !found {
			continue
		}
		w := e.params.Weight(name)
		vectors[name] = w
		total += w
		evidence = append(evidence, fmt.Sprintf("%s: %s", name, best.Evidence))
	}
	if len(vectors) < e.params.MinDetectorOverlap {
		return types.ClusterDetectionResult{}, false
	}

	regions := detection.CountRegions(members, regionOf)
	if regions >= e.params.SpectralBonusRegions {
		total += e.params.SpectralBonus
		evidence = append(evidence, fmt.Sprintf("cluster spans %d spectral regions (+%.2f)", regions, e.params.SpectralBonus))
	}
	// Weights are decimal fractions; round so that sums landing on a tier
	// boundary are not pushed below it by float error.
	total = math.Min(math.Round(total*scorePrecision)/scorePrecision, 1)

	sev := types.SeverityFromScore(total)
	return types.ClusterDetectionResult{
		ClusterID:         types.ClusterIDFor(members),
		Validators:        members,
		Severity:          sev,
		ConfidenceScore:   total,
		DetectionVectors:  vectors,
		SpectralRegions:   regions,
		Evidence:          evidence,
		RecommendedAction: penalty.RecommendedAction(sev),
		Timestamp:         now,
	}, true
}

// bestOverlap returns the candidate sharing the most members with the group,
// provided it shares at least minShared.
func bestOverlap(cands []types.ClusterCandidate, inGroup map[string]struct{}, minShared int) (types.ClusterCandidate, bool) {
	var best types.ClusterCandidate
	bestShared := 0
	for _, c := range cands {
		shared := 0
		for _, m := range c.Members {
			if _, ok := inGroup[m]; ok {
				shared++
			}
		}
		if shared > bestShared {
			best, bestShared = c, shared
		}
	}
	return best, bestShared >= minShared && bestShared > 0
}
