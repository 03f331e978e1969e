package detection

import (
	"sync"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// CandidateSet holds every detector's output for one scan.
type CandidateSet map[types.DetectorName][]types.ClusterCandidate

// Count returns the total number of candidates across detectors.
func (s CandidateSet) Count() int {
	n := 0
	for _, c := range s {
		n += len(c)
	}
	return n
}

// Suite runs every detection vector over one profile snapshot.
type Suite struct {
	independent []Detector
	spectral    SpectralDetector
}

func NewSuite(params types.Params) Suite {
	return Suite{
		independent: []Detector{
			NewTemporalDetector(params),
			NewBehavioralDetector(params),
			NewEconomicDetector(params),
			NewNetworkDetector(params),
			NewDeviceDetector(params),
		},
		spectral: NewSpectralDetector(params),
	}
}

// Run filters ineligible profiles, runs the independent detectors in
// parallel, then runs the spectral detector over the behavioral cliques.
func (s Suite) Run(profiles []types.ValidatorProfile) CandidateSet {
	eligible := Eligible(profiles)
	set := make(CandidateSet, len(types.AllDetectors))
	if len(eligible) < minProfiles {
		return set
	}

	results := make([][]types.ClusterCandidate, len(s.independent))
	var wg sync.WaitGroup
	for i, det := range s.independent {
		wg.Add(1)
		go func(i int, det Detector) {
			defer wg.Done()
			results[i] = det.Detect(eligible)
		}(i, det)
	}
	wg.Wait()

	for i, det := range s.independent {
		if len(results[i]) > 0 {
			set[det.Name()] = results[i]
		}
	}
	if spectral := s.spectral.Detect(eligible, set[types.DetectorBehavioral]); len(spectral) > 0 {
		set[types.DetectorSpectral] = spectral
	}
	return set
}
