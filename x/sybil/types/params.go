package types

import (
	"fmt"
	"math"
	"strings"
	"time"

	servertypes "github.com/cosmos/cosmos-sdk/server/types"
	"github.com/spf13/cast"
)

// MergeStrategy selects how fusion groups corroborated validators.
type MergeStrategy string

const (
	// MergeComponents groups validators by connected components of the
	// detector-overlap graph. The result does not depend on iteration order.
	MergeComponents MergeStrategy = "components"

	// MergeGreedy seeds a group with the first unprocessed validator and
	// absorbs every validator that overlaps the seed.
	MergeGreedy MergeStrategy = "greedy"
)

// Params holds every tunable of the detection pipeline.
type Params struct {
	ScanIntervalSeconds int64 `json:"scan_interval_seconds"`
	AutoScan            bool  `json:"auto_scan"`

	TemporalWindowSeconds          int64   `json:"temporal_window_seconds"`
	BehavioralCorrelationThreshold float64 `json:"behavioral_correlation_threshold"`
	MinSharedVotes                 int     `json:"min_shared_votes"`
	EconomicFundingSpanSeconds     int64   `json:"economic_funding_span_seconds"`
	ISPMinGroupSize                int     `json:"isp_min_group_size"`
	SubnetMinGroupSize             int     `json:"subnet_min_group_size"`
	SubnetPrefixLength             int     `json:"subnet_prefix_length"`
	MinSpectralRegions             int     `json:"min_spectral_regions"`
	DeviceEpsilonMs                float64 `json:"device_epsilon_ms"`
	DeviceMinSamples               int     `json:"device_min_samples"`
	MinTimingSamples               int     `json:"min_timing_samples"`

	DetectorWeights      map[DetectorName]float64 `json:"detector_weights"`
	MinClusterSize       int                      `json:"min_cluster_size"`
	MinDetectorOverlap   int                      `json:"min_detector_overlap"`
	SpectralBonus        float64                  `json:"spectral_bonus"`
	SpectralBonusRegions int                      `json:"spectral_bonus_regions"`
	MergeStrategy        MergeStrategy            `json:"merge_strategy"`

	ProfileFetchTimeoutMs int64 `json:"profile_fetch_timeout_ms"`
	LedgerTimeoutMs       int64 `json:"ledger_timeout_ms"`

	HealthCautionFraction  float64 `json:"health_caution_fraction"`
	HealthWarningFraction  float64 `json:"health_warning_fraction"`
	HealthCriticalFraction float64 `json:"health_critical_fraction"`
}

// DefaultDetectorWeights returns the fusion weight of each detector.
func DefaultDetectorWeights() map[DetectorName]float64 {
	return map[DetectorName]float64{
		DetectorTemporal:   0.15,
		DetectorBehavioral: 0.25,
		DetectorEconomic:   0.20,
		DetectorNetwork:    0.15,
		DetectorSpectral:   0.20,
		DetectorDevice:     0.05,
	}
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ScanIntervalSeconds: 3600,
		AutoScan:            true,

		TemporalWindowSeconds:          3600,
		BehavioralCorrelationThreshold: 0.8,
		MinSharedVotes:                 3,
		EconomicFundingSpanSeconds:     86400,
		ISPMinGroupSize:                5,
		SubnetMinGroupSize:             3,
		SubnetPrefixLength:             8,
		MinSpectralRegions:             5,
		DeviceEpsilonMs:                50,
		DeviceMinSamples:               3,
		MinTimingSamples:               3,

		DetectorWeights:      DefaultDetectorWeights(),
		MinClusterSize:       3,
		MinDetectorOverlap:   2,
		SpectralBonus:        0.2,
		SpectralBonusRegions: 5,
		MergeStrategy:        MergeComponents,

		ProfileFetchTimeoutMs: 5000,
		LedgerTimeoutMs:       2000,

		HealthCautionFraction:  0.05,
		HealthWarningFraction:  0.15,
		HealthCriticalFraction: 0.33,
	}
}

// Weight returns the fusion weight of a detector, zero when unset.
func (p Params) Weight(name DetectorName) float64 {
	return p.DetectorWeights[name]
}

// ScanInterval returns the minimum time between unforced scans.
func (p Params) ScanInterval() time.Duration {
	return time.Duration(p.ScanIntervalSeconds) * time.Second
}

// ProfileFetchTimeout bounds collaborator reads at profile-build time.
func (p Params) ProfileFetchTimeout() time.Duration {
	return time.Duration(p.ProfileFetchTimeoutMs) * time.Millisecond
}

// LedgerTimeout bounds each ledger mutation.
func (p Params) LedgerTimeout() time.Duration {
	return time.Duration(p.LedgerTimeoutMs) * time.Millisecond
}

// Validate rejects configurations that would make detection meaningless.
func (p Params) Validate() error {
	if p.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if p.TemporalWindowSeconds <= 0 {
		return fmt.Errorf("temporal window must be positive")
	}
	if !inUnitInterval(p.BehavioralCorrelationThreshold) || p.BehavioralCorrelationThreshold == 0 {
		return fmt.Errorf("behavioral correlation threshold must be in (0, 1]")
	}
	if p.MinSharedVotes < 2 {
		return fmt.Errorf("min shared votes must be at least 2")
	}
	if p.EconomicFundingSpanSeconds <= 0 {
		return fmt.Errorf("economic funding span must be positive")
	}
	if p.MinClusterSize < 3 {
		return fmt.Errorf("min cluster size must be at least 3")
	}
	if p.ISPMinGroupSize < p.MinClusterSize {
		return fmt.Errorf("isp min group size must be at least min cluster size (%d)", p.MinClusterSize)
	}
	if p.SubnetMinGroupSize < p.MinClusterSize {
		return fmt.Errorf("subnet min group size must be at least min cluster size (%d)", p.MinClusterSize)
	}
	if p.SubnetPrefixLength < 1 || p.SubnetPrefixLength > 64 {
		return fmt.Errorf("subnet prefix length must be in [1, 64]")
	}
	if p.MinSpectralRegions < 1 || p.MinSpectralRegions > len(AllSpectralRegions) {
		return fmt.Errorf("min spectral regions must be in [1, %d]", len(AllSpectralRegions))
	}
	if p.DeviceEpsilonMs <= 0 || math.IsNaN(p.DeviceEpsilonMs) || math.IsInf(p.DeviceEpsilonMs, 0) {
		return fmt.Errorf("device epsilon must be a positive number of milliseconds")
	}
	if p.DeviceMinSamples < 2 {
		return fmt.Errorf("device min samples must be at least 2")
	}
	if p.MinTimingSamples < 2 {
		return fmt.Errorf("min timing samples must be at least 2")
	}
	if p.MinDetectorOverlap < 2 {
		return fmt.Errorf("min detector overlap must be at least 2")
	}
	if err := validateWeights(p.DetectorWeights); err != nil {
		return err
	}
	if !inUnitInterval(p.SpectralBonus) {
		return fmt.Errorf("spectral bonus must be in [0, 1]")
	}
	if p.SpectralBonusRegions < 1 || p.SpectralBonusRegions > len(AllSpectralRegions) {
		return fmt.Errorf("spectral bonus regions must be in [1, %d]", len(AllSpectralRegions))
	}
	switch p.MergeStrategy {
	case MergeComponents, MergeGreedy:
	default:
		return fmt.Errorf("merge strategy must be one of %s, %s", MergeComponents, MergeGreedy)
	}
	if p.ProfileFetchTimeoutMs <= 0 || p.LedgerTimeoutMs <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if !(0 < p.HealthCautionFraction && p.HealthCautionFraction <= p.HealthWarningFraction &&
		p.HealthWarningFraction <= p.HealthCriticalFraction && p.HealthCriticalFraction <= 1) {
		return fmt.Errorf("health fractions must satisfy 0 < caution <= warning <= critical <= 1")
	}
	return nil
}

func validateWeights(weights map[DetectorName]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("detector weights cannot be empty")
	}
	known := make(map[DetectorName]struct{}, len(AllDetectors))
	for _, name := range AllDetectors {
		known[name] = struct{}{}
	}
	for name, w := range weights {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown detector %q in weights", name)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight for %s must be a non-negative number", name)
		}
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}

// App option keys read by ParamsFromAppOptions.
const (
	FlagScanInterval         = "sybil.scan-interval-seconds"
	FlagAutoScan             = "sybil.auto-scan"
	FlagTemporalWindow       = "sybil.temporal-window-seconds"
	FlagCorrelationThreshold = "sybil.correlation-threshold"
	FlagMinSpectralRegions   = "sybil.min-spectral-regions"
	FlagDeviceEpsilonMs      = "sybil.device-epsilon-ms"
	FlagMinClusterSize       = "sybil.min-cluster-size"
	FlagMinDetectorOverlap   = "sybil.min-detector-overlap"
	FlagMergeStrategy        = "sybil.merge-strategy"
	FlagLedgerTimeoutMs      = "sybil.ledger-timeout-ms"
	FlagProfileTimeoutMs     = "sybil.profile-fetch-timeout-ms"
	flagWeightPrefix         = "sybil.weights."
)

// ParamsFromAppOptions overlays node operator options on base and validates
// the result, so a bad config fails at load time instead of at scan time.
func ParamsFromAppOptions(appOpts servertypes.AppOptions, base Params) (Params, error) {
	p := base
	p.DetectorWeights = make(map[DetectorName]float64, len(base.DetectorWeights))
	for name, w := range base.DetectorWeights {
		p.DetectorWeights[name] = w
	}
	if appOpts == nil {
		return p, p.Validate()
	}

	var err error
	set := func(key string, apply func(v interface{}) error) {
		if err != nil {
			return
		}
		if v := appOpts.Get(key); v != nil {
			if applyErr := apply(v); applyErr != nil {
				err = fmt.Errorf("%s: %w", key, applyErr)
			}
		}
	}

	set(FlagScanInterval, func(v interface{}) (e error) { p.ScanIntervalSeconds, e = cast.ToInt64E(v); return })
	set(FlagAutoScan, func(v interface{}) (e error) { p.AutoScan, e = cast.ToBoolE(v); return })
	set(FlagTemporalWindow, func(v interface{}) (e error) { p.TemporalWindowSeconds, e = cast.ToInt64E(v); return })
	set(FlagCorrelationThreshold, func(v interface{}) (e error) {
		p.BehavioralCorrelationThreshold, e = cast.ToFloat64E(v)
		return
	})
	set(FlagMinSpectralRegions, func(v interface{}) (e error) { p.MinSpectralRegions, e = cast.ToIntE(v); return })
	set(FlagDeviceEpsilonMs, func(v interface{}) (e error) { p.DeviceEpsilonMs, e = cast.ToFloat64E(v); return })
	set(FlagMinClusterSize, func(v interface{}) (e error) { p.MinClusterSize, e = cast.ToIntE(v); return })
	set(FlagMinDetectorOverlap, func(v interface{}) (e error) { p.MinDetectorOverlap, e = cast.ToIntE(v); return })
	set(FlagLedgerTimeoutMs, func(v interface{}) (e error) { p.LedgerTimeoutMs, e = cast.ToInt64E(v); return })
	set(FlagProfileTimeoutMs, func(v interface{}) (e error) { p.ProfileFetchTimeoutMs, e = cast.ToInt64E(v); return })
	set(FlagMergeStrategy, func(v interface{}) error {
		s, e := cast.ToStringE(v)
		p.MergeStrategy = MergeStrategy(strings.ToLower(strings.TrimSpace(s)))
		return e
	})
	for _, name := range AllDetectors {
		name := name
		set(flagWeightPrefix+string(name), func(v interface{}) (e error) {
			p.DetectorWeights[name], e = cast.ToFloat64E(v)
			return
		})
	}
	if err != nil {
		return base, err
	}
	if err := p.Validate(); err != nil {
		return base, err
	}
	return p, nil
}
