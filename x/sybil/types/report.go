package types

import (
	sdkmath "cosmossdk.io/math"
)

// ValidatorState is the enforcement state of a single validator.
type ValidatorState string

const (
	StateActive    ValidatorState = "ACTIVE"
	StateMonitored ValidatorState = "MONITORED"
	StateJailed    ValidatorState = "JAILED"
	StateBanned    ValidatorState = "BANNED"
)

// RiskScore is the on-demand risk assessment of a validator.
type RiskScore struct {
	ValidatorID     string         `json:"validator_id"`
	Score           float64        `json:"score"`
	Level           Severity       `json:"level"`
	State           ValidatorState `json:"state"`
	ActivePenalties int            `json:"active_penalties"`
	Factors         []string       `json:"factors"`
}

// HealthStatus summarizes how much of the validator set is flagged.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthCaution  HealthStatus = "CAUTION"
	HealthWarning  HealthStatus = "WARNING"
	HealthCritical HealthStatus = "CRITICAL"
)

// HealthReport aggregates detection and penalty history.
type HealthReport struct {
	Status              HealthStatus     `json:"status"`
	Score               float64          `json:"score"`
	FlaggedFraction     float64          `json:"flagged_fraction"`
	TotalValidators     int              `json:"total_validators"`
	FlaggedValidators   int              `json:"flagged_validators"`
	BannedValidators    int              `json:"banned_validators"`
	JailedValidators    int              `json:"jailed_validators"`
	MonitoredValidators int              `json:"monitored_validators"`
	TotalScans          uint64           `json:"total_scans"`
	TotalDetections     uint64           `json:"total_detections"`
	TotalPenalties      uint64           `json:"total_penalties"`
	DetectionsBySev     map[string]int64 `json:"detections_by_severity"`
	TotalSlashed        sdkmath.Int      `json:"total_slashed"`
	LastScanUnix        int64            `json:"last_scan_unix"`
	LastScanError       string           `json:"last_scan_error,omitempty"`
}

// Stats is the persisted running total across scans.
type Stats struct {
	TotalScans         uint64           `json:"total_scans"`
	FailedScans        uint64           `json:"failed_scans"`
	TotalDetections    uint64           `json:"total_detections"`
	DetectionsBySev    map[string]int64 `json:"detections_by_severity"`
	TotalPenalties     uint64           `json:"total_penalties"`
	FailedPenalties    uint64           `json:"failed_penalties"`
	TotalSlashed       sdkmath.Int      `json:"total_slashed"`
	LastValidatorCount int              `json:"last_validator_count"`
}

// NewStats returns zeroed statistics.
func NewStats() Stats {
	return Stats{
		DetectionsBySev: make(map[string]int64),
		TotalSlashed:    sdkmath.ZeroInt(),
	}
}

// ScanReport describes the most recent completed scan. It is published as an
// immutable snapshot; readers never observe a partially written report.
type ScanReport struct {
	Height          int64                    `json:"height"`
	StartedUnix     int64                    `json:"started_unix"`
	DurationMs      int64                    `json:"duration_ms"`
	Forced          bool                     `json:"forced"`
	ProfilesBuilt   int                      `json:"profiles_built"`
	ProfilesSkipped int                      `json:"profiles_skipped"`
	Candidates      map[DetectorName]int     `json:"candidates"`
	Detections      []ClusterDetectionResult `json:"detections"`
	Penalties       ApplySummary             `json:"penalties"`
	Error           string                   `json:"error,omitempty"`
}
