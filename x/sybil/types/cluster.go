package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DetectorName identifies one detection vector.
type DetectorName string

const (
	DetectorTemporal   DetectorName = "temporal"
	DetectorBehavioral DetectorName = "behavioral"
	DetectorEconomic   DetectorName = "economic"
	DetectorNetwork    DetectorName = "network"
	DetectorSpectral   DetectorName = "spectral"
	DetectorDevice     DetectorName = "device"
)

// AllDetectors lists the detection vectors in canonical order.
var AllDetectors = []DetectorName{
	DetectorTemporal,
	DetectorBehavioral,
	DetectorEconomic,
	DetectorNetwork,
	DetectorSpectral,
	DetectorDevice,
}

// ClusterCandidate is a group of validators one detector believes coordinated.
type ClusterCandidate struct {
	Detector  DetectorName `json:"detector"`
	ClusterID string       `json:"cluster_id"`
	Members   []string     `json:"members"`
	Metric    float64      `json:"metric"`
	Evidence  string       `json:"evidence"`
}

// NewClusterCandidate sorts members and derives a deterministic cluster id.
func NewClusterCandidate(detector DetectorName, members []string, metric float64, evidence string) ClusterCandidate {
	sorted := SortedUnique(members)
	return ClusterCandidate{
		Detector:  detector,
		ClusterID: fmt.Sprintf("%s-%s", detector, memberDigest(sorted)[:12]),
		Members:   sorted,
		Metric:    metric,
		Evidence:  evidence,
	}
}

// Contains reports whether the candidate includes the validator.
func (c ClusterCandidate) Contains(validatorID string) bool {
	i := sort.SearchStrings(c.Members, validatorID)
	return i < len(c.Members) && c.Members[i] == validatorID
}

// Severity is the ordered tier assigned to a fused detection.
type Severity int32

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "NONE",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SEVERITY(%d)", int32(s))
}

// ParseSeverity converts a tier name back into a Severity.
func ParseSeverity(raw string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	for sev, name := range severityNames {
		if name == upper {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", raw)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(bz []byte) error {
	var raw string
	if err := json.Unmarshal(bz, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// severityThresholds are inclusive lower bounds, highest tier first.
var severityThresholds = []struct {
	severity Severity
	minScore float64
}{
	{SeverityCritical, 0.8},
	{SeverityHigh, 0.6},
	{SeverityMedium, 0.4},
	{SeverityLow, 0.2},
}

// SeverityFromScore maps a confidence score onto a tier. A score exactly on a
// boundary belongs to the higher tier.
func SeverityFromScore(score float64) Severity {
	for _, t := range severityThresholds {
		if score >= t.minScore {
			return t.severity
		}
	}
	return SeverityNone
}

// ClusterDetectionResult is a fused, corroborated Sybil detection.
type ClusterDetectionResult struct {
	ClusterID         string                   `json:"cluster_id"`
	Sequence          uint64                   `json:"sequence"`
	Validators        []string                 `json:"validators"`
	Severity          Severity                 `json:"severity"`
	ConfidenceScore   float64                  `json:"confidence_score"`
	DetectionVectors  map[DetectorName]float64 `json:"detection_vectors"`
	SpectralRegions   int                      `json:"spectral_regions"`
	Evidence          []string                 `json:"evidence"`
	RecommendedAction string                   `json:"recommended_action"`
	Timestamp         int64                    `json:"timestamp"`
}

// ClusterIDFor derives the fused cluster id from its members.
func ClusterIDFor(members []string) string {
	return "sybil-" + memberDigest(SortedUnique(members))[:16]
}

// Detectors returns the contributing detectors in canonical order.
func (r ClusterDetectionResult) Detectors() []DetectorName {
	out := make([]DetectorName, 0, len(r.DetectionVectors))
	for _, name := range AllDetectors {
		if _, ok := r.DetectionVectors[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Validate checks structural invariants of a detection record.
func (r ClusterDetectionResult) Validate(minClusterSize int) error {
	if r.ClusterID == "" {
		return fmt.Errorf("cluster id cannot be empty")
	}
	if len(r.Validators) < minClusterSize {
		return fmt.Errorf("cluster %s has %d validators, need at least %d", r.ClusterID, len(r.Validators), minClusterSize)
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("cluster %s confidence %.4f outside [0,1]", r.ClusterID, r.ConfidenceScore)
	}
	if r.Severity < SeverityNone || r.Severity > SeverityCritical {
		return fmt.Errorf("cluster %s has unknown severity %d", r.ClusterID, r.Severity)
	}
	return nil
}

// SortedUnique returns a sorted copy of ids without duplicates or blanks.
func SortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func memberDigest(sorted []string) string {
	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:])
}
