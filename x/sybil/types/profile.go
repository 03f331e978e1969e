package types

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// VoteChoice is a validator's position on a governance proposal.
type VoteChoice string

const (
	VoteApprove VoteChoice = "APPROVE"
	VoteReject  VoteChoice = "REJECT"
	VoteAbstain VoteChoice = "ABSTAIN"
)

// Signed maps a choice onto the vote vector used for correlation.
// Unknown choices count as abstentions.
func (c VoteChoice) Signed() float64 {
	switch c {
	case VoteApprove:
		return 1
	case VoteReject:
		return -1
	default:
		return 0
	}
}

// ParseVoteChoice normalizes free-form choice strings.
func ParseVoteChoice(raw string) (VoteChoice, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVE", "YES":
		return VoteApprove, nil
	case "REJECT", "NO", "NO_WITH_VETO":
		return VoteReject, nil
	case "ABSTAIN", "":
		return VoteAbstain, nil
	default:
		return "", fmt.Errorf("unknown vote choice %q", raw)
	}
}

// SpectralRegion is the partition tag assigned at registration. Validators in
// different regions are expected to operate independently.
type SpectralRegion string

const (
	RegionGamma       SpectralRegion = "gamma"
	RegionXRay        SpectralRegion = "xray"
	RegionUltraviolet SpectralRegion = "ultraviolet"
	RegionVisible     SpectralRegion = "visible"
	RegionInfrared    SpectralRegion = "infrared"
	RegionMicrowave   SpectralRegion = "microwave"
	RegionRadio       SpectralRegion = "radio"
)

// AllSpectralRegions lists every known region in canonical order.
var AllSpectralRegions = []SpectralRegion{
	RegionGamma,
	RegionXRay,
	RegionUltraviolet,
	RegionVisible,
	RegionInfrared,
	RegionMicrowave,
	RegionRadio,
}

// ParseSpectralRegion validates a region tag. An empty tag is allowed and
// means the validator was registered without one.
func ParseSpectralRegion(raw string) (SpectralRegion, error) {
	region := SpectralRegion(strings.ToLower(strings.TrimSpace(raw)))
	if region == "" {
		return "", nil
	}
	for _, known := range AllSpectralRegions {
		if region == known {
			return region, nil
		}
	}
	return "", fmt.Errorf("unknown spectral region %q", raw)
}

// VoteRecord is one vote cast by a validator.
type VoteRecord struct {
	ProposalID string     `json:"proposal_id"`
	Choice     VoteChoice `json:"choice"`
	Timestamp  int64      `json:"timestamp"`
}

// BlockRecord is one block produced by a validator.
type BlockRecord struct {
	BlockID     string `json:"block_id"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// ValidatorProfile is the per-scan feature record of a validator. Profiles are
// rebuilt from collaborator data on every scan and never persisted.
type ValidatorProfile struct {
	ValidatorID      string         `json:"validator_id"`
	Address          string         `json:"address"`
	SpectralRegion   SpectralRegion `json:"spectral_region,omitempty"`
	Stake            sdkmath.Int    `json:"stake"`
	RegistrationTime int64          `json:"registration_time"`

	VotesCast     []VoteRecord  `json:"votes_cast,omitempty"`
	BlocksCreated []BlockRecord `json:"blocks_created,omitempty"`

	FundingSource    string `json:"funding_source,omitempty"`
	FundingTimestamp int64  `json:"funding_timestamp,omitempty"`

	ConnectedPeers []string `json:"connected_peers,omitempty"`
	IPHash         string   `json:"ip_hash,omitempty"`
	ISPHash        string   `json:"isp_hash,omitempty"`

	BlockTimingSignature []float64 `json:"block_timing_signature,omitempty"`
}

// HasStake reports whether the profile carries a positive stake.
func (p ValidatorProfile) HasStake() bool {
	return !p.Stake.IsNil() && p.Stake.IsPositive()
}

// HasActivity reports whether the validator voted or produced blocks.
func (p ValidatorProfile) HasActivity() bool {
	return len(p.VotesCast) > 0 || len(p.BlocksCreated) > 0 || len(p.BlockTimingSignature) > 0
}

// IsEligible reports whether the profile takes part in detection.
func (p ValidatorProfile) IsEligible() bool {
	return p.HasStake() || p.HasActivity()
}

// Validate checks the fields every detector relies on.
func (p ValidatorProfile) Validate() error {
	if strings.TrimSpace(p.ValidatorID) == "" {
		return fmt.Errorf("validator id cannot be empty")
	}
	if !p.Stake.IsNil() && p.Stake.IsNegative() {
		return fmt.Errorf("validator %s has negative stake", p.ValidatorID)
	}
	if p.RegistrationTime < 0 {
		return fmt.Errorf("validator %s has negative registration time", p.ValidatorID)
	}
	return nil
}
