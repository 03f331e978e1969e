package types

import (
	sdkmath "cosmossdk.io/math"
)

// Delegation is a stake delegation recorded by the validator registry.
type Delegation struct {
	Delegator string      `json:"delegator"`
	Amount    sdkmath.Int `json:"amount"`
	Unix      int64       `json:"unix"`
}

// RegistryEntry is what the validator registry exposes per validator.
type RegistryEntry struct {
	ValidatorID    string       `json:"validator_id"`
	Address        string       `json:"address"`
	Stake          sdkmath.Int  `json:"stake"`
	ActivationUnix int64        `json:"activation_unix"`
	SpectralRegion string       `json:"spectral_region,omitempty"`
	Delegations    []Delegation `json:"delegations,omitempty"`
}

// GovernanceVote is one entry of the governance vote ledger.
type GovernanceVote struct {
	ValidatorID string     `json:"validator_id"`
	Choice      VoteChoice `json:"choice"`
	Timestamp   int64      `json:"timestamp"`
}

// ValidatorTelemetry is privacy-preserving network and device data. Raw IPs
// never cross this boundary; only hashes do.
type ValidatorTelemetry struct {
	IPHash         string        `json:"ip_hash,omitempty"`
	ISPHash        string        `json:"isp_hash,omitempty"`
	ConnectedPeers []string      `json:"connected_peers,omitempty"`
	Blocks         []BlockRecord `json:"blocks,omitempty"`
	TimingDeltasMs []float64     `json:"timing_deltas_ms,omitempty"`
}

// FundingOrigin is the traced root of a validator's initial stake.
type FundingOrigin struct {
	Source string `json:"source"`
	Unix   int64  `json:"unix"`
	Hops   int    `json:"hops"`
}
