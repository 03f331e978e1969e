package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// GenesisState is the sybil module genesis state.
type GenesisState struct {
	Params     Params                   `json:"params"`
	Detections []ClusterDetectionResult `json:"detections"`
	Penalties  []PenaltyAction          `json:"penalties"`
	Banned     []string                 `json:"banned"`
	Jailed     []JailEntry              `json:"jailed"`
	Monitored  []string                 `json:"monitored"`
	Stats      Stats                    `json:"stats"`

	JailCounts    []JailCountEntry    `json:"jail_counts"`
	VotingWeights []VotingWeightEntry `json:"voting_weights"`
	LastScanUnix  int64               `json:"last_scan_unix,omitempty"`
}

// JailCountEntry records how often a validator has been jailed.
type JailCountEntry struct {
	ValidatorID string `json:"validator_id"`
	Count       uint64 `json:"count"`
}

// VotingWeightEntry records a reduced voting weight factor.
type VotingWeightEntry struct {
	ValidatorID string            `json:"validator_id"`
	Factor      sdkmath.LegacyDec `json:"factor"`
}

// JailEntry is a validator jailed until the given unix time.
type JailEntry struct {
	ValidatorID   string `json:"validator_id"`
	JailUntilUnix int64  `json:"jail_until_unix"`
}

// DefaultGenesis returns the default genesis state.
func DefaultGenesis() *GenesisState {
	return &GenesisState{
		Params:     DefaultParams(),
		Detections: []ClusterDetectionResult{},
		Penalties:  []PenaltyAction{},
		Banned:     []string{},
		Jailed:     []JailEntry{},
		Monitored:  []string{},
		Stats:      NewStats(),

		JailCounts:    []JailCountEntry{},
		VotingWeights: []VotingWeightEntry{},
	}
}

// Validate performs basic genesis state validation.
func (gs GenesisState) Validate() error {
	if err := gs.Params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	seen := make(map[uint64]struct{}, len(gs.Detections))
	for i, det := range gs.Detections {
		if err := det.Validate(gs.Params.MinClusterSize); err != nil {
			return fmt.Errorf("invalid detection at index %d: %w", i, err)
		}
		if det.Sequence == 0 {
			continue
		}
		if _, dup := seen[det.Sequence]; dup {
			return fmt.Errorf("duplicate detection sequence %d", det.Sequence)
		}
		seen[det.Sequence] = struct{}{}
	}

	for i, action := range gs.Penalties {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("invalid penalty at index %d: %w", i, err)
		}
	}

	for i, entry := range gs.Jailed {
		if entry.ValidatorID == "" {
			return fmt.Errorf("jail entry at index %d has no validator", i)
		}
		if entry.JailUntilUnix <= 0 {
			return fmt.Errorf("jail entry for %s has no expiry", entry.ValidatorID)
		}
	}

	banned := make(map[string]struct{}, len(gs.Banned))
	for _, id := range gs.Banned {
		if id == "" {
			return fmt.Errorf("banned validator id cannot be empty")
		}
		banned[id] = struct{}{}
	}
	for _, entry := range gs.Jailed {
		if _, ok := banned[entry.ValidatorID]; ok {
			return fmt.Errorf("validator %s is both banned and jailed", entry.ValidatorID)
		}
	}

	for _, w := range gs.VotingWeights {
		if w.ValidatorID == "" {
			return fmt.Errorf("voting weight entry has no validator")
		}
		if w.Factor.IsNil() || w.Factor.IsNegative() || w.Factor.GT(sdkmath.LegacyOneDec()) {
			return fmt.Errorf("voting weight for %s must be in [0,1]", w.ValidatorID)
		}
	}

	return nil
}
