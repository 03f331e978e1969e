package types

import (
	"fmt"
)

// Params are the validator ledger parameters.
type Params struct {
	// MaxValidators caps the registered validator set.
	MaxValidators int `json:"max_validators"`

	// MaxFundingHops bounds funding-origin tracing.
	MaxFundingHops int `json:"max_funding_hops"`

	// MaxJailSeconds caps a single temporary jail.
	MaxJailSeconds int64 `json:"max_jail_seconds"`
}

// DefaultParams returns default module parameters
func DefaultParams() Params {
	return Params{
		MaxValidators:  1000,
		MaxFundingHops: 8,
		MaxJailSeconds: 30 * 24 * 3600,
	}
}

// Validate validates the parameters
func (p Params) Validate() error {
	if p.MaxValidators < 1 {
		return fmt.Errorf("max validators must be at least 1")
	}
	if p.MaxFundingHops < 1 {
		return fmt.Errorf("max funding hops must be at least 1")
	}
	if p.MaxJailSeconds <= 0 {
		return fmt.Errorf("max jail seconds must be positive")
	}
	return nil
}

// GenesisState is the validator ledger genesis.
type GenesisState struct {
	Params       Params            `json:"params"`
	Validators   []ValidatorRecord `json:"validators"`
	FundingEdges []FundingEdge     `json:"funding_edges"`
	Tombstoned   []string          `json:"tombstoned"`
}

// DefaultGenesisState returns a default genesis state
func DefaultGenesisState() *GenesisState {
	return &GenesisState{
		Params:       DefaultParams(),
		Validators:   []ValidatorRecord{},
		FundingEdges: []FundingEdge{},
		Tombstoned:   []string{},
	}
}

// Validate validates the genesis state
func (gs GenesisState) Validate() error {
	if err := gs.Params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	if len(gs.Validators) > gs.Params.MaxValidators {
		return fmt.Errorf("genesis has %d validators, cap is %d", len(gs.Validators), gs.Params.MaxValidators)
	}
	seen := make(map[string]struct{}, len(gs.Validators))
	for i, v := range gs.Validators {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid validator at index %d: %w", i, err)
		}
		if _, dup := seen[v.ValidatorID]; dup {
			return fmt.Errorf("duplicate validator %s", v.ValidatorID)
		}
		seen[v.ValidatorID] = struct{}{}
	}

	for i, e := range gs.FundingEdges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid funding edge at index %d: %w", i, err)
		}
	}

	return nil
}
