package types

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Delegation is stake bonded to a validator by a third party.
type Delegation struct {
	Delegator string      `json:"delegator"`
	Amount    sdkmath.Int `json:"amount"`
	Unix      int64       `json:"unix"`
}

// ValidatorRecord is the ledger entry of one validator.
type ValidatorRecord struct {
	ValidatorID    string            `json:"validator_id"`
	Address        string            `json:"address"`
	Stake          sdkmath.Int       `json:"stake"`
	ActivationUnix int64             `json:"activation_unix"`
	SpectralRegion string            `json:"spectral_region,omitempty"`
	Delegations    []Delegation      `json:"delegations,omitempty"`
	VotingWeight   sdkmath.LegacyDec `json:"voting_weight"`
}

// NewValidatorRecord returns a record with full voting weight.
func NewValidatorRecord(id, address string, stake sdkmath.Int, activationUnix int64) ValidatorRecord {
	return ValidatorRecord{
		ValidatorID:    id,
		Address:        address,
		Stake:          stake,
		ActivationUnix: activationUnix,
		VotingWeight:   sdkmath.LegacyOneDec(),
	}
}

// Validate checks the record before it is stored.
func (r ValidatorRecord) Validate() error {
	if strings.TrimSpace(r.ValidatorID) == "" {
		return fmt.Errorf("validator id cannot be empty")
	}
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("validator %s address cannot be empty", r.ValidatorID)
	}
	if r.Stake.IsNil() || r.Stake.IsNegative() {
		return fmt.Errorf("validator %s stake must be non-negative", r.ValidatorID)
	}
	if r.ActivationUnix < 0 {
		return fmt.Errorf("validator %s activation time cannot be negative", r.ValidatorID)
	}
	if !r.VotingWeight.IsNil() && (r.VotingWeight.IsNegative() || r.VotingWeight.GT(sdkmath.LegacyOneDec())) {
		return fmt.Errorf("validator %s voting weight %s outside [0,1]", r.ValidatorID, r.VotingWeight)
	}
	for i, d := range r.Delegations {
		if d.Delegator == "" {
			return fmt.Errorf("validator %s delegation %d has no delegator", r.ValidatorID, i)
		}
		if d.Amount.IsNil() || !d.Amount.IsPositive() {
			return fmt.Errorf("validator %s delegation %d amount must be positive", r.ValidatorID, i)
		}
	}
	return nil
}

// FundingEdge is a transfer that funded an address.
type FundingEdge struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Amount sdkmath.Int `json:"amount"`
	Unix   int64       `json:"unix"`
}

func (e FundingEdge) Validate() error {
	if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("funding edge endpoints cannot be empty")
	}
	if e.From == e.To {
		return fmt.Errorf("funding edge %s cannot fund itself", e.From)
	}
	if e.Amount.IsNil() || !e.Amount.IsPositive() {
		return fmt.Errorf("funding edge %s -> %s amount must be positive", e.From, e.To)
	}
	return nil
}

// SlashingRecord is the audit entry of one slash, jail or tombstone.
type SlashingRecord struct {
	ValidatorID   string `json:"validator_id"`
	Height        int64  `json:"height"`
	Reason        string `json:"reason"`
	SlashFraction string `json:"slash_fraction"`
	SlashedAmount string `json:"slashed_amount"`
	Jailed        bool   `json:"jailed"`
	Tombstoned    bool   `json:"tombstoned"`
	TimestampUnix int64  `json:"timestamp_unix"`
}
