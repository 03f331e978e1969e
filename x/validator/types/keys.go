package types

import "fmt"

const (
	// ModuleName is the name of the validator module
	ModuleName = "validator"

	// StoreKey is the store key for the validator module
	StoreKey = ModuleName
)

// Store key prefixes
var (
	// ValidatorKeyPrefix stores validator records keyed by validator id
	ValidatorKeyPrefix = []byte{0x01}

	// FundingEdgeKeyPrefix stores the initial funding edge of each address
	FundingEdgeKeyPrefix = []byte{0x02}

	// SlashingRecordKeyPrefix is the prefix for slashing records
	SlashingRecordKeyPrefix = []byte{0x03}

	// ParamsKey is the key for module parameters
	ParamsKey = []byte{0x04}

	// TombstonedValidatorKeyPrefix tracks permanently banned validators.
	TombstonedValidatorKeyPrefix = []byte{0x05}

	// ValidatorJailUntilKeyPrefix tracks temporary jail windows.
	ValidatorJailUntilKeyPrefix = []byte{0x06}

	// SlashingRecordCountKey numbers slashing records
	SlashingRecordCountKey = []byte{0x07}
)

// SlashingRecordKey orders records by validator, then by sequence.
func SlashingRecordKey(validatorID string, seq uint64) string {
	return fmt.Sprintf("%s|%020d", validatorID, seq)
}
