package types

import errorsmod "cosmossdk.io/errors"

// x/sybil module sentinel errors
var (
	ErrInvalidParams     = errorsmod.Register(ModuleName, 2, "invalid sybil params")
	ErrValidatorNotFound = errorsmod.Register(ModuleName, 3, "validator not found in ledger")
	ErrLedgerTimeout     = errorsmod.Register(ModuleName, 4, "ledger call timed out")
	ErrValidatorBanned   = errorsmod.Register(ModuleName, 5, "validator is permanently banned")
	ErrUnauthorized      = errorsmod.Register(ModuleName, 6, "unauthorized")
	ErrProfileFetch      = errorsmod.Register(ModuleName, 7, "failed to fetch validator data")
	ErrInvalidPenalty    = errorsmod.Register(ModuleName, 8, "invalid penalty action")
	ErrDetectionNotFound = errorsmod.Register(ModuleName, 9, "detection not found")
	ErrInvalidGenesis    = errorsmod.Register(ModuleName, 10, "invalid sybil genesis")
	ErrNotPenalized      = errorsmod.Register(ModuleName, 11, "validator has no active jail or monitoring")
)
