package types

import (
	errorsmod "cosmossdk.io/errors"
)

var (
	ErrValidatorNotFound = errorsmod.Register(ModuleName, 2, "validator not found")
	ErrTombstoned        = errorsmod.Register(ModuleName, 3, "validator is tombstoned")
	ErrInvalidFraction   = errorsmod.Register(ModuleName, 4, "invalid slash fraction")
	ErrValidatorSetFull  = errorsmod.Register(ModuleName, 5, "validator set is full")
	ErrInvalidRecord     = errorsmod.Register(ModuleName, 6, "invalid validator record")
)
