package keeper

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// StakeLedger is the authority over stake, jailing and voting weight. Every
// call receives a context bounded by LedgerTimeoutMs. The deadline is
// cooperative: an implementation must return once ctx is done, and a call
// that ignores ctx stalls the scan. A call that returns nil after the
// deadline has still taken effect and is recorded as applied.
type StakeLedger interface {
	HasValidator(ctx context.Context, validatorID string) bool
	GetStake(ctx context.Context, validatorID string) (sdkmath.Int, error)
	Slash(ctx context.Context, validatorID string, fraction sdkmath.LegacyDec, reason string) (sdkmath.Int, error)
	Jail(ctx context.Context, validatorID string, duration time.Duration) error
	Unjail(ctx context.Context, validatorID string) error
	Tombstone(ctx context.Context, validatorID string, reason string) error
	ReduceVotingWeight(ctx context.Context, validatorID string, factor sdkmath.LegacyDec) error
}

// ValidatorRegistry lists the validator set with stake and activation data.
// ListValidators runs under ProfileFetchTimeoutMs and must honor ctx. A list
// returned after the deadline is discarded and the scan fails.
type ValidatorRegistry interface {
	ListValidators(ctx context.Context) ([]types.RegistryEntry, error)
}

// GovernanceSource returns the vote ledger keyed by proposal id.
type GovernanceSource interface {
	VotesByProposal(ctx context.Context) (map[string][]types.GovernanceVote, error)
}

// TelemetrySource returns hashed network and device data per validator.
type TelemetrySource interface {
	ValidatorTelemetry(ctx context.Context, validatorID string) (types.ValidatorTelemetry, bool)
}

// FundingTracer resolves the origin of an address's stake.
type FundingTracer interface {
	TraceFundingOrigin(ctx context.Context, address string) (types.FundingOrigin, bool)
}
