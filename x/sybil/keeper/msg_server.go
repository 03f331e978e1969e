package keeper

import (
	"context"
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

type msgServer struct {
	Keeper
}

// NewMsgServerImpl returns an implementation of the MsgServer interface.
func NewMsgServerImpl(keeper Keeper) types.MsgServer {
	return &msgServer{Keeper: keeper}
}

var _ types.MsgServer = (*msgServer)(nil)

func (k msgServer) checkAuthority(authority string) error {
	if authority != k.authority {
		return errorsmod.Wrapf(types.ErrUnauthorized, "expected %s, got %s", k.authority, authority)
	}
	return nil
}

// Scan handles MsgScan.
func (k msgServer) Scan(goCtx context.Context, msg *types.MsgScan) (*types.MsgScanResponse, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	if err := k.checkAuthority(msg.Authority); err != nil {
		return nil, err
	}

	results, err := k.Keeper.ScanForSybilAttacks(goCtx, msg.Force)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []types.ClusterDetectionResult{}
	}
	return &types.MsgScanResponse{Detections: results}, nil
}

// UpdateParams handles MsgUpdateParams.
func (k msgServer) UpdateParams(goCtx context.Context, msg *types.MsgUpdateParams) (*types.MsgUpdateParamsResponse, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	if err := k.checkAuthority(msg.Authority); err != nil {
		return nil, err
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidParams, err.Error())
	}

	old := k.Keeper.GetParams(goCtx)
	if err := k.Keeper.SetParams(goCtx, msg.Params); err != nil {
		return nil, err
	}
	k.Keeper.auditLogger.AuditParamsUpdated(goCtx, msg.Authority, old, msg.Params)
	return &types.MsgUpdateParamsResponse{}, nil
}

// ReleaseValidator handles MsgReleaseValidator.
func (k msgServer) ReleaseValidator(goCtx context.Context, msg *types.MsgReleaseValidator) (*types.MsgReleaseValidatorResponse, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	if err := k.checkAuthority(msg.Authority); err != nil {
		return nil, err
	}
	if err := k.Keeper.ReleaseValidator(goCtx, msg.ValidatorID, msg.Authority, msg.Reason); err != nil {
		return nil, err
	}
	return &types.MsgReleaseValidatorResponse{}, nil
}
