package keeper

import (
	"context"
	"fmt"
	"strings"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// queryServer implements the sybil module QueryServer.
type queryServer struct {
	Keeper
}

// NewQueryServerImpl returns an implementation of the QueryServer interface.
func NewQueryServerImpl(keeper Keeper) types.QueryServer {
	return &queryServer{Keeper: keeper}
}

var _ types.QueryServer = (*queryServer)(nil)

// RiskScore returns the on-demand risk assessment of one validator.
func (q queryServer) RiskScore(goCtx context.Context, req *types.QueryRiskScoreRequest) (*types.QueryRiskScoreResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	id := strings.TrimSpace(req.ValidatorID)
	if id == "" {
		return nil, fmt.Errorf("validator_id cannot be empty")
	}
	risk, err := q.Keeper.GetValidatorRiskScore(goCtx, id)
	if err != nil {
		return nil, err
	}
	return &types.QueryRiskScoreResponse{Risk: risk}, nil
}

// HealthReport returns the system health summary.
func (q queryServer) HealthReport(goCtx context.Context, req *types.QueryHealthReportRequest) (*types.QueryHealthReportResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	report, err := q.Keeper.GetSystemHealthReport(goCtx)
	if err != nil {
		return nil, err
	}
	return &types.QueryHealthReportResponse{Report: report}, nil
}

// Detections returns recent detections, newest first.
func (q queryServer) Detections(goCtx context.Context, req *types.QueryDetectionsRequest) (*types.QueryDetectionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	detections, err := q.Keeper.GetRecentDetections(goCtx, req.Limit)
	if err != nil {
		return nil, err
	}
	if detections == nil {
		detections = []types.ClusterDetectionResult{}
	}
	return &types.QueryDetectionsResponse{Detections: detections}, nil
}

// Penalties returns stored penalty actions, optionally for one validator.
func (q queryServer) Penalties(goCtx context.Context, req *types.QueryPenaltiesRequest) (*types.QueryPenaltiesResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	penalties, err := q.Keeper.GetPenalties(goCtx, strings.TrimSpace(req.ValidatorID))
	if err != nil {
		return nil, err
	}
	if penalties == nil {
		penalties = []types.PenaltyAction{}
	}
	return &types.QueryPenaltiesResponse{Penalties: penalties}, nil
}

// Params returns the module parameters.
func (q queryServer) Params(goCtx context.Context, req *types.QueryParamsRequest) (*types.QueryParamsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	return &types.QueryParamsResponse{Params: q.Keeper.GetParams(goCtx)}, nil
}
