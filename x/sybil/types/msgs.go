package types

import (
	"context"
	"fmt"
	"strings"
)

// MsgServer is the transaction surface of the module.
type MsgServer interface {
	Scan(context.Context, *MsgScan) (*MsgScanResponse, error)
	UpdateParams(context.Context, *MsgUpdateParams) (*MsgUpdateParamsResponse, error)
	ReleaseValidator(context.Context, *MsgReleaseValidator) (*MsgReleaseValidatorResponse, error)
}

// QueryServer is the read-only surface of the module.
type QueryServer interface {
	RiskScore(context.Context, *QueryRiskScoreRequest) (*QueryRiskScoreResponse, error)
	HealthReport(context.Context, *QueryHealthReportRequest) (*QueryHealthReportResponse, error)
	Detections(context.Context, *QueryDetectionsRequest) (*QueryDetectionsResponse, error)
	Penalties(context.Context, *QueryPenaltiesRequest) (*QueryPenaltiesResponse, error)
	Params(context.Context, *QueryParamsRequest) (*QueryParamsResponse, error)
}

// MsgScan requests a scan. Force bypasses the scan interval.
type MsgScan struct {
	Authority string `json:"authority"`
	Force     bool   `json:"force"`
}

func (m MsgScan) ValidateBasic() error {
	if strings.TrimSpace(m.Authority) == "" {
		return fmt.Errorf("authority cannot be empty")
	}
	return nil
}

// MsgScanResponse carries the detections produced by the scan.
type MsgScanResponse struct {
	Detections []ClusterDetectionResult `json:"detections"`
}

// MsgUpdateParams replaces module parameters.
type MsgUpdateParams struct {
	Authority string `json:"authority"`
	Params    Params `json:"params"`
}

// MsgUpdateParamsResponse is empty.
type MsgUpdateParamsResponse struct{}

func (m MsgUpdateParams) ValidateBasic() error {
	if strings.TrimSpace(m.Authority) == "" {
		return fmt.Errorf("authority cannot be empty")
	}
	return m.Params.Validate()
}

// MsgReleaseValidator lifts a temporary jail or monitoring flag early. Bans
// cannot be lifted.
type MsgReleaseValidator struct {
	Authority   string `json:"authority"`
	ValidatorID string `json:"validator_id"`
	Reason      string `json:"reason"`
}

// MsgReleaseValidatorResponse is empty.
type MsgReleaseValidatorResponse struct{}

func (m MsgReleaseValidator) ValidateBasic() error {
	if strings.TrimSpace(m.Authority) == "" {
		return fmt.Errorf("authority cannot be empty")
	}
	if strings.TrimSpace(m.ValidatorID) == "" {
		return fmt.Errorf("validator id cannot be empty")
	}
	if strings.TrimSpace(m.Reason) == "" {
		return fmt.Errorf("release reason cannot be empty")
	}
	return nil
}

// Query request/response pairs served by the keeper's QueryServer.
type (
	QueryRiskScoreRequest struct {
		ValidatorID string `json:"validator_id"`
	}
	QueryRiskScoreResponse struct {
		Risk RiskScore `json:"risk"`
	}

	QueryHealthReportRequest  struct{}
	QueryHealthReportResponse struct {
		Report HealthReport `json:"report"`
	}

	QueryDetectionsRequest struct {
		Limit int `json:"limit"`
	}
	QueryDetectionsResponse struct {
		Detections []ClusterDetectionResult `json:"detections"`
	}

	QueryPenaltiesRequest struct {
		ValidatorID string `json:"validator_id"`
	}
	QueryPenaltiesResponse struct {
		Penalties []PenaltyAction `json:"penalties"`
	}

	QueryParamsRequest  struct{}
	QueryParamsResponse struct {
		Params Params `json:"params"`
	}
)
