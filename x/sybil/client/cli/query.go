package cli

import (
	"github.com/spf13/cobra"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

const (
	FlagLimit     = "limit"
	FlagValidator = "validator"
)

// CmdQueryRisk creates a CLI query command for a validator's risk score.
func CmdQueryRisk(loader EngineLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "risk [validator-id]",
		Short: "Query the Sybil risk score of a validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loader(cmd)
			if err != nil {
				return err
			}
			res, err := engine.Query.RiskScore(engine.Ctx, &types.QueryRiskScoreRequest{ValidatorID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

// CmdQueryHealth creates a CLI query command for the system health report.
func CmdQueryHealth(loader EngineLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the validator set health report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := loader(cmd)
			if err != nil {
				return err
			}
			res, err := engine.Query.HealthReport(engine.Ctx, &types.QueryHealthReportRequest{})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

// CmdQueryDetections lists recent detections, newest first.
func CmdQueryDetections(loader EngineLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detections",
		Short: "List recent Sybil detections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := cmd.Flags().GetInt(FlagLimit)
			if err != nil {
				return err
			}
			engine, err := loader(cmd)
			if err != nil {
				return err
			}
			res, err := engine.Query.Detections(engine.Ctx, &types.QueryDetectionsRequest{Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().Int(FlagLimit, 0, "Maximum detections to return (0 for the default)")

	return cmd
}

// CmdQueryPenalties lists stored penalty actions.
func CmdQueryPenalties(loader EngineLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "penalties",
		Short: "List penalty actions, optionally for one validator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			validator, err := cmd.Flags().GetString(FlagValidator)
			if err != nil {
				return err
			}
			engine, err := loader(cmd)
			if err != nil {
				return err
			}
			res, err := engine.Query.Penalties(engine.Ctx, &types.QueryPenaltiesRequest{ValidatorID: validator})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().String(FlagValidator, "", "Only list penalties of this validator")

	return cmd
}

// CmdQueryParams shows the active module parameters.
func CmdQueryParams(loader EngineLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show the active detection parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := loader(cmd)
			if err != nil {
				return err
			}
			res, err := engine.Query.Params(engine.Ctx, &types.QueryParamsRequest{})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}
