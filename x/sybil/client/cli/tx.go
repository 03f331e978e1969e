package cli

import (
	"github.com/spf13/cobra"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

const (
	FlagForce  = "force"
	FlagReason = "reason"
)

// CmdScan runs one detection scan and applies the resulting penalties.
func CmdScan(loader EngineLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a Sybil detection scan and apply penalties",
		Long: "Builds validator profiles, runs every detector, fuses corroborated clusters\n" +
			"and applies the penalty policy. Without --force the scan is skipped when the\n" +
			"configured scan interval has not elapsed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, err := cmd.Flags().GetBool(FlagForce)
			if err != nil {
				return err
			}
			engine, err := loader(cmd)
			if err != nil {
				return err
			}

			res, err := engine.Msg.Scan(engine.Ctx, &types.MsgScan{Authority: engine.Authority, Force: force})
			if err != nil {
				return err
			}
			if err := engine.commit(); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().Bool(FlagForce, false, "Bypass the scan interval")

	return cmd
}

// CmdRelease lifts a temporary jail or monitoring flag early.
func CmdRelease(loader EngineLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release [validator-id]",
		Short: "Release a validator from jail or monitoring before expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := cmd.Flags().GetString(FlagReason)
			if err != nil {
				return err
			}
			msg := types.MsgReleaseValidator{ValidatorID: args[0], Reason: reason}

			engine, err := loader(cmd)
			if err != nil {
				return err
			}
			msg.Authority = engine.Authority
			if err := msg.ValidateBasic(); err != nil {
				return err
			}

			res, err := engine.Msg.ReleaseValidator(engine.Ctx, &msg)
			if err != nil {
				return err
			}
			if err := engine.commit(); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().String(FlagReason, "", "Why the validator is released (required)")
	_ = cmd.MarkFlagRequired(FlagReason)

	return cmd
}
