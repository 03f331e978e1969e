package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aethelred/sybilguard/x/sybil"
	"github.com/aethelred/sybilguard/x/sybil/client/cli"
	sybiltypes "github.com/aethelred/sybilguard/x/sybil/types"
)

const (
	flagConfig   = "config"
	flagSnapshot = "snapshot"
	flagChainID  = "chain-id"
)

// NewRootCmd creates the root command for sybild.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sybild",
		Short: "SybilGuard - Sybil detection and automated penalties for validator sets",
		Long: `sybild runs the Sybil detection engine over a validator set snapshot.

It correlates registration timing, governance votes, funding origins, network
placement, spectral region spread and block timing, fuses corroborated
clusters into detections and applies graduated penalties: slashing, jailing,
permanent bans, voting weight reduction and monitoring.

The snapshot file is updated in place after every state-changing command.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String(flagConfig, "", "Path to config.toml")
	rootCmd.PersistentFlags().String(flagSnapshot, "", "Snapshot file (overrides config)")
	rootCmd.PersistentFlags().String(flagChainID, "", "Chain id (overrides config)")

	loader := snapshotLoader()
	rootCmd.AddCommand(
		queryCommand(loader),
		txCommand(loader),
		serveCommand(),
		configCommand(),
		validateSnapshotCommand(),
	)

	return rootCmd
}

func queryCommand(loader cli.EngineLoader) *cobra.Command {
	cmd := sybil.GetQueryCmd(loader)
	cmd.Use = "query"
	cmd.Aliases = []string{"q"}
	return cmd
}

func txCommand(loader cli.EngineLoader) *cobra.Command {
	cmd := sybil.GetTxCmd(loader)
	cmd.Use = "tx"
	return cmd
}

// configFromCmd resolves the configuration for cmd, applying flag overrides.
func configFromCmd(cmd *cobra.Command, base sybiltypes.Params) (Config, error) {
	configFile, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return Config{}, err
	}
	v, err := newViper(configFile)
	if err != nil {
		return Config{}, err
	}
	if err := v.BindPFlag("snapshot", cmd.Flags().Lookup(flagSnapshot)); err != nil {
		return Config{}, err
	}
	if err := v.BindPFlag("chain-id", cmd.Flags().Lookup(flagChainID)); err != nil {
		return Config{}, err
	}
	return loadConfig(v, base)
}

// loadWorld resolves config, reads the snapshot it names and builds the
// keepers over it. Snapshot params are the base the [sybil] table overrides.
func loadWorld(cmd *cobra.Command) (*world, Config, error) {
	cfg, err := configFromCmd(cmd, sybiltypes.DefaultParams())
	if err != nil {
		return nil, Config{}, err
	}
	snap, err := LoadSnapshot(cfg.Snapshot)
	if err != nil {
		return nil, Config{}, err
	}
	if snap.Sybil != nil {
		if cfg, err = configFromCmd(cmd, snap.Sybil.Params); err != nil {
			return nil, Config{}, err
		}
	}
	logger, err := newLogger(cfg, cmd)
	if err != nil {
		return nil, Config{}, err
	}
	w, err := buildWorld(cfg, snap, logger)
	if err != nil {
		return nil, Config{}, err
	}
	return w, cfg, nil
}

func snapshotLoader() cli.EngineLoader {
	return func(cmd *cobra.Command) (*cli.Engine, error) {
		w, cfg, err := loadWorld(cmd)
		if err != nil {
			return nil, err
		}
		return w.engine(cfg, cfg.Snapshot), nil
	}
}

func validateSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-snapshot [file]",
		Short: "Check a snapshot file against the snapshot schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := LoadSnapshot(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "snapshot ok: %d validators at height %d\n",
				len(snap.Ledger.Validators), snap.Height)
			return err
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	bz, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bz))
	return err
}
