package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// Engine is the module surface the commands drive. Commit, when set, is
// called after a state-changing command succeeds.
type Engine struct {
	Ctx       context.Context
	Authority string
	Msg       types.MsgServer
	Query     types.QueryServer
	Commit    func() error
}

// EngineLoader builds the engine for one command invocation.
type EngineLoader func(cmd *cobra.Command) (*Engine, error)

func (e *Engine) commit() error {
	if e.Commit == nil {
		return nil
	}
	return e.Commit()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	bz, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bz))
	return err
}
