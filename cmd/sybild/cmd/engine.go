package cmd

import (
	"fmt"
	"strings"

	"cosmossdk.io/log"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/runtime"
	sdk "github.com/cosmos/cosmos-sdk/types"
	govv1 "github.com/cosmos/cosmos-sdk/x/gov/types/v1"

	"github.com/aethelred/sybilguard/internal/memstore"
	"github.com/aethelred/sybilguard/x/sybil"
	"github.com/aethelred/sybilguard/x/sybil/client/cli"
	"github.com/aethelred/sybilguard/x/sybil/keeper"
	"github.com/aethelred/sybilguard/x/sybil/telemetry"
	sybiltypes "github.com/aethelred/sybilguard/x/sybil/types"
	valkeeper "github.com/aethelred/sybilguard/x/validator/keeper"
	valtypes "github.com/aethelred/sybilguard/x/validator/types"
)

// world is a snapshot loaded into keepers over an in-memory store.
type world struct {
	ctx        sdk.Context
	snapshot   *Snapshot
	validators valkeeper.Keeper
	keeper     keeper.Keeper
	module     sybil.AppModule
}

var voteOptions = map[string]govv1.VoteOption{
	"yes":          govv1.OptionYes,
	"no":           govv1.OptionNo,
	"no_with_veto": govv1.OptionNoWithVeto,
	"abstain":      govv1.OptionAbstain,
}

// buildWorld mounts the validator ledger and the sybil module on a fresh
// store and replays the snapshot into them.
func buildWorld(cfg Config, snap *Snapshot, logger log.Logger) (*world, error) {
	sybilKey := storetypes.NewKVStoreKey(sybiltypes.StoreKey)
	valKey := storetypes.NewKVStoreKey(valtypes.StoreKey)

	chainID := snap.ChainID
	if chainID == "" {
		chainID = cfg.ChainID
	}
	ctx, err := memstore.NewContext(chainID, snap.Height, snap.BlockTime, sybilKey, valKey)
	if err != nil {
		return nil, err
	}
	ctx = ctx.WithLogger(logger)

	vk := valkeeper.NewKeeper(runtime.NewKVStoreService(valKey), logger, cfg.Authority)
	if err := vk.InitGenesis(ctx, snap.Ledger); err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	gov := keeper.NewGovVoteLedger()
	for _, v := range snap.Votes {
		option, ok := voteOptions[strings.ToLower(v.Option)]
		if !ok {
			return nil, fmt.Errorf("vote on proposal %d by %s has unknown option %q", v.ProposalID, v.Voter, v.Option)
		}
		gov.RecordGovVote(govv1.Vote{
			ProposalId: v.ProposalID,
			Voter:      v.Voter,
			Options:    govv1.NewNonSplitVoteOption(option),
		}, v.Unix)
	}

	collector := telemetry.NewCollector(cfg.TelemetrySalt, telemetry.DefaultMaxBlocks)
	for _, c := range snap.Connections {
		if err := collector.ObserveConnection(c.ValidatorID, c.IP, c.ISP, c.Peers); err != nil {
			return nil, fmt.Errorf("connection of %s: %w", c.ValidatorID, err)
		}
	}
	for _, b := range snap.Blocks {
		collector.ObserveBlock(b.ValidatorID, b.BlockID, b.TimestampMs)
	}

	k := keeper.NewKeeper(runtime.NewKVStoreService(sybilKey), logger, cfg.Authority, vk, vk.SybilRegistry(), gov)
	k.SetTelemetrySource(collector)
	k.SetFundingTracer(vk.SybilRegistry())

	state := snap.Sybil
	if state == nil {
		state = sybiltypes.DefaultGenesis()
	}
	if err := k.InitGenesis(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to load sybil state: %w", err)
	}
	if err := k.SetParams(ctx, cfg.Params); err != nil {
		return nil, err
	}

	return &world{
		ctx:        ctx,
		snapshot:   snap,
		validators: vk,
		keeper:     k,
		module:     sybil.NewAppModule(k, collector),
	}, nil
}

// export folds the keepers' state back into the snapshot.
func (w *world) export() error {
	ledger, err := w.validators.ExportGenesis(w.ctx)
	if err != nil {
		return err
	}
	state, err := w.keeper.ExportGenesis(w.ctx)
	if err != nil {
		return err
	}
	w.snapshot.Ledger = ledger
	w.snapshot.Sybil = state
	return nil
}

// engine exposes the world to the module commands. Commit writes the
// updated state back to path.
func (w *world) engine(cfg Config, path string) *cli.Engine {
	return &cli.Engine{
		Ctx:       w.ctx,
		Authority: cfg.Authority,
		Msg:       w.module.MsgServer(),
		Query:     w.module.QueryServer(),
		Commit: func() error {
			if err := w.export(); err != nil {
				return err
			}
			return w.snapshot.Save(path)
		},
	}
}

// endBlock runs the module's block hooks at the snapshot height.
func (w *world) endBlock() error {
	if err := w.module.BeginBlock(w.ctx); err != nil {
		return err
	}
	return w.module.EndBlock(w.ctx)
}
