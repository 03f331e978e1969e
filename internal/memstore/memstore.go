// Package memstore builds an in-memory IAVL multistore and an sdk.Context
// over it, for offline tooling and keeper tests.
package memstore

import (
	"fmt"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/store"
	"cosmossdk.io/store/metrics"
	storetypes "cosmossdk.io/store/types"
	tmproto "github.com/cometbft/cometbft/proto/tendermint/types"
	dbm "github.com/cosmos/cosmos-db"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// DefaultChainID is used when callers do not care about the chain id.
const DefaultChainID = "sybilguard-local-1"

// NewContext mounts every key on a fresh MemDB-backed multistore and returns
// a context at the given height and block time.
func NewContext(chainID string, height int64, blockTime time.Time, keys ...*storetypes.KVStoreKey) (sdk.Context, error) {
	if len(keys) == 0 {
		return sdk.Context{}, fmt.Errorf("at least one store key is required")
	}

	db := dbm.NewMemDB()
	cms := store.NewCommitMultiStore(db, log.NewNopLogger(), metrics.NewNoOpMetrics())
	for _, key := range keys {
		cms.MountStoreWithDB(key, storetypes.StoreTypeIAVL, db)
	}
	if err := cms.LoadLatestVersion(); err != nil {
		return sdk.Context{}, fmt.Errorf("load multistore: %w", err)
	}

	if chainID == "" {
		chainID = DefaultChainID
	}
	header := tmproto.Header{
		ChainID: chainID,
		Height:  height,
		Time:    blockTime.UTC(),
	}
	return sdk.NewContext(cms, header, false, log.NewNopLogger()).
		WithEventManager(sdk.NewEventManager()), nil
}
