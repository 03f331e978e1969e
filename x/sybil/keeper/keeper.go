package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cosmossdk.io/collections"
	"cosmossdk.io/core/store"
	"cosmossdk.io/log"
	sdk "github.com/cosmos/cosmos-sdk/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

const (
	fundingCacheSize  = 4096
	auditBufferSize   = 10000
	defaultQueryLimit = 100
)

// Keeper runs the Sybil detection pipeline and owns the penalty state.
//
// Scans are serialized by scanMu. Queries never take it: they read persisted
// state and the last published ScanReport.
type Keeper struct {
	storeService store.KVStoreService
	logger       log.Logger
	authority    string

	ledger     StakeLedger
	registry   ValidatorRegistry
	governance GovernanceSource
	telemetry  TelemetrySource
	funding    FundingTracer

	fundingCache *lru.Cache[string, types.FundingOrigin]
	scanMu       *sync.Mutex
	lastReport   *atomic.Pointer[types.ScanReport]
	metrics      *ModuleMetrics
	auditLogger  *AuditLogger

	// State collections. Records are stored as JSON.
	Detections     collections.Map[uint64, string]
	DetectionCount collections.Item[uint64]
	Penalties      collections.Map[string, string]
	Banned         collections.KeySet[string]
	JailUntil      collections.Map[string, int64]
	Monitored      collections.KeySet[string]
	VotingWeights  collections.Map[string, string]
	JailCounts     collections.Map[string, uint64]
	LastScan       collections.Item[int64]
	Stats          collections.Item[string]
	Params         collections.Item[string]
}

// NewKeeper creates a new sybil keeper. Telemetry and funding tracing are
// optional and wired with SetTelemetrySource and SetFundingTracer.
func NewKeeper(
	storeService store.KVStoreService,
	logger log.Logger,
	authority string,
	ledger StakeLedger,
	registry ValidatorRegistry,
	governance GovernanceSource,
) Keeper {
	sb := collections.NewSchemaBuilder(storeService)

	cache, err := lru.New[string, types.FundingOrigin](fundingCacheSize)
	if err != nil {
		panic(fmt.Sprintf("sybil: funding cache: %v", err))
	}

	moduleLogger := logger.With("module", "x/"+types.ModuleName)
	audit := NewAuditLogger(auditBufferSize)
	audit.SetLogger(moduleLogger)

	return Keeper{
		storeService: storeService,
		logger:       moduleLogger,
		authority:    authority,
		ledger:       ledger,
		registry:     registry,
		governance:   governance,
		fundingCache: cache,
		scanMu:       &sync.Mutex{},
		lastReport:   &atomic.Pointer[types.ScanReport]{},
		metrics:      NewModuleMetrics(),
		auditLogger:  audit,
		Detections: collections.NewMap(
			sb,
			collections.NewPrefix(types.DetectionKeyPrefix),
			"detections",
			collections.Uint64Key,
			collections.StringValue,
		),
		DetectionCount: collections.NewItem(
			sb,
			collections.NewPrefix(types.DetectionCountKey),
			"detection_count",
			collections.Uint64Value,
		),
		Penalties: collections.NewMap(
			sb,
			collections.NewPrefix(types.PenaltyKeyPrefix),
			"penalties",
			collections.StringKey,
			collections.StringValue,
		),
		Banned: collections.NewKeySet(
			sb,
			collections.NewPrefix(types.BannedValidatorKeyPrefix),
			"banned",
			collections.StringKey,
		),
		JailUntil: collections.NewMap(
			sb,
			collections.NewPrefix(types.JailUntilKeyPrefix),
			"jail_until",
			collections.StringKey,
			collections.Int64Value,
		),
		Monitored: collections.NewKeySet(
			sb,
			collections.NewPrefix(types.MonitoredValidatorKeyPrefix),
			"monitored",
			collections.StringKey,
		),
		VotingWeights: collections.NewMap(
			sb,
			collections.NewPrefix(types.VotingWeightKeyPrefix),
			"voting_weights",
			collections.StringKey,
			collections.StringValue,
		),
		JailCounts: collections.NewMap(
			sb,
			collections.NewPrefix(types.JailCountKeyPrefix),
			"jail_counts",
			collections.StringKey,
			collections.Uint64Value,
		),
		LastScan: collections.NewItem(
			sb,
			collections.NewPrefix(types.LastScanKey),
			"last_scan",
			collections.Int64Value,
		),
		Stats: collections.NewItem(
			sb,
			collections.NewPrefix(types.StatsKey),
			"stats",
			collections.StringValue,
		),
		Params: collections.NewItem(
			sb,
			collections.NewPrefix(types.ParamsKey),
			"params",
			collections.StringValue,
		),
	}
}

// SetTelemetrySource wires the network/device telemetry collector.
func (k *Keeper) SetTelemetrySource(source TelemetrySource) {
	k.telemetry = source
}

// SetFundingTracer wires the funding-origin tracer.
func (k *Keeper) SetFundingTracer(tracer FundingTracer) {
	k.funding = tracer
}

// GetAuthority returns the keeper authority address.
func (k Keeper) GetAuthority() string {
	return k.authority
}

// Logger returns the module logger.
func (k Keeper) Logger() log.Logger {
	return k.logger
}

// Metrics returns the module metrics instance.
func (k Keeper) Metrics() *ModuleMetrics {
	return k.metrics
}

// AuditLogger returns the structured audit logger.
func (k Keeper) AuditLogger() *AuditLogger {
	return k.auditLogger
}

// LastScanReport returns the most recently published scan report, or nil
// before the first scan.
func (k Keeper) LastScanReport() *types.ScanReport {
	return k.lastReport.Load()
}

// PurgeFundingCache drops memoized funding origins.
func (k Keeper) PurgeFundingCache() {
	k.fundingCache.Purge()
}

// GetParams returns stored params, falling back to defaults.
func (k Keeper) GetParams(ctx context.Context) types.Params {
	raw, err := k.Params.Get(ctx)
	if err != nil {
		return types.DefaultParams()
	}
	var params types.Params
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		k.logger.Error("Stored params are corrupt, using defaults", "err", err)
		return types.DefaultParams()
	}
	return params
}

// SetParams validates and stores params.
func (k Keeper) SetParams(ctx context.Context, params types.Params) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return k.Params.Set(ctx, string(raw))
}

// GetStats returns the persisted running totals.
func (k Keeper) GetStats(ctx context.Context) types.Stats {
	raw, err := k.Stats.Get(ctx)
	if err != nil {
		return types.NewStats()
	}
	stats := types.NewStats()
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		k.logger.Error("Stored stats are corrupt, resetting", "err", err)
		return types.NewStats()
	}
	if stats.DetectionsBySev == nil {
		stats.DetectionsBySev = make(map[string]int64)
	}
	if stats.TotalSlashed.IsNil() {
		stats.TotalSlashed = types.NewStats().TotalSlashed
	}
	return stats
}

func (k Keeper) setStats(ctx context.Context, stats types.Stats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return k.Stats.Set(ctx, string(raw))
}

func (k Keeper) nextDetectionSequence(ctx context.Context) (uint64, error) {
	current, err := k.DetectionCount.Get(ctx)
	if err != nil {
		current = 0
	}
	next := current + 1
	if err := k.DetectionCount.Set(ctx, next); err != nil {
		return 0, err
	}
	return next, nil
}

func (k Keeper) setDetection(ctx context.Context, result types.ClusterDetectionResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return k.Detections.Set(ctx, result.Sequence, string(raw))
}

func unwrapSDKContext(ctx context.Context) (sdk.Context, bool) {
	if ctx == nil {
		return sdk.Context{}, false
	}
	if sdkCtx, ok := ctx.(sdk.Context); ok {
		return sdkCtx, true
	}
	if val := ctx.Value(sdk.SdkContextKey); val != nil {
		if sdkCtx, ok := val.(sdk.Context); ok {
			return sdkCtx, true
		}
	}
	return sdk.Context{}, false
}

func contextNow(ctx context.Context) (sdk.Context, time.Time) {
	if sdkCtx, ok := unwrapSDKContext(ctx); ok {
		return sdkCtx, sdkCtx.BlockTime()
	}
	return sdk.Context{}, time.Now().UTC()
}

func emitEventIfPossible(ctx sdk.Context, event sdk.Event) {
	if em := ctx.EventManager(); em != nil {
		em.EmitEvent(event)
	}
}
