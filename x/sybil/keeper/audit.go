package keeper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

// ---------------------------------------------------------------------------
// Structured Audit Logging
// ---------------------------------------------------------------------------
//
// Every enforcement decision is recorded as an AuditRecord which is hashed,
// chained to the previous record, emitted as an SDK event and written to the
// module logger. Records are append-only.
// ---------------------------------------------------------------------------

// AuditCategory classifies an audit event by domain.
type AuditCategory string

const (
	AuditCategoryScan       AuditCategory = "scan"
	AuditCategoryDetection  AuditCategory = "detection"
	AuditCategoryPenalty    AuditCategory = "penalty"
	AuditCategoryRelease    AuditCategory = "release"
	AuditCategoryGovernance AuditCategory = "governance"
)

// AuditSeverity classifies the importance of an audit event.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditRecord is a single structured audit entry. RecordHash covers every
// other field plus PreviousHash.
type AuditRecord struct {
	Sequence     uint64 `json:"sequence"`
	RecordHash   string `json:"record_hash"`
	PreviousHash string `json:"previous_hash"`

	Category AuditCategory `json:"category"`
	Severity AuditSeverity `json:"severity"`
	Action   string        `json:"action"`

	BlockHeight int64  `json:"block_height"`
	Timestamp   string `json:"timestamp"` // RFC3339
	Actor       string `json:"actor"`     // address or "system"

	Details map[string]string `json:"details"`
}

func (r *AuditRecord) computeHash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq=%d|prev=%s|cat=%s|sev=%s|act=%s|height=%d|ts=%s|actor=%s",
		r.Sequence, r.PreviousHash, r.Category, r.Severity, r.Action,
		r.BlockHeight, r.Timestamp, r.Actor,
	)
	for _, k := range sortedKeys(r.Details) {
		fmt.Fprintf(&b, "|%s=%s", k, r.Details[k])
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AuditLogger maintains a hash-chained sequence of audit records.
type AuditLogger struct {
	mu           sync.Mutex
	logger       log.Logger
	sequence     uint64
	lastHash     string
	records      []AuditRecord // ring buffer
	bufferCap    int
	totalEmitted uint64
}

// NewAuditLogger creates an audit logger with a bounded in-memory buffer.
// Older records are displaced from memory but were already emitted as events.
func NewAuditLogger(bufferCapacity int) *AuditLogger {
	if bufferCapacity <= 0 {
		bufferCapacity = 10000
	}
	return &AuditLogger{
		logger:    log.NewNopLogger(),
		bufferCap: bufferCapacity,
		records:   make([]AuditRecord, 0, bufferCapacity),
		lastHash:  "genesis",
	}
}

// SetLogger routes audit lines to logger.
func (al *AuditLogger) SetLogger(logger log.Logger) {
	al.mu.Lock()
	al.logger = logger
	al.mu.Unlock()
}

// Record appends a chained record, emits it as an SDK event when ctx carries
// an event manager, and logs it.
func (al *AuditLogger) Record(ctx context.Context, category AuditCategory, severity AuditSeverity, action, actor string, details map[string]string) AuditRecord {
	sdkCtx, now := contextNow(ctx)

	al.mu.Lock()
	defer al.mu.Unlock()

	al.sequence++
	record := AuditRecord{
		Sequence:     al.sequence,
		PreviousHash: al.lastHash,
		Category:     category,
		Severity:     severity,
		Action:       action,
		BlockHeight:  sdkCtx.BlockHeight(),
		Timestamp:    now.UTC().Format(time.RFC3339),
		Actor:        actor,
		Details:      details,
	}
	record.RecordHash = record.computeHash()
	al.lastHash = record.RecordHash

	if len(al.records) < al.bufferCap {
		al.records = append(al.records, record)
	} else {
		al.records[int(al.totalEmitted)%al.bufferCap] = record
	}
	al.totalEmitted++

	al.emitAuditEvent(sdkCtx, &record)
	al.logRecord(&record)
	return record
}

func (al *AuditLogger) emitAuditEvent(ctx sdk.Context, r *AuditRecord) {
	attrs := []sdk.Attribute{
		sdk.NewAttribute("sequence", strconv.FormatUint(r.Sequence, 10)),
		sdk.NewAttribute("record_hash", r.RecordHash),
		sdk.NewAttribute("previous_hash", r.PreviousHash),
		sdk.NewAttribute("category", string(r.Category)),
		sdk.NewAttribute("severity", string(r.Severity)),
		sdk.NewAttribute("action", r.Action),
		sdk.NewAttribute("actor", r.Actor),
		sdk.NewAttribute("block_height", strconv.FormatInt(r.BlockHeight, 10)),
	}
	for _, k := range sortedKeys(r.Details) {
		attrs = append(attrs, sdk.NewAttribute("detail_"+k, r.Details[k]))
	}
	emitEventIfPossible(ctx, sdk.NewEvent("audit_record", attrs...))
}

func (al *AuditLogger) logRecord(r *AuditRecord) {
	kvs := []interface{}{
		"sequence", r.Sequence,
		"hash", r.RecordHash[:16],
		"category", string(r.Category),
		"action", r.Action,
		"actor", r.Actor,
		"block_height", r.BlockHeight,
	}
	for _, k := range sortedKeys(r.Details) {
		kvs = append(kvs, k, r.Details[k])
	}

	switch r.Severity {
	case AuditSeverityCritical:
		al.logger.Error("AUDIT", kvs...)
	case AuditSeverityWarning:
		al.logger.Warn("AUDIT", kvs...)
	default:
		al.logger.Info("AUDIT", kvs...)
	}
}

// GetRecords returns a copy of the buffered records in the order they were
// recorded.
func (al *AuditLogger) GetRecords() []AuditRecord {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.orderedLocked()
}

func (al *AuditLogger) orderedLocked() []AuditRecord {
	out := make([]AuditRecord, 0, len(al.records))
	if len(al.records) < al.bufferCap {
		return append(out, al.records...)
	}
	start := int(al.totalEmitted) % al.bufferCap
	out = append(out, al.records[start:]...)
	return append(out, al.records[:start]...)
}

// GetRecordsByCategory returns buffered records of one category.
func (al *AuditLogger) GetRecordsByCategory(cat AuditCategory) []AuditRecord {
	var out []AuditRecord
	for _, r := range al.GetRecords() {
		if r.Category == cat {
			out = append(out, r)
		}
	}
	return out
}

// TotalEmitted returns the number of records ever emitted.
func (al *AuditLogger) TotalEmitted() uint64 {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.totalEmitted
}

// LastHash returns the hash of the most recent record.
func (al *AuditLogger) LastHash() string {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.lastHash
}

// ExportJSON serializes all buffered records.
func (al *AuditLogger) ExportJSON() ([]byte, error) {
	return json.Marshal(al.GetRecords())
}

// VerifyChain checks hash integrity and linkage of the buffered records and
// reports the first broken link.
func (al *AuditLogger) VerifyChain() error {
	records := al.GetRecords()
	for i, r := range records {
		if expected := r.computeHash(); expected != r.RecordHash {
			return fmt.Errorf("audit chain broken at sequence %d: expected hash %s, got %s",
				r.Sequence, expected, r.RecordHash)
		}
		if i > 0 && r.PreviousHash != records[i-1].RecordHash {
			return fmt.Errorf("audit chain broken at sequence %d: previous hash mismatch", r.Sequence)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Convenience helpers
// ---------------------------------------------------------------------------

// AuditClusterDetected records a fused detection.
func (al *AuditLogger) AuditClusterDetected(ctx context.Context, result types.ClusterDetectionResult) {
	sev := AuditSeverityWarning
	if result.Severity >= types.SeverityHigh {
		sev = AuditSeverityCritical
	}
	detectors := make([]string, 0, len(result.DetectionVectors))
	for _, d := range result.Detectors() {
		detectors = append(detectors, string(d))
	}
	al.Record(ctx, AuditCategoryDetection, sev, "cluster_detected", "system", map[string]string{
		"cluster_id": result.ClusterID,
		"severity":   result.Severity.String(),
		"confidence": strconv.FormatFloat(result.ConfidenceScore, 'f', 4, 64),
		"validators": strings.Join(result.Validators, ","),
		"detectors":  strings.Join(detectors, ","),
	})
}

// AuditPenaltyApplied records an applied enforcement action.
func (al *AuditLogger) AuditPenaltyApplied(ctx context.Context, action types.PenaltyAction) {
	sev := AuditSeverityWarning
	if action.Slashes() || action.Permanent {
		sev = AuditSeverityCritical
	}
	al.Record(ctx, AuditCategoryPenalty, sev, "penalty_applied", action.ValidatorID, map[string]string{
		"action_id":  action.ID,
		"cluster_id": action.ClusterID,
		"type":       string(action.Type),
		"slashed":    action.SlashedAmount.String(),
		"permanent":  strconv.FormatBool(action.Permanent),
		"escalated":  strconv.FormatBool(action.Escalated),
	})
}

// AuditPenaltyFailed records an action the ledger refused.
func (al *AuditLogger) AuditPenaltyFailed(ctx context.Context, action types.PenaltyAction, reason string) {
	al.Record(ctx, AuditCategoryPenalty, AuditSeverityWarning, "penalty_failed", action.ValidatorID, map[string]string{
		"action_id":  action.ID,
		"cluster_id": action.ClusterID,
		"type":       string(action.Type),
		"reason":     reason,
	})
}

// AuditValidatorReleased records a jail expiry or an early release.
func (al *AuditLogger) AuditValidatorReleased(ctx context.Context, validatorID, actor, reason string) {
	al.Record(ctx, AuditCategoryRelease, AuditSeverityInfo, "validator_released", actor, map[string]string{
		"validator": validatorID,
		"reason":    reason,
	})
}

// AuditParamsUpdated records a governance parameter change.
func (al *AuditLogger) AuditParamsUpdated(ctx context.Context, authority string, old, updated types.Params) {
	details := map[string]string{"authority": authority}
	for field, change := range diffParams(old, updated) {
		details["changed_"+field] = change
	}
	al.Record(ctx, AuditCategoryGovernance, AuditSeverityWarning, "params_updated", authority, details)
}

// AuditScanFailed records a scan that could not build profiles.
func (al *AuditLogger) AuditScanFailed(ctx context.Context, reason string) {
	al.Record(ctx, AuditCategoryScan, AuditSeverityWarning, "scan_failed", "system", map[string]string{
		"reason": reason,
	})
}

// diffParams reports changed top-level fields as "old -> new".
func diffParams(old, updated types.Params) map[string]string {
	var before, after map[string]interface{}
	oldRaw, _ := json.Marshal(old)
	newRaw, _ := json.Marshal(updated)
	_ = json.Unmarshal(oldRaw, &before)
	_ = json.Unmarshal(newRaw, &after)

	out := make(map[string]string)
	for field, v := range after {
		prev := fmt.Sprint(before[field])
		next := fmt.Sprint(v)
		if prev != next {
			out[field] = prev + " -> " + next
		}
	}
	return out
}
