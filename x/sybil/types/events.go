package types

// Event types emitted by the sybil module.
const (
	EventTypeScanCompleted     = "sybil_scan_completed"
	EventTypeScanFailed        = "sybil_scan_failed"
	EventTypeClusterDetected   = "sybil_cluster_detected"
	EventTypePenaltyApplied    = "sybil_penalty_applied"
	EventTypePenaltyFailed     = "sybil_penalty_failed"
	EventTypeValidatorReleased = "sybil_validator_released"

	AttributeKeyClusterID  = "cluster_id"
	AttributeKeyValidator  = "validator"
	AttributeKeySeverity   = "severity"
	AttributeKeyConfidence = "confidence"
	AttributeKeyDetectors  = "detectors"
	AttributeKeyPenalty    = "penalty_type"
	AttributeKeySlashed    = "slashed"
	AttributeKeyJailUntil  = "jail_until"
	AttributeKeyReason     = "reason"
	AttributeKeyCount      = "count"
)
