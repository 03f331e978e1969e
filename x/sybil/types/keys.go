package types

const (
	// ModuleName is the sybil detection module namespace.
	ModuleName = "sybil"

	// StoreKey is the module KV store key.
	StoreKey = ModuleName
)

var (
	// DetectionKeyPrefix stores fused detections by history sequence.
	DetectionKeyPrefix = []byte{0x01}

	// DetectionCountKey stores the next detection sequence.
	DetectionCountKey = []byte{0x02}

	// PenaltyKeyPrefix stores penalty actions keyed by cluster|validator.
	PenaltyKeyPrefix = []byte{0x03}

	// BannedValidatorKeyPrefix tracks permanently banned validators.
	BannedValidatorKeyPrefix = []byte{0x04}

	// JailUntilKeyPrefix tracks temporary jail windows (unix seconds).
	JailUntilKeyPrefix = []byte{0x05}

	// MonitoredValidatorKeyPrefix tracks validators under enhanced monitoring.
	MonitoredValidatorKeyPrefix = []byte{0x06}

	// VotingWeightKeyPrefix tracks reduced voting weight factors.
	VotingWeightKeyPrefix = []byte{0x07}

	// JailCountKeyPrefix tracks how often a validator was jailed.
	JailCountKeyPrefix = []byte{0x08}

	// LastScanKey stores the unix time of the last completed scan.
	LastScanKey = []byte{0x09}

	// StatsKey stores aggregated detection and penalty statistics.
	StatsKey = []byte{0x0a}

	// ParamsKey stores module parameters.
	ParamsKey = []byte{0x0b}
)

// PenaltyKey returns the store key for a (cluster, validator) penalty.
func PenaltyKey(clusterID, validatorID string) string {
	return clusterID + "|" + validatorID
}
