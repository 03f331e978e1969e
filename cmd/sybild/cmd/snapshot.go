package cmd

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	sybiltypes "github.com/aethelred/sybilguard/x/sybil/types"
	valtypes "github.com/aethelred/sybilguard/x/validator/types"
)

//go:embed snapshot.schema.json
var snapshotSchema string

// Snapshot is the offline world sybild scans: the validator ledger, the
// module state from previous runs and the observed votes and telemetry.
type Snapshot struct {
	ChainID     string                   `json:"chain_id,omitempty"`
	Height      int64                    `json:"height"`
	BlockTime   time.Time                `json:"block_time"`
	Ledger      *valtypes.GenesisState   `json:"ledger"`
	Sybil       *sybiltypes.GenesisState `json:"sybil,omitempty"`
	Votes       []VoteObservation        `json:"votes,omitempty"`
	Connections []ConnectionObservation  `json:"connections,omitempty"`
	Blocks      []BlockObservation       `json:"blocks,omitempty"`
}

// VoteObservation is one governance vote seen on chain.
type VoteObservation struct {
	ProposalID uint64 `json:"proposal_id"`
	Voter      string `json:"voter"`
	Option     string `json:"option"`
	Unix       int64  `json:"unix"`
}

// ConnectionObservation is where a validator's node connects from.
type ConnectionObservation struct {
	ValidatorID string   `json:"validator_id"`
	IP          string   `json:"ip"`
	ISP         string   `json:"isp,omitempty"`
	Peers       []string `json:"peers,omitempty"`
}

// BlockObservation is one block produced by a validator.
type BlockObservation struct {
	ValidatorID string `json:"validator_id"`
	BlockID     string `json:"block_id"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// validateSnapshotJSON checks raw against the embedded schema and reports
// every violation at once.
func validateSnapshotJSON(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(snapshotSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("snapshot schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("snapshot failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// LoadSnapshot reads, schema-checks and decodes a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := validateSnapshotJSON(raw); err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Ledger.Params == (valtypes.Params{}) {
		snap.Ledger.Params = valtypes.DefaultParams()
	}
	if err := snap.Ledger.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger: %w", err)
	}
	if snap.Sybil != nil {
		if err := snap.Sybil.Validate(); err != nil {
			return nil, fmt.Errorf("invalid sybil state: %w", err)
		}
	}
	return &snap, nil
}

// Save writes the snapshot next to path and renames it into place.
func (s *Snapshot) Save(path string) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
