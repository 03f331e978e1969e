package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	sybiltypes "github.com/aethelred/sybilguard/x/sybil/types"
	valtypes "github.com/aethelred/sybilguard/x/validator/types"
)

var snapshotTime = time.Unix(1_770_000_000, 0).UTC()

// writeSnapshot stores a snapshot holding five coordinated validators, one
// per spectral region, and four unrelated ones.
func writeSnapshot(t *testing.T) string {
	t.Helper()
	base := snapshotTime.Add(-24 * time.Hour).Unix()

	ledger := valtypes.DefaultGenesisState()
	snap := Snapshot{ChainID: "sybild-test-1", Height: 50, BlockTime: snapshotTime, Ledger: ledger}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("sybil-%d", i)
		rec := valtypes.NewValidatorRecord(id, "addr-"+id, sdkmath.NewInt(10_000), base+int64(i*120))
		rec.SpectralRegion = string(sybiltypes.AllSpectralRegions[i])
		ledger.Validators = append(ledger.Validators, rec)
		ledger.FundingEdges = append(ledger.FundingEdges, valtypes.FundingEdge{
			From: "funder", To: "addr-" + id, Amount: sdkmath.NewInt(1_000), Unix: base,
		})
		for p := 1; p <= 6; p++ {
			option := "yes"
			if p%2 == 0 {
				option = "no"
			}
			snap.Votes = append(snap.Votes, VoteObservation{ProposalID: uint64(p), Voter: "addr-" + id, Option: option, Unix: snapshotTime.Unix()})
		}
	}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("honest-%d", i)
		activation := base - int64((i+1)*30*86400)
		ledger.Validators = append(ledger.Validators, valtypes.NewValidatorRecord(id, "addr-"+id, sdkmath.NewInt(10_000), activation))
		ledger.FundingEdges = append(ledger.FundingEdges, valtypes.FundingEdge{
			From: fmt.Sprintf("own-%d", i), To: "addr-" + id, Amount: sdkmath.NewInt(1_000), Unix: activation,
		})
	}
	snap.Connections = []ConnectionObservation{
		{ValidatorID: "honest-0", IP: "198.51.100.7", ISP: "example-isp"},
	}

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, snap.Save(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScanCommandPersistsPenalties(t *testing.T) {
	path := writeSnapshot(t)

	out, err := execute(t, "tx", "scan", "--snapshot", path)
	require.NoError(t, err)

	var res sybiltypes.MsgScanResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Detections, 1)
	require.Equal(t, sybiltypes.SeverityCritical, res.Detections[0].Severity)
	require.Len(t, res.Detections[0].Validators, 5)

	saved, err := LoadSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, saved.Sybil)
	require.Len(t, saved.Sybil.Banned, 5)
	require.Len(t, saved.Ledger.Tombstoned, 5)
	for _, v := range saved.Ledger.Validators {
		if v.ValidatorID == "sybil-0" {
			require.Equal(t, int64(5_000), v.Stake.Int64())
		}
	}

	// The persisted scan time gates the next unforced scan.
	out, err = execute(t, "tx", "scan", "--snapshot", path)
	require.NoError(t, err)
	require.JSONEq(t, `{"detections":[]}`, out)

	out, err = execute(t, "query", "risk", "sybil-3", "--snapshot", path)
	require.NoError(t, err)
	require.Contains(t, out, `"state": "BANNED"`)

	out, err = execute(t, "q", "health", "--snapshot", path)
	require.NoError(t, err)
	require.Contains(t, out, `"status": "CRITICAL"`)
}

func TestConfigOverlaysSybilParams(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
chain-id = "configured-1"
log-level = "debug"

[metrics]
address = "127.0.0.1:9464"

[sybil]
scan-interval-seconds = 60
merge-strategy = "greedy"
`), 0o600))

	out, err := execute(t, "config", "show", "--config", cfgPath)
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Equal(t, "configured-1", cfg.ChainID)
	require.Equal(t, "127.0.0.1:9464", cfg.Metrics.Address)
	require.Equal(t, "/metrics", cfg.Metrics.Path)

	out, err = execute(t, "config", "validate", "--config", cfgPath, "--chain-id", "flag-wins")
	require.NoError(t, err)
	require.Contains(t, out, "chain-id=flag-wins")

	require.NoError(t, os.WriteFile(cfgPath, []byte("[sybil]\nmin-detector-overlap = 1\n"), 0o600))
	_, err = execute(t, "config", "validate", "--config", cfgPath)
	require.ErrorContains(t, err, "invalid sybil params")
}

func TestConfigValidateBasic(t *testing.T) {
	valid := Config{
		ChainID:   "c",
		Authority: "a",
		Snapshot:  "s.json",
		LogLevel:  "info",
		LogFormat: "plain",
		Metrics:   MetricsConfig{Address: "tcp://0.0.0.0:26660", Path: "/metrics"},
		Params:    sybiltypes.DefaultParams(),
	}
	require.NoError(t, valid.ValidateBasic())

	bad := valid
	bad.LogFormat = "xml"
	require.Error(t, bad.ValidateBasic())

	bad = valid
	bad.Metrics.Address = "localhost"
	require.Error(t, bad.ValidateBasic())

	bad = valid
	bad.Metrics.Address = "localhost:99999"
	require.Error(t, bad.ValidateBasic())

	bad = valid
	bad.Metrics.Path = "metrics"
	require.Error(t, bad.ValidateBasic())
}

func TestSnapshotSchemaRejectsMalformedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"height": 0,
		"block_time": "2026-01-01T00:00:00Z",
		"ledger": {"validators": [{"validator_id": "v1", "address": "a", "stake": "-5", "activation_unix": 1}]},
		"votes": [{"proposal_id": 1, "voter": "a", "option": "maybe", "unix": 1}]
	}`), 0o600))

	_, err := LoadSnapshot(path)
	require.ErrorContains(t, err, "snapshot failed schema validation")
	require.ErrorContains(t, err, "height")
	require.ErrorContains(t, err, "stake")
	require.ErrorContains(t, err, "option")

	good := writeSnapshot(t)
	out, err := execute(t, "validate-snapshot", good)
	require.NoError(t, err)
	require.Contains(t, out, "snapshot ok: 9 validators at height 50")
}
