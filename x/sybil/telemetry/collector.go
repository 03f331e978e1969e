// Package telemetry collects privacy-preserving network and block-timing
// observations per validator. Raw IP addresses are hashed on ingestion and
// never stored.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	tmproto "github.com/cometbft/cometbft/proto/tendermint/types"

	"github.com/aethelred/sybilguard/x/sybil/types"
)

const (
	// DefaultMaxBlocks bounds the block history kept per validator.
	DefaultMaxBlocks = 256

	digestLen  = 16
	ipv4Subnet = 24
	ipv6Subnet = 48
)

// ProposerResolver maps a block proposer's consensus address to a validator id.
type ProposerResolver func(consAddr []byte) (string, bool)

type record struct {
	ipHash  string
	ispHash string
	peers   map[string]struct{}
	blocks  []types.BlockRecord
}

// Collector is an in-memory TelemetrySource. Safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	salt      []byte
	maxBlocks int
	resolver  ProposerResolver
	records   map[string]*record
}

// NewCollector returns a collector hashing with salt. maxBlocks <= 0 selects
// DefaultMaxBlocks.
func NewCollector(salt string, maxBlocks int) *Collector {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	return &Collector{
		salt:      []byte(salt),
		maxBlocks: maxBlocks,
		records:   make(map[string]*record),
	}
}

// SetProposerResolver wires the lookup used by ObserveHeader.
func (c *Collector) SetProposerResolver(resolver ProposerResolver) {
	c.mu.Lock()
	c.resolver = resolver
	c.mu.Unlock()
}

// ObserveConnection records where a validator connects from. The address is
// hashed immediately; isp may be empty when unknown.
func (c *Collector) ObserveConnection(validatorID, rawIP, isp string, peers []string) error {
	validatorID = strings.TrimSpace(validatorID)
	if validatorID == "" {
		return fmt.Errorf("validator id cannot be empty")
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(rawIP))
	if err != nil {
		return fmt.Errorf("validator %s: %w", validatorID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordLocked(validatorID)
	rec.ipHash = HashIP(c.salt, addr)
	if isp = strings.TrimSpace(isp); isp != "" {
		rec.ispHash = HashISP(c.salt, isp)
	}
	for _, p := range peers {
		if p = strings.TrimSpace(p); p != "" {
			rec.peers[p] = struct{}{}
		}
	}
	return nil
}

// ObserveBlock records a block produced by the validator.
func (c *Collector) ObserveBlock(validatorID, blockID string, timestampMs int64) {
	validatorID = strings.TrimSpace(validatorID)
	if validatorID == "" || timestampMs <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordLocked(validatorID)
	rec.blocks = append(rec.blocks, types.BlockRecord{BlockID: blockID, TimestampMs: timestampMs})
	if over := len(rec.blocks) - c.maxBlocks; over > 0 {
		rec.blocks = append(rec.blocks[:0], rec.blocks[over:]...)
	}
}

// ObserveHeader attributes a committed block to its proposer. Headers from
// unknown proposers are ignored.
func (c *Collector) ObserveHeader(header tmproto.Header) {
	c.mu.RLock()
	resolve := c.resolver
	c.mu.RUnlock()
	if resolve == nil || len(header.ProposerAddress) == 0 {
		return
	}
	id, ok := resolve(header.ProposerAddress)
	if !ok {
		return
	}
	c.ObserveBlock(id, fmt.Sprintf("%d", header.Height), header.Time.UnixMilli())
}

// Forget drops everything known about a validator.
func (c *Collector) Forget(validatorID string) {
	c.mu.Lock()
	delete(c.records, validatorID)
	c.mu.Unlock()
}

// ValidatorTelemetry implements the sybil keeper's TelemetrySource.
func (c *Collector) ValidatorTelemetry(ctx context.Context, validatorID string) (types.ValidatorTelemetry, bool) {
	if ctx.Err() != nil {
		return types.ValidatorTelemetry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[validatorID]
	if !ok {
		return types.ValidatorTelemetry{}, false
	}

	peers := make([]string, 0, len(rec.peers))
	for p := range rec.peers {
		peers = append(peers, p)
	}
	sort.Strings(peers)

	blocks := append([]types.BlockRecord(nil), rec.blocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].TimestampMs < blocks[j].TimestampMs })

	return types.ValidatorTelemetry{
		IPHash:         rec.ipHash,
		ISPHash:        rec.ispHash,
		ConnectedPeers: peers,
		Blocks:         blocks,
		TimingDeltasMs: deltas(blocks),
	}, true
}

func (c *Collector) recordLocked(validatorID string) *record {
	rec, ok := c.records[validatorID]
	if !ok {
		rec = &record{peers: make(map[string]struct{})}
		c.records[validatorID] = rec
	}
	return rec
}

// HashIP returns a subnet-preserving digest of addr: the first half hashes
// the /24 (IPv4) or /48 (IPv6) network, the second half the full address.
// Two addresses in the same subnet share a digest prefix.
func HashIP(salt []byte, addr netip.Addr) string {
	addr = addr.Unmap()
	bits := ipv6Subnet
	if addr.Is4() {
		bits = ipv4Subnet
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}
	return digest(salt, "net", prefix.Masked().String()) + digest(salt, "host", addr.String())
}

// HashISP returns the digest of a normalized ISP name.
func HashISP(salt []byte, isp string) string {
	return digest(salt, "isp", strings.ToLower(strings.TrimSpace(isp)))
}

func digest(salt []byte, domain, value string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte{0})
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))[:digestLen]
}

func deltas(sorted []types.BlockRecord) []float64 {
	if len(sorted) < 2 {
		return nil
	}
	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out = append(out, float64(sorted[i].TimestampMs-sorted[i-1].TimestampMs))
	}
	return out
}
