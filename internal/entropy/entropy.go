// Package entropy abstracts the host chain's entropy surface: per-height
// block hashes and the consensus-round entropy produced by the validator
// set. The randomness engine reads both; it never derives entropy itself.
package entropy

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Block is the entropy-relevant view of one block.
type Block struct {
	Height    uint64
	Hash      common.Hash
	Timestamp time.Time
	Salt      uint64 // producer-specific difficulty/timestamp analog
}

// Source is the host entropy capability.
type Source interface {
	// Height is the current chain height.
	Height() uint64

	// BlockByHeight returns the block at a height, or false if it has
	// been pruned or does not exist yet.
	BlockByHeight(h uint64) (Block, bool)

	// LatestBlock returns the most recent available block.
	LatestBlock() Block

	// CurrentRound is the consensus round in progress.
	CurrentRound() uint64

	// RoundEntropy returns the finalized entropy for a round, or false if
	// the round has not finalized.
	RoundEntropy(round uint64) (common.Hash, bool)
}

// SimSource is a deterministic simulated chain: block hashes are derived
// by hashing the genesis seed with the height, and height advances on the
// wall clock. Suitable for single-node deployments without a real chain.
type SimSource struct {
	genesis     common.Hash
	start       time.Time
	interval    time.Duration
	roundBlocks uint64 // blocks per consensus round
	finality    uint64 // rounds lag before entropy finalizes
}

// NewSimSource creates a simulated source producing one block per interval.
func NewSimSource(seed []byte, interval time.Duration) *SimSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &SimSource{
		genesis:     crypto.Keccak256Hash(seed),
		start:       time.Now().UTC(),
		interval:    interval,
		roundBlocks: 32,
		finality:    1,
	}
}

func (s *SimSource) Height() uint64 {
	return uint64(time.Since(s.start) / s.interval)
}

func (s *SimSource) BlockByHeight(h uint64) (Block, bool) {
	if h > s.Height() {
		return Block{}, false
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	hash := crypto.Keccak256Hash(s.genesis.Bytes(), buf[:])
	return Block{
		Height:    h,
		Hash:      hash,
		Timestamp: s.start.Add(time.Duration(h) * s.interval),
		Salt:      binary.BigEndian.Uint64(hash[8:16]),
	}, true
}

func (s *SimSource) LatestBlock() Block {
	b, _ := s.BlockByHeight(s.Height())
	return b
}

func (s *SimSource) CurrentRound() uint64 {
	return s.Height() / s.roundBlocks
}

func (s *SimSource) RoundEntropy(round uint64) (common.Hash, bool) {
	if round+s.finality > s.CurrentRound() {
		return common.Hash{}, false
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	return crypto.Keccak256Hash([]byte("round"), s.genesis.Bytes(), buf[:]), true
}

// ManualSource is a fully scriptable Source for tests: heights, blocks,
// and round entropy are set explicitly. Missing blocks model pruning.
type ManualSource struct {
	mu     sync.Mutex
	height uint64
	round  uint64
	blocks map[uint64]Block
	rounds map[uint64]common.Hash
}

// NewManualSource creates an empty manual source at height 0.
func NewManualSource() *ManualSource {
	return &ManualSource{
		blocks: make(map[uint64]Block),
		rounds: make(map[uint64]common.Hash),
	}
}

// SetHeight moves the chain tip. Blocks up to the new height that were
// never added stay unavailable, modeling pruned or skipped heights.
func (m *ManualSource) SetHeight(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = h
}

// AddBlock records a block at its height.
func (m *ManualSource) AddBlock(b Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Height] = b
	if b.Height > m.height {
		m.height = b.Height
	}
}

// SetRound sets the current consensus round.
func (m *ManualSource) SetRound(r uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round = r
}

// FinalizeRound publishes finalized entropy for a round.
func (m *ManualSource) FinalizeRound(r uint64, e common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[r] = e
}

func (m *ManualSource) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

func (m *ManualSource) BlockByHeight(h uint64) (Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[h]
	return b, ok
}

func (m *ManualSource) LatestBlock() Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest Block
	for _, b := range m.blocks {
		if b.Height >= latest.Height && b.Height <= m.height {
			latest = b
		}
	}
	return latest
}

func (m *ManualSource) CurrentRound() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

func (m *ManualSource) RoundEntropy(round uint64) (common.Hash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rounds[round]
	return e, ok
}
