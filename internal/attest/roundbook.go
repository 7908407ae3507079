package attest

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Commitment is one finalized consensus round published by the external
// attestation infrastructure: a Merkle root over the round's attested
// responses plus the aggregate signature weight behind it.
type Commitment struct {
	Root               common.Hash `json:"root"`
	Finalized          bool        `json:"finalized"`
	SignatureWeightBps int64       `json:"signature_weight_bps"`
}

// RoundSource is the capability surface the verifier reads commitments
// through.
type RoundSource interface {
	Round(n uint64) (Commitment, bool)
}

// ErrRoundBookUnauthorized is returned when a non-owner publishes a round.
var ErrRoundBookUnauthorized = errors.New("attest: round publishing is owner only")

// RoundBook is an in-memory RoundSource fed over the admin surface by the
// attestation infrastructure's relayer.
type RoundBook struct {
	mu     sync.RWMutex
	owner  string
	rounds map[uint64]Commitment
}

// NewRoundBook creates an empty round book owned by the given identity.
func NewRoundBook(owner string) *RoundBook {
	return &RoundBook{owner: owner, rounds: make(map[uint64]Commitment)}
}

// Publish records a round commitment. Owner only. Re-publishing a round
// overwrites it, which lets the relayer flip Finalized once consensus
// completes.
func (b *RoundBook) Publish(caller string, n uint64, c Commitment) error {
	if caller != b.owner {
		return ErrRoundBookUnauthorized
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rounds[n] = c
	return nil
}

func (b *RoundBook) Round(n uint64) (Commitment, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.rounds[n]
	return c, ok
}
