// Package attest verifies externally-attested yield data against published
// consensus commitments (Merkle root + aggregate signature weight) and
// reconciles it with the native oracle.
package attest

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEmptyTree is returned when building a tree from no leaves.
var ErrEmptyTree = errors.New("attest: merkle tree needs at least one leaf")

// LeafHash hashes a raw attestation response into a Merkle leaf.
func LeafHash(raw []byte) common.Hash {
	return crypto.Keccak256Hash(raw)
}

// VerifyProof checks sorted-pair Merkle inclusion of a leaf under a root.
// At each level the smaller hash is placed first before hashing, so proofs
// carry no left/right flags.
func VerifyProof(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// Tree is a sorted-pair Merkle tree over raw leaves. Odd nodes are carried
// up unpaired. Used by the attestation infrastructure side (and tests) to
// produce the commitments this package verifies.
type Tree struct {
	levels [][]common.Hash // levels[0] = leaves, last = [root]
}

// NewTree builds a tree from raw leaf payloads.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = LeafHash(l)
	}

	t := &Tree{levels: [][]common.Hash{level}}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the tree root.
func (t *Tree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the inclusion proof for leaf index i.
func (t *Tree) Proof(i int) []common.Hash {
	var proof []common.Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		i /= 2
	}
	return proof
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return crypto.Keccak256Hash(a.Bytes(), b.Bytes())
	}
	return crypto.Keccak256Hash(b.Bytes(), a.Bytes())
}
