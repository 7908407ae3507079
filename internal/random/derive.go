package random

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Derivations operate only on fulfilled requests. All of them reduce the
// 256-bit randomness by modulo, which carries a small bias for ranges that
// are not powers of two; that bias is an accepted simplification and must
// not be fixed silently, since fixing it changes observable outputs.

// InRange maps a fulfilled request's randomness into [min, max].
func (e *Engine) InRange(id common.Hash, min, max uint64) (uint64, error) {
	if max <= min {
		return 0, ErrInvalidRange
	}
	r, err := e.fulfilledValue(id)
	if err != nil {
		return 0, err
	}
	span := new(big.Int).SetUint64(max - min + 1)
	offset := new(big.Int).Mod(r, span).Uint64()
	return min + offset, nil
}

// Bool derives a boolean from a fulfilled request's randomness.
func (e *Engine) Bool(id common.Hash) (bool, error) {
	r, err := e.fulfilledValue(id)
	if err != nil {
		return false, err
	}
	return r.Bit(0) == 1, nil
}

// WeightedChoice selects an index with probability proportional to its
// weight, via a cumulative scan against randomness mod the total weight.
func (e *Engine) WeightedChoice(id common.Hash, weights []uint64) (int, error) {
	if len(weights) == 0 {
		return 0, ErrEmptyWeights
	}
	var total uint64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return 0, ErrEmptyWeights
	}
	r, err := e.fulfilledValue(id)
	if err != nil {
		return 0, err
	}
	pick := new(big.Int).Mod(r, new(big.Int).SetUint64(total)).Uint64()

	var cumulative uint64
	for i, w := range weights {
		cumulative += w
		if pick < cumulative {
			return i, nil
		}
	}
	return len(weights) - 1, nil // unreachable; pick < total by construction
}

func (e *Engine) fulfilledValue(id common.Hash) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !req.Fulfilled {
		return nil, ErrNotFulfilled
	}
	return new(big.Int).SetBytes(req.Randomness.Bytes()), nil
}
