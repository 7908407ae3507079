// Package random implements commit-reveal verifiable randomness. A request
// is logged against the current height and resolved later using entropy
// unknown at request time: the reveal-height block hash combined with the
// validator set's finalized round entropy, the caller seed, and the
// requester identity.
package random

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/asset"
	"github.com/vexmarkets/yield-engine/internal/entropy"
	"github.com/vexmarkets/yield-engine/internal/model"
)

var (
	ErrInvalidSeed      = errors.New("random: seed must be nonzero and within bounds")
	ErrInvalidConfig    = errors.New("random: delay config out of bounds")
	ErrInsufficientFee  = errors.New("random: fee below commit fee")
	ErrNotFound         = errors.New("random: request not found")
	ErrAlreadyFulfilled = errors.New("random: request already fulfilled")
	ErrNotReady         = errors.New("random: reveal height not reached")
	ErrExpired          = errors.New("random: request expired")
	ErrNotFulfilled     = errors.New("random: request not fulfilled")
	ErrInvalidRange     = errors.New("random: max must be greater than min")
	ErrEmptyWeights     = errors.New("random: weights empty or all zero")
	ErrUnauthorized     = errors.New("random: owner only")
)

// Absolute delay bounds, in blocks. Custom configs must stay inside them.
const (
	AbsoluteMinDelay = uint64(1)
	AbsoluteMaxDelay = uint64(100_000)
)

// MaxSeed bounds caller-supplied seeds.
const MaxSeed = uint64(1)<<62 - 1

// DelayConfig is the commit-reveal window: fulfillment is allowed in
// [commit+MinDelay, commit+MaxDelay].
type DelayConfig struct {
	MinDelay uint64 `json:"min_delay"`
	MaxDelay uint64 `json:"max_delay"`
}

func (c DelayConfig) valid() bool {
	return c.MinDelay >= AbsoluteMinDelay &&
		c.MaxDelay <= AbsoluteMaxDelay &&
		c.MaxDelay > c.MinDelay
}

// FulfillmentHandler receives the randomness for a fulfilled request.
// Handlers are best-effort: a panic or error never blocks fulfillment.
type FulfillmentHandler interface {
	HandleRandomness(id common.Hash, randomness common.Hash) error
}

// Engine is the commit-reveal randomness engine. A mutex serializes all
// state transitions (single-instance, matching the serialized execution
// model of the ledger this mirrors).
type Engine struct {
	mu        sync.Mutex
	src       entropy.Source
	token     asset.Asset
	owner     string
	account   string // fee custody account
	commitFee decimal.Decimal
	defaults  DelayConfig
	counter   uint64
	requests  map[common.Hash]*model.RandomRequest
	handlers  map[string]FulfillmentHandler
	feePool   decimal.Decimal
	now       func() time.Time
}

// NewEngine creates a randomness engine. The account is where commit fees
// accumulate; owner may withdraw them.
func NewEngine(src entropy.Source, token asset.Asset, owner, account string, commitFee decimal.Decimal) *Engine {
	return &Engine{
		src:       src,
		token:     token,
		owner:     owner,
		account:   account,
		commitFee: commitFee,
		defaults:  DelayConfig{MinDelay: 2, MaxDelay: 256},
		requests:  make(map[common.Hash]*model.RandomRequest),
		handlers:  make(map[string]FulfillmentHandler),
		now:       time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RegisterHandler registers a fulfillment callback for a requester.
// Passing nil removes the handler.
func (e *Engine) RegisterHandler(requester string, h FulfillmentHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.handlers, requester)
		return
	}
	e.handlers[requester] = h
}

// Request logs a commit-reveal request. The fee (≥ commit fee; excess kept)
// is pulled from the requester into the engine's fee pool. A nil cfg uses
// the engine defaults.
func (e *Engine) Request(requester string, seed uint64, fee decimal.Decimal, cfg *DelayConfig) (common.Hash, error) {
	if seed == 0 || seed > MaxSeed {
		return common.Hash{}, ErrInvalidSeed
	}
	delays := e.defaults
	if cfg != nil {
		if !cfg.valid() {
			return common.Hash{}, ErrInvalidConfig
		}
		delays = *cfg
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if fee.LessThan(e.commitFee) {
		return common.Hash{}, ErrInsufficientFee
	}
	// A zero fee clears a zero commit fee with nothing to escrow; the
	// ledger rejects non-positive transfers.
	if fee.IsPositive() {
		if err := e.token.TransferFrom(e.account, requester, e.account, fee); err != nil {
			return common.Hash{}, err
		}
		e.feePool = e.feePool.Add(fee)
	}

	height := e.src.Height()
	e.counter++
	id := requestID(requester, seed, height, e.counter)

	req := &model.RandomRequest{
		ID:           id,
		Requester:    requester,
		Seed:         seed,
		CommitHeight: height,
		CommitTime:   e.now().UTC(),
		RevealHeight: height + delays.MinDelay,
		MinDelay:     delays.MinDelay,
		MaxDelay:     delays.MaxDelay,
	}
	e.requests[id] = req

	slog.Info("randomness requested",
		"request_id", id.Hex(),
		"requester", requester,
		"commit_height", height,
		"reveal_height", req.RevealHeight,
	)
	return id, nil
}

// Fulfill resolves a pending request once the reveal height is reached and
// before expiry. It is one-shot: the entropy backing a request is spent
// exactly once. A registered requester handler is invoked best-effort.
func (e *Engine) Fulfill(id common.Hash) (common.Hash, error) {
	e.mu.Lock()

	req, ok := e.requests[id]
	if !ok {
		e.mu.Unlock()
		return common.Hash{}, ErrNotFound
	}
	if req.Fulfilled {
		e.mu.Unlock()
		return common.Hash{}, ErrAlreadyFulfilled
	}
	height := e.src.Height()
	if height < req.RevealHeight {
		e.mu.Unlock()
		return common.Hash{}, ErrNotReady
	}
	if height > req.CommitHeight+req.MaxDelay {
		e.mu.Unlock()
		return common.Hash{}, ErrExpired
	}

	// Reveal-block hash, or the most recent available block if the reveal
	// block was pruned. The fallback is a degraded tier: acceptable here
	// because the revealer still cannot choose among past hashes.
	block, ok := e.src.BlockByHeight(req.RevealHeight)
	if !ok {
		block = e.src.LatestBlock()
		slog.Warn("reveal block unavailable, using latest",
			"request_id", id.Hex(), "reveal_height", req.RevealHeight, "used_height", block.Height)
	}

	snapshot, _ := e.src.RoundEntropy(e.src.CurrentRound())

	randomness := combine(block, snapshot, req.Seed, req.Requester)

	req.Fulfilled = true
	req.Randomness = randomness
	req.EntropySnapshot = snapshot
	handler := e.handlers[req.Requester]
	e.mu.Unlock()

	slog.Info("randomness fulfilled",
		"request_id", id.Hex(),
		"requester", req.Requester,
		"height", height,
	)

	if handler != nil {
		dispatch(handler, id, randomness)
	}
	return randomness, nil
}

// Instant derives randomness from currently-available entropy only. The
// producer of the latest block could bias this value; use the commit-reveal
// path for anything of value.
func (e *Engine) Instant(caller string, seed uint64) (common.Hash, error) {
	if seed == 0 || seed > MaxSeed {
		return common.Hash{}, ErrInvalidSeed
	}
	block := e.src.LatestBlock()
	snapshot, _ := e.src.RoundEntropy(e.src.CurrentRound())
	return combine(block, snapshot, seed, caller), nil
}

// Get returns a copy of a request.
func (e *Engine) Get(id common.Hash) (model.RandomRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[id]
	if !ok {
		return model.RandomRequest{}, ErrNotFound
	}
	return *req, nil
}

// Cleanup deletes expired requests, reclaiming their state. Unknown,
// pending, and already-cleaned ids are skipped. Returns the number removed.
func (e *Engine) Cleanup(ids []common.Hash) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	height := e.src.Height()
	removed := 0
	for _, id := range ids {
		req, ok := e.requests[id]
		if !ok {
			continue
		}
		if height <= req.CommitHeight+req.MaxDelay {
			continue
		}
		delete(e.requests, id)
		removed++
	}
	if removed > 0 {
		slog.Info("randomness requests cleaned", "removed", removed)
	}
	return removed
}

// SetDefaultConfig replaces the default delay window. Owner only.
func (e *Engine) SetDefaultConfig(caller string, cfg DelayConfig) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if !cfg.valid() {
		return ErrInvalidConfig
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = cfg
	return nil
}

// SetCommitFee replaces the commit fee. Owner only.
func (e *Engine) SetCommitFee(caller string, fee decimal.Decimal) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if fee.IsNegative() {
		return asset.ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commitFee = fee
	return nil
}

// WithdrawFees moves the accumulated fee pool to the recipient. Owner only.
func (e *Engine) WithdrawFees(caller, to string) (decimal.Decimal, error) {
	if caller != e.owner {
		return decimal.Zero, ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	amount := e.feePool
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	if err := e.token.Transfer(e.account, to, amount); err != nil {
		return decimal.Zero, err
	}
	e.feePool = decimal.Zero
	return amount, nil
}

// FeePool returns the withdrawable fee balance.
func (e *Engine) FeePool() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feePool
}

// dispatch invokes a fulfillment handler, isolating any fault: a panicking
// or failing handler must not block the fulfillment that already happened.
func dispatch(h FulfillmentHandler, id, randomness common.Hash) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("randomness handler panicked", "request_id", id.Hex(), "panic", r)
		}
	}()
	if err := h.HandleRandomness(id, randomness); err != nil {
		slog.Warn("randomness handler failed", "request_id", id.Hex(), "err", err)
	}
}

// requestID derives a collision-free id from the requester, seed, height,
// and a monotonic counter.
func requestID(requester string, seed, height, counter uint64) common.Hash {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], seed)
	binary.BigEndian.PutUint64(buf[8:16], height)
	binary.BigEndian.PutUint64(buf[16:24], counter)
	return crypto.Keccak256Hash([]byte(requester), buf[:])
}

// combine folds the block hash, round entropy, seed, and requester into a
// single 256-bit value, then re-hashes with the block's producer salt and
// timestamp so the revealer alone cannot predict the output from the block
// hash.
func combine(block entropy.Block, roundEntropy common.Hash, seed uint64, requester string) common.Hash {
	var seedBuf [8]byte
	binary.BigEndian.PutUint64(seedBuf[:], seed)
	first := crypto.Keccak256Hash(block.Hash.Bytes(), roundEntropy.Bytes(), seedBuf[:], []byte(requester))

	var saltBuf [16]byte
	binary.BigEndian.PutUint64(saltBuf[0:8], block.Salt)
	binary.BigEndian.PutUint64(saltBuf[8:16], uint64(block.Timestamp.UnixNano()))
	return crypto.Keccak256Hash(first.Bytes(), saltBuf[:])
}
