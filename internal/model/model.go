// Package model defines the core domain types shared across the yield engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Rates, fees, and confidence scores are integer basis points (10000 = 100%).
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Basis-point bounds shared across components.
const (
	BpsDenominator = int64(10000)

	// MaxYieldRateBps caps any reported yield rate at 500%.
	MaxYieldRateBps = int64(50000)

	// MaxConfidenceBps is full confidence.
	MaxConfidenceBps = int64(10000)
)

// Side is a market position, YES or NO.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is a recognized side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// MarketStatus is the market lifecycle state. Active is initial;
// Settled and Cancelled are terminal.
type MarketStatus string

const (
	StatusActive    MarketStatus = "active"
	StatusSettled   MarketStatus = "settled"
	StatusCancelled MarketStatus = "cancelled"
)

// CanTransition reports whether a status change is legal. Every mutator
// that changes status goes through this check rather than ad hoc
// comparisons.
func CanTransition(from, to MarketStatus) bool {
	if from != StatusActive {
		return false
	}
	return to == StatusSettled || to == StatusCancelled
}

// Market is one yield prediction market. Stake totals are only additive
// until the market leaves Active; after that only bet claimed flags change.
type Market struct {
	ID             uint64          `json:"id" db:"id"`
	Description    string          `json:"description" db:"description"`
	Creator        string          `json:"creator" db:"creator"`
	Protocol       string          `json:"protocol" db:"protocol"`
	TargetYieldBps int64           `json:"target_yield_bps" db:"target_yield_bps"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	BettingEndsAt  time.Time       `json:"betting_ends_at" db:"betting_ends_at"`
	SettlementAt   time.Time       `json:"settlement_at" db:"settlement_at"`
	TotalYesStake  decimal.Decimal `json:"total_yes_stake" db:"total_yes_stake"`
	TotalNoStake   decimal.Decimal `json:"total_no_stake" db:"total_no_stake"`
	FeeRateBps     int64           `json:"fee_rate_bps" db:"fee_rate_bps"` // platform fee fixed at creation
	Status         MarketStatus    `json:"status" db:"status"`
	FinalYieldBps  int64           `json:"final_yield_bps" db:"final_yield_bps"`
	WinnerSide     Side            `json:"winner_side,omitempty" db:"winner_side"` // empty until settled
	RandomDuration bool            `json:"random_duration" db:"random_duration"`
	RandomRequest  common.Hash     `json:"random_request,omitempty" db:"random_request"` // zero unless a commit-reveal request was issued
}

// TotalStake is the full pool staked on both sides.
func (m *Market) TotalStake() decimal.Decimal {
	return m.TotalYesStake.Add(m.TotalNoStake)
}

// Bet is one stake placed by one bettor. A bettor may hold several bets on
// the same market; each carries its own claimed flag. Bets are never
// deleted.
type Bet struct {
	ID       string          `json:"id" db:"id"` // uuid
	MarketID uint64          `json:"market_id" db:"market_id"`
	Bettor   string          `json:"bettor" db:"bettor"`
	Side     Side            `json:"side" db:"side"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	PlacedAt time.Time       `json:"placed_at" db:"placed_at"`
	Claimed  bool            `json:"claimed" db:"claimed"`
}

// YieldData is one confidence-scored yield observation for a protocol.
type YieldData struct {
	RateBps       int64     `json:"rate_bps"`
	Timestamp     time.Time `json:"timestamp"`
	ConfidenceBps int64     `json:"confidence_bps"`
	Source        string    `json:"source"`
}

// Zero reports whether the observation carries no data at all.
func (y YieldData) Zero() bool {
	return y.RateBps == 0 && y.Timestamp.IsZero()
}

// RandomRequest is a pending or fulfilled commit-reveal randomness request.
// Fulfillment is one-shot; a request past CommitHeight+MaxDelay can never
// be fulfilled and is reclaimed by batch cleanup.
type RandomRequest struct {
	ID              common.Hash `json:"id"`
	Requester       string      `json:"requester"`
	Seed            uint64      `json:"seed"`
	CommitHeight    uint64      `json:"commit_height"`
	CommitTime      time.Time   `json:"commit_time"`
	RevealHeight    uint64      `json:"reveal_height"` // commit + min delay
	MinDelay        uint64      `json:"min_delay"`
	MaxDelay        uint64      `json:"max_delay"`
	Fulfilled       bool        `json:"fulfilled"`
	Randomness      common.Hash `json:"randomness"`
	EntropySnapshot common.Hash `json:"entropy_snapshot"`
}

// AttestationConfig describes how externally-attested yield data for one
// protocol is fetched off-chain. Mutated only by admin calls.
type AttestationConfig struct {
	Protocol          string        `json:"protocol"`
	Endpoint          string        `json:"endpoint"`
	Filter            string        `json:"filter"` // extraction filter applied to the raw response
	MinUpdateInterval time.Duration `json:"min_update_interval"`
	LastUpdate        time.Time     `json:"last_update"`
	Active            bool          `json:"active"`
	Source            string        `json:"source"`
}
