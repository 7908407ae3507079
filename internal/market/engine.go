// Package market implements the yield prediction market: creation, staking,
// oracle-driven settlement, and pull-payment claims.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/asset"
	"github.com/vexmarkets/yield-engine/internal/model"
	"github.com/vexmarkets/yield-engine/internal/random"
	"github.com/vexmarkets/yield-engine/internal/store"
)

var (
	ErrPaused             = errors.New("market: engine paused")
	ErrUnauthorized       = errors.New("market: owner only")
	ErrEmptyDescription   = errors.New("market: description must not be empty")
	ErrInvalidTarget      = errors.New("market: target yield out of range")
	ErrInvalidDuration    = errors.New("market: duration out of bounds")
	ErrInvalidSide        = errors.New("market: side must be YES or NO")
	ErrStakeOutOfRange    = errors.New("market: stake amount out of bounds")
	ErrBettingClosed      = errors.New("market: betting window has ended")
	ErrMarketNotActive    = errors.New("market: market is not active")
	ErrSettlementNotReady = errors.New("market: settlement time not reached")
	ErrNotClaimable       = errors.New("market: market has not settled")
	ErrNoPayout           = errors.New("market: nothing to claim")
)

// MaxTargetYieldBps bounds the yield target a market may predict on (100%).
const MaxTargetYieldBps = int64(10000)

// Random-duration multiplier window: 95% to 115% of the requested duration.
const (
	durationFloorBps = int64(9500)
	durationSpanBps  = int64(2001)
)

// YieldSource supplies the confidence-scored yield value used at
// settlement. Wired to the attestation verifier's reconciliation in
// production; tests use a scripted stub.
type YieldSource interface {
	CurrentYieldRate(protocol string) (model.YieldData, error)
}

// Params are the owner-tunable engine settings. FeeRateBps is snapshotted
// onto each market at creation so later changes never reprice open markets.
type Params struct {
	MinDuration            time.Duration   `json:"min_duration"`
	MaxDuration            time.Duration   `json:"max_duration"`
	SettlementDelay        time.Duration   `json:"settlement_delay"`
	MinStake               decimal.Decimal `json:"min_stake"`
	MaxStake               decimal.Decimal `json:"max_stake"`
	FeeRateBps             int64           `json:"fee_rate_bps"`
	ConfidenceThresholdBps int64           `json:"confidence_threshold_bps"`
	CreateRequiresOwner    bool            `json:"create_requires_owner"`
	RandomRequestFee       decimal.Decimal `json:"random_request_fee"`
}

// DefaultParams returns the deployed defaults: 1% fee, 70% settlement
// confidence bar, permissionless creation.
func DefaultParams() Params {
	return Params{
		MinDuration:            10 * time.Minute,
		MaxDuration:            90 * 24 * time.Hour,
		SettlementDelay:        time.Hour,
		MinStake:               decimal.NewFromInt(1),
		MaxStake:               decimal.NewFromInt(1_000_000),
		FeeRateBps:             100,
		ConfidenceThresholdBps: 7000,
	}
}

func (p Params) valid() bool {
	return p.MinDuration > 0 &&
		p.MaxDuration > p.MinDuration &&
		p.SettlementDelay >= 0 &&
		p.MinStake.IsPositive() &&
		p.MaxStake.GreaterThanOrEqual(p.MinStake) &&
		p.FeeRateBps >= 0 && p.FeeRateBps < model.BpsDenominator &&
		p.ConfidenceThresholdBps >= 0 && p.ConfidenceThresholdBps <= model.MaxConfidenceBps
}

// Engine handles market operations. Uses a mutex for serialized state
// transitions (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Engine struct {
	mu      sync.Mutex
	store   store.Store
	token   asset.Asset
	random  *random.Engine
	yields  YieldSource
	owner   string
	account string // collateral custody account
	params  Params
	paused  bool
	feePool decimal.Decimal
	now     func() time.Time
}

// NewEngine creates a market engine. random may be nil when randomized
// durations are not offered.
func NewEngine(st store.Store, token asset.Asset, rnd *random.Engine, yields YieldSource, owner, account string, params Params) *Engine {
	return &Engine{
		store:   st,
		token:   token,
		random:  rnd,
		yields:  yields,
		owner:   owner,
		account: account,
		params:  params,
		now:     time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CreateMarket opens a new market. When randomDuration is set the
// requested duration is scaled by an instant-randomness multiplier in
// [95%, 115%], clamped back into the configured bounds, and a commit-reveal
// request is additionally issued best-effort for auditability.
func (e *Engine) CreateMarket(ctx context.Context, creator, description, protocol string, targetYieldBps int64, duration time.Duration, randomDuration bool) (*model.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrPaused
	}
	if e.params.CreateRequiresOwner && creator != e.owner {
		return nil, ErrUnauthorized
	}
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if targetYieldBps <= 0 || targetYieldBps > MaxTargetYieldBps {
		return nil, ErrInvalidTarget
	}
	if duration < e.params.MinDuration || duration > e.params.MaxDuration {
		return nil, ErrInvalidDuration
	}

	id, err := e.store.NextMarketID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve market id: %w", err)
	}

	now := e.now().UTC()
	actual := duration
	var requestID common.Hash

	if randomDuration && e.random != nil {
		seed := durationSeed(id, creator, targetYieldBps, now)
		r, err := e.random.Instant(creator, seed)
		if err != nil {
			return nil, fmt.Errorf("instant randomness: %w", err)
		}
		multiplierBps := durationFloorBps + randomMod(r[:], durationSpanBps)
		actual = time.Duration(int64(duration) / model.BpsDenominator * multiplierBps)
		actual = clampDuration(actual, e.params.MinDuration, e.params.MaxDuration)

		// Stronger randomness for the audit trail; the instant value above
		// is what fixed the duration.
		if rid, err := e.random.Request(e.account, seed, e.params.RandomRequestFee, nil); err != nil {
			slog.Warn("commit-reveal request skipped", "market_id", id, "error", err)
		} else {
			requestID = rid
		}
	}

	m := &model.Market{
		ID:             id,
		Description:    description,
		Creator:        creator,
		Protocol:       protocol,
		TargetYieldBps: targetYieldBps,
		CreatedAt:      now,
		BettingEndsAt:  now.Add(actual),
		SettlementAt:   now.Add(actual).Add(e.params.SettlementDelay),
		TotalYesStake:  decimal.Zero,
		TotalNoStake:   decimal.Zero,
		FeeRateBps:     e.params.FeeRateBps,
		Status:         model.StatusActive,
		RandomDuration: randomDuration,
		RandomRequest:  requestID,
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"id", id,
		"creator", creator,
		"protocol", protocol,
		"target_bps", targetYieldBps,
		"betting_ends_at", m.BettingEndsAt,
		"random_duration", randomDuration,
	)
	return m, nil
}

// PlaceBet stakes collateral on one side of an active market. The amount
// is pulled from the bettor into custody; a transfer failure aborts the
// whole operation with no state change.
func (e *Engine) PlaceBet(ctx context.Context, bettor string, marketID uint64, side model.Side, amount decimal.Decimal) (*model.Bet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrPaused
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if amount.LessThan(e.params.MinStake) || amount.GreaterThan(e.params.MaxStake) {
		return nil, ErrStakeOutOfRange
	}
	// Whole units only, so floor-division payouts stay exact.
	if !amount.Equal(amount.Floor()) {
		return nil, ErrStakeOutOfRange
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusActive {
		return nil, ErrMarketNotActive
	}
	if !e.now().UTC().Before(m.BettingEndsAt) {
		return nil, ErrBettingClosed
	}

	if err := e.token.TransferFrom(e.account, bettor, e.account, amount); err != nil {
		return nil, fmt.Errorf("pull stake: %w", err)
	}

	bet := &model.Bet{
		ID:       uuid.New().String(),
		MarketID: marketID,
		Bettor:   bettor,
		Side:     side,
		Amount:   amount,
		PlacedAt: e.now().UTC(),
	}
	if err := e.store.AppendBet(ctx, bet); err != nil {
		// Compensate the pulled stake so the bettor is whole.
		if rerr := e.token.Transfer(e.account, bettor, amount); rerr != nil {
			slog.Error("stake refund failed after store error", "bettor", bettor, "amount", amount.String(), "error", rerr)
		}
		return nil, err
	}

	slog.Info("bet placed",
		"market_id", marketID,
		"bet_id", bet.ID,
		"bettor", bettor,
		"side", side,
		"amount", amount.String(),
	)
	return bet, nil
}

// Settle fixes a market's outcome from the reconciled yield value. Any
// caller may settle once the settlement time has passed. Low confidence is
// not an error: the market cancels and every stake becomes refundable.
func (e *Engine) Settle(ctx context.Context, marketID uint64) (*model.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, ErrPaused
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusActive {
		return nil, ErrMarketNotActive
	}
	if e.now().UTC().Before(m.SettlementAt) {
		return nil, ErrSettlementNotReady
	}

	data, yerr := e.yields.CurrentYieldRate(m.Protocol)
	if yerr != nil || data.ConfidenceBps < e.params.ConfidenceThresholdBps {
		if err := e.store.SettleMarket(ctx, marketID, model.StatusCancelled, 0, ""); err != nil {
			return nil, err
		}
		m.Status = model.StatusCancelled
		slog.Info("market cancelled",
			"id", marketID,
			"confidence_bps", data.ConfidenceBps,
			"oracle_error", yerr,
		)
		return m, nil
	}

	winner := model.SideNo
	if data.RateBps >= m.TargetYieldBps {
		winner = model.SideYes
	}
	if err := e.store.SettleMarket(ctx, marketID, model.StatusSettled, data.RateBps, winner); err != nil {
		return nil, err
	}
	m.Status = model.StatusSettled
	m.FinalYieldBps = data.RateBps
	m.WinnerSide = winner

	// Fee is fixed at settlement; claims divide what remains.
	fee := feeOf(m.TotalStake(), m.FeeRateBps)
	e.feePool = e.feePool.Add(fee)

	slog.Info("market settled",
		"id", marketID,
		"final_yield_bps", data.RateBps,
		"target_bps", m.TargetYieldBps,
		"winner", winner,
		"fee", fee.String(),
	)
	return m, nil
}

// Claim pays out the caller's unclaimed bets on a settled or cancelled
// market in a single transfer. Bets are marked claimed before the transfer
// and rolled back if it fails, so a re-entrant claim sees nothing left.
func (e *Engine) Claim(ctx context.Context, caller string, marketID uint64) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return decimal.Zero, ErrPaused
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if m.Status == model.StatusActive {
		return decimal.Zero, ErrNotClaimable
	}

	bets, err := e.store.BetsByBettor(ctx, marketID, caller)
	if err != nil {
		return decimal.Zero, err
	}

	netPool := m.TotalStake().Sub(feeOf(m.TotalStake(), m.FeeRateBps))
	winnerTotal := m.TotalYesStake
	if m.WinnerSide == model.SideNo {
		winnerTotal = m.TotalNoStake
	}

	total := decimal.Zero
	var matched []string
	for _, b := range bets {
		if b.Claimed {
			continue
		}
		switch {
		case m.Status == model.StatusCancelled:
			total = total.Add(b.Amount)
		case b.Side == m.WinnerSide:
			total = total.Add(proRata(b.Amount, netPool, winnerTotal))
		}
		// Losing bets pay zero but still get marked claimed.
		matched = append(matched, b.ID)
	}
	if !total.IsPositive() {
		return decimal.Zero, ErrNoPayout
	}

	if err := e.store.SetBetsClaimed(ctx, marketID, matched, true); err != nil {
		return decimal.Zero, err
	}
	if err := e.token.Transfer(e.account, caller, total); err != nil {
		if rerr := e.store.SetBetsClaimed(ctx, marketID, matched, false); rerr != nil {
			slog.Error("claim rollback failed", "market_id", marketID, "bettor", caller, "error", rerr)
		}
		return decimal.Zero, fmt.Errorf("payout transfer: %w", err)
	}

	slog.Info("winnings claimed",
		"market_id", marketID,
		"bettor", caller,
		"amount", total.String(),
		"bets", len(matched),
	)
	return total, nil
}

// CalculatePayout is the what-if quote: the claim a hypothetical stake on
// side would receive if that side won, given current totals plus the
// stake. Mirrors the settlement math exactly.
func (e *Engine) CalculatePayout(ctx context.Context, marketID uint64, side model.Side, amount decimal.Decimal) (decimal.Decimal, error) {
	if !side.Valid() {
		return decimal.Zero, ErrInvalidSide
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrStakeOutOfRange
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}

	total := m.TotalStake().Add(amount)
	netPool := total.Sub(feeOf(total, m.FeeRateBps))

	sideTotal := m.TotalYesStake
	if side == model.SideNo {
		sideTotal = m.TotalNoStake
	}
	sideTotal = sideTotal.Add(amount)

	return proRata(amount, netPool, sideTotal), nil
}

// --- Views ---

// Market returns one market by ID.
func (e *Engine) Market(ctx context.Context, id uint64) (*model.Market, error) {
	return e.store.GetMarket(ctx, id)
}

// Markets returns all markets, newest first.
func (e *Engine) Markets(ctx context.Context) ([]model.Market, error) {
	return e.store.ListMarkets(ctx)
}

// MarketsFor returns the IDs of markets the bettor has staked in.
func (e *Engine) MarketsFor(ctx context.Context, bettor string) ([]uint64, error) {
	return e.store.MarketIDsByBettor(ctx, bettor)
}

// Bets returns every bet on a market in placement order.
func (e *Engine) Bets(ctx context.Context, marketID uint64) ([]model.Bet, error) {
	return e.store.BetsByMarket(ctx, marketID)
}

// Params returns the current engine settings.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// FeePool returns the accumulated platform fees.
func (e *Engine) FeePool() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feePool
}

// --- Admin ---

// SetParams replaces the engine settings. Owner only. Open markets keep
// the fee rate they were created with.
func (e *Engine) SetParams(caller string, p Params) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if !p.valid() {
		return ErrInvalidDuration
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p
	return nil
}

// Pause blocks every state-mutating operation. Owner only.
func (e *Engine) Pause(caller string) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	slog.Warn("market engine paused")
	return nil
}

// Unpause lifts a pause. Owner only.
func (e *Engine) Unpause(caller string) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	slog.Info("market engine unpaused")
	return nil
}

// WithdrawFees moves accumulated platform fees to the recipient. Owner only.
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

// EmergencyWithdraw moves stranded collateral out of custody. Owner only;
// the escape hatch for funds no claim path can reach.
func (e *Engine) EmergencyWithdraw(caller, to string, amount decimal.Decimal) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	if !amount.IsPositive() {
		return ErrStakeOutOfRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.token.Transfer(e.account, to, amount); err != nil {
		return err
	}
	slog.Warn("emergency withdrawal", "to", to, "amount", amount.String())
	return nil
}

// --- Math helpers ---

// feeOf computes the platform fee with integer floor division.
func feeOf(total decimal.Decimal, rateBps int64) decimal.Decimal {
	q, _ := total.Mul(decimal.NewFromInt(rateBps)).QuoRem(decimal.NewFromInt(model.BpsDenominator), 0)
	return q
}

// proRata is amount * netPool / sideTotal with integer floor division.
func proRata(amount, netPool, sideTotal decimal.Decimal) decimal.Decimal {
	if !sideTotal.IsPositive() {
		return decimal.Zero
	}
	q, _ := amount.Mul(netPool).QuoRem(sideTotal, 0)
	return q
}

// durationSeed derives a nonzero randomness seed from the market identity.
func durationSeed(id uint64, creator string, targetBps int64, now time.Time) uint64 {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], id)
	binary.BigEndian.PutUint64(buf[8:16], uint64(targetBps))
	binary.BigEndian.PutUint64(buf[16:24], uint64(now.UnixNano()))
	h := crypto.Keccak256Hash(buf[:], []byte(creator))
	seed := binary.BigEndian.Uint64(h[:8]) & random.MaxSeed
	if seed == 0 {
		seed = 1
	}
	return seed
}

// randomMod folds a hash into [0, span) via modulo.
func randomMod(b []byte, span int64) int64 {
	v := binary.BigEndian.Uint64(b[:8])
	return int64(v % uint64(span))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
