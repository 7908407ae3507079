// Package store defines the persistence interface for markets and bets.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/vexmarkets/yield-engine/internal/model"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrAlreadyExists     = errors.New("store: already exists")
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// NextMarketID reserves the next monotonic market ID. IDs survive
	// restarts and are never reissued.
	NextMarketID(ctx context.Context) (uint64, error)

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// SettleMarket moves an Active market to a terminal status and records
	// the settlement outcome. Fails ErrInvalidTransition if the market has
	// already left Active.
	SettleMarket(ctx context.Context, id uint64, status model.MarketStatus, finalYieldBps int64, winner model.Side) error

	// --- Bet operations ---

	// AppendBet inserts a bet and increments the market's side total in a
	// single atomic step.
	AppendBet(ctx context.Context, bet *model.Bet) error

	// BetsByMarket returns all bets on a market in placement order.
	BetsByMarket(ctx context.Context, marketID uint64) ([]model.Bet, error)

	// BetsByBettor returns one bettor's bets on a market in placement order.
	BetsByBettor(ctx context.Context, marketID uint64, bettor string) ([]model.Bet, error)

	// MarketIDsByBettor returns the distinct markets a bettor has staked in.
	MarketIDsByBettor(ctx context.Context, bettor string) ([]uint64, error)

	// SetBetsClaimed flips the claimed flag on the given bets. Settable in
	// both directions so a failed payout transfer can be rolled back.
	SetBetsClaimed(ctx context.Context, marketID uint64, betIDs []string, claimed bool) error
}
