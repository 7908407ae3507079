package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vexmarkets/yield-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	counter uint64
	markets map[uint64]*model.Market
	bets    []model.Bet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[uint64]*model.Market),
	}
}

func (s *MemoryStore) NextMarketID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	return s.counter, nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %d: %w", m.ID, ErrAlreadyExists)
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID > markets[j].ID })
	return markets, nil
}

func (s *MemoryStore) SettleMarket(_ context.Context, id uint64, status model.MarketStatus, finalYieldBps int64, winner model.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	if !model.CanTransition(m.Status, status) {
		return fmt.Errorf("market %d is %s: %w", id, m.Status, ErrInvalidTransition)
	}
	m.Status = status
	m.FinalYieldBps = finalYieldBps
	m.WinnerSide = winner
	return nil
}

func (s *MemoryStore) AppendBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[bet.MarketID]
	if !ok {
		return fmt.Errorf("market %d: %w", bet.MarketID, ErrNotFound)
	}

	if bet.Side == model.SideYes {
		m.TotalYesStake = m.TotalYesStake.Add(bet.Amount)
	} else {
		m.TotalNoStake = m.TotalNoStake.Add(bet.Amount)
	}
	s.bets = append(s.bets, *bet)
	return nil
}

func (s *MemoryStore) BetsByMarket(_ context.Context, marketID uint64) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) BetsByBettor(_ context.Context, marketID uint64, bettor string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID && b.Bettor == bettor {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarketIDsByBettor(_ context.Context, bettor string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uint64]bool)
	var ids []uint64
	for _, b := range s.bets {
		if b.Bettor == bettor && !seen[b.MarketID] {
			seen[b.MarketID] = true
			ids = append(ids, b.MarketID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) SetBetsClaimed(_ context.Context, marketID uint64, betIDs []string, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := make(map[string]bool, len(betIDs))
	for _, id := range betIDs {
		match[id] = true
	}
	for i := range s.bets {
		if s.bets[i].MarketID == marketID && match[s.bets[i].ID] {
			s.bets[i].Claimed = claimed
		}
	}
	return nil
}
