package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vexmarkets/yield-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) NextMarketID(ctx context.Context) (uint64, error) {
	return s.primary.NextMarketID(ctx)
}

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SettleMarket(ctx context.Context, id uint64, status model.MarketStatus, finalYieldBps int64, winner model.Side) error {
	if err := s.primary.SettleMarket(ctx, id, status, finalYieldBps, winner); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) AppendBet(ctx context.Context, bet *model.Bet) error {
	if err := s.primary.AppendBet(ctx, bet); err != nil {
		return err
	}
	// Stake totals changed; drop the cached market and bettor index.
	s.rdb.Del(ctx, marketKey(bet.MarketID), bettorKey(bet.Bettor))
	return nil
}

func (s *CachedStore) SetBetsClaimed(ctx context.Context, marketID uint64, betIDs []string, claimed bool) error {
	return s.primary.SetBetsClaimed(ctx, marketID, betIDs, claimed)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) MarketIDsByBettor(ctx context.Context, bettor string) ([]uint64, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, bettorKey(bettor)).Bytes()
	if err == nil {
		var ids []uint64
		if json.Unmarshal(data, &ids) == nil {
			return ids, nil
		}
	}

	// Cache miss.
	ids, err := s.primary.MarketIDsByBettor(ctx, bettor)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ids); err == nil {
		s.rdb.Set(ctx, bettorKey(bettor), data, s.ttl)
	}
	return ids, nil
}

// --- Passthrough (not cached: claimed flags must never be stale) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) BetsByMarket(ctx context.Context, marketID uint64) ([]model.Bet, error) {
	return s.primary.BetsByMarket(ctx, marketID)
}

func (s *CachedStore) BetsByBettor(ctx context.Context, marketID uint64, bettor string) ([]model.Bet, error) {
	return s.primary.BetsByBettor(ctx, marketID, bettor)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id uint64) string     { return fmt.Sprintf("market:%d", id) }
func bettorKey(bettor string) string { return fmt.Sprintf("bettor:%s", bettor) }
