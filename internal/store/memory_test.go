package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/model"
)

func testMarket(id uint64) *model.Market {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Market{
		ID:             id,
		Description:    "aave-v3 above 5%",
		Creator:        "alice",
		Protocol:       "aave-v3",
		TargetYieldBps: 500,
		CreatedAt:      now,
		BettingEndsAt:  now.Add(time.Hour),
		SettlementAt:   now.Add(2 * time.Hour),
		FeeRateBps:     100,
		Status:         model.StatusActive,
	}
}

func TestMemoryStore_MarketIDsAreMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var prev uint64
	for i := 0; i < 5; i++ {
		id, err := s.NextMarketID(ctx)
		if err != nil {
			t.Fatalf("NextMarketID: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestMemoryStore_CreateGetCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket(1)
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateMarket(ctx, testMarket(1)); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetMarket(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Mutating the returned copy must not leak into the store.
	got.Status = model.StatusSettled
	again, _ := s.GetMarket(ctx, 1)
	if again.Status != model.StatusActive {
		t.Errorf("stored status = %s, want active", again.Status)
	}

	if _, err := s.GetMarket(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing market err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []uint64{1, 2, 3} {
		if err := s.CreateMarket(ctx, testMarket(id)); err != nil {
			t.Fatalf("create %d: %v", id, err)
		}
	}

	markets, err := s.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(markets) != 3 {
		t.Fatalf("got %d markets, want 3", len(markets))
	}
	for i, want := range []uint64{3, 2, 1} {
		if markets[i].ID != want {
			t.Errorf("markets[%d].ID = %d, want %d", i, markets[i].ID, want)
		}
	}
}

func TestMemoryStore_SettleTransitionGuard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateMarket(ctx, testMarket(1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SettleMarket(ctx, 1, model.StatusSettled, 520, model.SideYes); err != nil {
		t.Fatalf("settle: %v", err)
	}
	m, _ := s.GetMarket(ctx, 1)
	if m.Status != model.StatusSettled || m.FinalYieldBps != 520 || m.WinnerSide != model.SideYes {
		t.Errorf("settled market = %s/%d/%s", m.Status, m.FinalYieldBps, m.WinnerSide)
	}

	// Terminal states never transition again.
	if err := s.SettleMarket(ctx, 1, model.StatusCancelled, 0, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resettle err = %v, want ErrInvalidTransition", err)
	}
	if err := s.SettleMarket(ctx, 2, model.StatusSettled, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing market err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_BetsUpdateTotals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateMarket(ctx, testMarket(1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	bets := []model.Bet{
		{ID: "b1", MarketID: 1, Bettor: "alice", Side: model.SideYes, Amount: decimal.NewFromInt(200)},
		{ID: "b2", MarketID: 1, Bettor: "bob", Side: model.SideNo, Amount: decimal.NewFromInt(100)},
		{ID: "b3", MarketID: 1, Bettor: "alice", Side: model.SideYes, Amount: decimal.NewFromInt(50)},
	}
	for i := range bets {
		if err := s.AppendBet(ctx, &bets[i]); err != nil {
			t.Fatalf("append %s: %v", bets[i].ID, err)
		}
	}
	if err := s.AppendBet(ctx, &model.Bet{ID: "b4", MarketID: 99, Side: model.SideYes, Amount: decimal.NewFromInt(1)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("bet on missing market err = %v, want ErrNotFound", err)
	}

	m, _ := s.GetMarket(ctx, 1)
	if !m.TotalYesStake.Equal(decimal.NewFromInt(250)) || !m.TotalNoStake.Equal(decimal.NewFromInt(100)) {
		t.Errorf("totals = %s/%s, want 250/100", m.TotalYesStake, m.TotalNoStake)
	}

	byMarket, _ := s.BetsByMarket(ctx, 1)
	if len(byMarket) != 3 {
		t.Errorf("BetsByMarket returned %d bets, want 3", len(byMarket))
	}
	byBettor, _ := s.BetsByBettor(ctx, 1, "alice")
	if len(byBettor) != 2 {
		t.Errorf("BetsByBettor returned %d bets, want 2", len(byBettor))
	}
	ids, _ := s.MarketIDsByBettor(ctx, "alice")
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("MarketIDsByBettor = %v, want [1]", ids)
	}
}

func TestMemoryStore_SetBetsClaimedIsReversible(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateMarket(ctx, testMarket(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	bet := model.Bet{ID: "b1", MarketID: 1, Bettor: "alice", Side: model.SideYes, Amount: decimal.NewFromInt(10)}
	if err := s.AppendBet(ctx, &bet); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.SetBetsClaimed(ctx, 1, []string{"b1"}, true); err != nil {
		t.Fatalf("claim: %v", err)
	}
	bets, _ := s.BetsByMarket(ctx, 1)
	if !bets[0].Claimed {
		t.Error("bet not marked claimed")
	}

	// Claim rollback after a failed payout transfer clears the flag.
	if err := s.SetBetsClaimed(ctx, 1, []string{"b1"}, false); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	bets, _ = s.BetsByMarket(ctx, 1)
	if bets[0].Claimed {
		t.Error("claimed flag not rolled back")
	}
}
