package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/pricefeed"
)

const (
	admin    = "admin"
	provider = "provider-1"
	proto    = "aave-v3"
)

// testClock is a settable clock for staleness and recency scenarios.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time     { return c.t }
func (c *testClock) warp(d time.Duration) { c.t = c.t.Add(d) }

func newTestAggregator(t *testing.T) (*Aggregator, *testClock) {
	t.Helper()
	a := NewAggregator(admin, nil, 100)
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	a.SetClock(clock.now)

	if err := a.RegisterProtocol(admin, proto, "aave-tvl"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := a.AuthorizeProvider(admin, proto, provider); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return a, clock
}

func TestValidateProtocolID(t *testing.T) {
	for _, ok := range []string{"aave-v3", "compound", "curve-3pool"} {
		if err := ValidateProtocolID(ok); err != nil {
			t.Errorf("%q should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "A", "UPPER", "-lead", "has space", "x"} {
		if err := ValidateProtocolID(bad); err == nil {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestUpdateYieldRate_Validation(t *testing.T) {
	a, _ := newTestAggregator(t)

	if err := a.UpdateYieldRate(provider, "unknown", 500); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("expected ErrUnknownProtocol, got %v", err)
	}
	if err := a.UpdateYieldRate(provider, proto, 50001); !errors.Is(err, ErrRateTooHigh) {
		t.Errorf("expected ErrRateTooHigh, got %v", err)
	}
	if err := a.UpdateYieldRate(provider, proto, -1); !errors.Is(err, ErrRateNegative) {
		t.Errorf("expected ErrRateNegative, got %v", err)
	}
	if err := a.UpdateYieldRate("mallory", proto, 500); !errors.Is(err, ErrUnauthorizedProvider) {
		t.Errorf("expected ErrUnauthorizedProvider, got %v", err)
	}
	// Admin bypasses provider authorization.
	if err := a.UpdateYieldRate(admin, proto, 500); err != nil {
		t.Errorf("admin update should succeed: %v", err)
	}
}

func TestConfidence_FirstUpdateBase(t *testing.T) {
	a, _ := newTestAggregator(t)

	if err := a.UpdateYieldRate(provider, proto, 500); err != nil {
		t.Fatalf("update: %v", err)
	}
	y, err := a.CurrentYieldRate(proto)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if y.ConfidenceBps != 8000 {
		t.Errorf("first update should carry base confidence 8000, got %d", y.ConfidenceBps)
	}
}

func TestConfidence_LargeChangeHalves(t *testing.T) {
	a, clock := newTestAggregator(t)

	a.UpdateYieldRate(provider, proto, 1000)
	clock.warp(10 * time.Minute) // outside the fresh-boost window, inside 1h

	// 1000 → 1300 is a 30% change: confidence halves to 4000.
	a.UpdateYieldRate(provider, proto, 1300)
	y, _ := a.CurrentYieldRate(proto)
	if y.ConfidenceBps != 4000 {
		t.Errorf("expected halved confidence 4000, got %d", y.ConfidenceBps)
	}
}

func TestConfidence_ModerateChange(t *testing.T) {
	a, clock := newTestAggregator(t)

	a.UpdateYieldRate(provider, proto, 1000)
	clock.warp(10 * time.Minute)

	// 1000 → 1150 is a 15% change: confidence reduces to 80% of base.
	a.UpdateYieldRate(provider, proto, 1150)
	y, _ := a.CurrentYieldRate(proto)
	if y.ConfidenceBps != 6400 {
		t.Errorf("expected 6400 after moderate change, got %d", y.ConfidenceBps)
	}
}

func TestConfidence_RecencyAdjustments(t *testing.T) {
	a, clock := newTestAggregator(t)

	// Stale previous update: ×90%.
	a.UpdateYieldRate(provider, proto, 1000)
	clock.warp(2 * time.Hour)
	a.UpdateYieldRate(provider, proto, 1000) // no change adjustment
	y, _ := a.CurrentYieldRate(proto)
	if y.ConfidenceBps != 7200 {
		t.Errorf("expected 7200 after stale previous update, got %d", y.ConfidenceBps)
	}

	// Fresh previous update: +10%, from base 8000 → 8800.
	clock.warp(time.Minute)
	a.UpdateYieldRate(provider, proto, 1000)
	y, _ = a.CurrentYieldRate(proto)
	if y.ConfidenceBps != 8800 {
		t.Errorf("expected 8800 after fresh previous update, got %d", y.ConfidenceBps)
	}
}

func TestConfidence_BoostCapped(t *testing.T) {
	a, clock := newTestAggregator(t)

	a.UpdateYieldRate(provider, proto, 1000)
	for i := 0; i < 5; i++ {
		clock.warp(time.Minute)
		a.UpdateYieldRate(provider, proto, 1000)
	}
	y, _ := a.CurrentYieldRate(proto)
	if y.ConfidenceBps > 10000 {
		t.Errorf("confidence must be capped at 10000, got %d", y.ConfidenceBps)
	}
}

func TestCurrentYieldRate_StalenessView(t *testing.T) {
	a, clock := newTestAggregator(t)

	a.UpdateYieldRate(provider, proto, 750)
	clock.warp(6 * time.Minute)

	y, err := a.CurrentYieldRate(proto)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if y.ConfidenceBps != 4000 {
		t.Errorf("stale view should halve confidence to 4000, got %d", y.ConfidenceBps)
	}

	// The stored value must be unchanged: warping back shows full confidence.
	clock.warp(-6 * time.Minute)
	y, _ = a.CurrentYieldRate(proto)
	if y.ConfidenceBps != 8000 {
		t.Errorf("stored confidence should be untouched, got %d", y.ConfidenceBps)
	}
}

func TestHistoricalAndAverage(t *testing.T) {
	a, clock := newTestAggregator(t)
	start := clock.t

	rates := []int64{500, 520, 540, 560}
	for _, r := range rates {
		a.UpdateYieldRate(provider, proto, r)
		clock.warp(10 * time.Minute)
	}

	got, stamps, err := a.HistoricalYieldRates(proto, start, start.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0] != 500 || got[1] != 520 {
		t.Errorf("expected [500 520] in window, got %v", got)
	}
	if len(stamps) != 2 || !stamps[0].Before(stamps[1]) {
		t.Errorf("timestamps should preserve insertion order: %v", stamps)
	}

	// Lookback covering the last two points: (540+560)/2 = 550.
	avg, count, err := a.AverageYieldRate(proto, 25*time.Minute)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if avg != 550 || count != 2 {
		t.Errorf("expected avg 550 over 2 points, got %d over %d", avg, count)
	}

	// Empty window.
	avg, count, _ = a.AverageYieldRate(proto, 0)
	if avg != 0 || count != 0 {
		t.Errorf("empty lookback should give 0/0, got %d/%d", avg, count)
	}
}

func TestProviderRevocation(t *testing.T) {
	a, _ := newTestAggregator(t)

	if err := a.RevokeProvider(admin, proto, provider); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := a.UpdateYieldRate(provider, proto, 500); !errors.Is(err, ErrUnauthorizedProvider) {
		t.Errorf("revoked provider should be rejected, got %v", err)
	}
}

func TestRegisterProtocol_OwnerAndDuplicates(t *testing.T) {
	a, _ := newTestAggregator(t)

	if err := a.RegisterProtocol("mallory", "compound", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := a.RegisterProtocol(admin, proto, ""); !errors.Is(err, ErrProtocolExists) {
		t.Errorf("expected ErrProtocolExists, got %v", err)
	}
}

// shortFeed returns an empty batch with a nil error, violating the Feed
// contract that missing ids fail the whole batch.
type shortFeed struct{}

func (shortFeed) GetValues(ids []string) ([]decimal.Decimal, []int32, time.Time, error) {
	return nil, nil, time.Time{}, nil
}

func TestUpdateYieldRate_ToleratesShortFeedBatch(t *testing.T) {
	a := NewAggregator(admin, shortFeed{}, 100)
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	a.SetClock(clock.now)
	a.RegisterProtocol(admin, proto, "aave-tvl")
	a.AuthorizeProvider(admin, proto, provider)

	// A misbehaving feed must not take the update path down.
	if err := a.UpdateYieldRate(provider, proto, 500); err != nil {
		t.Fatalf("update: %v", err)
	}
	y, err := a.CurrentYieldRate(proto)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if y.RateBps != 500 {
		t.Errorf("rate = %d, want 500", y.RateBps)
	}
}

func TestReferenceCorrelationContext(t *testing.T) {
	feed := pricefeed.NewStaticFeed()
	feed.Set("aave-tvl", decimal.NewFromInt(1000), 2)

	a := NewAggregator(admin, feed, 100)
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	a.SetClock(clock.now)
	a.RegisterProtocol(admin, proto, "aave-tvl")
	a.AuthorizeProvider(admin, proto, provider)

	a.UpdateYieldRate(provider, proto, 1000)
	clock.warp(10 * time.Minute)

	// Yield jumps 50% while the reference is flat: flagged implausible.
	a.UpdateYieldRate(provider, proto, 1500)
	_, plausible, err := a.ReferenceContext(proto)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if plausible {
		t.Error("large yield move against a flat reference should be implausible")
	}

	// The update itself is still stored; correlation is context only.
	y, _ := a.CurrentYieldRate(proto)
	if y.RateBps != 1500 {
		t.Errorf("update should be stored regardless of plausibility, got %d", y.RateBps)
	}
}
