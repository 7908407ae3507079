package market_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/asset"
	"github.com/vexmarkets/yield-engine/internal/market"
	"github.com/vexmarkets/yield-engine/internal/model"
	"github.com/vexmarkets/yield-engine/internal/store"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

type stubYields struct {
	data model.YieldData
}

func (s *stubYields) CurrentYieldRate(string) (model.YieldData, error) { return s.data, nil }

type testEnv struct {
	eng    *market.Engine
	yields *stubYields
	router chi.Router
	now    time.Time
}

// newTestEnv wires the engine with in-memory store, ledger token, and a
// chi router mounting every market route.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	token := asset.NewLedgerToken(10000, d(1))
	for _, acct := range []string{"alice", "bob"} {
		token.SetBalance(acct, d(10_000))
		if err := token.Approve(acct, "market-pool", d(10_000)); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	yields := &stubYields{data: model.YieldData{RateBps: 520, ConfidenceBps: 9000, Source: "oracle"}}
	env := &testEnv{
		yields: yields,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.eng = market.NewEngine(store.NewMemoryStore(), token, nil, yields, "admin", "market-pool", market.DefaultParams())
	env.eng.SetClock(func() time.Time { return env.now })

	svc := market.NewService(env.eng, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Post("/api/v1/markets/{marketID}/bets", svc.PlaceBet)
	r.Get("/api/v1/markets/{marketID}/bets", svc.ListBets)
	r.Post("/api/v1/markets/{marketID}/settle", svc.SettleMarket)
	r.Post("/api/v1/markets/{marketID}/claims", svc.Claim)
	r.Get("/api/v1/markets/{marketID}/payout", svc.QuotePayout)
	r.Get("/api/v1/bettors/{bettor}/markets", svc.BettorMarkets)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHTTP_MarketLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		Creator:         "alice",
		Description:     "aave yield above 5%",
		Protocol:        "aave-v3",
		TargetYieldBps:  500,
		DurationSeconds: 3600,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.ID == 0 || m.Status != model.StatusActive {
		t.Fatalf("unexpected market: %+v", m)
	}

	w = env.do(t, "POST", "/api/v1/markets/1/bets", market.BetRequest{Bettor: "alice", Side: model.SideYes, Amount: d(200)})
	if w.Code != http.StatusCreated {
		t.Fatalf("bet: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/v1/markets/1/bets", market.BetRequest{Bettor: "bob", Side: model.SideNo, Amount: d(100)})
	if w.Code != http.StatusCreated {
		t.Fatalf("bet: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/markets/1", nil)
	json.Unmarshal(w.Body.Bytes(), &m)
	if !m.TotalYesStake.Equal(d(200)) || !m.TotalNoStake.Equal(d(100)) {
		t.Fatalf("totals: yes=%s no=%s", m.TotalYesStake, m.TotalNoStake)
	}

	// Settle before settlement time is a conflict, not a server error.
	w = env.do(t, "POST", "/api/v1/markets/1/settle", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("early settle: expected 409, got %d", w.Code)
	}

	env.now = env.now.Add(3 * time.Hour)
	w = env.do(t, "POST", "/api/v1/markets/1/settle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.Status != model.StatusSettled || m.WinnerSide != model.SideYes {
		t.Fatalf("expected Settled YES, got %s %s", m.Status, m.WinnerSide)
	}

	w = env.do(t, "POST", "/api/v1/markets/1/claims", market.ClaimRequest{Bettor: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var claim market.ClaimResponse
	json.Unmarshal(w.Body.Bytes(), &claim)
	if !claim.Payout.Equal(d(297)) {
		t.Errorf("expected payout 297, got %s", claim.Payout)
	}

	w = env.do(t, "POST", "/api/v1/markets/1/claims", market.ClaimRequest{Bettor: "bob"})
	if w.Code != http.StatusConflict {
		t.Errorf("losing claim: expected 409, got %d", w.Code)
	}
}

func TestHTTP_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		Creator: "alice", Description: "m", Protocol: "aave-v3", TargetYieldBps: 0, DurationSeconds: 3600,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero target: expected 400, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/markets/not-a-number", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/markets/42", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown market: expected 404, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/markets/42/bets", market.BetRequest{Bettor: "alice", Side: model.SideYes, Amount: d(10)})
	if w.Code != http.StatusNotFound {
		t.Errorf("bet on unknown market: expected 404, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		Description: "no creator", Protocol: "aave-v3", TargetYieldBps: 500, DurationSeconds: 3600,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing creator: expected 400, got %d", w.Code)
	}
}

func TestHTTP_QuoteMatchesClaim(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		Creator: "alice", Description: "m", Protocol: "aave-v3", TargetYieldBps: 500, DurationSeconds: 3600,
	})
	env.do(t, "POST", "/api/v1/markets/1/bets", market.BetRequest{Bettor: "bob", Side: model.SideNo, Amount: d(100)})

	w := env.do(t, "GET", "/api/v1/markets/1/payout?side=YES&amount=200", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quote: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var quote market.PayoutQuote
	json.Unmarshal(w.Body.Bytes(), &quote)

	env.do(t, "POST", "/api/v1/markets/1/bets", market.BetRequest{Bettor: "alice", Side: model.SideYes, Amount: d(200)})
	env.now = env.now.Add(3 * time.Hour)
	env.do(t, "POST", "/api/v1/markets/1/settle", nil)

	w = env.do(t, "POST", "/api/v1/markets/1/claims", market.ClaimRequest{Bettor: "alice"})
	var claim market.ClaimResponse
	json.Unmarshal(w.Body.Bytes(), &claim)
	if !claim.Payout.Equal(quote.Payout) {
		t.Errorf("quote %s != claim %s", quote.Payout, claim.Payout)
	}
}

func TestHTTP_ListFilters(t *testing.T) {
	env := newTestEnv(t)

	for _, proto := range []string{"aave-v3", "compound"} {
		w := env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
			Creator: "alice", Description: "m " + proto, Protocol: proto, TargetYieldBps: 500, DurationSeconds: 3600,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", proto, w.Code)
		}
	}

	w := env.do(t, "GET", "/api/v1/markets?protocol=compound", nil)
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 || markets[0].Protocol != "compound" {
		t.Errorf("protocol filter: got %+v", markets)
	}

	w = env.do(t, "GET", "/api/v1/markets?status=settled", nil)
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 0 {
		t.Errorf("status filter: expected none settled, got %d", len(markets))
	}
}

func TestHTTP_BettorIndex(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/v1/markets", market.CreateMarketRequest{
		Creator: "alice", Description: "m", Protocol: "aave-v3", TargetYieldBps: 500, DurationSeconds: 3600,
	})
	env.do(t, "POST", "/api/v1/markets/1/bets", market.BetRequest{Bettor: "bob", Side: model.SideNo, Amount: d(50)})

	w := env.do(t, "GET", "/api/v1/bettors/bob/markets", nil)
	var ids []uint64
	json.Unmarshal(w.Body.Bytes(), &ids)
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("bettor index: got %v", ids)
	}

	w = env.do(t, "GET", "/api/v1/bettors/alice/markets", nil)
	json.Unmarshal(w.Body.Bytes(), &ids)
	if len(ids) != 0 {
		t.Errorf("expected empty index for alice, got %v", ids)
	}
}
