package market

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/metrics"
	"github.com/vexmarkets/yield-engine/internal/model"
	"github.com/vexmarkets/yield-engine/internal/store"
)

// Service exposes the market engine over HTTP.
// Pass nil for hub if WebSocket broadcasting is not needed.
type Service struct {
	eng   *Engine
	wsHub *WSHub
}

// NewService creates the HTTP service around an engine.
func NewService(eng *Engine, hub *WSHub) *Service {
	return &Service{eng: eng, wsHub: hub}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Creator         string `json:"creator"`
	Description     string `json:"description"`
	Protocol        string `json:"protocol"`
	TargetYieldBps  int64  `json:"target_yield_bps"`
	DurationSeconds int64  `json:"duration_seconds"`
	RandomDuration  bool   `json:"random_duration"`
}

// BetRequest is the JSON body for POST /markets/{marketID}/bets.
type BetRequest struct {
	Bettor string          `json:"bettor"`
	Side   model.Side      `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

// ClaimRequest is the JSON body for POST /markets/{marketID}/claims.
type ClaimRequest struct {
	Bettor string `json:"bettor"`
}

// ClaimResponse reports the amount paid out by a claim.
type ClaimResponse struct {
	MarketID uint64          `json:"market_id"`
	Bettor   string          `json:"bettor"`
	Payout   decimal.Decimal `json:"payout"`
}

// PayoutQuote is the what-if response for GET /markets/{marketID}/payout.
type PayoutQuote struct {
	MarketID uint64          `json:"market_id"`
	Side     model.Side      `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Payout   decimal.Decimal `json:"payout"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}

	m, err := s.eng.CreateMarket(r.Context(), req.Creator, req.Description, req.Protocol,
		req.TargetYieldBps, time.Duration(req.DurationSeconds)*time.Second, req.RandomDuration)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_created",
			MarketID: m.ID,
			Protocol: m.Protocol,
			Status:   string(m.Status),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	m, err := s.eng.Market(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ListMarkets handles GET /api/v1/markets
// Optionally filtered by ?protocol=<name> or ?status=<status>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.eng.Markets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	protocol := r.URL.Query().Get("protocol")
	status := r.URL.Query().Get("status")
	if protocol != "" || status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if protocol != "" && m.Protocol != protocol {
				continue
			}
			if status != "" && string(m.Status) != status {
				continue
			}
			filtered = append(filtered, m)
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// PlaceBet handles POST /api/v1/markets/{marketID}/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bettor == "" {
		writeError(w, "bettor is required", http.StatusBadRequest)
		return
	}

	bet, err := s.eng.PlaceBet(r.Context(), req.Bettor, id, req.Side, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.BetsTotal.WithLabelValues(string(bet.Side)).Inc()
	volume, _ := bet.Amount.Float64()
	metrics.StakeVolume.WithLabelValues(strconv.FormatUint(id, 10), string(bet.Side)).Add(volume)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "bet_placed",
			MarketID: id,
			Side:     string(bet.Side),
			Amount:   bet.Amount.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bet)
}

// ListBets handles GET /api/v1/markets/{marketID}/bets
func (s *Service) ListBets(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	bets, err := s.eng.Bets(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bets)
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle
// Any caller may settle once the settlement time has passed.
func (s *Service) SettleMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	m, err := s.eng.Settle(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.SettlementsTotal.WithLabelValues(string(m.Status)).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "market_settled",
			MarketID:      id,
			Status:        string(m.Status),
			WinnerSide:    string(m.WinnerSide),
			FinalYieldBps: m.FinalYieldBps,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// Claim handles POST /api/v1/markets/{marketID}/claims
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bettor == "" {
		writeError(w, "bettor is required", http.StatusBadRequest)
		return
	}

	payout, err := s.eng.Claim(r.Context(), req.Bettor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.ClaimsTotal.Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "winnings_claimed",
			MarketID: id,
			Amount:   payout.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ClaimResponse{MarketID: id, Bettor: req.Bettor, Payout: payout})
}

// QuotePayout handles GET /api/v1/markets/{marketID}/payout?side=YES&amount=200
func (s *Service) QuotePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	side := model.Side(r.URL.Query().Get("side"))
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "amount must be a decimal number", http.StatusBadRequest)
		return
	}

	payout, err := s.eng.CalculatePayout(r.Context(), id, side, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PayoutQuote{MarketID: id, Side: side, Amount: amount, Payout: payout})
}

// BettorMarkets handles GET /api/v1/bettors/{bettor}/markets
func (s *Service) BettorMarkets(w http.ResponseWriter, r *http.Request) {
	bettor := chi.URLParam(r, "bettor")

	ids, err := s.eng.MarketsFor(r.Context(), bettor)
	if err != nil {
		writeError(w, "failed to load bettor markets", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ids)
}

// --- Admin handlers ---

// AdminRequest identifies the caller on owner-gated operations.
type AdminRequest struct {
	Caller string          `json:"caller"`
	To     string          `json:"to,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
}

// ParamsRequest is the JSON body for updating engine parameters.
type ParamsRequest struct {
	Caller string `json:"caller"`
	Params Params `json:"params"`
}

// GetParams handles GET /api/v1/admin/market/params
func (s *Service) GetParams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.eng.Params())
}

// SetParams handles PUT /api/v1/admin/market/params
func (s *Service) SetParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.SetParams(req.Caller, req.Params); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /api/v1/admin/market/pause
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.Pause(req.Caller); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unpause handles POST /api/v1/admin/market/unpause
func (s *Service) Unpause(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.Unpause(req.Caller); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// WithdrawFees handles POST /api/v1/admin/market/fees/withdraw
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := s.eng.WithdrawFees(req.Caller, req.To)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"amount": amount.String()})
}

// EmergencyWithdraw handles POST /api/v1/admin/market/emergency-withdraw
func (s *Service) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.EmergencyWithdraw(req.Caller, req.To, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil {
		writeError(w, "market id must be numeric", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeEngineError maps engine errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrEmptyDescription),
		errors.Is(err, ErrInvalidTarget),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrStakeOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, ErrBettingClosed),
		errors.Is(err, ErrMarketNotActive),
		errors.Is(err, ErrSettlementNotReady),
		errors.Is(err, ErrNotClaimable),
		errors.Is(err, ErrNoPayout),
		errors.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
