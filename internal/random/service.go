package random

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/metrics"
)

// Service exposes the randomness engine over HTTP.
type Service struct {
	eng *Engine
}

// NewService creates the HTTP service around an engine.
func NewService(eng *Engine) *Service {
	return &Service{eng: eng}
}

// RequestBody is the JSON body for POST /random/requests.
type RequestBody struct {
	Requester string          `json:"requester"`
	Seed      uint64          `json:"seed"`
	Fee       decimal.Decimal `json:"fee"`
	MinDelay  uint64          `json:"min_delay,omitempty"`
	MaxDelay  uint64          `json:"max_delay,omitempty"`
}

// ChoiceBody is the JSON body for POST /random/requests/{requestID}/choice.
type ChoiceBody struct {
	Weights []uint64 `json:"weights"`
}

// CleanupBody is the JSON body for POST /admin/random/cleanup.
type CleanupBody struct {
	IDs []string `json:"ids"`
}

// Request handles POST /api/v1/random/requests
func (s *Service) Request(w http.ResponseWriter, r *http.Request) {
	var req RequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Requester == "" {
		writeError(w, "requester is required", http.StatusBadRequest)
		return
	}

	var cfg *DelayConfig
	if req.MinDelay != 0 || req.MaxDelay != 0 {
		cfg = &DelayConfig{MinDelay: req.MinDelay, MaxDelay: req.MaxDelay}
	}

	id, err := s.eng.Request(req.Requester, req.Seed, req.Fee, cfg)
	if err != nil {
		writeRandomError(w, err)
		return
	}
	metrics.RandomRequestsTotal.Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"request_id": id.Hex()})
}

// Fulfill handles POST /api/v1/random/requests/{requestID}/fulfill
func (s *Service) Fulfill(w http.ResponseWriter, r *http.Request) {
	id := common.HexToHash(chi.URLParam(r, "requestID"))

	randomness, err := s.eng.Fulfill(id)
	if err != nil {
		writeRandomError(w, err)
		return
	}
	metrics.RandomFulfillmentsTotal.Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"randomness": randomness.Hex()})
}

// Get handles GET /api/v1/random/requests/{requestID}
func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	req, err := s.eng.Get(common.HexToHash(chi.URLParam(r, "requestID")))
	if err != nil {
		writeRandomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// Instant handles GET /api/v1/random/instant?caller=x&seed=n
// Weaker tier: biasable by the producer of the current block.
func (s *Service) Instant(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	seed, err := strconv.ParseUint(r.URL.Query().Get("seed"), 10, 64)
	if err != nil {
		writeError(w, "seed must be numeric", http.StatusBadRequest)
		return
	}

	randomness, err := s.eng.Instant(caller, seed)
	if err != nil {
		writeRandomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"randomness": randomness.Hex()})
}

// InRange handles GET /api/v1/random/requests/{requestID}/range?min=a&max=b
func (s *Service) InRange(w http.ResponseWriter, r *http.Request) {
	min, err1 := strconv.ParseUint(r.URL.Query().Get("min"), 10, 64)
	max, err2 := strconv.ParseUint(r.URL.Query().Get("max"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, "min and max must be numeric", http.StatusBadRequest)
		return
	}

	v, err := s.eng.InRange(common.HexToHash(chi.URLParam(r, "requestID")), min, max)
	if err != nil {
		writeRandomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"value": v})
}

// Bool handles GET /api/v1/random/requests/{requestID}/bool
func (s *Service) Bool(w http.ResponseWriter, r *http.Request) {
	v, err := s.eng.Bool(common.HexToHash(chi.URLParam(r, "requestID")))
	if err != nil {
		writeRandomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"value": v})
}

// Choice handles POST /api/v1/random/requests/{requestID}/choice
func (s *Service) Choice(w http.ResponseWriter, r *http.Request) {
	var req ChoiceBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	idx, err := s.eng.WeightedChoice(common.HexToHash(chi.URLParam(r, "requestID")), req.Weights)
	if err != nil {
		writeRandomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"index": idx})
}

// ConfigBody is the admin body for PUT /admin/random/config.
type ConfigBody struct {
	Caller string      `json:"caller"`
	Config DelayConfig `json:"config"`
}

// FeeBody is the admin body for PUT /admin/random/fee.
type FeeBody struct {
	Caller string          `json:"caller"`
	Fee    decimal.Decimal `json:"fee"`
}

// SetConfig handles PUT /api/v1/admin/random/config
func (s *Service) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.SetDefaultConfig(req.Caller, req.Config); err != nil {
		writeRandomError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetFee handles PUT /api/v1/admin/random/fee
func (s *Service) SetFee(w http.ResponseWriter, r *http.Request) {
	var req FeeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.SetCommitFee(req.Caller, req.Fee); err != nil {
		writeRandomError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// WithdrawFees handles POST /api/v1/admin/random/fees/withdraw
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := s.eng.WithdrawFees(req.Caller, req.To)
	if err != nil {
		writeRandomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"amount": amount.String()})
}

// Cleanup handles POST /api/v1/admin/random/cleanup
func (s *Service) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ids := make([]common.Hash, 0, len(req.IDs))
	for _, id := range req.IDs {
		ids = append(ids, common.HexToHash(id))
	}
	removed := s.eng.Cleanup(ids)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}

func writeRandomError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrInvalidSeed),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrEmptyWeights):
		status = http.StatusBadRequest
	case errors.Is(err, ErrAlreadyFulfilled),
		errors.Is(err, ErrNotReady),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrNotFulfilled):
		status = http.StatusConflict
	case errors.Is(err, ErrInsufficientFee):
		status = http.StatusPaymentRequired
	}
	writeError(w, err.Error(), status)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
