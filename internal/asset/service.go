package asset

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Service exposes the token ledger over HTTP. Mint and redeem operate on
// the collateral reserve; approve and balance back the market flows.
type Service struct {
	token *LedgerToken
}

// NewService creates the HTTP service around a ledger token.
func NewService(token *LedgerToken) *Service {
	return &Service{token: token}
}

// MintRequest is the JSON body for POST /token/mint.
type MintRequest struct {
	To         string          `json:"to"`
	Collateral decimal.Decimal `json:"collateral"`
}

// RedeemRequest is the JSON body for POST /token/redeem.
type RedeemRequest struct {
	From   string          `json:"from"`
	Amount decimal.Decimal `json:"amount"`
}

// ApproveRequest is the JSON body for POST /token/approve.
type ApproveRequest struct {
	Owner   string          `json:"owner"`
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}

// Mint handles POST /api/v1/token/mint
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		writeError(w, "to is required", http.StatusBadRequest)
		return
	}

	minted, err := s.token.Mint(req.To, req.Collateral)
	if err != nil {
		writeAssetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"minted": minted.String()})
}

// Redeem handles POST /api/v1/token/redeem
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	released, err := s.token.Redeem(req.From, req.Amount)
	if err != nil {
		writeAssetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"released": released.String()})
}

// Approve handles POST /api/v1/token/approve
func (s *Service) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.Spender == "" {
		writeError(w, "owner and spender are required", http.StatusBadRequest)
		return
	}

	if err := s.token.Approve(req.Owner, req.Spender, req.Amount); err != nil {
		writeAssetError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Balance handles GET /api/v1/token/balances/{account}
func (s *Service) Balance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"account": account,
		"balance": s.token.BalanceOf(account).String(),
	})
}

func writeAssetError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrBelowMinimumMint):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientAllowance),
		errors.Is(err, ErrInsufficientCollateral):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
