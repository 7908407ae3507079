package oracle

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vexmarkets/yield-engine/internal/metrics"
)

// Service exposes the aggregator over HTTP.
type Service struct {
	agg *Aggregator
}

// NewService creates the HTTP service around an aggregator.
func NewService(agg *Aggregator) *Service {
	return &Service{agg: agg}
}

// UpdateRequest is the JSON body for POST /oracle/{protocol}/rate.
type UpdateRequest struct {
	Provider string `json:"provider"`
	RateBps  int64  `json:"rate_bps"`
}

// RegisterRequest is the JSON body for POST /oracle/protocols.
type RegisterRequest struct {
	Caller   string `json:"caller"`
	Protocol string `json:"protocol"`
	FeedKey  string `json:"feed_key"`
}

// ProviderRequest is the JSON body for provider authorization changes.
type ProviderRequest struct {
	Caller   string `json:"caller"`
	Provider string `json:"provider"`
}

// UpdateRate handles POST /api/v1/oracle/{protocol}/rate
func (s *Service) UpdateRate(w http.ResponseWriter, r *http.Request) {
	protocol := chi.URLParam(r, "protocol")

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.agg.UpdateYieldRate(req.Provider, protocol, req.RateBps); err != nil {
		writeOracleError(w, err)
		return
	}
	metrics.OracleUpdatesTotal.WithLabelValues(protocol).Inc()

	data, err := s.agg.CurrentYieldRate(protocol)
	if err != nil {
		writeOracleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// CurrentRate handles GET /api/v1/oracle/{protocol}/rate
func (s *Service) CurrentRate(w http.ResponseWriter, r *http.Request) {
	data, err := s.agg.CurrentYieldRate(chi.URLParam(r, "protocol"))
	if err != nil {
		writeOracleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// History handles GET /api/v1/oracle/{protocol}/history?from=RFC3339&to=RFC3339
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"), time.Time{})
	if err != nil {
		writeError(w, "from must be RFC3339", http.StatusBadRequest)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"), time.Now().UTC())
	if err != nil {
		writeError(w, "to must be RFC3339", http.StatusBadRequest)
		return
	}

	rates, stamps, err := s.agg.HistoricalYieldRates(chi.URLParam(r, "protocol"), from, to)
	if err != nil {
		writeOracleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"rates_bps":  rates,
		"timestamps": stamps,
	})
}

// Average handles GET /api/v1/oracle/{protocol}/average?lookback=24h
func (s *Service) Average(w http.ResponseWriter, r *http.Request) {
	lookback, err := time.ParseDuration(r.URL.Query().Get("lookback"))
	if err != nil {
		writeError(w, "lookback must be a duration", http.StatusBadRequest)
		return
	}

	avg, count, err := s.agg.AverageYieldRate(chi.URLParam(r, "protocol"), lookback)
	if err != nil {
		writeOracleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"average_bps": avg,
		"count":       count,
	})
}

// RegisterProtocol handles POST /api/v1/admin/oracle/protocols
func (s *Service) RegisterProtocol(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.agg.RegisterProtocol(req.Caller, req.Protocol, req.FeedKey); err != nil {
		writeOracleError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// AuthorizeProvider handles POST /api/v1/admin/oracle/{protocol}/providers
func (s *Service) AuthorizeProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.agg.AuthorizeProvider(req.Caller, chi.URLParam(r, "protocol"), req.Provider); err != nil {
		writeOracleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeProvider handles DELETE /api/v1/admin/oracle/{protocol}/providers
func (s *Service) RevokeProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.agg.RevokeProvider(req.Caller, chi.URLParam(r, "protocol"), req.Provider); err != nil {
		writeOracleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeOracleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownProtocol), errors.Is(err, ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnauthorizedProvider):
		status = http.StatusForbidden
	case errors.Is(err, ErrInvalidProtocolID), errors.Is(err, ErrRateTooHigh), errors.Is(err, ErrRateNegative):
		status = http.StatusBadRequest
	case errors.Is(err, ErrProtocolExists):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
