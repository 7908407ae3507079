package attest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/metrics"
	"github.com/vexmarkets/yield-engine/internal/model"
)

// Service exposes the attestation verifier over HTTP. The roundBook is
// optional; when nil the round publishing endpoint is disabled.
type Service struct {
	verifier  *Verifier
	roundBook *RoundBook
}

// NewService creates the HTTP service around a verifier.
func NewService(verifier *Verifier, roundBook *RoundBook) *Service {
	return &Service{verifier: verifier, roundBook: roundBook}
}

// AttestationRequest is the JSON body for requesting fresh attested data.
type AttestationRequest struct {
	Caller   string          `json:"caller"`
	Fee      decimal.Decimal `json:"fee"`
	Endpoint string          `json:"endpoint,omitempty"`
	Filter   string          `json:"filter,omitempty"`
}

// SubmitRequest carries one attested response plus its Merkle proof against
// a finalized consensus round.
type SubmitRequest struct {
	Round   uint64          `json:"round"`
	Proof   []string        `json:"proof"`
	Payload json.RawMessage `json:"payload"`
}

// PublishRequest is the relayer's round commitment body.
type PublishRequest struct {
	Caller             string `json:"caller"`
	Round              uint64 `json:"round"`
	Root               string `json:"root"`
	Finalized          bool   `json:"finalized"`
	SignatureWeightBps int64  `json:"signature_weight_bps"`
}

// ConfigRequest is the admin body for configuring a protocol's attestation
// source.
type ConfigRequest struct {
	Caller string                  `json:"caller"`
	Config model.AttestationConfig `json:"config"`
}

// PolicyRequest is the admin body for tuning reconciliation.
type PolicyRequest struct {
	Caller string          `json:"caller"`
	Policy ReconcilePolicy `json:"policy"`
}

// RequestAttestation handles POST /api/v1/attest/{protocol}/requests
func (s *Service) RequestAttestation(w http.ResponseWriter, r *http.Request) {
	protocol := chi.URLParam(r, "protocol")

	var req AttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	id, err := s.verifier.RequestAttestation(req.Caller, protocol, req.Fee, req.Endpoint, req.Filter)
	if err != nil {
		writeAttestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"request_id": id})
}

// Pending handles GET /api/v1/attest/{protocol}/requests
func (s *Service) Pending(w http.ResponseWriter, r *http.Request) {
	pending := s.verifier.Pending(chi.URLParam(r, "protocol"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pending)
}

// Verify handles POST /api/v1/attest/verify. Read-only proof check: it
// validates without recording, so callers can pre-flight a submission.
func (s *Service) Verify(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	data, err := s.verifier.VerifyAttestation(req.Round, hashes(req.Proof), req.Payload)
	if err != nil {
		writeAttestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// Submit handles POST /api/v1/attest/{protocol}/submit
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	protocol := chi.URLParam(r, "protocol")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.verifier.SubmitVerifiedYieldData(protocol, req.Round, hashes(req.Proof), req.Payload); err != nil {
		writeAttestError(w, err)
		return
	}
	metrics.AttestationsTotal.WithLabelValues(protocol).Inc()

	data, err := s.verifier.CurrentYieldRate(protocol)
	if err != nil {
		writeAttestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(data)
}

// CurrentRate handles GET /api/v1/attest/{protocol}/rate. Returns the
// reconciled view over attested and native data.
func (s *Service) CurrentRate(w http.ResponseWriter, r *http.Request) {
	data, err := s.verifier.CurrentYieldRate(chi.URLParam(r, "protocol"))
	if err != nil {
		writeAttestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// PublishRound handles POST /api/v1/admin/attest/rounds
func (s *Service) PublishRound(w http.ResponseWriter, r *http.Request) {
	if s.roundBook == nil {
		writeError(w, "round publishing not enabled", http.StatusNotFound)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c := Commitment{
		Root:               common.HexToHash(req.Root),
		Finalized:          req.Finalized,
		SignatureWeightBps: req.SignatureWeightBps,
	}
	if err := s.roundBook.Publish(req.Caller, req.Round, c); err != nil {
		writeAttestError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetConfig handles PUT /api/v1/admin/attest/configs
func (s *Service) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.verifier.SetConfig(req.Caller, req.Config); err != nil {
		writeAttestError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetPolicy handles PUT /api/v1/admin/attest/policy
func (s *Service) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.verifier.SetPolicy(req.Caller, req.Policy); err != nil {
		writeAttestError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// WithdrawFees handles POST /api/v1/admin/attest/fees/withdraw
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := s.verifier.WithdrawFees(req.Caller, req.To)
	if err != nil {
		writeAttestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"amount": amount.String()})
}

func hashes(proof []string) []common.Hash {
	out := make([]common.Hash, 0, len(proof))
	for _, p := range proof {
		out = append(out, common.HexToHash(p))
	}
	return out
}

func writeAttestError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrRoundNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRoundBookUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ErrBadPayload),
		errors.Is(err, ErrRateTooHigh),
		errors.Is(err, ErrProtocolMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, ErrRoundNotFinalized),
		errors.Is(err, ErrInsufficientConsensus),
		errors.Is(err, ErrInvalidProof),
		errors.Is(err, ErrDataTooOld),
		errors.Is(err, ErrUnsupportedProtocol),
		errors.Is(err, ErrConfigInactive):
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
