package attest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/asset"
	"github.com/vexmarkets/yield-engine/internal/history"
	"github.com/vexmarkets/yield-engine/internal/model"
)

var (
	ErrUnsupportedProtocol   = errors.New("attest: protocol has no attestation config")
	ErrConfigInactive        = errors.New("attest: attestation config inactive")
	ErrInsufficientFee       = errors.New("attest: fee below request fee")
	ErrRoundNotFound         = errors.New("attest: consensus round not found")
	ErrRoundNotFinalized     = errors.New("attest: consensus round not finalized")
	ErrInsufficientConsensus = errors.New("attest: signature weight below minimum threshold")
	ErrInvalidProof          = errors.New("attest: merkle proof does not match round root")
	ErrBadPayload            = errors.New("attest: malformed attestation payload")
	ErrRateTooHigh           = errors.New("attest: rate above 50000 bps ceiling")
	ErrDataTooOld            = errors.New("attest: attested data older than 24h")
	ErrProtocolMismatch      = errors.New("attest: payload protocol does not match submission")
	ErrUnauthorized          = errors.New("attest: owner only")
)

// minSignatureWeightBps is the consensus floor: a round backed by 50% or
// less of the signature weight proves nothing.
const minSignatureWeightBps = int64(5000)

// maxDataAge is how old attested data may be and still count.
const maxDataAge = 24 * time.Hour

// Payload is the yield record embedded in a raw attested response.
type Payload struct {
	Protocol  string `json:"protocol"`
	RateBps   int64  `json:"rate_bps"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// PendingRequest is one queued attestation request for a protocol.
// Requests are resolved FIFO as verified data arrives.
type PendingRequest struct {
	ID        string    `json:"id"` // uuid
	Requester string    `json:"requester"`
	Protocol  string    `json:"protocol"`
	Endpoint  string    `json:"endpoint"`
	Filter    string    `json:"filter"`
	CreatedAt time.Time `json:"created_at"`
}

// NativeSource is the native oracle side of reconciliation.
type NativeSource interface {
	CurrentYieldRate(protocol string) (model.YieldData, error)
}

// ReconcilePolicy tunes the layered fallback between attested and native
// values. The weighted-average leg is a heuristic carried over for
// compatibility, not a correctness guarantee; treat it as policy.
type ReconcilePolicy struct {
	ConsensusThresholdBps int64         // confidence bar for either source to win outright
	MaxAttestedAge        time.Duration // attested freshness bar
	MaxNativeAge          time.Duration // native freshness bar
}

// DefaultReconcilePolicy mirrors the deployed defaults: 70% bar, 24h
// attested window, 1h native window.
func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		ConsensusThresholdBps: 7000,
		MaxAttestedAge:        24 * time.Hour,
		MaxNativeAge:          time.Hour,
	}
}

type attestedState struct {
	current model.YieldData
	series  *history.Series
}

// Verifier validates externally-attested yield data against published
// consensus commitments and reconciles it with the native oracle.
type Verifier struct {
	mu         sync.Mutex
	owner      string
	account    string // fee custody account
	token      asset.Asset
	rounds     RoundSource
	native     NativeSource
	policy     ReconcilePolicy
	requestFee decimal.Decimal
	configs    map[string]*model.AttestationConfig
	pending    map[string][]PendingRequest
	attested   map[string]*attestedState
	feePool    decimal.Decimal
	historyCap int
	now        func() time.Time
}

// NewVerifier creates a verifier. native may be nil when no native oracle
// is wired; reconciliation then only ever sees the attested side.
func NewVerifier(owner, account string, token asset.Asset, rounds RoundSource, native NativeSource, requestFee decimal.Decimal) *Verifier {
	return &Verifier{
		owner:      owner,
		account:    account,
		token:      token,
		rounds:     rounds,
		native:     native,
		policy:     DefaultReconcilePolicy(),
		requestFee: requestFee,
		configs:    make(map[string]*model.AttestationConfig),
		pending:    make(map[string][]PendingRequest),
		attested:   make(map[string]*attestedState),
		historyCap: 1000,
		now:        time.Now,
	}
}

// SetClock overrides the verifier clock. Test hook.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// SetPolicy replaces the reconciliation policy. Owner only.
func (v *Verifier) SetPolicy(caller string, p ReconcilePolicy) error {
	if caller != v.owner {
		return ErrUnauthorized
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.policy = p
	return nil
}

// SetConfig installs or replaces a protocol's attestation config. Owner only.
func (v *Verifier) SetConfig(caller string, cfg model.AttestationConfig) error {
	if caller != v.owner {
		return ErrUnauthorized
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	stored := cfg
	v.configs[cfg.Protocol] = &stored
	slog.Info("attestation config set", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint, "active", cfg.Active)
	return nil
}

// RequestAttestation queues an off-chain attestation fetch for a protocol.
// Fee-gated; overrides replace the configured endpoint/filter for this
// request only.
func (v *Verifier) RequestAttestation(caller, protocol string, fee decimal.Decimal, endpointOverride, filterOverride string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cfg, ok := v.configs[protocol]
	if !ok {
		return "", ErrUnsupportedProtocol
	}
	if !cfg.Active {
		return "", ErrConfigInactive
	}
	if fee.LessThan(v.requestFee) {
		return "", ErrInsufficientFee
	}
	if err := v.token.TransferFrom(v.account, caller, v.account, fee); err != nil {
		return "", err
	}
	v.feePool = v.feePool.Add(fee)

	req := PendingRequest{
		ID:        uuid.New().String(),
		Requester: caller,
		Protocol:  protocol,
		Endpoint:  cfg.Endpoint,
		Filter:    cfg.Filter,
		CreatedAt: v.now().UTC(),
	}
	if endpointOverride != "" {
		req.Endpoint = endpointOverride
	}
	if filterOverride != "" {
		req.Filter = filterOverride
	}
	v.pending[protocol] = append(v.pending[protocol], req)

	slog.Info("attestation requested", "protocol", protocol, "request_id", req.ID, "requester", caller)
	return req.ID, nil
}

// Pending returns the queued requests for a protocol, oldest first.
func (v *Verifier) Pending(protocol string) []PendingRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PendingRequest, len(v.pending[protocol]))
	copy(out, v.pending[protocol])
	return out
}

// VerifyAttestation checks that a raw response was included in a
// finalized, sufficiently-signed round and decodes its yield payload.
// View: no state change.
func (v *Verifier) VerifyAttestation(round uint64, proof []common.Hash, raw []byte) (model.YieldData, error) {
	c, ok := v.rounds.Round(round)
	if !ok {
		return model.YieldData{}, ErrRoundNotFound
	}
	if !c.Finalized {
		return model.YieldData{}, ErrRoundNotFinalized
	}
	if c.SignatureWeightBps <= minSignatureWeightBps {
		return model.YieldData{}, fmt.Errorf("%w: %d bps", ErrInsufficientConsensus, c.SignatureWeightBps)
	}
	if !VerifyProof(LeafHash(raw), proof, c.Root) {
		return model.YieldData{}, ErrInvalidProof
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil || p.Protocol == "" {
		return model.YieldData{}, ErrBadPayload
	}
	if p.RateBps < 0 || p.RateBps > model.MaxYieldRateBps {
		return model.YieldData{}, ErrRateTooHigh
	}
	ts := time.Unix(p.Timestamp, 0).UTC()
	if v.now().UTC().Sub(ts) > maxDataAge {
		return model.YieldData{}, ErrDataTooOld
	}

	return model.YieldData{
		RateBps:       p.RateBps,
		Timestamp:     ts,
		ConfidenceBps: c.SignatureWeightBps,
		Source:        "attested",
	}, nil
}

// SubmitVerifiedYieldData re-runs verification and stores the result as
// the protocol's current attested value. Confidence is the signature
// weight decayed by data age. The earliest matching pending request is
// resolved FIFO.
func (v *Verifier) SubmitVerifiedYieldData(protocol string, round uint64, proof []common.Hash, raw []byte) error {
	data, err := v.VerifyAttestation(round, proof, raw)
	if err != nil {
		return err
	}

	var p Payload
	_ = json.Unmarshal(raw, &p) // already validated by VerifyAttestation
	if p.Protocol != protocol {
		return ErrProtocolMismatch
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now().UTC()
	data.ConfidenceBps = decayConfidence(data.ConfidenceBps, now.Sub(data.Timestamp))

	st, ok := v.attested[protocol]
	if !ok {
		st = &attestedState{series: history.NewSeries(v.historyCap, history.DefaultEvictFraction)}
		v.attested[protocol] = st
	}
	st.current = data
	st.series.Append(data)

	if cfg, ok := v.configs[protocol]; ok {
		cfg.LastUpdate = now
	}
	if queue := v.pending[protocol]; len(queue) > 0 {
		v.pending[protocol] = queue[1:]
	}

	slog.Info("attested yield stored",
		"protocol", protocol,
		"rate_bps", data.RateBps,
		"confidence_bps", data.ConfidenceBps,
		"round", round,
	)
	return nil
}

// decayConfidence reduces the signature-weight confidence by data age:
// >1h → 90%, >2h → 80%, >24h → 25%.
func decayConfidence(weightBps int64, age time.Duration) int64 {
	switch {
	case age > 24*time.Hour:
		return weightBps * 25 / 100
	case age > 2*time.Hour:
		return weightBps * 80 / 100
	case age > time.Hour:
		return weightBps * 90 / 100
	default:
		return weightBps
	}
}

// CurrentYieldRate reconciles the attested and native values for a
// protocol. The ladder is deterministic and total: it always returns a
// value, possibly with zero confidence.
func (v *Verifier) CurrentYieldRate(protocol string) (model.YieldData, error) {
	v.mu.Lock()
	var attested model.YieldData
	if st, ok := v.attested[protocol]; ok {
		attested = st.current
	}
	policy := v.policy
	now := v.now().UTC()
	v.mu.Unlock()

	var native model.YieldData
	if v.native != nil {
		if n, err := v.native.CurrentYieldRate(protocol); err == nil {
			native = n
		}
	}

	attestedFresh := !attested.Zero() && now.Sub(attested.Timestamp) <= policy.MaxAttestedAge
	nativeFresh := !native.Zero() && now.Sub(native.Timestamp) <= policy.MaxNativeAge

	if attestedFresh && attested.ConfidenceBps >= policy.ConsensusThresholdBps {
		return attested, nil
	}
	if nativeFresh && native.ConfidenceBps >= policy.ConsensusThresholdBps {
		return native, nil
	}

	if attested.RateBps != 0 && native.RateBps != 0 {
		return weightedAverage(attested, native), nil
	}

	// Whichever source is more recent, zero value if neither reported.
	if native.Timestamp.After(attested.Timestamp) {
		return native, nil
	}
	return attested, nil
}

// weightedAverage blends two observations by confidence. Integer floor
// throughout.
func weightedAverage(a, b model.YieldData) model.YieldData {
	totalConf := a.ConfidenceBps + b.ConfidenceBps
	if totalConf == 0 {
		// Equal weights when neither side carries confidence.
		a.ConfidenceBps, b.ConfidenceBps, totalConf = 1, 1, 2
	}
	rate := (a.RateBps*a.ConfidenceBps + b.RateBps*b.ConfidenceBps) / totalConf

	ts := a.Timestamp
	if b.Timestamp.After(ts) {
		ts = b.Timestamp
	}
	return model.YieldData{
		RateBps:       rate,
		Timestamp:     ts,
		ConfidenceBps: totalConf / 2,
		Source:        "reconciled",
	}
}

// WithdrawFees moves accumulated request fees to the recipient. Owner only.
func (v *Verifier) WithdrawFees(caller, to string) (decimal.Decimal, error) {
	if caller != v.owner {
		return decimal.Zero, ErrUnauthorized
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	amount := v.feePool
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	if err := v.token.Transfer(v.account, to, amount); err != nil {
		return decimal.Zero, err
	}
	v.feePool = decimal.Zero
	return amount, nil
}
