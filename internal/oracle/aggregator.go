// Package oracle maintains the authoritative, confidence-scored current
// yield rate per protocol, fed by authorized providers and correlated
// against an independent reference price feed for plausibility context.
package oracle

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vexmarkets/yield-engine/internal/history"
	"github.com/vexmarkets/yield-engine/internal/model"
	"github.com/vexmarkets/yield-engine/internal/pricefeed"
)

var (
	ErrInvalidProtocolID    = errors.New("oracle: invalid protocol identifier")
	ErrProtocolExists       = errors.New("oracle: protocol already registered")
	ErrUnknownProtocol      = errors.New("oracle: protocol not registered")
	ErrRateTooHigh          = errors.New("oracle: rate above 50000 bps ceiling")
	ErrRateNegative         = errors.New("oracle: rate must be non-negative")
	ErrUnauthorizedProvider = errors.New("oracle: caller is not an authorized provider")
	ErrUnauthorized         = errors.New("oracle: owner only")
	ErrNoData               = errors.New("oracle: no yield data for protocol")
)

// protocolIDRegex matches protocol identifiers: lowercase alphanumeric
// with hyphens, e.g. "aave-v3" or "compound".
var protocolIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,30}$`)

// ValidateProtocolID checks a protocol identifier against the accepted
// format.
func ValidateProtocolID(id string) error {
	if !protocolIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q (expected lowercase alphanumeric/hyphen, 2-31 chars)", ErrInvalidProtocolID, id)
	}
	return nil
}

// Confidence scoring constants, in basis points of confidence.
const (
	baseConfidenceBps  = int64(8000)
	largeChangeBps     = int64(2000) // >20% relative rate change halves confidence
	moderateChangeBps  = int64(1000) // >10% reduces to 80%
	stalenessThreshold = 5 * time.Minute
	staleUpdateAge     = time.Hour
	freshUpdateAge     = 5 * time.Minute
)

type protocolState struct {
	feedKey   string
	providers map[string]bool
	current   model.YieldData
	series    *history.Series
	lastRef   decimal.Decimal
	plausible bool
}

// Aggregator holds per-protocol yield state. A mutex serializes all
// mutations; reads return copies.
type Aggregator struct {
	mu         sync.Mutex
	owner      string
	feed       pricefeed.Feed // optional
	correlator *pricefeed.Correlator
	protocols  map[string]*protocolState
	historyCap int
	now        func() time.Time
}

// NewAggregator creates an aggregator. feed may be nil when no reference
// correlation is available.
func NewAggregator(owner string, feed pricefeed.Feed, historyCap int) *Aggregator {
	if historyCap < 1 {
		historyCap = 1000
	}
	return &Aggregator{
		owner:      owner,
		feed:       feed,
		correlator: pricefeed.NewCorrelator(decimal.NewFromInt(10), 500),
		protocols:  make(map[string]*protocolState),
		historyCap: historyCap,
		now:        time.Now,
	}
}

// SetClock overrides the aggregator clock. Test hook.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// RegisterProtocol registers a protocol with its reference feed
// correlation key. Owner only.
func (a *Aggregator) RegisterProtocol(caller, protocol, feedKey string) error {
	if caller != a.owner {
		return ErrUnauthorized
	}
	if err := ValidateProtocolID(protocol); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.protocols[protocol]; ok {
		return ErrProtocolExists
	}
	a.protocols[protocol] = &protocolState{
		feedKey:   feedKey,
		providers: make(map[string]bool),
		series:    history.NewSeries(a.historyCap, history.DefaultEvictFraction),
		plausible: true,
	}
	slog.Info("protocol registered", "protocol", protocol, "feed_key", feedKey)
	return nil
}

// AuthorizeProvider grants a provider update rights on a protocol. Owner only.
func (a *Aggregator) AuthorizeProvider(caller, protocol, provider string) error {
	if caller != a.owner {
		return ErrUnauthorized
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return ErrUnknownProtocol
	}
	st.providers[provider] = true
	return nil
}

// RevokeProvider removes a provider's update rights. Owner only.
func (a *Aggregator) RevokeProvider(caller, protocol, provider string) error {
	if caller != a.owner {
		return ErrUnauthorized
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return ErrUnknownProtocol
	}
	delete(st.providers, provider)
	return nil
}

// UpdateYieldRate stores a new rate from an authorized provider (or the
// owner) and recomputes the confidence score from change magnitude and
// update recency.
func (a *Aggregator) UpdateYieldRate(caller, protocol string, rateBps int64) error {
	if rateBps < 0 {
		return ErrRateNegative
	}
	if rateBps > model.MaxYieldRateBps {
		return ErrRateTooHigh
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return ErrUnknownProtocol
	}
	if caller != a.owner && !st.providers[caller] {
		return ErrUnauthorizedProvider
	}

	now := a.now().UTC()
	confidence := a.scoreConfidence(st, rateBps, now)

	// Reference correlation context. Never blocks the update; an
	// implausible move is recorded and reflected in the view.
	if a.feed != nil && st.feedKey != "" {
		if values, _, _, err := a.feed.GetValues([]string{st.feedKey}); err == nil && len(values) == 1 {
			plausible := a.correlator.Plausible(st.current.RateBps, rateBps, st.lastRef, values[0])
			if !plausible {
				slog.Warn("yield move implausible vs reference",
					"protocol", protocol, "rate_bps", rateBps, "prev_bps", st.current.RateBps)
			}
			st.plausible = plausible
			st.lastRef = values[0]
		}
	}

	st.current = model.YieldData{
		RateBps:       rateBps,
		Timestamp:     now,
		ConfidenceBps: confidence,
		Source:        caller,
	}
	st.series.Append(st.current)

	slog.Info("yield rate updated",
		"protocol", protocol,
		"rate_bps", rateBps,
		"confidence_bps", confidence,
		"provider", caller,
	)
	return nil
}

// scoreConfidence applies the change-magnitude and recency adjustments.
// Caller holds the lock.
func (a *Aggregator) scoreConfidence(st *protocolState, rateBps int64, now time.Time) int64 {
	confidence := baseConfidenceBps

	if !st.current.Zero() && st.current.RateBps > 0 {
		diff := rateBps - st.current.RateBps
		if diff < 0 {
			diff = -diff
		}
		changeBps := diff * model.BpsDenominator / st.current.RateBps
		switch {
		case changeBps > largeChangeBps:
			confidence /= 2
		case changeBps > moderateChangeBps:
			confidence = confidence * 80 / 100
		}
	}

	if !st.current.Timestamp.IsZero() {
		age := now.Sub(st.current.Timestamp)
		switch {
		case age > staleUpdateAge:
			confidence = confidence * 90 / 100
		case age < freshUpdateAge:
			confidence = confidence * 110 / 100
			if confidence > model.MaxConfidenceBps {
				confidence = model.MaxConfidenceBps
			}
		}
	}
	return confidence
}

// CurrentYieldRate returns the stored value for a protocol. A value older
// than the staleness threshold has its reported confidence halved; stored
// state is untouched.
func (a *Aggregator) CurrentYieldRate(protocol string) (model.YieldData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return model.YieldData{}, ErrUnknownProtocol
	}
	if st.current.Zero() {
		return model.YieldData{}, ErrNoData
	}

	out := st.current
	if a.now().UTC().Sub(out.Timestamp) > stalenessThreshold {
		out.ConfidenceBps /= 2
	}
	return out, nil
}

// HistoricalYieldRates returns the stored history in the closed interval
// [from, to], preserving insertion order.
func (a *Aggregator) HistoricalYieldRates(protocol string, from, to time.Time) ([]int64, []time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return nil, nil, ErrUnknownProtocol
	}

	points := st.series.Range(from, to)
	rates := make([]int64, 0, len(points))
	stamps := make([]time.Time, 0, len(points))
	for _, p := range points {
		rates = append(rates, p.RateBps)
		stamps = append(stamps, p.Timestamp)
	}
	return rates, stamps, nil
}

// AverageYieldRate returns the floor mean over history points within the
// lookback window, and the point count. Zero points gives a zero average.
func (a *Aggregator) AverageYieldRate(protocol string, lookback time.Duration) (int64, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return 0, 0, ErrUnknownProtocol
	}
	avg, count := st.series.Average(a.now().UTC().Add(-lookback))
	return avg, count, nil
}

// ReferenceContext returns the last correlated reference value and whether
// the most recent update looked plausible against it.
func (a *Aggregator) ReferenceContext(protocol string) (ref decimal.Decimal, plausible bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		return decimal.Zero, false, ErrUnknownProtocol
	}
	return st.lastRef, st.plausible, nil
}

// Registered reports whether a protocol has been registered.
func (a *Aggregator) Registered(protocol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.protocols[protocol]
	return ok
}
