// Package pricefeed defines the external reference price/yield feed the
// aggregator correlates against. Feed values provide context only; they
// are never settlement authority by themselves.
package pricefeed

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownID is returned for a feed id with no published value.
var ErrUnknownID = errors.New("pricefeed: unknown feed id")

// Point is one published reference value.
type Point struct {
	Value    decimal.Decimal `json:"value"`
	Decimals int32           `json:"decimals"`
}

// Feed is the batched point-in-time reference query capability.
type Feed interface {
	// GetValues returns the current values for the requested ids, their
	// decimal scales, and the publication time of the batch. Missing ids
	// fail the whole batch.
	GetValues(ids []string) (values []decimal.Decimal, decimals []int32, asOf time.Time, err error)
}

// StaticFeed is an in-memory Feed fed by admin setters. Used for tests and
// deployments where reference prices arrive over the admin surface.
type StaticFeed struct {
	mu     sync.RWMutex
	points map[string]Point
	asOf   time.Time
}

// NewStaticFeed creates an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{points: make(map[string]Point)}
}

// Set publishes a value for an id, stamping the batch time.
func (f *StaticFeed) Set(id string, value decimal.Decimal, decimals int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = Point{Value: value, Decimals: decimals}
	f.asOf = time.Now().UTC()
}

func (f *StaticFeed) GetValues(ids []string) ([]decimal.Decimal, []int32, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	values := make([]decimal.Decimal, 0, len(ids))
	decimals := make([]int32, 0, len(ids))
	for _, id := range ids {
		p, ok := f.points[id]
		if !ok {
			return nil, nil, time.Time{}, ErrUnknownID
		}
		values = append(values, p.Value)
		decimals = append(decimals, p.Decimals)
	}
	return values, decimals, f.asOf, nil
}
