package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Manual serves a price set by hand, for local runs and tests.
// Set prices always read as fresh; SetAt pins the observation time.
type Manual struct {
	feed Feed
	Now  func() time.Time

	mu     sync.RWMutex
	price  decimal.Decimal
	at     time.Time
	pinned bool
	round  int64
}

func NewManual(feed Feed, price decimal.Decimal) *Manual {
	return &Manual{feed: feed, Now: time.Now, price: price, round: 1}
}

func (m *Manual) Set(price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
	m.pinned = false
	m.round++
}

func (m *Manual) SetAt(price decimal.Decimal, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
	m.at = at
	m.pinned = true
	m.round++
}

func (m *Manual) ReadPrice(ctx context.Context, feed Feed, maxAge time.Duration) (Reading, error) {
	now := m.Now()

	m.mu.RLock()
	answer, decimals := mantissa(m.price)
	r := Reading{
		Feed:        m.feed,
		Description: m.feed.Description,
		RoundID:     big.NewInt(m.round),
		Answer:      answer,
		Decimals:    decimals,
		Valid:       true,
		UpdatedAt:   now,
	}
	if m.pinned {
		r.UpdatedAt = m.at
	}
	m.mu.RUnlock()

	if err := Check(r, feed, maxAge, now); err != nil {
		return Reading{}, err
	}
	return r, nil
}
