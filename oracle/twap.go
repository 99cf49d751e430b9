package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

// twapPrecision is the number of decimals kept in an averaged price
const twapPrecision = 18

type sample struct {
	reading Reading
	price   decimal.Decimal
}

// TWAP averages the readings of a source over a trailing window, each sample
// weighted by how long it stayed the latest one.
type TWAP struct {
	source Reader
	feed   Feed
	window time.Duration
	Now    func() time.Time

	mu      sync.RWMutex
	samples []sample
}

func NewTWAP(source Reader, feed Feed, window time.Duration) *TWAP {
	return &TWAP{
		source:  source,
		feed:    feed,
		window:  window,
		Now:     time.Now,
		samples: make([]sample, 0, 64),
	}
}

// Sample reads the source once and records the answer
func (t *TWAP) Sample(ctx context.Context, maxAge time.Duration) error {
	r, err := t.source.ReadPrice(ctx, t.feed, maxAge)
	if err != nil {
		return err
	}
	t.Add(r)
	return nil
}

// Add records a reading. A reading for the round already recorded last is ignored.
func (t *TWAP) Add(r Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.samples); n > 0 {
		last := t.samples[n-1].reading
		if last.RoundID != nil && r.RoundID != nil && last.RoundID.Cmp(r.RoundID) == 0 {
			return
		}
		if r.UpdatedAt.Before(last.UpdatedAt) {
			return
		}
	}
	t.samples = append(t.samples, sample{reading: r, price: r.Price()})
	t.trim(t.Now())
}

// trim keeps the last sample at or before the window start, it weights the head of the window
func (t *TWAP) trim(now time.Time) {
	start := now.Add(-t.window)
	drop := 0
	for drop+1 < len(t.samples) && !t.samples[drop+1].reading.UpdatedAt.After(start) {
		drop++
	}
	if over := len(t.samples) - drop - config.TWAPMaxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		t.samples = append(t.samples[:0], t.samples[drop:]...)
	}
}

// Run samples the source every interval until ctx is done
func (t *TWAP) Run(ctx context.Context, interval, maxAge time.Duration) {
	if err := t.Sample(ctx, maxAge); err != nil {
		log.Warn().Err(err).Str("feed", t.feed.String()).Msg("⚠️ Initial TWAP sample failed, continuing anyway")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Str("feed", t.feed.String()).
		Dur("window", t.window).
		Dur("interval", interval).
		Msg("📈 TWAP sampler started")

	for {
		select {
		case <-ticker.C:
			if err := t.Sample(ctx, maxAge); err != nil {
				log.Debug().Err(err).Msg("TWAP sample failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *TWAP) ReadPrice(ctx context.Context, feed Feed, maxAge time.Duration) (Reading, error) {
	if feed.Address != t.feed.Address {
		return Reading{}, game.Errorf(game.ErrStalePriceFeed, "sampler tracks %s, asked for %s", t.feed.Address.Hex(), feed.Address.Hex())
	}

	now := t.Now()

	t.mu.RLock()
	samples := make([]sample, len(t.samples))
	copy(samples, t.samples)
	t.mu.RUnlock()

	if len(samples) == 0 {
		return Reading{}, game.Errorf(game.ErrStalePriceFeed, "no samples for %s", feed)
	}
	newest := samples[len(samples)-1]
	if age := now.Sub(newest.reading.UpdatedAt); age > maxAge {
		return Reading{}, game.Errorf(game.ErrStalePriceFeed, "newest sample is %s old, max %s", age.Truncate(time.Second), maxAge)
	}

	avg, ok := timeWeightedAverage(samples, now.Add(-t.window), now)
	if !ok {
		avg = newest.price
	}
	avg = avg.Round(twapPrecision)

	r := newest.reading
	r.Answer, r.Decimals = mantissa(avg)
	if err := Check(r, feed, maxAge, now); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// timeWeightedAverage integrates the step function of samples over [start, end]
func timeWeightedAverage(samples []sample, start, end time.Time) (decimal.Decimal, bool) {
	sum := decimal.Zero
	total := decimal.Zero
	for i, s := range samples {
		from := s.reading.UpdatedAt
		if from.Before(start) {
			from = start
		}
		to := end
		if i+1 < len(samples) {
			to = samples[i+1].reading.UpdatedAt
		}
		if !to.After(from) {
			continue
		}
		weight := decimal.NewFromInt(int64(to.Sub(from)))
		sum = sum.Add(s.price.Mul(weight))
		total = total.Add(weight)
	}
	if total.IsZero() {
		return decimal.Zero, false
	}
	return sum.DivRound(total, twapPrecision), true
}

// mantissa splits a decimal into an integer answer and a decimal count
func mantissa(d decimal.Decimal) (*big.Int, int32) {
	if exp := d.Exponent(); exp > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
		return new(big.Int).Mul(d.Coefficient(), scale), 0
	}
	return d.Coefficient(), -d.Exponent()
}
