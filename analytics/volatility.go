package analytics

import (
	"math"
	"time"
)

type pricePoint struct {
	at    time.Time
	price float64
}

// VolPoint is one realized-volatility reading retained for display.
type VolPoint struct {
	At    time.Time
	Value float64
}

// volScale brings log-return standard deviation into a readable range.
const volScale = 100000

// volatilityTracker computes realized volatility as the standard deviation
// of log returns over a trailing time window, and keeps a bounded history of
// readings for inspection.
type volatilityTracker struct {
	window     time.Duration
	maxHistory int

	prices  []pricePoint
	history []VolPoint
}

func newVolatilityTracker(window time.Duration, maxHistory int) *volatilityTracker {
	if maxHistory <= 0 {
		maxHistory = 600
	}
	return &volatilityTracker{window: window, maxHistory: maxHistory}
}

// observe records a mid price and returns the updated realized volatility.
func (v *volatilityTracker) observe(now time.Time, price float64) float64 {
	if price <= 0 {
		return v.current()
	}
	v.prices = append(v.prices, pricePoint{at: now, price: price})

	cutoff := now.Add(-v.window)
	kept := v.prices[:0]
	for _, p := range v.prices {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	v.prices = kept

	value := v.compute()
	v.history = append(v.history, VolPoint{At: now, Value: value})
	if len(v.history) > v.maxHistory {
		v.history = v.history[len(v.history)-v.maxHistory:]
	}
	return value
}

func (v *volatilityTracker) compute() float64 {
	if len(v.prices) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(v.prices)-1)
	for i := 1; i < len(v.prices); i++ {
		prev, cur := v.prices[i-1].price, v.prices[i].price
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * volScale
}

func (v *volatilityTracker) current() float64 {
	if len(v.history) == 0 {
		return 0
	}
	return v.history[len(v.history)-1].Value
}

func (v *volatilityTracker) snapshotHistory() []VolPoint {
	out := make([]VolPoint, len(v.history))
	copy(out, v.history)
	return out
}
