package analytics

import (
	"math"
	"time"

	"tapeflow/models"
)

type tradeObs struct {
	at    time.Time
	price float64
	qty   float64
	side  models.Side
}

// momentumTracker keeps the N most recent tape prints and derives a z-scored
// volume-weighted momentum. The sign gives the trend direction; magnitude
// past the caller's threshold marks tradeable strength.
type momentumTracker struct {
	maxObs int
	obs    []tradeObs
}

func newMomentumTracker(maxObs int) *momentumTracker {
	if maxObs <= 1 {
		maxObs = 100
	}
	return &momentumTracker{maxObs: maxObs}
}

func (m *momentumTracker) observe(now time.Time, price, qty float64, side models.Side) {
	m.obs = append(m.obs, tradeObs{at: now, price: price, qty: qty, side: side})
	if len(m.obs) > m.maxObs {
		m.obs = m.obs[len(m.obs)-m.maxObs:]
	}
}

// value returns the current z-scored momentum. Signed returns between
// consecutive observations are weighted by traded volume, then the latest
// weighted return is scored against the window's distribution.
func (m *momentumTracker) value() float64 {
	if len(m.obs) < 3 {
		return 0
	}

	weighted := make([]float64, 0, len(m.obs)-1)
	for i := 1; i < len(m.obs); i++ {
		prev, cur := m.obs[i-1], m.obs[i]
		if prev.price <= 0 || cur.price <= 0 {
			continue
		}
		r := (cur.price - prev.price) / prev.price
		weighted = append(weighted, r*cur.qty)
	}
	if len(weighted) < 2 {
		return 0
	}

	var sum float64
	for _, w := range weighted {
		sum += w
	}
	mean := sum / float64(len(weighted))

	var variance float64
	for _, w := range weighted {
		d := w - mean
		variance += d * d
	}
	variance /= float64(len(weighted))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	latest := weighted[len(weighted)-1]
	return (latest - mean) / std
}
