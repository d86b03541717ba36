package analytics

import (
	"time"
)

type ratioSample struct {
	at       time.Time
	bidRatio float64
	askRatio float64
}

// imbalanceDetector watches a short sliding window of book volume ratios.
// When every sample in a full window agrees on one dominant side it fires
// once and clears the window, so a persistent imbalance produces one signal
// per window rather than a storm.
type imbalanceDetector struct {
	window    time.Duration
	threshold float64
	debounce  time.Duration

	samples    []ratioSample
	lastSignal time.Time
}

const imbalanceMinSamples = 3

func newImbalanceDetector(window time.Duration, threshold float64, debounce time.Duration) *imbalanceDetector {
	return &imbalanceDetector{window: window, threshold: threshold, debounce: debounce}
}

// observe appends one sample and reports whether an imbalance fired, with
// the dominant side (true for bids) and the window-mean ratio.
func (d *imbalanceDetector) observe(now time.Time, bidRatio, askRatio float64) (fired bool, bullish bool, mean float64) {
	d.samples = append(d.samples, ratioSample{at: now, bidRatio: bidRatio, askRatio: askRatio})

	// Evict samples that fell out of the window.
	cutoff := now.Add(-d.window)
	kept := d.samples[:0]
	for _, s := range d.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	d.samples = kept

	if len(d.samples) < imbalanceMinSamples {
		return false, false, 0
	}
	if !d.lastSignal.IsZero() && now.Sub(d.lastSignal) < d.debounce {
		return false, false, 0
	}

	allBid, allAsk := true, true
	var bidSum, askSum float64
	for _, s := range d.samples {
		if s.bidRatio < d.threshold {
			allBid = false
		}
		if s.askRatio < d.threshold {
			allAsk = false
		}
		bidSum += s.bidRatio
		askSum += s.askRatio
	}

	switch {
	case allBid:
		mean = bidSum / float64(len(d.samples))
		bullish = true
	case allAsk:
		mean = askSum / float64(len(d.samples))
		bullish = false
	default:
		return false, false, 0
	}

	d.samples = d.samples[:0]
	d.lastSignal = now
	return true, bullish, mean
}
