// Package analytics derives streaming trading signals (order imbalance,
// volume-weighted momentum, realized volatility) from order-flow snapshots.
// Like the order-flow engine it is single-goroutine state: only the
// processing goroutine may call Observe.
package analytics

import (
	"time"

	"github.com/google/uuid"

	"tapeflow/logger"
	"tapeflow/models"
)

// Config holds detector windows and thresholds.
type Config struct {
	ImbalanceWindow    time.Duration
	ImbalanceThreshold float64
	SignalDebounce     time.Duration

	MomentumObs       int
	MomentumThreshold float64

	VolatilityWindow  time.Duration
	VolatilityHistory int
}

func (c Config) withDefaults() Config {
	if c.ImbalanceWindow <= 0 {
		c.ImbalanceWindow = 500 * time.Millisecond
	}
	if c.ImbalanceThreshold <= 0 {
		c.ImbalanceThreshold = 0.75
	}
	if c.SignalDebounce <= 0 {
		c.SignalDebounce = 500 * time.Millisecond
	}
	if c.MomentumObs <= 0 {
		c.MomentumObs = 100
	}
	if c.MomentumThreshold <= 0 {
		c.MomentumThreshold = 2.0
	}
	if c.VolatilityWindow <= 0 {
		c.VolatilityWindow = 10 * time.Second
	}
	if c.VolatilityHistory <= 0 {
		c.VolatilityHistory = 600
	}
	return c
}

// Snapshot is the market state the engine consumes each observation.
type Snapshot struct {
	Mid      float64
	BidRatio float64
	AskRatio float64

	LastTradePrice float64
	LastTradeQty   float64
	LastTradeSide  models.Side
	LastTradeAt    time.Time
}

// SignalSink receives signal events for re-injection into the pipeline.
type SignalSink func(models.Event)

// Engine runs all detectors for one exchange/symbol pair.
type Engine struct {
	cfg      Config
	exchange string
	symbol   string
	sink     SignalSink

	imbalance *imbalanceDetector
	momentum  *momentumTracker
	vol       *volatilityTracker

	lastTradeSeen  time.Time
	lastMomentumAt time.Time

	// tick counting for the price-speed gauge
	tickTimes []time.Time

	imbalanceHistory []models.Signal

	log *logger.Entry
}

const (
	speedWindow         = 5 * time.Second
	maxImbalanceHistory = 100
)

// NewEngine builds the detectors for one exchange/symbol pair. sink may be
// nil when no re-injection is wanted.
func NewEngine(exchange, symbol string, cfg Config, sink SignalSink) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		exchange:  exchange,
		symbol:    symbol,
		sink:      sink,
		imbalance: newImbalanceDetector(cfg.ImbalanceWindow, cfg.ImbalanceThreshold, cfg.SignalDebounce),
		momentum:  newMomentumTracker(cfg.MomentumObs),
		vol:       newVolatilityTracker(cfg.VolatilityWindow, cfg.VolatilityHistory),
		log:       logger.GetLogger().WithComponent("analytics"),
	}
}

// Observe folds one market snapshot into every detector and emits any signal
// that fires through the sink.
func (e *Engine) Observe(now time.Time, snap Snapshot) {
	if snap.BidRatio > 0 || snap.AskRatio > 0 {
		if fired, bullish, mean := e.imbalance.observe(now, snap.BidRatio, snap.AskRatio); fired {
			dir := models.DirectionBear
			if bullish {
				dir = models.DirectionBull
			}
			e.emit(models.Signal{
				ID:        uuid.NewString(),
				Kind:      models.SignalImbalance,
				Direction: dir,
				Ratio:     mean,
				Window:    e.cfg.ImbalanceWindow,
				At:        now,
			})
		}
	}

	// A new tape print feeds momentum and the speed gauge once.
	if !snap.LastTradeAt.IsZero() && snap.LastTradeAt.After(e.lastTradeSeen) {
		e.lastTradeSeen = snap.LastTradeAt
		e.momentum.observe(snap.LastTradeAt, snap.LastTradePrice, snap.LastTradeQty, snap.LastTradeSide)
		e.recordTick(snap.LastTradeAt)
		e.checkMomentum(now)
	}

	if snap.Mid > 0 {
		e.vol.observe(now, snap.Mid)
	}
}

func (e *Engine) checkMomentum(now time.Time) {
	z := e.momentum.value()
	if z < e.cfg.MomentumThreshold && z > -e.cfg.MomentumThreshold {
		return
	}
	if !e.lastMomentumAt.IsZero() && now.Sub(e.lastMomentumAt) < e.cfg.SignalDebounce {
		return
	}
	e.lastMomentumAt = now

	dir := models.DirectionBull
	if z < 0 {
		dir = models.DirectionBear
	}
	e.emit(models.Signal{
		ID:        uuid.NewString(),
		Kind:      models.SignalMomentum,
		Direction: dir,
		Ratio:     z,
		Window:    e.cfg.VolatilityWindow,
		At:        now,
	})
}

func (e *Engine) emit(sig models.Signal) {
	if sig.Kind == models.SignalImbalance {
		e.imbalanceHistory = append(e.imbalanceHistory, sig)
		if len(e.imbalanceHistory) > maxImbalanceHistory {
			e.imbalanceHistory = e.imbalanceHistory[len(e.imbalanceHistory)-maxImbalanceHistory:]
		}
	}

	e.log.WithFields(logger.Fields{
		"kind":      sig.Kind.String(),
		"direction": sig.Direction.String(),
		"ratio":     sig.Ratio,
		"symbol":    e.symbol,
	}).Debug("signal")
	logger.IncrementSignalsEmitted()

	if e.sink != nil {
		e.sink(models.NewSignalEvent(e.exchange, e.symbol, &sig))
	}
}

func (e *Engine) recordTick(at time.Time) {
	e.tickTimes = append(e.tickTimes, at)
	cutoff := at.Add(-speedWindow)
	kept := e.tickTimes[:0]
	for _, t := range e.tickTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.tickTimes = kept
}

// Momentum returns the current z-scored volume-weighted momentum.
func (e *Engine) Momentum() float64 {
	return e.momentum.value()
}

// RealizedVolatility returns the latest realized-volatility reading.
func (e *Engine) RealizedVolatility() float64 {
	return e.vol.current()
}

// VolatilityHistory returns a copy of the retained volatility readings.
func (e *Engine) VolatilityHistory() []VolPoint {
	return e.vol.snapshotHistory()
}

// ImbalanceHistory returns a copy of recently emitted imbalance signals.
func (e *Engine) ImbalanceHistory() []models.Signal {
	out := make([]models.Signal, len(e.imbalanceHistory))
	copy(out, e.imbalanceHistory)
	return out
}

// PriceSpeed returns trade ticks per second averaged over the speed window.
func (e *Engine) PriceSpeed() float64 {
	if len(e.tickTimes) == 0 {
		return 0
	}
	return float64(len(e.tickTimes)) / speedWindow.Seconds()
}
