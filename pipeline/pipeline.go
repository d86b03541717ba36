// Package pipeline wires connectors, ring buffers and the processing
// engines together. The coordinator owns one lane per exchange: the lane's
// producer goroutine moves events from the connector into its SPSC buffer,
// and a single processing goroutine drains every lane into its order-flow
// book and analytics engine. The coordinator itself carries no business
// logic and never blocks on a connector call.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tapeflow/analytics"
	"tapeflow/connector"
	"tapeflow/internal/ring"
	"tapeflow/logger"
	"tapeflow/models"
	"tapeflow/orderflow"
)

// Config sizes the coordinator. Zero values fall back to defaults.
type Config struct {
	TickInterval  time.Duration
	DrainBatch    int
	ReconnectScan time.Duration
	PingInterval  time.Duration

	BufferCapacity        int
	SignalCapacity        int
	BackpressureThreshold float64
	AdvisoryThreshold     float64
	BackpressureEnabled   bool

	OrderFlow orderflow.Config
	Analytics analytics.Config

	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Millisecond
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 256
	}
	if c.ReconnectScan <= 0 {
		c.ReconnectScan = time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 8192
	}
	if c.SignalCapacity <= 0 {
		c.SignalCapacity = 1024
	}
	if c.BackpressureThreshold <= 0 {
		c.BackpressureThreshold = 0.90
	}
	if c.AdvisoryThreshold <= 0 {
		c.AdvisoryThreshold = 0.80
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Second
	}
	return c
}

// LaneSpec names one exchange feed the coordinator should own.
type LaneSpec struct {
	Exchange  string
	Symbol    string
	Connector connector.Connector
}

// lane is one exchange feed: connector, its dedicated SPSC buffer, and the
// engines owned by the processing goroutine.
type lane struct {
	exchange string
	conn     connector.Connector
	buf      *ring.Adaptive[models.Event]

	// processing-goroutine state
	symbol string
	book   *orderflow.Book
	engine *analytics.Engine

	// reconnect bookkeeping, guarded by the coordinator mutex because the
	// command handler and the maintenance scan both touch it
	lastReconnect time.Time
	redial        bool
}

// LaneView is the read-only snapshot published for one lane after each
// processing pass. Presentation reads these copies, never the live book.
type LaneView struct {
	Exchange string
	Symbol   string

	Ladder  []orderflow.Level
	BestBid models.PriceKey
	HasBid  bool
	BestAsk models.PriceKey
	HasAsk  bool
	Market  orderflow.MarketSnapshot

	Momentum           float64
	RealizedVolatility float64
	VolatilityHistory  []analytics.VolPoint
	ImbalanceHistory   []models.Signal
	PriceSpeed         float64

	State models.ConnectionState
	Stats models.StatsSnapshot
}

type commandKind int

const (
	cmdSwitchSymbol commandKind = iota
	cmdPause
	cmdResume
	cmdResetConnector
)

type command struct {
	kind     commandKind
	exchange string
	symbol   string
}

// Coordinator owns the lanes and the single processing goroutine.
type Coordinator struct {
	cfg   Config
	lanes []*lane

	signals  *ring.Adaptive[models.Event]
	commands chan command

	mu     sync.RWMutex
	views  map[string]LaneView
	paused bool

	runID  string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Entry
}

// New builds a coordinator over the given lanes.
func New(cfg Config, specs []LaneSpec) *Coordinator {
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:      cfg,
		signals:  ring.NewAdaptive[models.Event](cfg.SignalCapacity, cfg.BackpressureThreshold, cfg.AdvisoryThreshold),
		commands: make(chan command, 16),
		views:    make(map[string]LaneView),
		runID:    uuid.NewString(),
		log:      logger.GetLogger().WithComponent("pipeline"),
	}
	c.signals.SetBackpressureEnabled(false)

	for _, spec := range specs {
		ln := &lane{
			exchange: spec.Exchange,
			conn:     spec.Connector,
			symbol:   spec.Symbol,
			buf:      ring.NewAdaptive[models.Event](cfg.BufferCapacity, cfg.BackpressureThreshold, cfg.AdvisoryThreshold),
		}
		ln.buf.SetBackpressureEnabled(cfg.BackpressureEnabled)
		ln.book = orderflow.NewBook(cfg.OrderFlow)
		ln.engine = c.newEngine(spec.Exchange, spec.Symbol)
		c.lanes = append(c.lanes, ln)
	}
	return c
}

func (c *Coordinator) newEngine(exchange, symbol string) *analytics.Engine {
	return analytics.NewEngine(exchange, symbol, c.cfg.Analytics, func(ev models.Event) {
		// Signals flow back into the pipeline through the out-buffer; the
		// presentation layer drains them. Drop-new when full.
		if err := c.signals.TryPush(ev); err != nil {
			logger.IncrementEventsDropped(1)
		}
	})
}

// Start connects every lane and launches the producer, processing and
// maintenance goroutines.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	for _, ln := range c.lanes {
		if err := ln.conn.Connect(ctx); err != nil {
			c.log.WithError(err).WithFields(logger.Fields{"exchange": ln.exchange}).Warn("initial connect failed, reconnect scan will retry")
		} else if err := ln.conn.Subscribe(ln.symbol, connector.AllChannels()); err != nil {
			c.log.WithError(err).WithFields(logger.Fields{"exchange": ln.exchange}).Warn("initial subscribe failed")
		}

		c.wg.Add(1)
		go c.produce(ctx, ln)
	}

	c.wg.Add(2)
	go c.process(ctx)
	go c.maintain(ctx)

	c.log.WithFields(logger.Fields{"run_id": c.runID, "lanes": len(c.lanes)}).Info("pipeline started")
	return nil
}

// Stop cancels the goroutines, disconnects every lane and waits for
// shutdown to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	for _, ln := range c.lanes {
		ln.conn.Disconnect()
	}
	c.wg.Wait()
	c.log.Info("pipeline stopped")
}

// produce is the lane's producer goroutine: the single pusher into the
// lane's SPSC buffer. Rejected pushes drop the new event, counted, never
// retried on the hot path.
func (c *Coordinator) produce(ctx context.Context, ln *lane) {
	defer c.wg.Done()

	tick := time.NewTicker(c.cfg.TickInterval)
	heartbeat := time.NewTicker(c.cfg.PingInterval)
	defer tick.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := ln.conn.SendHeartbeat(); err != nil {
				c.log.WithError(err).WithFields(logger.Fields{"exchange": ln.exchange}).Debug("heartbeat failed")
			}
		case <-tick.C:
			events, err := ln.conn.ReadEvents()
			if err != nil {
				continue
			}
			accepted := 0
			for _, ev := range events {
				if pushErr := ln.buf.TryPush(ev); pushErr != nil {
					logger.IncrementEventsDropped(1)
					continue
				}
				accepted++
			}
			if accepted > 0 {
				logger.IncrementEventsIngested(accepted)
			}
		}
	}
}

// process is the single consumer of every lane buffer and the only
// goroutine that touches the books and analytics engines.
func (c *Coordinator) process(ctx context.Context) {
	defer c.wg.Done()

	tick := time.NewTicker(c.cfg.TickInterval)
	cleanup := time.NewTicker(c.cfg.CleanupInterval)
	defer tick.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			c.handleCommand(cmd)
		case <-cleanup.C:
			now := time.Now()
			for _, ln := range c.lanes {
				ln.book.CleanupExpired(now)
			}
		case <-tick.C:
			c.mu.RLock()
			paused := c.paused
			c.mu.RUnlock()
			if paused {
				continue
			}

			now := time.Now()
			for _, ln := range c.lanes {
				events := ln.buf.TryPopBatch(c.cfg.DrainBatch)
				for _, ev := range events {
					// Events for a symbol we already switched away from are
					// late stragglers; they must not pollute the new book.
					if ev.Symbol != "" && ev.Symbol != ln.symbol {
						continue
					}
					ln.book.Apply(ev)
				}
				if len(events) == 0 {
					continue
				}
				snap := ln.book.Snapshot()
				ln.engine.Observe(now, analytics.Snapshot{
					Mid:            snap.Mid,
					BidRatio:       snap.BidRatio,
					AskRatio:       snap.AskRatio,
					LastTradePrice: snap.LastTradePrice.Float64(),
					LastTradeQty:   snap.LastTradeQty,
					LastTradeSide:  snap.LastTradeSide,
					LastTradeAt:    snap.LastTradeAt,
				})
				c.publish(ln)
			}
		}
	}
}

// bufferMetricsInterval paces the occupancy gauges emitted by maintain.
const bufferMetricsInterval = 30 * time.Second

// maintain runs the reconnect scan: lanes sitting in Reconnecting are
// retried once their connector's backoff has elapsed, and lanes freshly
// cleared by ResetConnector are dialed back from Disconnected. Failed lanes
// stay down until that explicit reset. It also emits the periodic buffer
// occupancy metrics.
func (c *Coordinator) maintain(ctx context.Context) {
	defer c.wg.Done()

	scan := time.NewTicker(c.cfg.ReconnectScan)
	metrics := time.NewTicker(bufferMetricsInterval)
	defer scan.Stop()
	defer metrics.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scan.C:
			now := time.Now()
			for _, ln := range c.lanes {
				c.redialLane(ctx, ln, now)
			}
		case <-metrics.C:
			c.reportBufferMetrics()
		}
	}
}

// reportBufferMetrics emits lane buffer occupancy and drop counters so
// capacity pressure is visible before events start being shed.
func (c *Coordinator) reportBufferMetrics() {
	for _, ln := range c.lanes {
		st := ln.buf.Stats()
		c.log.LogMetric("pipeline", "lane_buffer_occupancy", ln.buf.Len(), "gauge", logger.Fields{"exchange": ln.exchange})
		c.log.LogMetric("pipeline", "lane_buffer_dropped", st.Dropped, "counter", logger.Fields{"exchange": ln.exchange})
	}
	c.log.LogMetric("pipeline", "signal_buffer_occupancy", c.signals.Len(), "gauge", nil)
}

func (c *Coordinator) redialLane(ctx context.Context, ln *lane, now time.Time) {
	state := ln.conn.State()

	c.mu.Lock()
	eligible := state == models.StateReconnecting || (ln.redial && state == models.StateDisconnected)
	if eligible && !ln.lastReconnect.IsZero() && now.Sub(ln.lastReconnect) < ln.conn.ReconnectDelay() {
		eligible = false
	}
	if eligible {
		ln.lastReconnect = now
	}
	symbol := ln.symbol
	c.mu.Unlock()
	if !eligible {
		return
	}

	if err := ln.conn.Connect(ctx); err != nil {
		c.log.WithError(err).WithFields(logger.Fields{"exchange": ln.exchange}).Warn("reconnect attempt failed")
		return
	}

	c.mu.Lock()
	ln.redial = false
	c.mu.Unlock()

	// A fresh connector comes back without subscriptions; one recovering
	// from a transport error resubscribes on its own.
	if ln.conn.State() == models.StateConnected {
		if err := ln.conn.Subscribe(symbol, connector.AllChannels()); err != nil {
			c.log.WithError(err).WithFields(logger.Fields{"exchange": ln.exchange, "symbol": symbol}).Warn("resubscribe after redial failed")
		}
	}
}

// publish copies the lane's state into the view map under the write lock.
func (c *Coordinator) publish(ln *lane) {
	view := LaneView{
		Exchange:           ln.exchange,
		Symbol:             ln.symbol,
		Ladder:             ln.book.Ladder(),
		Market:             ln.book.Snapshot(),
		Momentum:           ln.engine.Momentum(),
		RealizedVolatility: ln.engine.RealizedVolatility(),
		VolatilityHistory:  ln.engine.VolatilityHistory(),
		ImbalanceHistory:   ln.engine.ImbalanceHistory(),
		PriceSpeed:         ln.engine.PriceSpeed(),
		State:              ln.conn.State(),
		Stats:              ln.conn.Stats(),
	}
	if bid, ok := ln.book.BestBid(); ok {
		view.BestBid, view.HasBid = bid, true
	}
	if ask, ok := ln.book.BestAsk(); ok {
		view.BestAsk, view.HasAsk = ask, true
	}

	c.mu.Lock()
	c.views[ln.exchange] = view
	c.mu.Unlock()
}

func (c *Coordinator) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdPause:
		c.mu.Lock()
		c.paused = true
		c.mu.Unlock()
		c.log.Info("processing paused")
	case cmdResume:
		c.mu.Lock()
		c.paused = false
		c.mu.Unlock()
		c.log.Info("processing resumed")
	case cmdSwitchSymbol:
		for _, ln := range c.lanes {
			if cmd.exchange != "" && ln.exchange != cmd.exchange {
				continue
			}
			if ln.symbol == cmd.symbol {
				continue
			}
			c.mu.Lock()
			ln.symbol = cmd.symbol
			c.mu.Unlock()
			// Fresh state: the old symbol's ladder and windows mean nothing
			// for the new one.
			ln.book = orderflow.NewBook(c.cfg.OrderFlow)
			ln.engine = c.newEngine(ln.exchange, cmd.symbol)
			if err := ln.conn.Subscribe(cmd.symbol, connector.AllChannels()); err != nil {
				c.log.WithError(err).WithFields(logger.Fields{"exchange": ln.exchange, "symbol": cmd.symbol}).Warn("symbol switch subscribe failed")
			}
			c.publish(ln)
		}
	case cmdResetConnector:
		for _, ln := range c.lanes {
			if ln.exchange != cmd.exchange {
				continue
			}
			ln.conn.Reset()
			c.mu.Lock()
			ln.lastReconnect = time.Time{}
			ln.redial = true
			c.mu.Unlock()
			c.log.WithFields(logger.Fields{"exchange": ln.exchange}).Info("connector reset")
		}
	}
}

// SwitchSymbol asks every lane (or one exchange's lane when exchange is
// non-empty) to move to a new symbol.
func (c *Coordinator) SwitchSymbol(exchange, symbol string) {
	c.commands <- command{kind: cmdSwitchSymbol, exchange: exchange, symbol: symbol}
}

// Pause stops applying events; lane buffers fill and shed per their
// backpressure policy until Resume.
func (c *Coordinator) Pause() { c.commands <- command{kind: cmdPause} }

// Resume restarts processing after a Pause.
func (c *Coordinator) Resume() { c.commands <- command{kind: cmdResume} }

// ResetConnector clears a Failed connector so the reconnect scan can bring
// it back.
func (c *Coordinator) ResetConnector(exchange string) {
	c.commands <- command{kind: cmdResetConnector, exchange: exchange}
}

// Exchanges lists the lanes the coordinator owns, in configuration order.
func (c *Coordinator) Exchanges() []string {
	out := make([]string, 0, len(c.lanes))
	for _, ln := range c.lanes {
		out = append(out, ln.exchange)
	}
	return out
}

// View returns the latest published snapshot for one exchange lane. Slices
// are copied so callers can hold or mutate them freely.
func (c *Coordinator) View(exchange string) (LaneView, bool) {
	c.mu.RLock()
	v, ok := c.views[exchange]
	c.mu.RUnlock()
	if !ok {
		return LaneView{}, false
	}
	v.Ladder = append([]orderflow.Level(nil), v.Ladder...)
	v.VolatilityHistory = append([]analytics.VolPoint(nil), v.VolatilityHistory...)
	v.ImbalanceHistory = append([]models.Signal(nil), v.ImbalanceHistory...)
	return v, true
}

// Ladder returns the latest published ladder for one exchange.
func (c *Coordinator) Ladder(exchange string) []orderflow.Level {
	v, _ := c.View(exchange)
	return v.Ladder
}

// BestBid returns the latest published best bid for one exchange.
func (c *Coordinator) BestBid(exchange string) (models.PriceKey, bool) {
	v, ok := c.View(exchange)
	if !ok || !v.HasBid {
		return models.PriceKey{}, false
	}
	return v.BestBid, true
}

// BestAsk returns the latest published best ask for one exchange.
func (c *Coordinator) BestAsk(exchange string) (models.PriceKey, bool) {
	v, ok := c.View(exchange)
	if !ok || !v.HasAsk {
		return models.PriceKey{}, false
	}
	return v.BestAsk, true
}

// ConnectorState reads the live connector state for one exchange.
func (c *Coordinator) ConnectorState(exchange string) models.ConnectionState {
	for _, ln := range c.lanes {
		if ln.exchange == exchange {
			return ln.conn.State()
		}
	}
	return models.StateDisconnected
}

// ConnectorStats snapshots the live connector counters for one exchange.
func (c *Coordinator) ConnectorStats(exchange string) models.StatsSnapshot {
	for _, ln := range c.lanes {
		if ln.exchange == exchange {
			return ln.conn.Stats()
		}
	}
	return models.StatsSnapshot{}
}

// Momentum returns the latest published momentum for one exchange.
func (c *Coordinator) Momentum(exchange string) float64 {
	v, _ := c.View(exchange)
	return v.Momentum
}

// RealizedVolatility returns the latest published volatility reading.
func (c *Coordinator) RealizedVolatility(exchange string) float64 {
	v, _ := c.View(exchange)
	return v.RealizedVolatility
}

// ImbalanceHistory returns the latest published imbalance signals.
func (c *Coordinator) ImbalanceHistory(exchange string) []models.Signal {
	v, _ := c.View(exchange)
	return v.ImbalanceHistory
}

// MarketSnapshot returns the latest published market digest.
func (c *Coordinator) MarketSnapshot(exchange string) orderflow.MarketSnapshot {
	v, _ := c.View(exchange)
	return v.Market
}

// DrainSignals pops up to max signal events from the out-buffer. Intended
// for a single presentation consumer.
func (c *Coordinator) DrainSignals(max int) []models.Event {
	return c.signals.TryPopBatch(max)
}

// SignalBufferStats exposes the out-buffer counters for the report loop.
func (c *Coordinator) SignalBufferStats() ring.Stats {
	return c.signals.Stats()
}
