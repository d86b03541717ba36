// Package orderflow maintains the live price-indexed order-flow ladder for
// one exchange/symbol pair: resting depth, tape prints, accumulated history
// and inferred cancellations. The engine is not internally synchronized; it
// must only ever be mutated from the single processing goroutine.
package orderflow

import (
	"sort"
	"time"

	"tapeflow/logger"
	"tapeflow/models"
)

// Config holds the decay windows and the memory bound for one book.
type Config struct {
	// TradeDecay is how long a realtime tape print stays visible (default 3s).
	TradeDecay time.Duration
	// CancelDecay is how long inferred cancellations stay visible (default 5s).
	CancelDecay time.Duration
	// MaxLevels bounds ladder memory; past it, inactive levels are pruned
	// oldest first (default 1000).
	MaxLevels int
}

func (c Config) withDefaults() Config {
	if c.TradeDecay <= 0 {
		c.TradeDecay = 3 * time.Second
	}
	if c.CancelDecay <= 0 {
		c.CancelDecay = 5 * time.Second
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = 1000
	}
	return c
}

// BookStats are advisory per-book counters.
type BookStats struct {
	DepthUpdates int64
	Trades       int64
	Tickers      int64
	Levels       int
}

// MarketSnapshot is a cheap read-only digest of the book for presentation
// and analytics.
type MarketSnapshot struct {
	BestBid models.PriceKey
	HasBid  bool
	BestAsk models.PriceKey
	HasAsk  bool

	Mid    float64
	Spread float64

	BidVolume float64
	AskVolume float64
	BidRatio  float64
	AskRatio  float64

	LastTradePrice models.PriceKey
	LastTradeSide  models.Side
	LastTradeQty   float64
	LastTradeAt    time.Time
}

// Book is the order-flow engine for one exchange/symbol pair.
type Book struct {
	cfg Config

	levels map[string]*level
	// order keeps the ladder's price keys sorted ascending so iteration is
	// price order.
	order []models.PriceKey

	day string // UTC day of the current history accumulation period

	lastTradePrice models.PriceKey
	lastTradeSide  models.Side
	lastTradeQty   float64
	lastTradeAt    time.Time

	depthUpdates int64
	trades       int64
	tickers      int64

	log *logger.Entry
}

// NewBook builds an empty book with the given decay windows.
func NewBook(cfg Config) *Book {
	return &Book{
		cfg:    cfg.withDefaults(),
		levels: make(map[string]*level),
		log:    logger.GetLogger().WithComponent("orderflow"),
	}
}

// Apply folds one event into the ladder. Signal, state and transport events
// are not book input and are ignored.
func (b *Book) Apply(ev models.Event) {
	switch ev.Kind {
	case models.KindDepthUpdate:
		b.depthUpdates++
		for _, pq := range ev.Depth.Bids {
			b.applyDepth(true, pq, ev.Ingested)
		}
		for _, pq := range ev.Depth.Asks {
			b.applyDepth(false, pq, ev.Ingested)
		}
	case models.KindTrade:
		b.trades++
		b.applyTrade(ev.Trade, ev.Ingested)
	case models.KindBookTicker:
		b.tickers++
		b.applyTicker(ev.Ticker, ev.Ingested)
	}
}

// applyDepth overwrites one side's resting quantity at one price. Quantity
// zero is a tombstone: the side is zeroed but the level is kept, because the
// other side or trade history may still be live. Prices absent from an
// update are never touched.
func (b *Book) applyDepth(bid bool, pq models.PriceQty, ts time.Time) {
	lvl := b.ensure(pq.Price, ts)

	if bid {
		if pq.Qty < lvl.RestingBid {
			// A decrease beyond the volume traded against the bid since its
			// last update is pulled liquidity.
			if cancelled := lvl.RestingBid - pq.Qty - lvl.tradedBid; cancelled > 0 {
				lvl.CancelBid += cancelled
				lvl.CancelBidAt = ts
			}
		}
		lvl.RestingBid = pq.Qty
		lvl.RestingBidAt = ts
		lvl.tradedBid = 0
	} else {
		if pq.Qty < lvl.RestingAsk {
			if cancelled := lvl.RestingAsk - pq.Qty - lvl.tradedAsk; cancelled > 0 {
				lvl.CancelAsk += cancelled
				lvl.CancelAskAt = ts
			}
		}
		lvl.RestingAsk = pq.Qty
		lvl.RestingAskAt = ts
		lvl.tradedAsk = 0
	}
	lvl.lastTouch = ts
}

// applyTrade records a tape print. The realtime bucket holds the latest
// single trade at that price regardless of side, so a new print clears the
// opposite side's slot; the history bucket accumulates until the daily
// reset, and the traded-volume accumulator feeds cancel inference on the
// side the taker consumed.
func (b *Book) applyTrade(t *models.Trade, ts time.Time) {
	lvl := b.ensure(t.Price, ts)

	if t.Aggressor == models.SideBuy {
		lvl.RealtimeBuy = t.Qty
		lvl.RealtimeBuyAt = ts
		lvl.RealtimeSell = 0
		lvl.RealtimeSellAt = ts
		lvl.HistoryBuy += t.Qty
		lvl.tradedAsk += t.Qty
	} else {
		lvl.RealtimeSell = t.Qty
		lvl.RealtimeSellAt = ts
		lvl.RealtimeBuy = 0
		lvl.RealtimeBuyAt = ts
		lvl.HistorySell += t.Qty
		lvl.tradedBid += t.Qty
	}
	lvl.lastTouch = ts

	b.lastTradePrice = t.Price
	b.lastTradeSide = t.Aggressor
	b.lastTradeQty = t.Qty
	b.lastTradeAt = ts
}

// applyTicker updates the top of book and repairs stale levels left behind
// by a jump: any ask at or below the new best bid and any bid at or above
// the new best ask is nulled out.
func (b *Book) applyTicker(bt *models.BookTicker, ts time.Time) {
	bidLvl := b.ensure(bt.BestBid, ts)
	bidLvl.RestingBid = bt.BestBidQty
	bidLvl.RestingBidAt = ts
	bidLvl.lastTouch = ts

	askLvl := b.ensure(bt.BestAsk, ts)
	askLvl.RestingAsk = bt.BestAskQty
	askLvl.RestingAskAt = ts
	askLvl.lastTouch = ts

	for _, key := range b.order {
		lvl := b.levels[key.Key()]
		if lvl.RestingAsk != 0 && key.Cmp(bt.BestBid) <= 0 {
			lvl.RestingAsk = 0
			lvl.RestingAskAt = ts
		}
		if lvl.RestingBid != 0 && key.Cmp(bt.BestAsk) >= 0 {
			lvl.RestingBid = 0
			lvl.RestingBidAt = ts
		}
	}
}

// ensure returns the level at price, creating it lazily on first reference.
func (b *Book) ensure(price models.PriceKey, ts time.Time) *level {
	key := price.Key()
	if lvl, ok := b.levels[key]; ok {
		return lvl
	}
	lvl := &level{Level: Level{Price: price}, lastTouch: ts}
	b.levels[key] = lvl

	i := sort.Search(len(b.order), func(i int) bool { return !b.order[i].Less(price) })
	b.order = append(b.order, models.PriceKey{})
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = price
	return lvl
}

// Ladder returns a price-ascending copy of every level.
func (b *Book) Ladder() []Level {
	out := make([]Level, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, b.levels[key.Key()].Level)
	}
	return out
}

// BestBid returns the highest price with resting bid quantity.
func (b *Book) BestBid() (models.PriceKey, bool) {
	for i := len(b.order) - 1; i >= 0; i-- {
		if b.levels[b.order[i].Key()].RestingBid > 0 {
			return b.order[i], true
		}
	}
	return models.PriceKey{}, false
}

// BestAsk returns the lowest price with resting ask quantity.
func (b *Book) BestAsk() (models.PriceKey, bool) {
	for _, key := range b.order {
		if b.levels[key.Key()].RestingAsk > 0 {
			return key, true
		}
	}
	return models.PriceKey{}, false
}

// CleanupExpired zeroes realtime tape prints older than the trade decay
// window and inferred cancels older than the cancel decay window. Resting
// depth and history accumulation are never cleared by age; history resets
// only on the daily UTC boundary.
func (b *Book) CleanupExpired(now time.Time) {
	for _, lvl := range b.levels {
		if lvl.RealtimeBuy != 0 && now.Sub(lvl.RealtimeBuyAt) > b.cfg.TradeDecay {
			lvl.RealtimeBuy = 0
		}
		if lvl.RealtimeSell != 0 && now.Sub(lvl.RealtimeSellAt) > b.cfg.TradeDecay {
			lvl.RealtimeSell = 0
		}
		if lvl.CancelBid != 0 && now.Sub(lvl.CancelBidAt) > b.cfg.CancelDecay {
			lvl.CancelBid = 0
		}
		if lvl.CancelAsk != 0 && now.Sub(lvl.CancelAskAt) > b.cfg.CancelDecay {
			lvl.CancelAsk = 0
		}
	}

	b.resetHistoryOnNewDay(now)
	b.prune()
}

func (b *Book) resetHistoryOnNewDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if b.day == "" {
		b.day = day
		return
	}
	if day == b.day {
		return
	}
	for _, lvl := range b.levels {
		lvl.HistoryBuy = 0
		lvl.HistorySell = 0
	}
	b.log.WithFields(logger.Fields{"day": day, "levels": len(b.levels)}).Info("daily history reset")
	b.day = day
}

// prune drops zero-activity levels, oldest touch first, once the ladder
// exceeds its memory bound.
func (b *Book) prune() {
	excess := len(b.levels) - b.cfg.MaxLevels
	if excess <= 0 {
		return
	}

	candidates := make([]*level, 0, excess)
	for _, lvl := range b.levels {
		if lvl.inactive() {
			candidates = append(candidates, lvl)
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastTouch.Before(candidates[j].lastTouch)
	})
	if excess > len(candidates) {
		excess = len(candidates)
	}

	removed := make(map[string]struct{}, excess)
	for _, lvl := range candidates[:excess] {
		key := lvl.Price.Key()
		delete(b.levels, key)
		removed[key] = struct{}{}
	}

	kept := b.order[:0]
	for _, key := range b.order {
		if _, gone := removed[key.Key()]; !gone {
			kept = append(kept, key)
		}
	}
	b.order = kept

	b.log.WithFields(logger.Fields{"pruned": len(removed), "levels": len(b.levels)}).Debug("pruned inactive levels")
}

// Stats returns advisory counters for the book.
func (b *Book) Stats() BookStats {
	return BookStats{
		DepthUpdates: b.depthUpdates,
		Trades:       b.trades,
		Tickers:      b.tickers,
		Levels:       len(b.levels),
	}
}

// Snapshot digests the book into a read-only market view.
func (b *Book) Snapshot() MarketSnapshot {
	snap := MarketSnapshot{
		LastTradePrice: b.lastTradePrice,
		LastTradeSide:  b.lastTradeSide,
		LastTradeQty:   b.lastTradeQty,
		LastTradeAt:    b.lastTradeAt,
	}

	for _, lvl := range b.levels {
		snap.BidVolume += lvl.RestingBid
		snap.AskVolume += lvl.RestingAsk
	}
	if total := snap.BidVolume + snap.AskVolume; total > 0 {
		snap.BidRatio = snap.BidVolume / total
		snap.AskRatio = snap.AskVolume / total
	}

	if bid, ok := b.BestBid(); ok {
		snap.BestBid = bid
		snap.HasBid = true
	}
	if ask, ok := b.BestAsk(); ok {
		snap.BestAsk = ask
		snap.HasAsk = true
	}
	if snap.HasBid && snap.HasAsk {
		bid := snap.BestBid.Float64()
		ask := snap.BestAsk.Float64()
		snap.Mid = (bid + ask) / 2
		snap.Spread = ask - bid
	}
	return snap
}
