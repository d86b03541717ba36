package models

import (
	"time"
)

// EventKind discriminates the Event tagged union.
type EventKind uint8

const (
	KindUnknown EventKind = iota
	KindDepthUpdate
	KindTrade
	KindBookTicker
	KindSignal
	KindConnectionState
	KindTransportError
)

func (k EventKind) String() string {
	switch k {
	case KindDepthUpdate:
		return "depth_update"
	case KindTrade:
		return "trade"
	case KindBookTicker:
		return "book_ticker"
	case KindSignal:
		return "signal"
	case KindConnectionState:
		return "connection_state"
	case KindTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Side identifies the aggressor side of a trade or the side of a book level.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// PriceQty is a single (price, quantity) pair from a depth update.
// Quantity zero is a tombstone: it removes that side at that price.
type PriceQty struct {
	Price PriceKey
	Qty   float64
}

// DepthUpdate carries incremental resting-quantity changes. Prices absent
// from the update are untouched.
type DepthUpdate struct {
	Bids []PriceQty
	Asks []PriceQty
}

// Trade is a single executed trade with its aggressor side.
type Trade struct {
	Price     PriceKey
	Qty       float64
	Aggressor Side
}

// BookTicker reports only the current best bid/ask and their quantities.
type BookTicker struct {
	BestBid    PriceKey
	BestBidQty float64
	BestAsk    PriceKey
	BestAskQty float64
}

// SignalKind identifies the analytics detector that produced a signal.
type SignalKind uint8

const (
	SignalImbalance SignalKind = iota + 1
	SignalMomentum
	SignalVolatility
)

func (k SignalKind) String() string {
	switch k {
	case SignalImbalance:
		return "imbalance"
	case SignalMomentum:
		return "momentum"
	case SignalVolatility:
		return "volatility"
	default:
		return "unknown"
	}
}

// Direction is the market direction a signal points at.
type Direction uint8

const (
	DirectionBull Direction = iota + 1
	DirectionBear
)

func (d Direction) String() string {
	if d == DirectionBull {
		return "bull"
	}
	return "bear"
}

// Signal is an analytics detection re-injected into the event stream.
type Signal struct {
	ID        string
	Kind      SignalKind
	Direction Direction
	Ratio     float64
	Window    time.Duration
	At        time.Time
}

// ConnectionStateChanged reports a connector state transition.
type ConnectionStateChanged struct {
	State ConnectionState
}

// TransportError reports a connection-level failure observed by a connector.
type TransportError struct {
	Message string
}

// Event is the tagged union passed between connectors, the pipeline and the
// order-flow engine. Exactly one payload pointer is set, selected by Kind.
// Events are immutable once constructed; ownership transfers from producer
// to the single consumer on dequeue.
type Event struct {
	Kind     EventKind
	Exchange string
	Symbol   string
	// Ingested is stamped when the connector normalized the raw message.
	Ingested time.Time

	Depth       *DepthUpdate
	Trade       *Trade
	Ticker      *BookTicker
	Signal      *Signal
	StateChange *ConnectionStateChanged
	Transport   *TransportError
}

// NewDepthEvent builds a depth-update event stamped with the current time.
func NewDepthEvent(exchange, symbol string, d *DepthUpdate) Event {
	return Event{Kind: KindDepthUpdate, Exchange: exchange, Symbol: symbol, Ingested: time.Now(), Depth: d}
}

// NewTradeEvent builds a trade event stamped with the current time.
func NewTradeEvent(exchange, symbol string, t *Trade) Event {
	return Event{Kind: KindTrade, Exchange: exchange, Symbol: symbol, Ingested: time.Now(), Trade: t}
}

// NewBookTickerEvent builds a best-bid/ask event stamped with the current time.
func NewBookTickerEvent(exchange, symbol string, bt *BookTicker) Event {
	return Event{Kind: KindBookTicker, Exchange: exchange, Symbol: symbol, Ingested: time.Now(), Ticker: bt}
}

// NewSignalEvent builds a signal event stamped with the current time.
func NewSignalEvent(exchange, symbol string, s *Signal) Event {
	return Event{Kind: KindSignal, Exchange: exchange, Symbol: symbol, Ingested: time.Now(), Signal: s}
}

// NewStateEvent builds a connection-state-changed event.
func NewStateEvent(exchange, symbol string, st ConnectionState) Event {
	return Event{Kind: KindConnectionState, Exchange: exchange, Symbol: symbol, Ingested: time.Now(), StateChange: &ConnectionStateChanged{State: st}}
}

// NewTransportErrorEvent builds a transport-error event.
func NewTransportErrorEvent(exchange, symbol, message string) Event {
	return Event{Kind: KindTransportError, Exchange: exchange, Symbol: symbol, Ingested: time.Now(), Transport: &TransportError{Message: message}}
}
