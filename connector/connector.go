// Package connector defines the capability interface every exchange feed
// implements and the shared websocket transport/state machine behind it.
// Exchange specifics (channel naming, message envelopes, heartbeat shape)
// live in the per-exchange subpackages; everything downstream of a connector
// only ever sees normalized models.Event values.
package connector

import (
	"context"
	"errors"
	"time"

	"tapeflow/models"
)

var (
	// ErrFailed marks a connector that exhausted its reconnect budget. It
	// stays inert until Reset.
	ErrFailed = errors.New("connector failed, reset required")
	// ErrAlreadyConnected rejects Connect on a live connector.
	ErrAlreadyConnected = errors.New("connector already connected")
	// ErrNotConnected rejects operations that need a live transport.
	ErrNotConnected = errors.New("connector not connected")
	// ErrSubscribe reports a rejected subscribe request. The connector stays
	// connected, just without that stream.
	ErrSubscribe = errors.New("subscribe rejected")
)

// ChannelSet selects which streams a Subscribe call asks for.
type ChannelSet struct {
	Depth      bool
	Trades     bool
	BookTicker bool
}

// AllChannels subscribes every stream the pipeline consumes.
func AllChannels() ChannelSet {
	return ChannelSet{Depth: true, Trades: true, BookTicker: true}
}

// Connector is the capability interface the pipeline coordinator programs
// against. One implementation exists per exchange; all of them emit the
// common event union.
type Connector interface {
	// Connect performs one connection attempt and drives the state machine:
	// Disconnected -> Connecting -> Connected on success, Reconnecting (or
	// terminal Failed once attempts are exhausted) on failure.
	Connect(ctx context.Context) error
	// Subscribe requests the channel set for one symbol. The transition to
	// Active happens when the exchange acknowledges.
	Subscribe(symbol string, set ChannelSet) error
	// ReadEvents drains whatever the transport has buffered and returns
	// immediately; it never blocks on network I/O. Malformed frames are
	// counted and skipped, never propagated as a hard failure.
	ReadEvents() ([]models.Event, error)
	// SendHeartbeat emits the exchange's keep-alive and verifies the link is
	// not silently dead.
	SendHeartbeat() error
	// Disconnect closes the transport. Idempotent and safe to call while a
	// read is in flight.
	Disconnect()
	// Reset clears the Failed state and the reconnect budget.
	Reset()
	// ReconnectDelay reports how long to wait before the next dial, growing
	// exponentially with consecutive failures.
	ReconnectDelay() time.Duration
	Stats() models.StatsSnapshot
	State() models.ConnectionState
	Exchange() string
}

// Options configures the shared transport.
type Options struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	PingInterval         time.Duration
	ReadTimeout          time.Duration
	FrameBuffer          int
	SubscribePerSecond   int
	SubscribeBurst       int

	// Dial overrides the websocket dialer, for tests.
	Dial DialFunc
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = 1024
	}
	if o.SubscribePerSecond <= 0 {
		o.SubscribePerSecond = 5
	}
	if o.SubscribeBurst <= 0 {
		o.SubscribeBurst = 10
	}
	return o
}

// Conn is the slice of *websocket.Conn the transport uses, extracted so
// tests can substitute a fake link.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens one websocket connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)
