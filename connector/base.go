package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tapeflow/logger"
	"tapeflow/models"
)

// Protocol is what an exchange subpackage supplies on top of the shared
// transport: how to ask for streams, how to read frames, how to stay alive.
type Protocol interface {
	// SubscribeFrames returns the JSON payloads that request the channel set
	// for one symbol, in send order.
	SubscribeFrames(symbol string, set ChannelSet) ([]interface{}, error)
	// ParseFrame translates one raw frame into zero or more events. Control
	// frames (acks, pings) are handled through the Base and yield no events.
	ParseFrame(b *Base, raw []byte) []models.Event
	// Heartbeat sends the exchange's keep-alive message.
	Heartbeat(b *Base) error
}

// Base is the shared websocket transport and connection state machine. Each
// exchange connector embeds one and contributes a Protocol.
type Base struct {
	exchange string
	opts     Options
	proto    Protocol

	mu      sync.Mutex
	conn    Conn
	ctx     context.Context
	cancel  context.CancelFunc
	pending []models.Event
	symbol  string
	chanSet ChannelSet

	state    atomicState
	attempts int

	frames    chan []byte
	lastFrame atomicTime

	stats   models.Stats
	limiter *rate.Limiter
	log     *logger.Entry
}

// NewBase builds the transport for one exchange.
func NewBase(exchange string, opts Options, proto Protocol) *Base {
	opts = opts.withDefaults()
	b := &Base{
		exchange: exchange,
		opts:     opts,
		proto:    proto,
		frames:   make(chan []byte, opts.FrameBuffer),
		limiter:  rate.NewLimiter(rate.Limit(opts.SubscribePerSecond), opts.SubscribeBurst),
		log:      logger.GetLogger().WithComponent("connector").WithFields(logger.Fields{"exchange": exchange}),
	}
	b.state.store(models.StateDisconnected)
	return b
}

// Exchange returns the exchange name this connector feeds from.
func (b *Base) Exchange() string { return b.exchange }

// State returns the current connection state.
func (b *Base) State() models.ConnectionState { return b.state.load() }

// Stats snapshots the connector counters.
func (b *Base) Stats() models.StatsSnapshot { return b.stats.Snapshot() }

// Symbol returns the currently subscribed symbol.
func (b *Base) Symbol() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbol
}

// Connect performs one connection attempt. A failed attempt consumes one
// unit of the reconnect budget; once the budget is gone the connector is
// Failed and inert until Reset.
func (b *Base) Connect(ctx context.Context) error {
	state := b.state.load()
	if state == models.StateFailed {
		return ErrFailed
	}
	if state.Live() {
		return ErrAlreadyConnected
	}

	b.setState(models.StateConnecting)

	dial := b.opts.Dial
	if dial == nil {
		dial = gorillaDial
	}
	conn, err := dial(ctx, b.opts.URL)
	if err != nil {
		b.stats.ConnectionErrors.Add(1)
		b.noteAttemptFailure()
		return fmt.Errorf("dial %s: %w", b.opts.URL, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.attempts = 0
	b.mu.Unlock()

	b.lastFrame.store(time.Now())
	b.setState(models.StateConnected)
	go b.readPump(conn)

	// A reconnect resubscribes the previous stream set automatically.
	if sym := b.Symbol(); sym != "" {
		if err := b.Subscribe(sym, b.chanSet); err != nil {
			b.log.WithError(err).Warn("resubscribe after reconnect failed")
		}
	}
	return nil
}

// Subscribe sends the protocol's subscribe payloads for one symbol. The
// Active transition happens when the exchange's ack frame is parsed.
func (b *Base) Subscribe(symbol string, set ChannelSet) error {
	if !b.state.load().Live() {
		return ErrNotConnected
	}

	b.mu.Lock()
	ctx := b.ctx
	b.symbol = symbol
	b.chanSet = set
	b.mu.Unlock()

	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("subscribe rate limit: %w", err)
	}

	payloads, err := b.proto.SubscribeFrames(symbol, set)
	if err != nil {
		b.stats.SubscriptionErrors.Add(1)
		return fmt.Errorf("%w: %v", ErrSubscribe, err)
	}

	b.setState(models.StateSubscribing)
	for _, p := range payloads {
		if err := b.Send(p); err != nil {
			b.stats.SubscriptionErrors.Add(1)
			return fmt.Errorf("%w: %v", ErrSubscribe, err)
		}
	}
	return nil
}

// ReadEvents drains buffered frames and queued state events without
// blocking. A connector with no transport and nothing queued reports
// ErrNotConnected.
func (b *Base) ReadEvents() ([]models.Event, error) {
	out := b.takePending()

	for {
		select {
		case raw := <-b.frames:
			b.lastFrame.store(time.Now())
			logger.RecordLaneMessage(b.exchange, len(raw))
			out = append(out, b.proto.ParseFrame(b, raw)...)
		default:
			if len(out) == 0 && !b.state.load().Live() && b.state.load() != models.StateReconnecting {
				return nil, ErrNotConnected
			}
			return out, nil
		}
	}
}

// SendHeartbeat emits the keep-alive and treats a silent link (no frame
// within the read timeout) as a transport error.
func (b *Base) SendHeartbeat() error {
	if !b.state.load().Live() {
		return ErrNotConnected
	}

	if last := b.lastFrame.load(); !last.IsZero() && time.Since(last) > b.opts.ReadTimeout {
		b.transportError(fmt.Errorf("no frame in %s", b.opts.ReadTimeout))
		return ErrNotConnected
	}
	return b.proto.Heartbeat(b)
}

// Disconnect closes the transport. Idempotent; a Failed connector stays
// Failed.
func (b *Base) Disconnect() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if b.state.load() != models.StateFailed {
		b.setState(models.StateDisconnected)
	}
}

// Reset clears the Failed state and the reconnect budget so the coordinator
// can bring the connector back deliberately.
func (b *Base) Reset() {
	b.Disconnect()
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
	b.setState(models.StateDisconnected)
}

// Send writes one JSON payload to the transport.
func (b *Base) Send(v interface{}) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(v)
}

// SendText writes one raw text frame to the transport.
func (b *Base) SendText(data []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// MarkActive records the exchange's subscribe acknowledgement.
func (b *Base) MarkActive() {
	if b.state.load() == models.StateSubscribing {
		b.setState(models.StateActive)
	}
}

// MarkSubscribeRejected surfaces an exchange-side subscribe rejection via
// stats. The connector stays connected.
func (b *Base) MarkSubscribeRejected(reason string) {
	b.stats.SubscriptionErrors.Add(1)
	b.log.WithFields(logger.Fields{"reason": reason}).Warn("exchange rejected subscription")
}

// CountParseError records one skipped malformed frame.
func (b *Base) CountParseError(err error) {
	b.stats.ParseErrors.Add(1)
	logger.IncrementParseErrors()
	b.log.WithError(err).Debug("skipping malformed frame")
}

// InjectEvent queues an event for the next ReadEvents call. Used for
// out-of-band events such as REST snapshot bootstraps.
func (b *Base) InjectEvent(ev models.Event) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	b.mu.Unlock()
}

func (b *Base) takePending() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

func (b *Base) setState(s models.ConnectionState) {
	b.state.store(s)
	b.mu.Lock()
	b.pending = append(b.pending, models.NewStateEvent(b.exchange, b.symbol, s))
	b.mu.Unlock()
	b.log.WithFields(logger.Fields{"state": s.String()}).Debug("state transition")
}

// noteAttemptFailure burns one reconnect attempt and decides between
// Reconnecting and terminal Failed.
func (b *Base) noteAttemptFailure() {
	b.mu.Lock()
	b.attempts++
	attempts := b.attempts
	b.mu.Unlock()

	b.stats.ReconnectAttempts.Add(1)
	logger.IncrementRetryCount()

	if attempts >= b.opts.MaxReconnectAttempts {
		b.setState(models.StateFailed)
		b.log.WithFields(logger.Fields{"attempts": attempts}).Error("reconnect budget exhausted")
		return
	}
	b.setState(models.StateReconnecting)
}

// ReconnectDelay returns the backoff before the given attempt number,
// doubling from the base delay up to the cap.
func (b *Base) ReconnectDelay() time.Duration {
	b.mu.Lock()
	attempts := b.attempts
	b.mu.Unlock()

	delay := b.opts.ReconnectBaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= b.opts.ReconnectMaxDelay {
			return b.opts.ReconnectMaxDelay
		}
	}
	return delay
}

// transportError moves a live connector to Reconnecting and queues the
// error event for the consumer.
func (b *Base) transportError(err error) {
	b.stats.ConnectionErrors.Add(1)

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	symbol := b.symbol
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	state := b.state.load()
	if state == models.StateFailed || state == models.StateDisconnected {
		return
	}

	b.mu.Lock()
	b.pending = append(b.pending, models.NewTransportErrorEvent(b.exchange, symbol, err.Error()))
	b.mu.Unlock()
	b.setState(models.StateReconnecting)
	b.log.WithError(err).Warn("transport error")
}

func (b *Base) readPump(conn Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			current := b.conn == conn
			done := b.ctx == nil || b.ctx.Err() != nil
			b.mu.Unlock()
			if current && !done {
				b.transportError(err)
			}
			return
		}

		b.stats.MessagesReceived.Add(1)
		b.stats.BytesReceived.Add(int64(len(msg)))
		b.stats.LastMessageUnixNano.Store(time.Now().UnixNano())

		select {
		case b.frames <- msg:
		default:
			// Frame buffer full; drop-new keeps the pump from blocking.
			logger.IncrementEventsDropped(1)
		}
	}
}

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
