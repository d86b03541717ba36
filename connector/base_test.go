package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tapeflow/models"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []interface{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.in:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) feed(frame string) { c.in <- []byte(frame) }

// echoProto is a minimal protocol for transport tests: frames are JSON
// {"v":N}; {"ack":true} flips the connector Active; anything else counts as
// a parse error.
type echoProto struct{}

func (echoProto) SubscribeFrames(symbol string, _ ChannelSet) ([]interface{}, error) {
	return []interface{}{map[string]string{"subscribe": symbol}}, nil
}

func (echoProto) Heartbeat(b *Base) error {
	return b.Send(map[string]string{"op": "ping"})
}

func (echoProto) ParseFrame(b *Base, raw []byte) []models.Event {
	var frame struct {
		V   *int  `json:"v"`
		Ack *bool `json:"ack"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil || (frame.V == nil && frame.Ack == nil) {
		b.CountParseError(fmt.Errorf("unrecognized frame %q", raw))
		return nil
	}
	if frame.Ack != nil {
		b.MarkActive()
		return nil
	}
	return []models.Event{models.NewTradeEvent("test", "TESTUSDT", &models.Trade{
		Price:     models.MustPrice(fmt.Sprint(*frame.V)),
		Qty:       1,
		Aggressor: models.SideBuy,
	})}
}

func dialTo(conn *fakeConn) DialFunc {
	return func(context.Context, string) (Conn, error) { return conn, nil }
}

func failingDial(count *int) DialFunc {
	return func(context.Context, string) (Conn, error) {
		*count++
		return nil, errors.New("connection refused")
	}
}

// drainEvents polls ReadEvents until n payload events (trades here) arrive
// or the deadline passes; state-change events are filtered out.
func drainEvents(t *testing.T, b *Base, n int) []models.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var out []models.Event
	for time.Now().Before(deadline) {
		evs, _ := b.ReadEvents()
		for _, ev := range evs {
			if ev.Kind == models.KindTrade {
				out = append(out, ev)
			}
		}
		if len(out) >= n {
			return out
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
	return nil
}

func TestConnectSubscribeActivate(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{URL: "ws://test", Dial: dialTo(conn)}, echoProto{})
	defer b.Disconnect()

	if got := b.State(); got != models.StateDisconnected {
		t.Fatalf("initial state = %v", got)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := b.State(); got != models.StateConnected {
		t.Fatalf("state after connect = %v", got)
	}

	if err := b.Subscribe("TESTUSDT", AllChannels()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := b.State(); got != models.StateSubscribing {
		t.Fatalf("state after subscribe = %v", got)
	}

	conn.mu.Lock()
	wrote := len(conn.writes)
	conn.mu.Unlock()
	if wrote != 1 {
		t.Fatalf("subscribe payloads written = %d, want 1", wrote)
	}

	conn.feed(`{"ack":true}`)
	deadline := time.Now().Add(2 * time.Second)
	for b.State() != models.StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("never reached Active, state %v", b.State())
		}
		b.ReadEvents()
		time.Sleep(time.Millisecond)
	}
}

func TestConnectWhileLive(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{URL: "ws://test", Dial: dialTo(conn)}, echoProto{})
	defer b.Disconnect()

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := b.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestReadEventsFIFO(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{URL: "ws://test", Dial: dialTo(conn)}, echoProto{})
	defer b.Disconnect()

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i := 1; i <= 5; i++ {
		conn.feed(fmt.Sprintf(`{"v":%d}`, i))
	}

	events := drainEvents(t, b, 5)
	for i, ev := range events {
		want := fmt.Sprint(i + 1)
		if ev.Trade.Price.Key() != want {
			t.Fatalf("event %d price = %s, want %s", i, ev.Trade.Price.Key(), want)
		}
	}
}

func TestMalformedFrameSkipped(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{URL: "ws://test", Dial: dialTo(conn)}, echoProto{})
	defer b.Disconnect()

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.feed(`not even json`)
	conn.feed(`{"v":7}`)

	events := drainEvents(t, b, 1)
	if events[0].Trade.Price.Key() != "7" {
		t.Fatalf("surviving event price = %s", events[0].Trade.Price.Key())
	}
	if got := b.Stats().ParseErrors; got != 1 {
		t.Errorf("parse errors = %d, want 1", got)
	}
}

func TestReconnectBound(t *testing.T) {
	dials := 0
	b := NewBase("test", Options{
		URL:                  "ws://test",
		Dial:                 failingDial(&dials),
		MaxReconnectAttempts: 3,
	}, echoProto{})

	for i := 1; i <= 3; i++ {
		if err := b.Connect(context.Background()); err == nil {
			t.Fatalf("attempt %d unexpectedly succeeded", i)
		}
		if i < 3 {
			if got := b.State(); got != models.StateReconnecting {
				t.Fatalf("state after attempt %d = %v, want reconnecting", i, got)
			}
		}
	}

	if got := b.State(); got != models.StateFailed {
		t.Fatalf("state after exhausting budget = %v, want failed", got)
	}
	if dials != 3 {
		t.Fatalf("dial attempts = %d, want exactly 3", dials)
	}
	if got := b.Stats().ReconnectAttempts; got != 3 {
		t.Fatalf("reconnect attempts counted = %d, want 3", got)
	}

	// Failed is inert: no further dial without an explicit reset.
	if err := b.Connect(context.Background()); !errors.Is(err, ErrFailed) {
		t.Fatalf("connect while failed = %v, want ErrFailed", err)
	}
	if dials != 3 {
		t.Fatalf("failed connector dialed again: %d", dials)
	}

	b.Reset()
	if got := b.State(); got != models.StateDisconnected {
		t.Fatalf("state after reset = %v", got)
	}
	b.Connect(context.Background())
	if dials != 4 {
		t.Fatalf("reset connector did not dial: %d", dials)
	}
}

func TestTransportErrorMovesToReconnecting(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{URL: "ws://test", Dial: dialTo(conn)}, echoProto{})

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// Kill the link out from under the pump.
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.State() != models.StateReconnecting {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want reconnecting", b.State())
		}
		time.Sleep(time.Millisecond)
	}

	// The consumer sees the failure as an event, not a crash.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs, _ := b.ReadEvents()
		for _, ev := range evs {
			if ev.Kind == models.KindTransportError {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no transport error event surfaced")
}

func TestHeartbeatTimeout(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{
		URL:         "ws://test",
		Dial:        dialTo(conn),
		ReadTimeout: 5 * time.Millisecond,
	}, echoProto{})

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := b.SendHeartbeat(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("heartbeat on silent link = %v, want ErrNotConnected", err)
	}
	if got := b.State(); got != models.StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	conn := newFakeConn()
	b := NewBase("test", Options{URL: "ws://test", Dial: dialTo(conn)}, echoProto{})

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	b.Disconnect()
	b.Disconnect()
	if got := b.State(); got != models.StateDisconnected {
		t.Fatalf("state = %v", got)
	}
	if _, err := b.ReadEvents(); err != nil && !errors.Is(err, ErrNotConnected) {
		t.Fatalf("read after disconnect = %v", err)
	}
}

func TestReconnectDelayBackoff(t *testing.T) {
	dials := 0
	b := NewBase("test", Options{
		URL:                  "ws://test",
		Dial:                 failingDial(&dials),
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    5 * time.Second,
	}, echoProto{})

	if got := b.ReconnectDelay(); got != time.Second {
		t.Fatalf("delay before any failure = %v", got)
	}
	b.Connect(context.Background())
	if got := b.ReconnectDelay(); got != 2*time.Second {
		t.Fatalf("delay after one failure = %v", got)
	}
	b.Connect(context.Background())
	b.Connect(context.Background())
	if got := b.ReconnectDelay(); got != 5*time.Second {
		t.Fatalf("delay must cap at max: %v", got)
	}
}
