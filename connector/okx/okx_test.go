package okx

import (
	"testing"

	"tapeflow/connector"
	"tapeflow/models"
)

func newTestBase(t *testing.T, p *protocol) *connector.Base {
	t.Helper()
	return connector.NewBase(exchangeName, connector.Options{URL: "ws://test"}, p)
}

func TestSubscribeFrames(t *testing.T) {
	p := &protocol{}
	frames, err := p.SubscribeFrames("BTCUSDT", connector.AllChannels())
	if err != nil {
		t.Fatalf("SubscribeFrames: %v", err)
	}
	req := frames[0].(map[string]interface{})
	if req["op"] != "subscribe" {
		t.Errorf("op = %v", req["op"])
	}
	args := req["args"].([]map[string]string)
	if len(args) != 3 {
		t.Fatalf("args = %v", args)
	}
	for _, arg := range args {
		if arg["instId"] != "BTC-USDT-SWAP" {
			t.Errorf("instId = %q, want BTC-USDT-SWAP", arg["instId"])
		}
	}
	if args[0]["channel"] != "books" || args[1]["channel"] != "trades" || args[2]["channel"] != "bbo-tbt" {
		t.Errorf("channels = %v", args)
	}
}

func TestParseBooksFrame(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	raw := []byte(`{"arg":{"channel":"books","instId":"BTC-USDT-SWAP"},"action":"update","data":[{"bids":[["50000","1.5","0","3"]],"asks":[["50001","0","0","0"]],"ts":"1700000000000"}]}`)
	events := p.ParseFrame(b, raw)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != models.KindDepthUpdate || ev.Symbol != "BTCUSDT" || ev.Exchange != "okx" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Depth.Bids[0].Price.Key() != "50000" || ev.Depth.Bids[0].Qty != 1.5 {
		t.Errorf("bid = %+v", ev.Depth.Bids[0])
	}
	if ev.Depth.Asks[0].Qty != 0 {
		t.Errorf("ask tombstone qty = %v", ev.Depth.Asks[0].Qty)
	}
}

func TestParseTradesFrame(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	raw := []byte(`{"arg":{"channel":"trades","instId":"ETH-USDT-SWAP"},"data":[{"px":"3000.5","sz":"2","side":"buy"},{"px":"3000.4","sz":"1","side":"sell"}]}`)
	events := p.ParseFrame(b, raw)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q", events[0].Symbol)
	}
	if events[0].Trade.Aggressor != models.SideBuy || events[1].Trade.Aggressor != models.SideSell {
		t.Errorf("aggressors = %v/%v", events[0].Trade.Aggressor, events[1].Trade.Aggressor)
	}
}

func TestParseBboFrame(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	raw := []byte(`{"arg":{"channel":"bbo-tbt","instId":"BTC-USDT-SWAP"},"data":[{"bids":[["50000","3"]],"asks":[["50000.5","1"]]}]}`)
	events := p.ParseFrame(b, raw)
	if len(events) != 1 || events[0].Kind != models.KindBookTicker {
		t.Fatalf("events = %+v", events)
	}
	bt := events[0].Ticker
	if bt.BestBid.Key() != "50000" || bt.BestAsk.Key() != "50000.5" {
		t.Errorf("ticker = %+v", bt)
	}
}

func TestParseControlFrames(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	if events := p.ParseFrame(b, []byte("pong")); len(events) != 0 {
		t.Errorf("pong produced events: %v", events)
	}
	if events := p.ParseFrame(b, []byte(`{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT-SWAP"}}`)); len(events) != 0 {
		t.Errorf("ack produced events: %v", events)
	}
	if events := p.ParseFrame(b, []byte(`{"event":"error","code":"60012","msg":"invalid request"}`)); len(events) != 0 {
		t.Errorf("error envelope produced events: %v", events)
	}
	if got := b.Stats().SubscriptionErrors; got != 1 {
		t.Errorf("subscription errors = %d, want 1", got)
	}
	if got := b.Stats().ParseErrors; got != 0 {
		t.Errorf("control frames counted as parse errors: %d", got)
	}
}

func TestParseMalformedCountsError(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	if events := p.ParseFrame(b, []byte(`{{{`)); len(events) != 0 {
		t.Errorf("garbage produced events: %v", events)
	}
	if got := b.Stats().ParseErrors; got != 1 {
		t.Errorf("parse errors = %d, want 1", got)
	}
}
