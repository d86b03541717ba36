package bybit

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
	args := req["args"].([]string)
	want := []string{"orderbook.50.BTCUSDT", "publicTrade.BTCUSDT", "tickers.BTCUSDT"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i, a := range args {
		if a != want[i] {
			t.Errorf("arg %d = %q, want %q", i, a, want[i])
		}
	}
}

func TestParseOrderbookFrame(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	raw := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","data":{"b":[["50000","1.5"]],"a":[["50001","0"]]}}`)
	events := p.ParseFrame(b, raw)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != models.KindDepthUpdate || ev.Symbol != "BTCUSDT" || ev.Exchange != "bybit" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Depth.Asks[0].Qty != 0 {
		t.Errorf("tombstone qty = %v", ev.Depth.Asks[0].Qty)
	}
}

func TestParsePublicTrade(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	raw := []byte(`{"topic":"publicTrade.BTCUSDT","data":[{"p":"50000.5","v":"0.1","S":"Buy"},{"p":"50000.4","v":"0.2","S":"Sell"}]}`)
	events := p.ParseFrame(b, raw)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Trade.Aggressor != models.SideBuy || events[1].Trade.Aggressor != models.SideSell {
		t.Errorf("aggressors = %v/%v", events[0].Trade.Aggressor, events[1].Trade.Aggressor)
	}
	if events[0].Trade.Price.Key() != "50000.5" || events[0].Trade.Qty != 0.1 {
		t.Errorf("trade = %+v", events[0].Trade)
	}
}

func TestParseTickers(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	raw := []byte(`{"topic":"tickers.BTCUSDT","data":{"bid1Price":"50000","bid1Size":"2","ask1Price":"50000.5","ask1Size":"1"}}`)
	events := p.ParseFrame(b, raw)
	if len(events) != 1 || events[0].Kind != models.KindBookTicker {
		t.Fatalf("events = %+v", events)
	}
	bt := events[0].Ticker
	if bt.BestBidQty != 2 || bt.BestAskQty != 1 {
		t.Errorf("ticker = %+v", bt)
	}

	// Delta tickers missing one side are skipped, not errors.
	partial := p.ParseFrame(b, []byte(`{"topic":"tickers.BTCUSDT","data":{"bid1Price":"50000","bid1Size":"2"}}`))
	if len(partial) != 0 {
		t.Errorf("partial ticker produced events: %v", partial)
	}
	if got := b.Stats().ParseErrors; got != 0 {
		t.Errorf("partial ticker counted as parse error: %d", got)
	}
}

func TestParseAckFrames(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	if events := p.ParseFrame(b, []byte(`{"op":"subscribe","success":true,"ret_msg":""}`)); len(events) != 0 {
		t.Errorf("ack produced events: %v", events)
	}
	if events := p.ParseFrame(b, []byte(`{"op":"subscribe","success":false,"ret_msg":"bad topic"}`)); len(events) != 0 {
		t.Errorf("rejection produced events: %v", events)
	}
	if got := b.Stats().SubscriptionErrors; got != 1 {
		t.Errorf("subscription errors = %d, want 1", got)
	}
	if events := p.ParseFrame(b, []byte(`{"op":"pong"}`)); len(events) != 0 {
		t.Errorf("pong produced events: %v", events)
	}
}

func TestParseMalformedCountsError(t *testing.T) {
	p := &protocol{}
	b := newTestBase(t, p)

	p.ParseFrame(b, []byte(`{"topic":"orderbook.50.BTCUSDT","data":[1,2,3]}`))
	if got := b.Stats().ParseErrors; got != 1 {
		t.Errorf("parse errors = %d, want 1", got)
	}
}
