// Package bybit implements the connector protocol for Bybit v5 public
// linear streams.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"tapeflow/connector"
	"tapeflow/internal/symbols"
	"tapeflow/models"
)

const exchangeName = "bybit"

// Connector is the Bybit v5 public-stream feed.
type Connector struct {
	*connector.Base
}

// New builds a Bybit connector.
func New(opts connector.Options) *Connector {
	p := &protocol{}
	return &Connector{Base: connector.NewBase(exchangeName, opts, p)}
}

// protocol speaks the v5 topic envelope: {"op":"subscribe","args":
// ["orderbook.50.X", ...]}, ack frames with "success", data frames keyed by
// "topic", and {"op":"ping"} keep-alives.
type protocol struct{}

func (p *protocol) SubscribeFrames(symbol string, set connector.ChannelSet) ([]interface{}, error) {
	sym := symbols.Native(exchangeName, symbol)
	var args []string
	if set.Depth {
		args = append(args, "orderbook.50."+sym)
	}
	if set.Trades {
		args = append(args, "publicTrade."+sym)
	}
	if set.BookTicker {
		args = append(args, "tickers."+sym)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty channel set")
	}
	return []interface{}{map[string]interface{}{"op": "subscribe", "args": args}}, nil
}

func (p *protocol) Heartbeat(b *connector.Base) error {
	return b.Send(map[string]string{"op": "ping"})
}

type envelope struct {
	Topic   string          `json:"topic"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Data    json.RawMessage `json:"data"`
}

type orderbookData struct {
	Bids [][]string `json:"b"`
	Asks [][]string `json:"a"`
}

type publicTrade struct {
	Price string `json:"p"`
	Size  string `json:"v"`
	Side  string `json:"S"`
}

type tickerData struct {
	Bid1Price string `json:"bid1Price"`
	Bid1Size  string `json:"bid1Size"`
	Ask1Price string `json:"ask1Price"`
	Ask1Size  string `json:"ask1Size"`
}

func (p *protocol) ParseFrame(b *connector.Base, raw []byte) []models.Event {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.CountParseError(err)
		return nil
	}

	if env.Topic == "" {
		switch {
		case env.Op == "subscribe" && env.Success != nil:
			if *env.Success {
				b.MarkActive()
			} else {
				b.MarkSubscribeRejected(env.RetMsg)
			}
		case env.Op == "pong" || env.RetMsg == "pong":
			// keep-alive ack
		}
		return nil
	}

	dot := strings.LastIndex(env.Topic, ".")
	if dot < 0 {
		b.CountParseError(fmt.Errorf("topic %q has no symbol suffix", env.Topic))
		return nil
	}
	symbol := symbols.Canonical(exchangeName, env.Topic[dot+1:])

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		var book orderbookData
		if err := json.Unmarshal(env.Data, &book); err != nil {
			b.CountParseError(err)
			return nil
		}
		update := &models.DepthUpdate{}
		for _, row := range book.Bids {
			if pq, ok := parseRow(row); ok {
				update.Bids = append(update.Bids, pq)
			}
		}
		for _, row := range book.Asks {
			if pq, ok := parseRow(row); ok {
				update.Asks = append(update.Asks, pq)
			}
		}
		return []models.Event{models.NewDepthEvent(exchangeName, symbol, update)}

	case strings.HasPrefix(env.Topic, "publicTrade."):
		var trades []publicTrade
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			b.CountParseError(err)
			return nil
		}
		var out []models.Event
		for _, t := range trades {
			price, err := models.ParsePrice(t.Price)
			if err != nil {
				b.CountParseError(err)
				continue
			}
			side := models.SideSell
			if t.Side == "Buy" {
				side = models.SideBuy
			}
			out = append(out, models.NewTradeEvent(exchangeName, symbol, &models.Trade{
				Price:     price,
				Qty:       qty(t.Size),
				Aggressor: side,
			}))
		}
		return out

	case strings.HasPrefix(env.Topic, "tickers."):
		var tk tickerData
		if err := json.Unmarshal(env.Data, &tk); err != nil {
			b.CountParseError(err)
			return nil
		}
		// Ticker deltas may omit either side; only a frame carrying both is
		// a usable top-of-book update.
		if tk.Bid1Price == "" || tk.Ask1Price == "" {
			return nil
		}
		bid, err1 := models.ParsePrice(tk.Bid1Price)
		ask, err2 := models.ParsePrice(tk.Ask1Price)
		if err1 != nil || err2 != nil {
			b.CountParseError(fmt.Errorf("bad ticker prices %q/%q", tk.Bid1Price, tk.Ask1Price))
			return nil
		}
		return []models.Event{models.NewBookTickerEvent(exchangeName, symbol, &models.BookTicker{
			BestBid:    bid,
			BestBidQty: qty(tk.Bid1Size),
			BestAsk:    ask,
			BestAskQty: qty(tk.Ask1Size),
		})}
	}

	return nil
}

func parseRow(row []string) (models.PriceQty, bool) {
	if len(row) < 2 {
		return models.PriceQty{}, false
	}
	price, err := models.ParsePrice(row[0])
	if err != nil {
		return models.PriceQty{}, false
	}
	return models.PriceQty{Price: price, Qty: qty(row[1])}, true
}

func qty(s string) float64 {
	d, err := models.ParsePrice(s)
	if err != nil {
		return 0
	}
	return d.Float64()
}
