// Package okx implements the connector protocol for OKX v5 public
// websocket streams (perpetual swaps).
package okx

import (
	"bytes"
	"encoding/json"
	"fmt"

	"tapeflow/connector"
	"tapeflow/internal/symbols"
	"tapeflow/models"
)

const exchangeName = "okx"

// Connector is the OKX public-stream feed.
type Connector struct {
	*connector.Base
}

// New builds an OKX connector.
func New(opts connector.Options) *Connector {
	p := &protocol{}
	return &Connector{Base: connector.NewBase(exchangeName, opts, p)}
}

// protocol speaks the v5 envelope: {"op":"subscribe","args":[{channel,
// instId}...]} requests, {"event":"subscribe"} acks, and {"arg":{...},
// "data":[...]} payloads. Keep-alive is a bare "ping" text frame answered
// with "pong".
type protocol struct{}

func (p *protocol) SubscribeFrames(symbol string, set connector.ChannelSet) ([]interface{}, error) {
	instID := symbols.Native(exchangeName, symbol)
	var args []map[string]string
	if set.Depth {
		args = append(args, map[string]string{"channel": "books", "instId": instID})
	}
	if set.Trades {
		args = append(args, map[string]string{"channel": "trades", "instId": instID})
	}
	if set.BookTicker {
		args = append(args, map[string]string{"channel": "bbo-tbt", "instId": instID})
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty channel set")
	}
	return []interface{}{map[string]interface{}{"op": "subscribe", "args": args}}, nil
}

func (p *protocol) Heartbeat(b *connector.Base) error {
	return b.SendText([]byte("ping"))
}

type envelope struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type bookData struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type tradeData struct {
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
}

func (p *protocol) ParseFrame(b *connector.Base, raw []byte) []models.Event {
	if bytes.Equal(raw, []byte("pong")) {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.CountParseError(err)
		return nil
	}

	switch env.Event {
	case "subscribe":
		b.MarkActive()
		return nil
	case "error":
		b.MarkSubscribeRejected(fmt.Sprintf("code %s: %s", env.Code, env.Msg))
		return nil
	case "":
		// data frame, handled below
	default:
		return nil
	}
	if len(env.Data) == 0 {
		return nil
	}

	symbol := symbols.Canonical(exchangeName, env.Arg.InstID)

	switch env.Arg.Channel {
	case "books", "bbo-tbt":
		var books []bookData
		if err := json.Unmarshal(env.Data, &books); err != nil {
			b.CountParseError(err)
			return nil
		}
		var out []models.Event
		for _, book := range books {
			if env.Arg.Channel == "bbo-tbt" {
				if ev, ok := bboEvent(symbol, book); ok {
					out = append(out, ev)
				}
				continue
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
			out = append(out, models.NewDepthEvent(exchangeName, symbol, update))
		}
		return out

	case "trades":
		var trades []tradeData
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			b.CountParseError(err)
			return nil
		}
		var out []models.Event
		for _, t := range trades {
			price, err := models.ParsePrice(t.Px)
			if err != nil {
				b.CountParseError(err)
				continue
			}
			side := models.SideSell
			if t.Side == "buy" {
				side = models.SideBuy
			}
			out = append(out, models.NewTradeEvent(exchangeName, symbol, &models.Trade{
				Price:     price,
				Qty:       qty(t.Sz),
				Aggressor: side,
			}))
		}
		return out
	}

	return nil
}

// bboEvent turns a best-bid/offer row pair into a book ticker event.
func bboEvent(symbol string, book bookData) (models.Event, bool) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return models.Event{}, false
	}
	bidRow, askRow := book.Bids[0], book.Asks[0]
	if len(bidRow) < 2 || len(askRow) < 2 {
		return models.Event{}, false
	}
	bid, err1 := models.ParsePrice(bidRow[0])
	ask, err2 := models.ParsePrice(askRow[0])
	if err1 != nil || err2 != nil {
		return models.Event{}, false
	}
	return models.NewBookTickerEvent(exchangeName, symbol, &models.BookTicker{
		BestBid:    bid,
		BestBidQty: qty(bidRow[1]),
		BestAsk:    ask,
		BestAskQty: qty(askRow[1]),
	}), true
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
