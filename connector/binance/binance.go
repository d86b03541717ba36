// Package binance implements the connector protocol for Binance USD-M
// futures combined streams.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tapeflow/connector"
	"tapeflow/internal/symbols"
	"tapeflow/logger"
	"tapeflow/models"
)

const exchangeName = "binance"

// Connector is the Binance futures feed: combined streams over one
// websocket, plus a REST depth snapshot to bootstrap the ladder on
// subscribe.
type Connector struct {
	*connector.Base
	proto *protocol

	snapshotDepth int
	rest          *futures.Client
	log           *logger.Entry
}

// New builds a Binance connector. snapshotDepth rows are fetched over REST
// when a subscription starts; zero disables the bootstrap.
func New(opts connector.Options, snapshotDepth int) *Connector {
	p := &protocol{}
	c := &Connector{
		proto:         p,
		snapshotDepth: snapshotDepth,
		rest:          futures.NewClient("", ""),
		log:           logger.GetLogger().WithComponent("connector").WithFields(logger.Fields{"exchange": exchangeName}),
	}
	c.Base = connector.NewBase(exchangeName, opts, p)
	return c
}

// Subscribe requests the streams and kicks off the REST snapshot bootstrap
// so the ladder starts from full depth instead of trickling in.
func (c *Connector) Subscribe(symbol string, set connector.ChannelSet) error {
	if err := c.Base.Subscribe(symbol, set); err != nil {
		return err
	}
	if set.Depth && c.snapshotDepth > 0 {
		go c.bootstrapDepth(symbol)
	}
	return nil
}

func (c *Connector) bootstrapDepth(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := c.rest.NewDepthService().Symbol(strings.ToUpper(symbol)).Limit(c.snapshotDepth).Do(ctx)
	if err != nil {
		c.log.WithError(err).Warn("depth snapshot bootstrap failed")
		return
	}

	update := &models.DepthUpdate{}
	for _, b := range res.Bids {
		price, err := models.ParsePrice(b.Price)
		if err != nil {
			continue
		}
		update.Bids = append(update.Bids, models.PriceQty{Price: price, Qty: parseQty(b.Quantity)})
	}
	for _, a := range res.Asks {
		price, err := models.ParsePrice(a.Price)
		if err != nil {
			continue
		}
		update.Asks = append(update.Asks, models.PriceQty{Price: price, Qty: parseQty(a.Quantity)})
	}

	c.InjectEvent(models.NewDepthEvent(exchangeName, symbols.Canonical(exchangeName, symbol), update))
	c.log.WithFields(logger.Fields{"symbol": symbol, "bids": len(update.Bids), "asks": len(update.Asks)}).Info("depth snapshot bootstrapped")
}

// protocol speaks the combined-stream envelope: every data frame is
// {"stream":"<sym>@<channel>","data":{...}} and subscribe management uses
// the SUBSCRIBE method with a request id.
type protocol struct {
	reqID atomic.Int64
}

func (p *protocol) SubscribeFrames(symbol string, set connector.ChannelSet) ([]interface{}, error) {
	sym := strings.ToLower(symbols.Native(exchangeName, symbol))
	var params []string
	if set.Depth {
		params = append(params, sym+"@depth@100ms")
	}
	if set.Trades {
		params = append(params, sym+"@aggTrade")
	}
	if set.BookTicker {
		params = append(params, sym+"@bookTicker")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("empty channel set")
	}
	return []interface{}{map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     p.reqID.Add(1),
	}}, nil
}

func (p *protocol) Heartbeat(b *connector.Base) error {
	// Binance sends protocol-level pings; the client only needs to keep the
	// socket warm. An unsubscribed LIST_SUBSCRIPTIONS round trip serves as
	// an application-level liveness probe.
	return b.Send(map[string]interface{}{"method": "LIST_SUBSCRIPTIONS", "id": p.reqID.Add(1)})
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	// Management responses arrive outside the stream envelope.
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
}

type depthFrame struct {
	Bids [][]string `json:"b"`
	Asks [][]string `json:"a"`
}

type aggTradeFrame struct {
	Price        string `json:"p"`
	Qty          string `json:"q"`
	IsBuyerMaker bool   `json:"m"`
}

type bookTickerFrame struct {
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func (p *protocol) ParseFrame(b *connector.Base, raw []byte) []models.Event {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		b.CountParseError(err)
		return nil
	}

	if frame.Stream == "" {
		// Subscribe ack ({"result":null,"id":N}) or an error envelope.
		if frame.ID != nil {
			if frame.Code != 0 {
				b.MarkSubscribeRejected(frame.Msg)
			} else {
				b.MarkActive()
			}
		}
		return nil
	}

	at := strings.LastIndex(frame.Stream, "@")
	if at < 0 {
		b.CountParseError(fmt.Errorf("stream %q has no channel suffix", frame.Stream))
		return nil
	}
	symbol := symbols.Canonical(exchangeName, frame.Stream[:at])
	channel := frame.Stream[at+1:]

	switch {
	case strings.HasPrefix(channel, "depth") || strings.Contains(frame.Stream, "@depth"):
		var d depthFrame
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			b.CountParseError(err)
			return nil
		}
		update := &models.DepthUpdate{}
		for _, row := range d.Bids {
			if pq, ok := parseRow(row); ok {
				update.Bids = append(update.Bids, pq)
			}
		}
		for _, row := range d.Asks {
			if pq, ok := parseRow(row); ok {
				update.Asks = append(update.Asks, pq)
			}
		}
		return []models.Event{models.NewDepthEvent(exchangeName, symbol, update)}

	case channel == "aggTrade":
		var t aggTradeFrame
		if err := json.Unmarshal(frame.Data, &t); err != nil {
			b.CountParseError(err)
			return nil
		}
		price, err := models.ParsePrice(t.Price)
		if err != nil {
			b.CountParseError(err)
			return nil
		}
		side := models.SideBuy
		if t.IsBuyerMaker {
			// Buyer was the resting maker, so the taker sold.
			side = models.SideSell
		}
		return []models.Event{models.NewTradeEvent(exchangeName, symbol, &models.Trade{
			Price:     price,
			Qty:       parseQty(t.Qty),
			Aggressor: side,
		})}

	case channel == "bookTicker":
		var bt bookTickerFrame
		if err := json.Unmarshal(frame.Data, &bt); err != nil {
			b.CountParseError(err)
			return nil
		}
		bid, err1 := models.ParsePrice(bt.BidPrice)
		ask, err2 := models.ParsePrice(bt.AskPrice)
		if err1 != nil || err2 != nil {
			b.CountParseError(fmt.Errorf("bad book ticker prices %q/%q", bt.BidPrice, bt.AskPrice))
			return nil
		}
		return []models.Event{models.NewBookTickerEvent(exchangeName, symbol, &models.BookTicker{
			BestBid:    bid,
			BestBidQty: parseQty(bt.BidQty),
			BestAsk:    ask,
			BestAskQty: parseQty(bt.AskQty),
		})}
	}

	// Unrequested stream types are not an error, just noise.
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
	return models.PriceQty{Price: price, Qty: parseQty(row[1])}, true
}

func parseQty(s string) float64 {
	d, err := models.ParsePrice(s)
	if err != nil {
		return 0
	}
	return d.Float64()
}
