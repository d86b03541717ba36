package orderflow

import (
	"time"

	"tapeflow/models"
)

// Level is one rung of the order-flow ladder. Resting quantities mirror the
// latest depth information, realtime quantities show the most recent tape
// print per side (not a rolling sum) and decay after a display window,
// history quantities accumulate until the daily reset, and cancel quantities
// hold inferred pulled liquidity with their own decay window. Every group
// carries its own last-update stamp.
type Level struct {
	Price models.PriceKey

	RestingBid   float64
	RestingBidAt time.Time
	RestingAsk   float64
	RestingAskAt time.Time

	RealtimeBuy    float64
	RealtimeBuyAt  time.Time
	RealtimeSell   float64
	RealtimeSellAt time.Time

	HistoryBuy  float64
	HistorySell float64

	CancelBid   float64
	CancelBidAt time.Time
	CancelAsk   float64
	CancelAskAt time.Time
}

// inactive reports whether the level carries no quantity at all and is
// therefore a pruning candidate.
func (l *Level) inactive() bool {
	return l.RestingBid == 0 && l.RestingAsk == 0 &&
		l.RealtimeBuy == 0 && l.RealtimeSell == 0 &&
		l.HistoryBuy == 0 && l.HistorySell == 0 &&
		l.CancelBid == 0 && l.CancelAsk == 0
}

// level adds the book-internal bookkeeping that never leaves the engine:
// traded-volume accumulators used for cancel inference and the touch stamp
// used for oldest-inactive-first pruning.
type level struct {
	Level

	// Volume executed against each side since that side's last depth
	// update. A resting decrease beyond this is counted as cancelled.
	tradedBid float64
	tradedAsk float64

	lastTouch time.Time
}
