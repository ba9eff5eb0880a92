package events

// Event identifies a bus topic.
type Event string

const (
	EventQuoteTick        Event = "quote.tick"
	EventFeedStateChange  Event = "feed.state"
	EventTradePushed      Event = "trade.pushed"
	EventTradePushFailed  Event = "trade.push_failed"
	EventTradeClosed      Event = "trade.closed"
	EventTradeCloseFailed Event = "trade.close_failed"
)

// QuoteTick is the payload for EventQuoteTick.
type QuoteTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Mid    float64 `json:"mid"`
	Time   int64   `json:"time"` // unix ms
}

// PushResult is the payload for the trade push/close events.
type PushResult struct {
	TradeID    string `json:"tradeId"`
	PositionID string `json:"positionId,omitempty"`
	Error      string `json:"error,omitempty"`
}
