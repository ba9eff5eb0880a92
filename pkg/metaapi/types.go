package metaapi

// Price is a bid/ask pair for one symbol as returned by the upstream.
type Price struct {
	Symbol string  `json:"symbol,omitempty"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Trade action types accepted by the /trade endpoint.
const (
	ActionBuy     = "ORDER_TYPE_BUY"
	ActionSell    = "ORDER_TYPE_SELL"
	ActionCloseID = "POSITION_CLOSE_ID"
)

// TradeRequest is the body of POST /users/current/accounts/{id}/trade.
// For POSITION_CLOSE_ID only ActionType and PositionID are sent.
type TradeRequest struct {
	ActionType string  `json:"actionType"`
	Symbol     string  `json:"symbol,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	PositionID string  `json:"positionId,omitempty"`
}

// TradeResponse is the upstream ack for a trade request.
type TradeResponse struct {
	NumericCode int    `json:"numericCode"`
	StringCode  string `json:"stringCode"`
	Message     string `json:"message"`
	OrderID     string `json:"orderId"`
	PositionID  string `json:"positionId"`
}

// TicketID returns the position id, falling back to the order id.
func (r TradeResponse) TicketID() string {
	if r.PositionID != "" {
		return r.PositionID
	}
	return r.OrderID
}

// AccountInformation describes the connected broker account.
type AccountInformation struct {
	Platform string  `json:"platform"`
	Broker   string  `json:"broker"`
	Server   string  `json:"server"`
	Login    string  `json:"login"`
	Name     string  `json:"name"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
}

// Position is one open position on the upstream account. The admin UI renders
// it verbatim, so it stays close to the wire shape.
type Position struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	OpenPrice    float64 `json:"openPrice"`
	CurrentPrice float64 `json:"currentPrice"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	Comment      string  `json:"comment"`
}
