package db

import "time"

// Book types for user classification. A-book trades are mirrored upstream
// and read-only to the operator; B-book trades stay local and editable.
const (
	BookA = "A"
	BookB = "B"
)

// Push statuses recorded on a trade as it moves through the bridge.
const (
	PushPending     = "PENDING"
	PushPushed      = "PUSHED"
	PushFailed      = "FAILED"
	PushClosed      = "CLOSED"
	PushCloseFailed = "CLOSE_FAILED"
)

// User is a trading-platform user as seen by the admin panel.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	BookType     string    `json:"bookType"`
	IsAdmin      bool      `json:"isAdmin"`
	IsBlocked    bool      `json:"isBlocked"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Trade is a platform trade plus its upstream push bookkeeping.
type Trade struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"` // BUY or SELL
	Volume     float64    `json:"volume"`
	OpenPrice  float64    `json:"openPrice"`
	ClosePrice *float64   `json:"closePrice,omitempty"`
	StopLoss   float64    `json:"stopLoss,omitempty"`
	TakeProfit float64    `json:"takeProfit,omitempty"`
	Status     string     `json:"status"` // OPEN or CLOSED
	PushStatus string     `json:"pushStatus,omitempty"`
	PositionID string     `json:"positionId,omitempty"`
	PushError  string     `json:"pushError,omitempty"`
	PushedAt   *time.Time `json:"pushedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

// BrokerSettings is the singleton upstream-credential row.
type BrokerSettings struct {
	Token           string     `json:"token"`
	AccountID       string     `json:"accountId"`
	Region          string     `json:"region"`
	Label           string     `json:"label"`
	IsActive        bool       `json:"isActive"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
}

// PushStatusUpdate is the narrow write applied to a trade by the push pipeline.
// Nil PositionID leaves the stored id untouched.
type PushStatusUpdate struct {
	Status     string
	PositionID *string
	Error      string
	PushedAt   *time.Time
}

// PushStats aggregates trade push outcomes for the status endpoint.
type PushStats struct {
	Pushed  int `json:"pushed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// BookStats counts users per book for the admin table header.
type BookStats struct {
	TotalABook int `json:"totalABook"`
	TotalBBook int `json:"totalBBook"`
	Total      int `json:"total"`
}
