package push

import (
	"context"
	"errors"
	"log"
	"time"

	"bookbridge/internal/creds"
	"bookbridge/internal/events"
	"bookbridge/pkg/db"
	"bookbridge/pkg/metaapi"
)

const retryBackoff = 2 * time.Second

// TradeStore is the narrow persistence surface the pipeline writes through.
type TradeStore interface {
	GetUserBookType(ctx context.Context, userID string) (string, error)
	UpdateTradePushStatus(ctx context.Context, tradeID string, upd db.PushStatusUpdate) error
}

// CredentialSource resolves the active upstream credentials.
type CredentialSource interface {
	Get(ctx context.Context) creds.Credentials
}

// ConnectionStatus is the result of probing the upstream account.
type ConnectionStatus struct {
	Connected bool         `json:"connected"`
	Error     string       `json:"error,omitempty"`
	Source    creds.Source `json:"source,omitempty"`
	Platform  string       `json:"platform,omitempty"`
	Broker    string       `json:"broker,omitempty"`
	Server    string       `json:"server,omitempty"`
	Login     string       `json:"login,omitempty"`
	Name      string       `json:"name,omitempty"`
	Balance   float64      `json:"balance,omitempty"`
	Equity    float64      `json:"equity,omitempty"`
	Currency  string       `json:"currency,omitempty"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// Pipeline mirrors book-A trades to the upstream broker and records the
// outcome on the local trade row. Book-B trades never leave the process.
type Pipeline struct {
	Store TradeStore
	Creds CredentialSource
	Bus   *events.Bus // optional

	// NewClient lets tests point the pipeline at a local server.
	NewClient func(token, accountID, region string) *metaapi.Client

	// Backoff before the single rate-limit retry.
	Backoff time.Duration
}

func NewPipeline(store TradeStore, source CredentialSource, bus *events.Bus) *Pipeline {
	return &Pipeline{
		Store:     store,
		Creds:     source,
		Bus:       bus,
		NewClient: metaapi.NewClient,
		Backoff:   retryBackoff,
	}
}

// PushTrade mirrors a freshly opened trade upstream. Trades owned by book-B
// users are skipped silently; every other failure is written back to the
// trade row so an operator can see why the push never landed.
func (p *Pipeline) PushTrade(ctx context.Context, trade db.Trade) error {
	book, err := p.Store.GetUserBookType(ctx, trade.UserID)
	if err != nil {
		return err
	}
	if book != db.BookA {
		return nil
	}

	cr := p.Creds.Get(ctx)
	if !cr.Configured() {
		return p.fail(ctx, trade.ID, "MetaApi not configured")
	}

	if err := p.Store.UpdateTradePushStatus(ctx, trade.ID, db.PushStatusUpdate{
		Status: db.PushPending,
	}); err != nil {
		return err
	}

	req := metaapi.TradeRequest{
		ActionType: metaapi.ActionBuy,
		Symbol:     trade.Symbol,
		Volume:     trade.Volume,
		StopLoss:   trade.StopLoss,
		TakeProfit: trade.TakeProfit,
		Comment:    "AB-" + trade.ID,
	}
	if trade.Side == "SELL" {
		req.ActionType = metaapi.ActionSell
	}

	client := p.NewClient(cr.Token, cr.AccountID, cr.Region)
	resp, err := client.SubmitTrade(ctx, req)
	if err != nil {
		log.Printf("[push] trade %s push failed: %v", trade.ID, err)
		return p.fail(ctx, trade.ID, err.Error())
	}

	ticket := resp.TicketID()
	now := time.Now()
	if err := p.Store.UpdateTradePushStatus(ctx, trade.ID, db.PushStatusUpdate{
		Status:     db.PushPushed,
		PositionID: &ticket,
		PushedAt:   &now,
	}); err != nil {
		return err
	}
	log.Printf("[push] trade %s pushed, position %s", trade.ID, ticket)
	p.publish(events.EventTradePushed, events.PushResult{TradeID: trade.ID, PositionID: ticket})
	return nil
}

// CloseTrade closes the upstream position mirroring a locally closed trade.
// Nothing to do when credentials are unconfigured or the trade never made it
// upstream.
func (p *Pipeline) CloseTrade(ctx context.Context, trade db.Trade) error {
	if trade.PositionID == "" {
		return nil
	}
	cr := p.Creds.Get(ctx)
	if !cr.Configured() {
		return nil
	}

	client := p.NewClient(cr.Token, cr.AccountID, cr.Region)
	_, err := client.SubmitTrade(ctx, metaapi.TradeRequest{
		ActionType: metaapi.ActionCloseID,
		PositionID: trade.PositionID,
	})
	if err != nil {
		log.Printf("[push] trade %s close failed: %v", trade.ID, err)
		// PositionID stays untouched so the close can be retried.
		if werr := p.Store.UpdateTradePushStatus(ctx, trade.ID, db.PushStatusUpdate{
			Status: db.PushCloseFailed,
			Error:  err.Error(),
		}); werr != nil {
			return werr
		}
		p.publish(events.EventTradeCloseFailed, events.PushResult{TradeID: trade.ID, Error: err.Error()})
		return nil
	}

	if err := p.Store.UpdateTradePushStatus(ctx, trade.ID, db.PushStatusUpdate{
		Status: db.PushClosed,
	}); err != nil {
		return err
	}
	log.Printf("[push] trade %s closed upstream (position %s)", trade.ID, trade.PositionID)
	p.publish(events.EventTradeClosed, events.PushResult{TradeID: trade.ID, PositionID: trade.PositionID})
	return nil
}

// TestConnection probes the upstream with explicit candidate credentials.
// It never touches the credential cache, so an operator can validate new
// settings before committing them.
func (p *Pipeline) TestConnection(ctx context.Context, token, accountID, region string) ConnectionStatus {
	client := p.NewClient(token, accountID, region)
	info, err := p.fetchAccountInfo(ctx, client)
	if err != nil {
		return ConnectionStatus{Error: err.Error(), CheckedAt: time.Now()}
	}
	return statusFromInfo(info, "")
}

// GetPositions returns the upstream open positions, or an empty list when
// unconfigured or on any fetch error.
func (p *Pipeline) GetPositions(ctx context.Context) []metaapi.Position {
	cr := p.Creds.Get(ctx)
	if !cr.Configured() {
		return []metaapi.Position{}
	}
	client := p.NewClient(cr.Token, cr.AccountID, cr.Region)
	positions, err := client.GetPositions(ctx)
	if err != nil {
		log.Printf("[push] positions fetch failed: %v", err)
		return []metaapi.Position{}
	}
	if positions == nil {
		positions = []metaapi.Position{}
	}
	return positions
}

// fetchAccountInfo retries once after a fixed backoff when rate limited.
func (p *Pipeline) fetchAccountInfo(ctx context.Context, client *metaapi.Client) (*metaapi.AccountInformation, error) {
	info, err := client.GetAccountInformation(ctx)
	if !errors.Is(err, metaapi.ErrRateLimited) {
		return info, err
	}
	log.Printf("[push] rate limited, retrying in %s", p.Backoff)
	select {
	case <-time.After(p.Backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client.GetAccountInformation(ctx)
}

func (p *Pipeline) fail(ctx context.Context, tradeID, msg string) error {
	if err := p.Store.UpdateTradePushStatus(ctx, tradeID, db.PushStatusUpdate{
		Status: db.PushFailed,
		Error:  msg,
	}); err != nil {
		return err
	}
	p.publish(events.EventTradePushFailed, events.PushResult{TradeID: tradeID, Error: msg})
	return nil
}

func (p *Pipeline) publish(event events.Event, payload any) {
	if p.Bus != nil {
		p.Bus.Publish(event, payload)
	}
}

func statusFromInfo(info *metaapi.AccountInformation, source creds.Source) ConnectionStatus {
	return ConnectionStatus{
		Connected: true,
		Source:    source,
		Platform:  info.Platform,
		Broker:    info.Broker,
		Server:    info.Server,
		Login:     info.Login,
		Name:      info.Name,
		Balance:   info.Balance,
		Equity:    info.Equity,
		Currency:  info.Currency,
		CheckedAt: time.Now(),
	}
}
