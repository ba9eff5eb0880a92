// Package market maintains the live price cache: a polling or streaming feed
// from the upstream broker API, with a synthetic-price simulator as the
// always-available fallback.
package market

import (
	"context"
	"log"
	"sync"
	"time"

	"bookbridge/internal/creds"
	"bookbridge/internal/events"
	"bookbridge/pkg/metaapi"
)

// State is the ingestion engine's lifecycle state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StatePolling      State = "POLLING"
	StateStreaming    State = "STREAMING"
	StateSimulated    State = "SIMULATED"
)

// Feed mode selectors, from config.
const (
	ModePolling   = "polling"
	ModeStreaming = "streaming"
	ModeSim       = "sim"
)

// Feed is one ingestion strategy. Connect performs the synchronous setup
// (probe, priority warmup or subscription) and fails when the live path is
// unavailable; Run ingests until its context is cancelled.
type Feed interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context)
}

// Engine owns the quote cache and drives one feed at a time.
type Engine struct {
	Mode    string
	Catalog *Catalog
	Bus     *events.Bus

	// StreamURL and NewClient let tests point the feeds at a local server.
	StreamURL func(region string) string
	NewClient func(token, accountID, region string) *metaapi.Client

	cache *Cache

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds an engine in the disconnected state.
func NewEngine(mode string, catalog *Catalog, bus *events.Bus) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{
		Mode:      mode,
		Catalog:   catalog,
		Bus:       bus,
		StreamURL: metaapi.StreamURL,
		NewClient: metaapi.NewClient,
		cache:     NewCache(),
	}
}

// Connect starts ingestion. Unconfigured credentials go straight to the
// simulator; a live setup failure also falls back to the simulator and the
// live path is not retried until Disconnect and a fresh Connect.
func (e *Engine) Connect(ctx context.Context, credentials creds.Credentials) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		log.Println("[market] already connected")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	if e.Mode == ModeSim || !credentials.Configured() {
		if !credentials.Configured() && e.Mode != ModeSim {
			log.Println("[market] credentials not configured, using simulated prices")
		}
		e.startSimulator(runCtx)
		return
	}

	e.setState(StateConnecting)

	feed := e.buildFeed(credentials)
	if err := feed.Connect(runCtx); err != nil {
		log.Printf("[market] live connect failed: %v", err)
		log.Println("[market] falling back to simulated prices")
		e.startSimulator(runCtx)
		return
	}

	if e.Mode == ModeStreaming {
		e.setState(StateStreaming)
	} else {
		e.setState(StatePolling)
	}

	done := e.done
	go func() {
		defer close(done)
		feed.Run(runCtx)
	}()
}

// Disconnect stops all timers and any open stream. Quote reads afterwards
// reflect the frozen cache.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			log.Println("[market] feed did not stop in time")
		}
	}
	e.setState(StateDisconnected)
	log.Println("[market] disconnected")
}

// GetQuote returns the latest quote for symbol, if one exists.
func (e *Engine) GetQuote(symbol string) (Quote, bool) {
	return e.cache.Get(symbol)
}

// GetAllQuotes returns a copy of the full symbol -> quote mapping.
func (e *Engine) GetAllQuotes() map[string]Quote {
	return e.cache.All()
}

// QuoteCount reports how many symbols have a live quote.
func (e *Engine) QuoteCount() int {
	return e.cache.Len()
}

// State returns the current ingestion state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == "" {
		return StateDisconnected
	}
	return e.state
}

// Categorize classifies a symbol using the engine's catalog.
func (e *Engine) Categorize(symbol string) Category {
	return e.Catalog.Categorize(symbol)
}

func (e *Engine) buildFeed(credentials creds.Credentials) Feed {
	if e.Mode == ModeStreaming {
		return &Streamer{
			URL:      e.StreamURL(credentials.Region),
			Token:    credentials.Token,
			Catalog:  e.Catalog,
			Cache:    e.cache,
			OnUpdate: e.publishTick,
			OnState: func(connected bool) {
				if !connected {
					log.Println("[market] price stream disconnected")
				}
			},
		}
	}
	return &Poller{
		Client:   e.NewClient(credentials.Token, credentials.AccountID, credentials.Region),
		Catalog:  e.Catalog,
		Cache:    e.cache,
		OnUpdate: e.publishTick,
	}
}

func (e *Engine) startSimulator(ctx context.Context) {
	sim := &Simulator{
		Catalog:  e.Catalog,
		Cache:    e.cache,
		OnUpdate: e.publishTick,
	}
	e.setState(StateSimulated)
	done := e.doneChan()
	go func() {
		if done != nil {
			defer close(done)
		}
		sim.Run(ctx)
	}()
}

func (e *Engine) doneChan() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) publishTick(q Quote) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(events.EventQuoteTick, events.QuoteTick{
		Symbol: q.Symbol,
		Bid:    q.Bid,
		Ask:    q.Ask,
		Mid:    q.Mid,
		Time:   q.ObservedAt.UnixMilli(),
	})
}

// setState records and announces state transitions, de-duplicated.
func (e *Engine) setState(next State) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	e.mu.Unlock()

	if prev == next {
		return
	}
	log.Printf("[market] state %s -> %s", orDisconnected(prev), next)
	if e.Bus != nil {
		e.Bus.Publish(events.EventFeedStateChange, string(next))
	}
}

func orDisconnected(s State) State {
	if s == "" {
		return StateDisconnected
	}
	return s
}
