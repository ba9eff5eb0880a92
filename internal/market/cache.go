package market

import (
	"sync"
	"time"
)

// Quote is an immutable bid/ask observation for one symbol. A symbol absent
// from the cache means "no quote available", never a zero-valued Quote.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Mid        float64   `json:"mid"`
	ObservedAt time.Time `json:"time"`
}

// NewQuote derives the mid and stamps the observation time.
func NewQuote(symbol string, bid, ask float64) Quote {
	return Quote{
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Mid:        (bid + ask) / 2,
		ObservedAt: time.Now(),
	}
}

// Cache is the process-wide symbol -> latest quote mapping. Reads never block
// on network I/O; feeds write, everyone else reads.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewCache creates an empty quote cache.
func NewCache() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Put stores a quote and reports whether it changed the cached bid/ask.
// An identical bid/ask is dropped so downstream listeners are not spammed
// with redundant ticks.
func (c *Cache) Put(q Quote) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.quotes[q.Symbol]
	if ok && prev.Bid == q.Bid && prev.Ask == q.Ask {
		return false
	}
	c.quotes[q.Symbol] = q
	return true
}

// Get returns the latest quote for symbol, if any.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// All returns a copy of the full mapping.
func (c *Cache) All() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.quotes))
	for sym, q := range c.quotes {
		out[sym] = q
	}
	return out
}

// Len reports how many symbols currently have a quote.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
