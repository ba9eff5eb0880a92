package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"bookbridge/pkg/metaapi"
)

const (
	pollBatchSize    = 10
	pollInterval     = 2 * time.Second
	rateLimitBackoff = 2 * time.Second
	// One point request per 100ms, matching the upstream's comfort zone.
	requestsPerSecond = 10
)

// Poller ingests prices over the upstream REST API, rotating through the
// symbol universe in fixed-size batches.
type Poller struct {
	Client   *metaapi.Client
	Catalog  *Catalog
	Cache    *Cache
	OnUpdate func(Quote)

	limiter *rate.Limiter
	window  int
}

// Connect probes the upstream with one priority symbol and, on success,
// loads the full priority set before regular rotation begins.
func (p *Poller) Connect(ctx context.Context) error {
	if p.limiter == nil {
		p.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	probe := "EURUSD"
	if len(p.Catalog.Priority) > 0 {
		probe = p.Catalog.Priority[0]
	}
	price, err := p.Client.GetSymbolPrice(ctx, probe)
	if err != nil {
		return fmt.Errorf("probe %s: %w", probe, err)
	}
	if price == nil {
		return fmt.Errorf("probe %s: no price from upstream", probe)
	}
	log.Printf("[market] connected, %s bid=%v ask=%v", probe, price.Bid, price.Ask)

	fetched, errs := p.fetchBatch(ctx, p.Catalog.Priority)
	log.Printf("[market] priority warmup: %d prices, %d errors", fetched, errs)
	return nil
}

// Run rotates through the symbol universe until ctx is cancelled. The window
// index wraps to zero after covering all symbols.
func (p *Poller) Run(ctx context.Context) {
	symbols := p.Catalog.All()
	log.Printf("[market] polling %d symbols (%d per %v)", len(symbols), pollBatchSize, pollInterval)

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			end := p.window + pollBatchSize
			if end > len(symbols) {
				end = len(symbols)
			}
			batch := symbols[p.window:end]
			if len(batch) == 0 {
				p.window = 0
				continue
			}

			p.fetchBatch(ctx, batch)

			p.window += pollBatchSize
			if p.window >= len(symbols) {
				p.window = 0
			}
		}
	}
}

// fetchBatch fetches point prices sequentially, throttled and with a fixed
// pause on rate limiting. A 404 ("symbol unsupported") is a normal empty
// result, not an error.
func (p *Poller) fetchBatch(ctx context.Context, symbols []string) (fetched, errs int) {
	for _, symbol := range symbols {
		if err := p.limiter.Wait(ctx); err != nil {
			return fetched, errs
		}

		price, err := p.Client.GetSymbolPrice(ctx, symbol)
		if err != nil {
			errs++
			if errors.Is(err, metaapi.ErrRateLimited) {
				select {
				case <-ctx.Done():
					return fetched, errs
				case <-time.After(rateLimitBackoff):
				}
			}
			continue
		}
		if price == nil || (price.Bid == 0 && price.Ask == 0) {
			continue
		}

		q := NewQuote(symbol, price.Bid, price.Ask)
		if p.Cache.Put(q) && p.OnUpdate != nil {
			p.OnUpdate(q)
		}
		fetched++
	}
	return fetched, errs
}
