package market

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// Simulator generates synthetic quotes for the catalog symbols that carry a
// base price. It needs no credentials and never fails, so the rest of the
// system always has some price to display.
type Simulator struct {
	Catalog  *Catalog
	Cache    *Cache
	OnUpdate func(Quote)
	Interval time.Duration
}

// Run ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	if s.Interval <= 0 {
		s.Interval = 500 * time.Millisecond
	}
	log.Println("[market] simulated prices active")

	s.tick()
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick()
		}
	}
}

func (s *Simulator) tick() {
	for symbol, base := range s.Catalog.BasePrices {
		q := s.synthesize(symbol, base)
		if s.Cache.Put(q) && s.OnUpdate != nil {
			s.OnUpdate(q)
		}
	}
}

// synthesize perturbs the base price by up to ±0.005% and applies the
// symbol-class spread.
func (s *Simulator) synthesize(symbol string, base float64) Quote {
	variation := (rand.Float64() - 0.5) * base * 0.0001
	bid := base + variation
	ask := bid + s.Catalog.spreadFor(symbol, base)
	return NewQuote(symbol, bid, ask)
}
