package push

import (
	"context"
	"log"
	"sync"
	"time"
)

// StatusCache caches the upstream connection status so the admin panel can
// poll it without hammering the account-information endpoint. A stale entry
// beats an error for display purposes, so upstream failures fall back to the
// last known value when one exists.
type StatusCache struct {
	pipeline *Pipeline
	source   CredentialSource
	ttl      time.Duration

	mu        sync.Mutex
	cached    *ConnectionStatus
	fetchedAt time.Time
}

func NewStatusCache(pipeline *Pipeline, source CredentialSource, ttl time.Duration) *StatusCache {
	return &StatusCache{pipeline: pipeline, source: source, ttl: ttl}
}

// Get returns the current connection status, fetching from the upstream at
// most once per TTL.
func (s *StatusCache) Get(ctx context.Context) ConnectionStatus {
	cr := s.source.Get(ctx)
	if !cr.Configured() {
		return ConnectionStatus{
			Error:     "not configured",
			Source:    cr.Source,
			CheckedAt: time.Now(),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		return *s.cached
	}

	client := s.pipeline.NewClient(cr.Token, cr.AccountID, cr.Region)
	info, err := s.pipeline.fetchAccountInfo(ctx, client)
	if err != nil {
		log.Printf("[push] status check failed: %v", err)
		if s.cached != nil {
			return *s.cached
		}
		return ConnectionStatus{
			Error:     err.Error(),
			Source:    cr.Source,
			CheckedAt: time.Now(),
		}
	}

	status := statusFromInfo(info, cr.Source)
	s.cached = &status
	s.fetchedAt = time.Now()
	return status
}

// Invalidate drops the cached status. Call it whenever credentials change so
// a stale connected account does not linger.
func (s *StatusCache) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}
