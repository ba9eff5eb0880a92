// Package creds resolves the active upstream credentials, preferring the
// operator-saved settings row over environment defaults, with a short-lived
// cache so the settings table is not hit on every push or status read.
package creds

import (
	"context"
	"log"
	"sync"
	"time"

	"bookbridge/pkg/db"
	"bookbridge/pkg/metaapi"
)

// Source tags where a credential set came from.
type Source string

const (
	SourcePersisted   Source = "database"
	SourceEnvironment Source = "env"
)

// Credentials is a resolved upstream credential set. Empty Token or
// AccountID means "not configured"; callers must treat it as such.
type Credentials struct {
	Token     string
	AccountID string
	Region    string
	Source    Source
}

// Configured reports whether the set can be used against the upstream.
func (c Credentials) Configured() bool {
	return c.Token != "" && c.AccountID != ""
}

// SettingsSource loads the persisted settings row.
type SettingsSource interface {
	GetSettings(ctx context.Context) (*db.BrokerSettings, error)
}

// TokenOpener unseals a token stored encrypted at rest (secrets.Box).
type TokenOpener interface {
	Unseal(value string) (string, error)
}

// EnvDefaults are the environment-supplied fallback credentials.
type EnvDefaults struct {
	Token     string
	AccountID string
	Region    string
}

// Store caches resolved credentials for a bounded TTL.
type Store struct {
	settings SettingsSource
	opener   TokenOpener // optional
	env      EnvDefaults
	ttl      time.Duration

	mu       sync.Mutex
	cached   Credentials
	cachedAt time.Time
}

// NewStore builds a credential store. opener may be nil.
func NewStore(settings SettingsSource, opener TokenOpener, env EnvDefaults, ttl time.Duration) *Store {
	if env.Region == "" {
		env.Region = metaapi.DefaultRegion
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{settings: settings, opener: opener, env: env, ttl: ttl}
}

// Get returns the active credentials, re-resolving from the settings store
// when the cache has expired. The environment fallback never fails; an
// unconfigured system yields empty token/account values.
func (s *Store) Get(ctx context.Context) Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cachedAt.IsZero() && time.Since(s.cachedAt) < s.ttl {
		return s.cached
	}

	s.cached = s.resolve(ctx)
	s.cachedAt = time.Now()
	return s.cached
}

// Invalidate clears the cache so the next Get re-resolves. Must be called
// whenever the operator updates or deletes settings.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = Credentials{}
	s.cachedAt = time.Time{}
}

func (s *Store) resolve(ctx context.Context) Credentials {
	if s.settings != nil {
		settings, err := s.settings.GetSettings(ctx)
		switch {
		case err != nil:
			log.Printf("[creds] load settings: %v", err)
		case settings.IsActive && settings.Token != "" && settings.AccountID != "":
			token := settings.Token
			if s.opener != nil {
				plain, err := s.opener.Unseal(token)
				if err != nil {
					log.Printf("[creds] unseal token: %v", err)
					break
				}
				token = plain
			}
			region := settings.Region
			if region == "" {
				region = metaapi.DefaultRegion
			}
			return Credentials{
				Token:     token,
				AccountID: settings.AccountID,
				Region:    region,
				Source:    SourcePersisted,
			}
		}
	}

	return Credentials{
		Token:     s.env.Token,
		AccountID: s.env.AccountID,
		Region:    s.env.Region,
		Source:    SourceEnvironment,
	}
}
