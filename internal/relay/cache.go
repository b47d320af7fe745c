// Package relay caches the relay/reflection server list used to configure
// new peer connections.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"watch_together/native/internal/domain"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL         = 60 * time.Second
	DefaultFallbackTTL = 30 * time.Second
)

var errEmpty = errors.New("empty server list")

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	TTL         time.Duration
	FallbackTTL time.Duration
	Fallback    []domain.ICEServer
}

// Cache holds the last fetched server list and its expiry. Concurrent
// refreshes share one in-flight fetch.
type Cache struct {
	fetcher  domain.RelayFetcher
	ttl      time.Duration
	fbTTL    time.Duration
	fallback []domain.ICEServer
	now      func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	servers []domain.ICEServer
	expires time.Time
}

// NewCache creates a cache backed by fetcher.
func NewCache(fetcher domain.RelayFetcher, opts Options) *Cache {
	c := &Cache{
		fetcher:  fetcher,
		ttl:      opts.TTL,
		fbTTL:    opts.FallbackTTL,
		fallback: opts.Fallback,
		now:      time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.fbTTL <= 0 {
		c.fbTTL = DefaultFallbackTTL
	}
	if len(c.fallback) == 0 {
		c.fallback = domain.DefaultICEServers
	}
	return c
}

// Servers returns the cached list while it is fresh, unless force is set.
// Otherwise it joins or starts a refresh. A failed or empty fetch yields the
// fallback list, cached for the shorter fallback lifetime.
func (c *Cache) Servers(ctx context.Context, force bool) []domain.ICEServer {
	if !force {
		if servers, ok := c.fresh(); ok {
			return servers
		}
	}

	// The shared fetch is not tied to the caller that started it. The
	// fetcher's own timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("servers", func() (any, error) {
		if !force {
			if servers, ok := c.fresh(); ok {
				return servers, nil
			}
		}
		return c.refresh(fetchCtx), nil
	})

	select {
	case res := <-ch:
		return res.Val.([]domain.ICEServer)
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.servers) > 0 {
			return c.servers
		}
		return c.fallback
	}
}

// Expires reports when the cached list goes stale.
func (c *Cache) Expires() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expires
}

func (c *Cache) fresh() ([]domain.ICEServer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.servers) > 0 && c.now().Before(c.expires) {
		return c.servers, true
	}
	return nil, false
}

func (c *Cache) refresh(ctx context.Context) []domain.ICEServer {
	servers, err := c.fetcher.FetchRelayServers(ctx)
	if err == nil && len(servers) == 0 {
		err = errEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		log.Printf("[relay] fetch failed, using fallback: %v", err)
		c.servers = c.fallback
		c.expires = c.now().Add(c.fbTTL)
		return c.servers
	}

	log.Printf("[relay] fetched %d servers", len(servers))
	c.servers = servers
	c.expires = c.now().Add(c.ttl)
	return c.servers
}
