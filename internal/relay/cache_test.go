package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"watch_together/native/internal/api"
	"watch_together/native/internal/domain"
)

type mockFetcher struct {
	calls   atomic.Int32
	gate    chan struct{}
	servers []domain.ICEServer
	err     error
}

func (m *mockFetcher) FetchRelayServers(ctx context.Context) ([]domain.ICEServer, error) {
	m.calls.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.servers, m.err
}

var turn = []domain.ICEServer{{URLs: domain.URLList{"turn:relay.example:3478"}, Username: "u", Credential: "p"}}

func newTestCache(f domain.RelayFetcher, clock *time.Time) *Cache {
	c := NewCache(f, Options{})
	c.now = func() time.Time { return *clock }
	return c
}

func TestServersCachesSuccessForSixtySeconds(t *testing.T) {
	clock := time.Unix(1000, 0)
	f := &mockFetcher{servers: turn}
	c := newTestCache(f, &clock)

	got := c.Servers(context.Background(), false)
	if len(got) != 1 || got[0].URLs[0] != "turn:relay.example:3478" {
		t.Fatalf("servers = %v", got)
	}
	if want := clock.Add(60 * time.Second); !c.Expires().Equal(want) {
		t.Errorf("expires = %v, want %v", c.Expires(), want)
	}

	clock = clock.Add(59 * time.Second)
	c.Servers(context.Background(), false)
	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetches within ttl = %d, want 1", n)
	}

	clock = clock.Add(2 * time.Second)
	c.Servers(context.Background(), false)
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fetches after expiry = %d, want 2", n)
	}
}

func TestServersFallbackOnDirectoryHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := time.Unix(1000, 0)
	c := newTestCache(api.NewClient(srv.URL), &clock)

	got := c.Servers(context.Background(), false)
	if len(got) != 1 || got[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("servers = %v, want default STUN", got)
	}
	if want := clock.Add(30 * time.Second); !c.Expires().Equal(want) {
		t.Errorf("expires = %v, want %v", c.Expires(), want)
	}
}

func TestServersFallbackOnEmptyList(t *testing.T) {
	clock := time.Unix(1000, 0)
	c := newTestCache(&mockFetcher{}, &clock)

	got := c.Servers(context.Background(), false)
	if len(got) != 1 || got[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("servers = %v, want default STUN", got)
	}
	if want := clock.Add(30 * time.Second); !c.Expires().Equal(want) {
		t.Errorf("expires = %v, want %v", c.Expires(), want)
	}
}

func TestServersSharesInFlightFetch(t *testing.T) {
	clock := time.Unix(1000, 0)
	f := &mockFetcher{servers: turn, gate: make(chan struct{})}
	c := newTestCache(f, &clock)

	var wg sync.WaitGroup
	results := make([][]domain.ICEServer, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Servers(context.Background(), false)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	for i, r := range results {
		if len(r) != 1 {
			t.Errorf("caller %d got %v", i, r)
		}
	}
}

func TestServersForceRefetches(t *testing.T) {
	clock := time.Unix(1000, 0)
	f := &mockFetcher{servers: turn}
	c := newTestCache(f, &clock)

	c.Servers(context.Background(), false)
	c.Servers(context.Background(), true)
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

func TestServersCancelledContextReturnsFallback(t *testing.T) {
	clock := time.Unix(1000, 0)
	f := &mockFetcher{err: errors.New("never"), gate: make(chan struct{})}
	defer close(f.gate)
	c := newTestCache(f, &clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := c.Servers(ctx, false)
	if len(got) != 1 || got[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("servers = %v, want default STUN", got)
	}
}

func TestServersFetchOutlivesCancelledCaller(t *testing.T) {
	clock := time.Unix(1000, 0)
	f := &mockFetcher{servers: turn, gate: make(chan struct{})}
	c := newTestCache(f, &clock)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan []domain.ICEServer, 1)
	go func() { first <- c.Servers(ctx, false) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if got := <-first; got[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("cancelled caller got %v, want fallback", got)
	}

	close(f.gate)
	got := c.Servers(context.Background(), false)
	if len(got) != 1 || got[0].Username != "u" {
		t.Fatalf("later caller got %v, want relay list", got)
	}
	if exp := c.Expires(); !exp.Equal(clock.Add(DefaultTTL)) {
		t.Errorf("expires = %v, want full lifetime", exp)
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}
