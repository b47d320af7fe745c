package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"watch_together/native/internal/api"
	"watch_together/native/internal/config"
	"watch_together/native/internal/domain"
	"watch_together/native/internal/relay"
	"watch_together/native/internal/session"
	sigclient "watch_together/native/internal/signal"
	"watch_together/native/internal/webrtc"
)

// stack is the transport shared by host and guest sessions.
type stack struct {
	cfg       *config.Config
	relays    *relay.Cache
	connector *webrtc.Connector
	signal    *sigclient.Client
}

// withShutdown returns a context cancelled on SIGINT or SIGTERM.
func withShutdown() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[main] received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		ossignal.Stop(sigCh)
	}()

	return ctx, cancel
}

// connect builds the relay directory, peer connector and signaling client,
// and dials the signaling server. A lost signaling connection cancels ctx.
func connect(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) (*stack, error) {
	// Relay directory, warmed in the background
	relays := relay.NewCache(api.NewClient(cfg.ICEEndpoint), relay.Options{
		TTL:         cfg.ICETTL,
		FallbackTTL: cfg.ICEFallbackTTL,
		Fallback:    []domain.ICEServer{{URLs: domain.URLList{cfg.STUNServer}}},
	})
	go relays.Servers(ctx, false)

	connector, err := webrtc.NewConnector(cfg.PionLogLevel)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}

	sc := sigclient.NewClient(cfg.SignalURL, cfg.Scope)
	sc.SetDisconnectHandler(func(err error) {
		log.Printf("[main] signaling lost: %v", err)
		cancel()
	})
	log.Printf("[main] connecting to %s (scope %s)", cfg.SignalURL, cfg.Scope)
	if err := sc.Connect(ctx); err != nil {
		return nil, fmt.Errorf("signal connect: %w", err)
	}

	return &stack{cfg: cfg, relays: relays, connector: connector, signal: sc}, nil
}

// logEvents writes session events to the log until the channel closes or ctx is done.
func logEvents(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Printf("[main] %s", e)
		}
	}
}
