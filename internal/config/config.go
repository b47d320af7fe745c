package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	DefaultScope        = "watch"
	DefaultQuality      = "auto"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultPionLogLevel = "error"
	DefaultFPS          = 30

	DefaultBitrateAuto  = 600_000
	DefaultBitrateHigh  = 1_500_000
	DefaultBitrateUltra = 3_500_000

	DefaultICETTL         = 60 * time.Second
	DefaultICEFallbackTTL = 30 * time.Second
)

// Config holds the application configuration.
type Config struct {
	// SignalURL is the WebSocket URL of the signaling server.
	SignalURL string
	// ICEEndpoint serves the relay server list. Derived from SignalURL when unset.
	ICEEndpoint string
	Scope       string
	Room        string
	Quality     string

	STUNServer   string
	PionLogLevel string
	FPS          int

	BitrateAuto  int
	BitrateHigh  int
	BitrateUltra int

	ICETTL         time.Duration
	ICEFallbackTTL time.Duration
}

// Options carries CLI flag overrides. Empty fields fall through to the
// environment and then to defaults.
type Options struct {
	SignalURL   string
	ICEEndpoint string
	Scope       string
	Room        string
	Quality     string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options)
// 2. Environment variables, including a .env file if present
// 3. Defaults
func Load(opts Options) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		SignalURL:    pick(opts.SignalURL, "WT_SIGNAL_URL", ""),
		ICEEndpoint:  pick(opts.ICEEndpoint, "WT_ICE_ENDPOINT", ""),
		Scope:        pick(opts.Scope, "WT_SCOPE", DefaultScope),
		Room:         pick(opts.Room, "WT_ROOM", ""),
		Quality:      pick(opts.Quality, "WT_QUALITY", DefaultQuality),
		STUNServer:   pick("", "WT_STUN_URL", DefaultSTUN),
		PionLogLevel: pick("", "WT_PION_LOG_LEVEL", DefaultPionLogLevel),
	}

	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("WT_SIGNAL_URL environment variable or --signal flag is required")
	}

	if cfg.ICEEndpoint == "" {
		endpoint, err := iceEndpointFor(cfg.SignalURL)
		if err != nil {
			return nil, err
		}
		cfg.ICEEndpoint = endpoint
	}

	var err error
	if cfg.FPS, err = envInt("WT_FPS", DefaultFPS); err != nil {
		return nil, err
	}
	if cfg.BitrateAuto, err = envInt("WT_BITRATE_AUTO", DefaultBitrateAuto); err != nil {
		return nil, err
	}
	if cfg.BitrateHigh, err = envInt("WT_BITRATE_HIGH", DefaultBitrateHigh); err != nil {
		return nil, err
	}
	if cfg.BitrateUltra, err = envInt("WT_BITRATE_ULTRA", DefaultBitrateUltra); err != nil {
		return nil, err
	}
	if cfg.ICETTL, err = envDuration("WT_ICE_TTL", DefaultICETTL); err != nil {
		return nil, err
	}
	if cfg.ICEFallbackTTL, err = envDuration("WT_ICE_FALLBACK_TTL", DefaultICEFallbackTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, v)
	}
	return n, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", name, v)
	}
	return d, nil
}

// iceEndpointFor maps ws(s)://host/... to http(s)://host/ice.
func iceEndpointFor(signalURL string) (string, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return "", fmt.Errorf("parse signal url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("signal url %q: unsupported scheme %q", signalURL, u.Scheme)
	}
	u.Path = "/ice"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
