// Package media builds the host's outgoing streams for each quality level.
package media

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"watch_together/native/internal/domain"
)

// Producer builds outgoing streams from the playback surface. Direct streams
// capture the surface as-is; synthetic streams redraw it onto a canvas sized
// for the level.
type Producer struct {
	capture  domain.CaptureSource
	canvases domain.CanvasFactory
	profiles Profiles
}

// NewProducer creates a producer. canvases may be nil, in which case only
// direct capture is available.
func NewProducer(capture domain.CaptureSource, canvases domain.CanvasFactory, profiles Profiles) *Producer {
	return &Producer{capture: capture, canvases: canvases, profiles: profiles}
}

// Profile returns the profile used for level.
func (p *Producer) Profile(level Level) Profile {
	return p.profiles.Lookup(level)
}

// Build creates a stream for level. When the level needs a synthetic stream
// that cannot be produced and fallback is set, a direct capture is returned
// instead, still carrying the level's profile.
func (p *Producer) Build(level Level, fallback bool) (*Stream, error) {
	profile := p.profiles.Lookup(level)

	if profile.Synthetic() {
		stream, err := p.synthetic(profile)
		if err == nil {
			return stream, nil
		}
		if !fallback {
			return nil, err
		}
		log.Printf("[media] %s render failed, falling back to direct capture: %v", level, err)
	}

	return p.direct(profile)
}

func (p *Producer) direct(profile Profile) (*Stream, error) {
	if p.capture == nil {
		return nil, fmt.Errorf("direct capture: %w", domain.ErrUnsupported)
	}
	tracks, err := p.capture.CaptureStream()
	if err != nil {
		return nil, fmt.Errorf("direct capture: %w", err)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("direct capture: no tracks: %w", domain.ErrUnsupported)
	}
	return NewStream(KindDirect, profile, tracks, nil), nil
}

func (p *Producer) synthetic(profile Profile) (*Stream, error) {
	if p.canvases == nil || p.capture == nil {
		return nil, fmt.Errorf("synthetic render: %w", domain.ErrUnsupported)
	}

	canvas, err := p.canvases.NewCanvas(profile.Width, profile.Height, profile.FPS)
	if err != nil {
		return nil, fmt.Errorf("synthetic render: %w", err)
	}

	tracks := canvas.Tracks()
	if len(tracks) == 0 {
		canvas.Close()
		return nil, fmt.Errorf("synthetic render: canvas has no tracks: %w", domain.ErrUnsupported)
	}

	r := newRenderer(p.capture, canvas, profile.Width, profile.Height, profile.FPS)
	r.start()

	stopAll := sync.OnceFunc(func() {
		r.halt()
		canvas.Close()
	})

	// Ending a canvas track on its own also stops the redraw loop.
	for _, t := range tracks {
		t.OnEnded(func() { go stopAll() })
	}

	return NewStream(KindSynthetic, profile, tracks, stopAll), nil
}

// IsUnsupported reports whether err means the capability is not available.
func IsUnsupported(err error) bool {
	return errors.Is(err, domain.ErrUnsupported)
}
