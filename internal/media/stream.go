package media

import (
	"sync"

	"watch_together/native/internal/domain"
)

// Kind is how an outgoing stream is produced.
type Kind string

const (
	KindDirect    Kind = "direct-capture"
	KindSynthetic Kind = "synthetic-render"
)

// Stream is the host's current outgoing media.
type Stream struct {
	Kind    Kind
	Profile Profile
	Tracks  []domain.Track

	release func()
	once    sync.Once
}

// NewStream wraps tracks produced elsewhere. release runs once on Release,
// before the tracks are stopped.
func NewStream(kind Kind, profile Profile, tracks []domain.Track, release func()) *Stream {
	return &Stream{Kind: kind, Profile: profile, Tracks: tracks, release: release}
}

// VideoTrack returns the primary video track, or nil.
func (s *Stream) VideoTrack() domain.Track {
	return s.Track(domain.TrackKindVideo)
}

// Track returns the first track of kind, or nil.
func (s *Stream) Track(kind domain.TrackKind) domain.Track {
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Release stops the producer and every track. Safe to call more than once.
func (s *Stream) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
		for _, t := range s.Tracks {
			t.Stop()
		}
	})
}
