package player

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"watch_together/native/internal/domain"
)

// Sink is the guest's surface. It writes the bound remote stream to an
// io.Writer as Annex-B H264 and keeps a playback clock from the host's
// play, pause and seek messages.
type Sink struct {
	w   io.Writer
	now func() time.Time

	mu       sync.Mutex
	position float64
	since    time.Time
	playing  bool
	bound    domain.RemoteTrack
	gen      int
}

// NewSink creates a paused sink writing to w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w, now: time.Now}
}

func (s *Sink) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Sink) currentLocked() float64 {
	if !s.playing {
		return s.position
	}
	return s.position + s.now().Sub(s.since).Seconds()
}

func (s *Sink) Play(at float64) error {
	s.mu.Lock()
	s.position, s.since, s.playing = at, s.now(), true
	s.mu.Unlock()
	return nil
}

func (s *Sink) Pause(at float64) error {
	s.mu.Lock()
	s.position, s.playing = at, false
	s.mu.Unlock()
	return nil
}

func (s *Sink) Seek(at float64) error {
	s.mu.Lock()
	s.position, s.since = at, s.now()
	s.mu.Unlock()
	return nil
}

// BindRemote starts copying track to the writer, replacing any earlier binding.
func (s *Sink) BindRemote(track domain.RemoteTrack) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.bound = track
	s.mu.Unlock()

	log.Printf("[player] rendering remote stream %s", track.StreamID())
	go s.copy(track, gen)
}

func (s *Sink) copy(track domain.RemoteTrack, gen int) {
	for {
		payload, err := track.ReadPayload()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[player] remote stream %s: %v", track.StreamID(), err)
			}
			s.unbind(gen)
			return
		}

		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if !current {
			return
		}

		if _, err := s.w.Write(payload); err != nil {
			log.Printf("[player] write remote stream: %v", err)
			s.unbind(gen)
			return
		}
	}
}

func (s *Sink) unbind(gen int) {
	s.mu.Lock()
	if s.gen == gen {
		s.bound = nil
	}
	s.mu.Unlock()
}

func (s *Sink) HasRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound != nil
}

// Clear drops the remote binding and resets the clock.
func (s *Sink) Clear() {
	s.mu.Lock()
	s.gen++
	s.bound = nil
	s.position, s.playing = 0, false
	s.mu.Unlock()
}
