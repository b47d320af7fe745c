package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"watch_together/native/internal/domain"
	"watch_together/native/internal/media"
)

// Quality returns the selected quality level.
func (s *Session) Quality() media.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// StartStream starts the outgoing stream at level and offers it to every
// known and pending peer. A synthetic level that cannot be rendered falls
// back to direct capture. Starting while a stream exists does nothing.
func (s *Session) StartStream(ctx context.Context, level media.Level) error {
	if err := s.requireHost(); err != nil {
		return err
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.quality = level
	s.mu.Unlock()

	st, err := s.build(level, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		st.Release()
		return ErrClosed
	}
	s.stream = st
	targets := append([]string(nil), s.pending...)
	s.pending = nil
	known := make([]string, 0, len(s.peers))
	for id := range s.peers {
		if !contains(targets, id) {
			known = append(known, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(known)
	targets = append(targets, known...)

	log.Printf("[session] %s stream started (%s), negotiating with %d peers", level, st.Kind, len(targets))
	s.emit(Event{Kind: EventStreamStarted, Detail: fmt.Sprintf("%s %s", level, st.Kind)})

	for _, id := range targets {
		entry, err := s.ensureConnection(ctx, id)
		if err != nil {
			s.negotiationFailed(id, err)
			continue
		}
		if err := s.negotiate(entry, st); err != nil {
			s.negotiationFailed(id, err)
		}
	}
	return nil
}

// SwitchQuality selects level. While streaming it builds a new stream, swaps
// it onto every peer with a fresh offer each, and only then releases the
// previous stream. A synthetic level that cannot be rendered falls back to
// direct capture at that level's targets. If no stream can be built the
// current one keeps running and the selected level is unchanged.
func (s *Session) SwitchQuality(ctx context.Context, level media.Level) error {
	if err := s.requireHost(); err != nil {
		return err
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	old := s.stream
	if old == nil {
		s.quality = level
	}
	s.mu.Unlock()

	if old == nil {
		log.Printf("[session] quality set to %s", level)
		s.emit(Event{Kind: EventQualityChanged, Detail: level.String()})
		return nil
	}

	st, err := s.build(level, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.quality = level
	s.stream = st
	entries := s.sortedPeersLocked()
	s.mu.Unlock()

	for _, entry := range entries {
		if err := s.negotiate(entry, st); err != nil {
			s.negotiationFailed(entry.ID, err)
		}
	}

	old.Release()

	log.Printf("[session] quality switched to %s (%s) on %d peers", level, st.Kind, len(entries))
	s.emit(Event{Kind: EventQualityChanged, Detail: fmt.Sprintf("%s %s", level, st.Kind)})
	return nil
}

// StopStream turns sharing off and tells guests the stream stopped.
func (s *Session) StopStream() error {
	if err := s.requireHost(); err != nil {
		return err
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st == nil {
		return nil
	}
	st.Release()
	s.announceStopped("sharing stopped")
	return nil
}

func (s *Session) build(level media.Level, fallback bool) (*media.Stream, error) {
	if s.streams == nil {
		err := fmt.Errorf("no stream source: %w", domain.ErrUnsupported)
		s.emit(Event{Kind: EventUnsupported, Detail: level.String(), Err: err})
		return nil, err
	}

	st, err := s.streams.Build(level, fallback)
	if err != nil {
		kind := EventNegotiationFailed
		if errors.Is(err, domain.ErrUnsupported) {
			kind = EventUnsupported
		}
		log.Printf("[session] build %s stream: %v", level, err)
		s.emit(Event{Kind: kind, Detail: level.String(), Err: err})
		return nil, fmt.Errorf("build %s stream: %w", level, err)
	}

	if video := st.VideoTrack(); video != nil {
		video.OnEnded(func() { go s.onStreamEnded(st) })
	}
	return st, nil
}

// onStreamEnded clears st if it is still the outgoing stream.
func (s *Session) onStreamEnded(st *media.Stream) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	if s.stream != st {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.mu.Unlock()

	st.Release()
	s.announceStopped("stream ended")
}

func (s *Session) announceStopped(reason string) {
	_, room := s.identity()
	s.signal.Send(domain.ScreenStopped{RoomID: room})
	log.Printf("[session] %s", reason)
	s.emit(Event{Kind: EventStreamStopped, Detail: reason})
}
