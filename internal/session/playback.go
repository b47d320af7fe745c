package session

import (
	"context"
	"fmt"
	"log"

	"watch_together/native/internal/domain"
)

// Play resumes the host's surface, tells guests, and starts the outgoing
// stream at the selected quality if none is running.
func (s *Session) Play(ctx context.Context) error {
	if err := s.requireHost(); err != nil {
		return err
	}

	at := s.surface.CurrentTime()
	if err := s.surface.Play(at); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	s.broadcast(domain.MsgPlay, at)

	s.mu.Lock()
	streaming := s.stream != nil
	level := s.quality
	s.mu.Unlock()

	if !streaming {
		return s.StartStream(ctx, level)
	}
	return nil
}

// Pause pauses the host's surface and tells guests.
func (s *Session) Pause() error {
	if err := s.requireHost(); err != nil {
		return err
	}

	at := s.surface.CurrentTime()
	if err := s.surface.Pause(at); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	s.broadcast(domain.MsgPause, at)
	return nil
}

// Seek moves the host's surface to at seconds and tells guests.
func (s *Session) Seek(at float64) error {
	if err := s.requireHost(); err != nil {
		return err
	}
	if at < 0 {
		at = 0
	}

	if err := s.surface.Seek(at); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	s.broadcast(domain.MsgSeek, s.surface.CurrentTime())
	return nil
}

func (s *Session) broadcast(action domain.MessageType, at float64) {
	_, room := s.identity()
	s.signal.Send(domain.Playback{Action: action, RoomID: room, Time: at})
	s.emit(Event{Kind: EventPlayback, Detail: fmt.Sprintf("%s %.2f", action, at)})
}

// onRemotePlayback mirrors the host's playback on a guest that is not
// receiving remote media. With a bound remote track the media timing wins.
func onRemotePlayback(s *Session, _ context.Context, msg domain.Message) {
	p := msg.(domain.Playback)

	if s.surface == nil || s.surface.HasRemote() {
		s.emit(Event{Kind: EventIgnored, Detail: string(p.Action) + " while receiving"})
		return
	}

	at := p.Time
	if p.Untimed {
		at = s.surface.CurrentTime()
	}

	var err error
	switch p.Action {
	case domain.MsgPlay:
		err = s.surface.Play(at)
	case domain.MsgPause:
		err = s.surface.Pause(at)
	case domain.MsgSeek:
		err = s.surface.Seek(at)
	}
	if err != nil {
		log.Printf("[session] apply %s: %v", p.Action, err)
		return
	}
	s.emit(Event{Kind: EventPlayback, Detail: fmt.Sprintf("%s %.2f", p.Action, at)})
}

// onScreenStopped clears the guest's surface when the host stops streaming.
func (s *Session) onScreenStopped() {
	s.mu.Lock()
	s.boundStream = ""
	s.mu.Unlock()

	if s.surface != nil {
		s.surface.Clear()
	}
	log.Printf("[session] host stopped the stream")
	s.emit(Event{Kind: EventStreamStopped, Detail: "host stopped"})
}
