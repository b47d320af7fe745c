// Package session implements the watch-together room engine: room roles,
// per-peer connection lifecycle, the offer/answer/ICE exchange and the
// host's outgoing stream across quality switches.
package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"watch_together/native/internal/domain"
	"watch_together/native/internal/media"
)

var (
	ErrNotHost      = errors.New("only the room host can do that")
	ErrRoomAssigned = errors.New("session already has a room")
	ErrNoRoom       = errors.New("no room")
	ErrClosed       = errors.New("session closed")
)

// StreamBuilder produces outgoing streams for a quality level.
type StreamBuilder interface {
	Build(level media.Level, fallback bool) (*media.Stream, error)
}

// Deps are the collaborators a Session drives.
type Deps struct {
	Signaler  domain.Signaler
	Connector domain.PeerConnector
	Relays    domain.RelayDirectory
	Surface   domain.PlaybackSurface
	// Streams is required for hosts only.
	Streams StreamBuilder
	Quality media.Level
	// EventBuffer sizes the Events channel. Defaults to 64.
	EventBuffer int
}

// Session owns one room: its role, peers, pending set, dedup ledgers and
// the host's outgoing stream. The zero value is not usable; call New.
type Session struct {
	signal    domain.Signaler
	connector domain.PeerConnector
	relays    domain.RelayDirectory
	surface   domain.PlaybackSurface
	streams   StreamBuilder

	events chan Event

	// streamMu serializes stream start, switch and stop.
	streamMu sync.Mutex

	mu          sync.Mutex
	room        *Room
	selfID      string
	peers       map[string]*PeerEntry
	pending     []string
	seenOffers  map[string]struct{}
	seenAnswers map[string]struct{}
	stream      *media.Stream
	quality     media.Level
	boundStream string
	closed      bool
}

// New creates a session with no room.
func New(deps Deps) *Session {
	buf := deps.EventBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Session{
		signal:      deps.Signaler,
		connector:   deps.Connector,
		relays:      deps.Relays,
		surface:     deps.Surface,
		streams:     deps.Streams,
		events:      make(chan Event, buf),
		peers:       make(map[string]*PeerEntry),
		seenOffers:  make(map[string]struct{}),
		seenAnswers: make(map[string]struct{}),
		quality:     deps.Quality,
	}
}

// Events delivers session outcomes. Slow readers miss events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Role returns the local role, or "" before a room is created or joined.
func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.Role
}

// Run handles messages sequentially until msgs is closed or ctx is done.
func (s *Session) Run(ctx context.Context, msgs <-chan domain.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.Handle(ctx, msg)
		}
	}
}

// Close releases the outgoing stream and every peer connection.
func (s *Session) Close() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	st := s.stream
	s.stream = nil
	entries := make([]*PeerEntry, 0, len(s.peers))
	for id, e := range s.peers {
		entries = append(entries, e)
		delete(s.peers, id)
	}
	s.pending = nil
	s.mu.Unlock()

	if st != nil {
		st.Release()
	}
	for _, e := range entries {
		e.close()
	}
	log.Printf("[session] closed")
}

// PeerStatus describes one peer for display.
type PeerStatus struct {
	ID          string
	State       domain.ConnectionState
	Negotiation domain.SignalingState
}

// Status is a point-in-time view of the session.
type Status struct {
	RoomID     string
	Role       domain.Role
	SelfID     string
	Quality    media.Level
	Streaming  bool
	StreamKind media.Kind
	Peers      []PeerStatus
	Pending    []string
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		SelfID:  s.selfID,
		Quality: s.quality,
		Pending: append([]string(nil), s.pending...),
	}
	if s.room != nil {
		st.RoomID = s.room.ID
		st.Role = s.room.Role
	}
	if s.stream != nil {
		st.Streaming = true
		st.StreamKind = s.stream.Kind
	}
	entries := s.sortedPeersLocked()
	s.mu.Unlock()

	for _, e := range entries {
		st.Peers = append(st.Peers, PeerStatus{
			ID:          e.ID,
			State:       e.State(),
			Negotiation: e.NegotiationState(),
		})
	}
	return st
}

func (s *Session) sortedPeersLocked() []*PeerEntry {
	entries := make([]*PeerEntry, 0, len(s.peers))
	for _, e := range s.peers {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// identity returns the fields stamped on outgoing peer messages.
func (s *Session) identity() (self, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != nil {
		room = s.room.ID
	}
	return s.selfID, room
}

func (s *Session) requireHost() error {
	switch s.Role() {
	case domain.RoleHost:
		return nil
	case "":
		return ErrNoRoom
	default:
		return ErrNotHost
	}
}
