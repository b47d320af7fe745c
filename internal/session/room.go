package session

import (
	"log"
	"strings"

	"watch_together/native/internal/domain"

	"github.com/google/uuid"
)

// Room is the handle returned by CreateRoom and JoinRoom. The local identity
// is assigned later, when the server confirms.
type Room struct {
	ID   string
	Role domain.Role

	s *Session
}

// SelfID returns the identity assigned by the server, or "" if not yet confirmed.
func (r *Room) SelfID() string {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.selfID
}

// NewRoomID returns a random id of the form room-xxxxxx.
func NewRoomID() string {
	return "room-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// CreateRoom takes the host role and asks the server to create room id.
// An empty id picks a random one.
func (s *Session) CreateRoom(id string) (*Room, error) {
	room, err := s.assign(id, domain.RoleHost)
	if err != nil {
		return nil, err
	}
	log.Printf("[session] creating room %s as host", room.ID)
	s.signal.Send(domain.Create{RoomID: room.ID})
	return room, nil
}

// JoinRoom takes the guest role and asks the server to add us to room id.
// An unavailable signaling channel is logged by the transport, not returned.
func (s *Session) JoinRoom(id string) (*Room, error) {
	room, err := s.assign(id, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	log.Printf("[session] joining room %s", room.ID)
	s.signal.Send(domain.Join{RoomID: room.ID})
	return room, nil
}

func (s *Session) assign(id string, role domain.Role) (*Room, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewRoomID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.room != nil {
		return nil, ErrRoomAssigned
	}
	s.room = &Room{ID: id, Role: role, s: s}
	return s.room, nil
}
