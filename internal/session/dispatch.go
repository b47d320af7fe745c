package session

import (
	"context"
	"log"

	"watch_together/native/internal/domain"
)

type routeKey struct {
	role domain.Role
	typ  domain.MessageType
}

type handler func(s *Session, ctx context.Context, msg domain.Message)

// routes is the complete set of messages each role acts on. The host is the
// only offerer, so it has no offer route and guests have no answer route.
var routes = map[routeKey]handler{
	{domain.RoleHost, domain.MsgCreated}: func(s *Session, _ context.Context, msg domain.Message) {
		s.onIdentity(msg.(domain.Created).ID)
	},
	{domain.RoleHost, domain.MsgNewPeer}: func(s *Session, ctx context.Context, msg domain.Message) {
		s.onNewPeer(ctx, msg.(domain.NewPeer).ID)
	},
	{domain.RoleHost, domain.MsgAnswer}: func(s *Session, _ context.Context, msg domain.Message) {
		s.onAnswer(msg.(domain.Answer))
	},
	{domain.RoleHost, domain.MsgICE}: func(s *Session, _ context.Context, msg domain.Message) {
		s.onICE(msg.(domain.ICE))
	},

	{domain.RoleGuest, domain.MsgJoined}: func(s *Session, _ context.Context, msg domain.Message) {
		s.onIdentity(msg.(domain.Joined).ID)
	},
	{domain.RoleGuest, domain.MsgOffer}: func(s *Session, ctx context.Context, msg domain.Message) {
		s.onOffer(ctx, msg.(domain.Offer))
	},
	{domain.RoleGuest, domain.MsgICE}: func(s *Session, _ context.Context, msg domain.Message) {
		s.onICE(msg.(domain.ICE))
	},
	{domain.RoleGuest, domain.MsgPlay}:          onRemotePlayback,
	{domain.RoleGuest, domain.MsgPause}:         onRemotePlayback,
	{domain.RoleGuest, domain.MsgSeek}:          onRemotePlayback,
	{domain.RoleGuest, domain.MsgScreenStopped}: func(s *Session, _ context.Context, _ domain.Message) {
		s.onScreenStopped()
	},
}

// Handle dispatches one inbound message according to the local role.
// Messages with no route for the role are reported as ignored.
func (s *Session) Handle(ctx context.Context, msg domain.Message) {
	role := s.Role()
	h, ok := routes[routeKey{role, msg.Type()}]
	if !ok {
		log.Printf("[session] %s ignored (role=%q)", msg.Type(), role)
		s.emit(Event{Kind: EventIgnored, Peer: sender(msg), Detail: string(msg.Type())})
		return
	}
	h(s, ctx, msg)
}

func (s *Session) onIdentity(id string) {
	s.mu.Lock()
	s.selfID = id
	s.mu.Unlock()
	log.Printf("[session] assigned id %s", id)
	s.emit(Event{Kind: EventIdentity, Detail: id})
}

// onNewPeer connects to a joining guest, offering immediately when a stream
// exists and parking the guest in the pending set otherwise.
func (s *Session) onNewPeer(ctx context.Context, peerID string) {
	entry, err := s.ensureConnection(ctx, peerID)
	if err != nil {
		s.negotiationFailed(peerID, err)
		return
	}

	s.mu.Lock()
	st := s.stream
	if st == nil {
		if !contains(s.pending, peerID) {
			s.pending = append(s.pending, peerID)
		}
		s.mu.Unlock()
		log.Printf("[session] peer %s waiting for a stream", peerID)
		s.emit(Event{Kind: EventPeerPending, Peer: peerID})
		return
	}
	s.mu.Unlock()

	if err := s.negotiate(entry, st); err != nil {
		s.negotiationFailed(peerID, err)
	}
}

func sender(msg domain.Message) string {
	switch m := msg.(type) {
	case domain.Offer:
		return m.From
	case domain.Answer:
		return m.From
	case domain.ICE:
		return m.From
	case domain.NewPeer:
		return m.ID
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
