package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"watch_together/native/internal/domain"
	"watch_together/native/internal/media"
)

var errPeerRemoved = errors.New("peer removed")

// controlChannel is the label of the data channel the host opens to each guest.
const controlChannel = "ctrl"

// PeerEntry is the connection to one remote participant.
type PeerEntry struct {
	ID string
	pc domain.PeerConnection

	// negMu sequences track attachment, offer creation and description
	// application for this peer.
	negMu   sync.Mutex
	offered *media.Stream

	mu      sync.Mutex
	dc      domain.DataChannel
	state   domain.ConnectionState
	removed bool

	// Local candidates are held until a description has been sent.
	signaled bool
	held     []domain.ICECandidate
}

// State returns the last observed connection state.
func (e *PeerEntry) State() domain.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NegotiationState reports where the peer is in the offer/answer exchange.
func (e *PeerEntry) NegotiationState() domain.SignalingState {
	if e.isRemoved() {
		return domain.SignalingClosed
	}
	return e.pc.SignalingState()
}

func (e *PeerEntry) setState(state domain.ConnectionState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *PeerEntry) setDataChannel(dc domain.DataChannel) {
	e.mu.Lock()
	e.dc = dc
	e.mu.Unlock()
}

// holdCandidate keeps c back if no description has been sent yet and
// reports whether it did.
func (e *PeerEntry) holdCandidate(c domain.ICECandidate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		return false
	}
	e.held = append(e.held, c)
	return true
}

// markSignaled records that a description was sent and returns the held
// candidates.
func (e *PeerEntry) markSignaled() []domain.ICECandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signaled = true
	held := e.held
	e.held = nil
	return held
}

func (e *PeerEntry) isRemoved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

func (e *PeerEntry) close() {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	e.removed = true
	dc := e.dc
	e.mu.Unlock()

	if dc != nil {
		dc.Close()
	}
	if err := e.pc.Close(); err != nil {
		log.Printf("[session] close peer %s: %v", e.ID, err)
	}
}

// peer returns the entry for id, or nil.
func (s *Session) peer(id string) *PeerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

// ensureConnection returns the entry for peerID, creating and wiring a new
// connection if none exists. A host attaches the current outgoing tracks to a
// new connection straight away.
func (s *Session) ensureConnection(ctx context.Context, peerID string) (*PeerEntry, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := s.peers[peerID]; ok {
		s.mu.Unlock()
		return e, nil
	}
	role := domain.RoleGuest
	if s.room != nil {
		role = s.room.Role
	}
	s.mu.Unlock()

	servers := domain.DefaultICEServers
	if s.relays != nil {
		servers = s.relays.Servers(ctx, false)
	}

	pc, err := s.connector.NewPeerConnection(servers)
	if err != nil {
		return nil, fmt.Errorf("new peer connection for %s: %w", peerID, err)
	}
	entry := &PeerEntry{ID: peerID, pc: pc, state: domain.ConnectionNew}

	s.mu.Lock()
	if existing, ok := s.peers[peerID]; ok || s.closed {
		s.mu.Unlock()
		pc.Close()
		if existing == nil {
			return nil, ErrClosed
		}
		return existing, nil
	}
	s.peers[peerID] = entry
	st := s.stream
	s.mu.Unlock()

	s.wire(entry, role)

	if role == domain.RoleHost && st != nil {
		entry.negMu.Lock()
		s.attachTracks(entry, st)
		entry.negMu.Unlock()
	}

	log.Printf("[session] connection to %s created (%s)", peerID, role)
	return entry, nil
}

func (s *Session) wire(entry *PeerEntry, role domain.Role) {
	pc := entry.pc
	peerID := entry.ID

	pc.OnICECandidate(func(c domain.ICECandidate) {
		if entry.holdCandidate(c) {
			return
		}
		s.sendCandidate(peerID, c)
	})

	pc.OnConnectionStateChange(func(state domain.ConnectionState) {
		entry.setState(state)
		log.Printf("[session] peer %s connection state: %s", peerID, state)
		s.emit(Event{Kind: EventPeerState, Peer: peerID, Detail: string(state)})
	})

	if role == domain.RoleHost {
		dc, err := pc.CreateDataChannel(controlChannel)
		if err != nil {
			log.Printf("[session] create %s channel for %s: %v", controlChannel, peerID, err)
			return
		}
		dc.OnOpen(func() {
			log.Printf("[session] %s channel open to %s", controlChannel, peerID)
		})
		entry.setDataChannel(dc)
		return
	}

	pc.OnTrack(func(track domain.RemoteTrack) {
		s.bindRemote(peerID, track)
	})
	pc.OnDataChannel(func(dc domain.DataChannel) {
		log.Printf("[session] %s channel from %s", dc.Label(), peerID)
		dc.OnMessage(func(data []byte) {
			log.Printf("[session] %s message from %s: %d bytes", dc.Label(), peerID, len(data))
		})
		entry.setDataChannel(dc)
	})
}

// bindRemote renders the first video track of each remote stream. Repeated
// deliveries of the same stream are ignored.
func (s *Session) bindRemote(peerID string, track domain.RemoteTrack) {
	if track.Kind() != domain.TrackKindVideo {
		return
	}

	s.mu.Lock()
	if s.boundStream == track.StreamID() {
		s.mu.Unlock()
		return
	}
	s.boundStream = track.StreamID()
	s.mu.Unlock()

	if s.surface != nil {
		s.surface.BindRemote(track)
	}
	log.Printf("[session] bound remote stream %s from %s", track.StreamID(), peerID)
	s.emit(Event{Kind: EventRemoteBound, Peer: peerID, Detail: track.StreamID()})
}

// attachTracks puts every track of st on the entry, replacing the track of a
// sender that already carries the same kind. Callers hold entry.negMu.
func (s *Session) attachTracks(entry *PeerEntry, st *media.Stream) {
	for _, track := range st.Tracks {
		if sender := senderFor(entry.pc, track.Kind()); sender != nil {
			if sender.Track() == track {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				log.Printf("[session] replace %s track for %s: %v", track.Kind(), entry.ID, err)
			}
			continue
		}
		if _, err := entry.pc.AddTrack(track); err != nil {
			log.Printf("[session] add %s track for %s: %v", track.Kind(), entry.ID, err)
		}
	}
}

// applyEncoding sets the video sender's bitrate and framerate targets.
// Connections that cannot negotiate parameters keep their defaults.
func (s *Session) applyEncoding(entry *PeerEntry, profile media.Profile) {
	sender := senderFor(entry.pc, domain.TrackKindVideo)
	if sender == nil {
		return
	}

	params, err := sender.Parameters()
	if err != nil {
		log.Printf("[session] encoding target for %s unavailable: %v", entry.ID, err)
		return
	}
	if len(params.Encodings) == 0 {
		params.Encodings = []domain.Encoding{{}}
	}
	params.Encodings[0].MaxBitrate = profile.Bitrate
	params.Encodings[0].MaxFramerate = float64(profile.FPS)

	if err := sender.SetParameters(params); err != nil {
		log.Printf("[session] set encoding target for %s: %v", entry.ID, err)
	}
}

func senderFor(pc domain.PeerConnection, kind domain.TrackKind) domain.Sender {
	for _, sender := range pc.Senders() {
		if t := sender.Track(); t != nil && t.Kind() == kind {
			return sender
		}
	}
	return nil
}

// RemovePeer closes and forgets the connection to id.
func (s *Session) RemovePeer(id string) bool {
	s.mu.Lock()
	entry, ok := s.peers[id]
	delete(s.peers, id)
	s.dropPendingLocked(id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	entry.close()
	log.Printf("[session] removed peer %s", id)
	s.emit(Event{Kind: EventPeerRemoved, Peer: id})
	return true
}

// PrunePeers removes every peer whose connection failed or closed and
// returns their ids.
func (s *Session) PrunePeers() []string {
	s.mu.Lock()
	var dead []string
	for _, e := range s.sortedPeersLocked() {
		if e.State().Terminal() {
			dead = append(dead, e.ID)
		}
	}
	s.mu.Unlock()

	removed := dead[:0]
	for _, id := range dead {
		if s.RemovePeer(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// PruneEvery calls PrunePeers at each interval until ctx is done.
func (s *Session) PruneEvery(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.PrunePeers(); len(removed) > 0 {
				log.Printf("[session] pruned %v", removed)
			}
		}
	}
}

func (s *Session) dropPendingLocked(id string) {
	for i, p := range s.pending {
		if p == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
