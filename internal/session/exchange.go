package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"watch_together/native/internal/domain"
	"watch_together/native/internal/media"
)

// Fingerprint returns a short identifier of a session description, used to
// recognise redelivered offers and answers.
func Fingerprint(sdp string) string {
	sum := sha256.Sum256([]byte(sdp))
	return hex.EncodeToString(sum[:])[:16]
}

// negotiate attaches st to the peer, applies the encoding target and sends a
// fresh offer. A peer that already received an offer for st is skipped.
func (s *Session) negotiate(entry *PeerEntry, st *media.Stream) error {
	entry.negMu.Lock()
	defer entry.negMu.Unlock()

	if entry.isRemoved() {
		return errPeerRemoved
	}
	if entry.offered == st {
		return nil
	}

	s.attachTracks(entry, st)
	s.applyEncoding(entry, st.Profile)

	if err := s.sendOffer(entry); err != nil {
		return err
	}
	entry.offered = st
	return nil
}

// sendOffer creates and sends an offer to the peer. Callers hold entry.negMu.
func (s *Session) sendOffer(entry *PeerEntry) error {
	offer, err := entry.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := entry.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if local := entry.pc.LocalDescription(); local != nil {
		offer = *local
	}

	fp := Fingerprint(offer.SDP)
	self, room := s.identity()
	s.signal.Send(domain.Offer{
		To:          entry.ID,
		From:        self,
		RoomID:      room,
		SDP:         offer,
		Fingerprint: fp,
	})

	log.Printf("[session] offer %s sent to %s", fp, entry.ID)
	s.emit(Event{Kind: EventOfferSent, Peer: entry.ID, Detail: fp})
	s.flushCandidates(entry)
	return nil
}

func (s *Session) sendCandidate(peerID string, c domain.ICECandidate) {
	self, room := s.identity()
	s.signal.Send(domain.ICE{To: peerID, From: self, RoomID: room, Candidate: c})
}

// flushCandidates sends the candidates gathered before the first description.
func (s *Session) flushCandidates(entry *PeerEntry) {
	for _, c := range entry.markSignaled() {
		s.sendCandidate(entry.ID, c)
	}
}

// onOffer answers an offer from the host, once per fingerprint.
func (s *Session) onOffer(ctx context.Context, msg domain.Offer) {
	fp := msg.Fingerprint
	if fp == "" {
		fp = Fingerprint(msg.SDP.SDP)
	}

	s.mu.Lock()
	if _, seen := s.seenOffers[fp]; seen {
		s.mu.Unlock()
		log.Printf("[session] duplicate offer %s from %s ignored", fp, msg.From)
		s.emit(Event{Kind: EventDuplicate, Peer: msg.From, Detail: "offer " + fp})
		return
	}
	s.seenOffers[fp] = struct{}{}
	s.mu.Unlock()

	entry, err := s.ensureConnection(ctx, msg.From)
	if err != nil {
		s.negotiationFailed(msg.From, err)
		return
	}

	if err := s.answer(entry, msg.SDP); err != nil {
		s.negotiationFailed(msg.From, err)
		return
	}
}

func (s *Session) answer(entry *PeerEntry, offer domain.SessionDescription) error {
	entry.negMu.Lock()
	defer entry.negMu.Unlock()

	if entry.isRemoved() {
		return errPeerRemoved
	}
	if err := entry.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := entry.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := entry.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if local := entry.pc.LocalDescription(); local != nil {
		answer = *local
	}

	self, room := s.identity()
	s.signal.Send(domain.Answer{To: entry.ID, From: self, RoomID: room, SDP: answer})

	log.Printf("[session] answer sent to %s", entry.ID)
	s.emit(Event{Kind: EventAnswerSent, Peer: entry.ID})
	s.flushCandidates(entry)
	return nil
}

// onAnswer applies a guest's answer. A redelivered answer is applied once; an
// answer for a peer we have no connection to is dropped.
func (s *Session) onAnswer(msg domain.Answer) {
	key := msg.From + "/" + Fingerprint(msg.SDP.SDP)

	s.mu.Lock()
	if _, seen := s.seenAnswers[key]; seen {
		s.mu.Unlock()
		log.Printf("[session] duplicate answer from %s ignored", msg.From)
		s.emit(Event{Kind: EventDuplicate, Peer: msg.From, Detail: "answer"})
		return
	}
	s.seenAnswers[key] = struct{}{}
	entry := s.peers[msg.From]
	s.mu.Unlock()

	if entry == nil {
		log.Printf("[session] answer from %s but no connection, dropping", msg.From)
		s.emit(Event{Kind: EventDropped, Peer: msg.From, Detail: "answer without connection"})
		return
	}

	entry.negMu.Lock()
	defer entry.negMu.Unlock()

	if entry.isRemoved() {
		s.negotiationFailed(msg.From, errPeerRemoved)
		return
	}
	if err := entry.pc.SetRemoteDescription(msg.SDP); err != nil {
		s.negotiationFailed(msg.From, fmt.Errorf("set remote description: %w", err))
		return
	}

	log.Printf("[session] answer from %s applied", msg.From)
	s.emit(Event{Kind: EventAnswerApplied, Peer: msg.From})
}

// onICE applies a remote candidate to the sender's connection. Candidates
// from an unknown sender go to every connection.
func (s *Session) onICE(msg domain.ICE) {
	s.mu.Lock()
	entry := s.peers[msg.From]
	var targets []*PeerEntry
	if entry != nil {
		targets = []*PeerEntry{entry}
	} else {
		targets = s.sortedPeersLocked()
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		log.Printf("[session] candidate from %s with no connections, dropping", msg.From)
		s.emit(Event{Kind: EventDropped, Peer: msg.From, Detail: "candidate without connection"})
		return
	}

	for _, e := range targets {
		if err := e.pc.AddICECandidate(msg.Candidate); err != nil {
			log.Printf("[session] add candidate from %s to %s: %v", msg.From, e.ID, err)
			s.emit(Event{Kind: EventCandidateFailed, Peer: e.ID, Err: err})
		}
	}
}

func (s *Session) negotiationFailed(peerID string, err error) {
	log.Printf("[session] negotiation with %s failed: %v", peerID, err)
	s.emit(Event{Kind: EventNegotiationFailed, Peer: peerID, Err: err})
}
