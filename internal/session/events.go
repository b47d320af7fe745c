package session

import (
	"fmt"
)

// EventKind classifies what happened in a session.
type EventKind string

const (
	EventIdentity          EventKind = "identity"
	EventOfferSent         EventKind = "offer-sent"
	EventAnswerSent        EventKind = "answer-sent"
	EventAnswerApplied     EventKind = "answer-applied"
	EventDuplicate         EventKind = "duplicate"
	EventIgnored           EventKind = "ignored"
	EventDropped           EventKind = "dropped"
	EventCandidateFailed   EventKind = "candidate-failed"
	EventNegotiationFailed EventKind = "negotiation-failed"
	EventPeerState         EventKind = "peer-state"
	EventPeerPending       EventKind = "peer-pending"
	EventPeerRemoved       EventKind = "peer-removed"
	EventStreamStarted     EventKind = "stream-started"
	EventStreamStopped     EventKind = "stream-stopped"
	EventQualityChanged    EventKind = "quality-changed"
	EventRemoteBound       EventKind = "remote-bound"
	EventPlayback          EventKind = "playback"
	EventUnsupported       EventKind = "unsupported"
)

// Event reports an outcome that callers may want to observe. Failures that
// never stop the session (rejected descriptions, bad candidates, missing
// capabilities) are delivered here as well as logged.
type Event struct {
	Kind   EventKind
	Peer   string
	Detail string
	Err    error
}

func (e Event) String() string {
	s := string(e.Kind)
	if e.Peer != "" {
		s += " peer=" + e.Peer
	}
	if e.Detail != "" {
		s += " " + e.Detail
	}
	if e.Err != nil {
		s += fmt.Sprintf(" err=%v", e.Err)
	}
	return s
}

// emit delivers e without blocking; events are dropped when nobody drains
// the channel fast enough.
func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}
