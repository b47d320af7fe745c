package domain

import "errors"

// ErrMalformed is returned when a signaling message is missing a required field.
var ErrMalformed = errors.New("malformed message")

// MessageType identifies a signaling message variant.
type MessageType string

const (
	MsgCreate        MessageType = "create"
	MsgJoin          MessageType = "join"
	MsgCreated       MessageType = "created"
	MsgJoined        MessageType = "joined"
	MsgNewPeer       MessageType = "new-peer"
	MsgOffer         MessageType = "offer"
	MsgAnswer        MessageType = "answer"
	MsgICE           MessageType = "ice"
	MsgPlay          MessageType = "play"
	MsgPause         MessageType = "pause"
	MsgSeek          MessageType = "seek"
	MsgScreenStopped MessageType = "screen-stopped"
)

// Message is one of the closed set of signaling message variants below.
type Message interface {
	Type() MessageType
}

// Create asks the server to create a room.
type Create struct {
	RoomID string
}

// Join asks the server to add us to a room.
type Join struct {
	RoomID string
}

// Created confirms room creation and carries our assigned identity.
type Created struct {
	ID string
}

// Joined confirms a join and carries our assigned identity.
type Joined struct {
	ID string
}

// NewPeer tells the host a guest joined.
type NewPeer struct {
	ID string
}

type Offer struct {
	To          string
	From        string
	RoomID      string
	SDP         SessionDescription
	Fingerprint string
}

type Answer struct {
	To     string
	From   string
	RoomID string
	SDP    SessionDescription
}

type ICE struct {
	To        string
	From      string
	RoomID    string
	Candidate ICECandidate
}

// Playback carries a play, pause or seek intent from the host.
type Playback struct {
	Action MessageType
	RoomID string
	Time   float64

	// Untimed is set when the intent carried no time.
	Untimed bool
}

// ScreenStopped tells guests the host's outgoing stream ended.
type ScreenStopped struct {
	RoomID string
}

func (Create) Type() MessageType        { return MsgCreate }
func (Join) Type() MessageType          { return MsgJoin }
func (Created) Type() MessageType       { return MsgCreated }
func (Joined) Type() MessageType        { return MsgJoined }
func (NewPeer) Type() MessageType       { return MsgNewPeer }
func (Offer) Type() MessageType         { return MsgOffer }
func (Answer) Type() MessageType        { return MsgAnswer }
func (ICE) Type() MessageType           { return MsgICE }
func (p Playback) Type() MessageType    { return p.Action }
func (ScreenStopped) Type() MessageType { return MsgScreenStopped }

// IsPlayback reports whether t is one of the playback intents.
func IsPlayback(t MessageType) bool {
	return t == MsgPlay || t == MsgPause || t == MsgSeek
}
