package domain

// Role is the participant's role in a room.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// SDPType is the type of a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is the JSON structure for SDP offer/answer payloads.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate is the JSON structure for ICE candidate payloads.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalingState mirrors the peer connection's offer/answer state.
type SignalingState string

const (
	SignalingStable             SignalingState = "stable"
	SignalingHaveLocalOffer     SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer    SignalingState = "have-remote-offer"
	SignalingHaveLocalPranswer  SignalingState = "have-local-pranswer"
	SignalingHaveRemotePranswer SignalingState = "have-remote-pranswer"
	SignalingClosed             SignalingState = "closed"
)

// ConnectionState is the observed ICE/connection state of a peer.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionChecking     ConnectionState = "checking"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionCompleted    ConnectionState = "completed"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// Terminal reports whether the state makes the peer eligible for removal.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionFailed || s == ConnectionClosed
}

// EncodingParameters are the sender's encoding targets.
type EncodingParameters struct {
	Encodings []Encoding
}

// Encoding is one encoding layer target.
type Encoding struct {
	MaxBitrate   int // bits per second
	MaxFramerate float64
}
