package domain

import (
	"context"
	"errors"
	"image"
)

// ErrUnsupported is returned by a collaborator that cannot provide a
// capability (capture, parameter negotiation, frame sampling).
var ErrUnsupported = errors.New("capability unsupported")

// Signaler sends messages over the shared signaling channel.
// Send never reports failure to the caller; an unavailable channel is
// handled (and logged) by the implementation.
type Signaler interface {
	Send(msg Message)
	Close()
}

// RelayFetcher retrieves the relay/reflection server list from the directory endpoint.
type RelayFetcher interface {
	FetchRelayServers(ctx context.Context) ([]ICEServer, error)
}

// RelayDirectory returns the servers to configure new peer connections with.
type RelayDirectory interface {
	Servers(ctx context.Context, force bool) []ICEServer
}

// PeerConnector builds peer connections.
type PeerConnector interface {
	NewPeerConnection(servers []ICEServer) (PeerConnection, error)
}

// PeerConnection is the peer-connection primitive consumed by the session engine.
type PeerConnection interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	LocalDescription() *SessionDescription
	AddICECandidate(candidate ICECandidate) error

	Senders() []Sender
	AddTrack(track Track) (Sender, error)
	CreateDataChannel(label string) (DataChannel, error)
	SignalingState() SignalingState

	OnICECandidate(fn func(ICECandidate))
	OnConnectionStateChange(fn func(ConnectionState))
	OnTrack(fn func(RemoteTrack))
	OnDataChannel(fn func(DataChannel))

	Close() error
}

// Sender carries one outgoing track on a peer connection.
type Sender interface {
	// Track returns the track currently carried, or nil.
	Track() Track
	ReplaceTrack(track Track) error
	Parameters() (EncodingParameters, error)
	SetParameters(params EncodingParameters) error
}

// DataChannel is the control channel between host and guest.
type DataChannel interface {
	Label() string
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}

// Track is an outgoing media track.
type Track interface {
	ID() string
	Kind() TrackKind
	// Stop releases the track. It does not fire OnEnded handlers.
	Stop()
	// OnEnded registers fn to run when the source of the track finishes.
	// Handlers accumulate.
	OnEnded(fn func())
}

// RemoteTrack is an incoming media track delivered by a peer connection.
type RemoteTrack interface {
	StreamID() string
	Kind() TrackKind
	// ReadPayload blocks until the next media payload arrives.
	ReadPayload() ([]byte, error)
}

// PlaybackSurface is the local player: the host streams from it, the guest renders into it.
type PlaybackSurface interface {
	CurrentTime() float64
	Play(at float64) error
	Pause(at float64) error
	Seek(at float64) error

	// BindRemote renders a remote track on the surface.
	BindRemote(track RemoteTrack)
	HasRemote() bool
	// Clear drops any remote binding or loaded source.
	Clear()
}

// CaptureSource produces outgoing media from what the playback surface shows.
type CaptureSource interface {
	// CaptureStream takes a direct capture of the surface output.
	CaptureStream() ([]Track, error)
	// Frame samples the frame currently displayed.
	Frame() (image.Image, error)
}

// Canvas is a redrawable off-screen surface whose output can be captured.
type Canvas interface {
	// Draw replaces the canvas content. frame is not retained.
	Draw(frame image.Image)
	Tracks() []Track
	Close()
}

// CanvasFactory creates canvases producing a capturable stream at the requested rate.
type CanvasFactory interface {
	NewCanvas(width, height, fps int) (Canvas, error)
}
