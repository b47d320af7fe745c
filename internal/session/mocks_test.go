package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"watch_together/native/internal/domain"
	"watch_together/native/internal/media"
)

// mockSignaler records sent messages.
type mockSignaler struct {
	mu   sync.Mutex
	sent []domain.Message
}

func (m *mockSignaler) Send(msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
}

func (m *mockSignaler) Close() {}

func (m *mockSignaler) ofType(t domain.MessageType) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.sent {
		if msg.Type() == t {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockSignaler) offersTo(peer string) []domain.Offer {
	var out []domain.Offer
	for _, msg := range m.ofType(domain.MsgOffer) {
		if o := msg.(domain.Offer); o.To == peer {
			out = append(out, o)
		}
	}
	return out
}

// mockTrack is an outgoing track whose end can be triggered by the test.
type mockTrack struct {
	id   string
	kind domain.TrackKind

	mu      sync.Mutex
	stopped bool
	ended   []func()
}

func (t *mockTrack) ID() string             { return t.id }
func (t *mockTrack) Kind() domain.TrackKind { return t.kind }

func (t *mockTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *mockTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.ended = append(t.ended, fn)
	t.mu.Unlock()
}

func (t *mockTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *mockTrack) end() {
	t.mu.Lock()
	fns := append([]func(){}, t.ended...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// mockSender records replacements and parameter updates.
type mockSender struct {
	mu        sync.Mutex
	track     domain.Track
	params    domain.EncodingParameters
	paramsErr error
	replaced  []replacement
}

type replacement struct {
	from, to domain.Track
	// fromStopped records whether the replaced track was already released.
	fromStopped bool
}

func (s *mockSender) Track() domain.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *mockSender) ReplaceTrack(track domain.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := replacement{from: s.track, to: track}
	if mt, ok := s.track.(*mockTrack); ok {
		r.fromStopped = mt.isStopped()
	}
	s.replaced = append(s.replaced, r)
	s.track = track
	return nil
}

func (s *mockSender) Parameters() (domain.EncodingParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paramsErr != nil {
		return domain.EncodingParameters{}, s.paramsErr
	}
	return s.params, nil
}

func (s *mockSender) SetParameters(p domain.EncodingParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}

type mockDataChannel struct {
	label  string
	closed bool
}

func (d *mockDataChannel) Label() string            { return d.label }
func (d *mockDataChannel) OnOpen(func())            {}
func (d *mockDataChannel) OnMessage(func([]byte))   {}
func (d *mockDataChannel) Close() error             { d.closed = true; return nil }

// mockPC is a scripted peer connection.
type mockPC struct {
	mu sync.Mutex

	offers     int
	answers    int
	local      *domain.SessionDescription
	remotes    []domain.SessionDescription
	candidates []domain.ICECandidate
	senders    []*mockSender
	channels   []*mockDataChannel
	state      domain.SignalingState
	closed     bool

	remoteErr    error
	candidateErr error
	paramsErr    error

	onCandidate func(domain.ICECandidate)
	onState     func(domain.ConnectionState)
	onTrack     func(domain.RemoteTrack)
	onChannel   func(domain.DataChannel)
}

func (p *mockPC) CreateOffer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return domain.SessionDescription{
		Type: domain.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0\r\no=- %p %d IN IP4 127.0.0.1\r\n", p, p.offers),
	}, nil
}

func (p *mockPC) CreateAnswer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return domain.SessionDescription{
		Type: domain.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0\r\no=- answer %d IN IP4 127.0.0.1\r\n", p.answers),
	}, nil
}

func (p *mockPC) SetLocalDescription(d domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	if d.Type == domain.SDPTypeOffer {
		p.state = domain.SignalingHaveLocalOffer
	} else {
		p.state = domain.SignalingStable
	}
	return nil
}

func (p *mockPC) SetRemoteDescription(d domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remotes = append(p.remotes, d)
	if d.Type == domain.SDPTypeOffer {
		p.state = domain.SignalingHaveRemoteOffer
	} else {
		p.state = domain.SignalingStable
	}
	return nil
}

func (p *mockPC) LocalDescription() *domain.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *mockPC) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidateErr != nil {
		return p.candidateErr
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *mockPC) Senders() []domain.Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Sender, len(p.senders))
	for i, s := range p.senders {
		out[i] = s
	}
	return out
}

func (p *mockPC) AddTrack(track domain.Track) (domain.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &mockSender{track: track, paramsErr: p.paramsErr}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *mockPC) CreateDataChannel(label string) (domain.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &mockDataChannel{label: label}
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *mockPC) SignalingState() domain.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == "" {
		return domain.SignalingStable
	}
	return p.state
}

func (p *mockPC) OnICECandidate(fn func(domain.ICECandidate))          { p.onCandidate = fn }
func (p *mockPC) OnConnectionStateChange(fn func(domain.ConnectionState)) { p.onState = fn }
func (p *mockPC) OnTrack(fn func(domain.RemoteTrack))                  { p.onTrack = fn }
func (p *mockPC) OnDataChannel(fn func(domain.DataChannel))            { p.onChannel = fn }

func (p *mockPC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *mockPC) remoteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remotes)
}

func (p *mockPC) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func (p *mockPC) videoSender() *mockSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.senders {
		if t := s.Track(); t != nil && t.Kind() == domain.TrackKindVideo {
			return s
		}
	}
	return nil
}

// mockConnector hands out mockPCs and remembers them by creation order.
type mockConnector struct {
	mu        sync.Mutex
	pcs       []*mockPC
	servers   [][]domain.ICEServer
	paramsErr error
	err       error
}

func (c *mockConnector) NewPeerConnection(servers []domain.ICEServer) (domain.PeerConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	pc := &mockPC{paramsErr: c.paramsErr}
	c.pcs = append(c.pcs, pc)
	c.servers = append(c.servers, servers)
	return pc, nil
}

func (c *mockConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pcs)
}

type mockRelays struct {
	servers []domain.ICEServer
}

func (r *mockRelays) Servers(ctx context.Context, force bool) []domain.ICEServer {
	return r.servers
}

// mockSurface is a playback surface that records what was applied.
type mockSurface struct {
	mu      sync.Mutex
	time    float64
	actions []string
	remote  domain.RemoteTrack
	binds   int
	cleared int
}

func (s *mockSurface) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.time
}

func (s *mockSurface) record(action string, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.time = at
	s.actions = append(s.actions, fmt.Sprintf("%s@%.1f", action, at))
	return nil
}

func (s *mockSurface) Play(at float64) error  { return s.record("play", at) }
func (s *mockSurface) Pause(at float64) error { return s.record("pause", at) }
func (s *mockSurface) Seek(at float64) error  { return s.record("seek", at) }

func (s *mockSurface) BindRemote(track domain.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = track
	s.binds++
}

func (s *mockSurface) HasRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil
}

func (s *mockSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = nil
	s.cleared++
}

func (s *mockSurface) applied() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

type mockRemoteTrack struct {
	stream string
	kind   domain.TrackKind
}

func (r *mockRemoteTrack) StreamID() string            { return r.stream }
func (r *mockRemoteTrack) Kind() domain.TrackKind      { return r.kind }
func (r *mockRemoteTrack) ReadPayload() ([]byte, error) { return nil, errors.New("eof") }

// mockStreams builds streams of fresh mock tracks.
type mockStreams struct {
	mu      sync.Mutex
	built   []*media.Stream
	failFor map[media.Level]error
}

func (m *mockStreams) Build(level media.Level, fallback bool) (*media.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[level]; err != nil {
		return nil, err
	}
	n := len(m.built)
	kind := media.KindDirect
	profile := media.DefaultProfiles.Lookup(level)
	if profile.Synthetic() {
		kind = media.KindSynthetic
	}
	tracks := []domain.Track{
		&mockTrack{id: fmt.Sprintf("video-%d", n), kind: domain.TrackKindVideo},
	}
	if kind == media.KindDirect {
		tracks = append(tracks, &mockTrack{id: fmt.Sprintf("audio-%d", n), kind: domain.TrackKindAudio})
	}
	st := media.NewStream(kind, profile, tracks, nil)
	m.built = append(m.built, st)
	return st, nil
}

// mockCapture hands out a fresh video track per capture.
type mockCapture struct {
	mu     sync.Mutex
	tracks []*mockTrack
}

func (c *mockCapture) CaptureStream() ([]domain.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr := &mockTrack{id: fmt.Sprintf("capture-%d", len(c.tracks)), kind: domain.TrackKindVideo}
	c.tracks = append(c.tracks, tr)
	return []domain.Track{tr}, nil
}

func (c *mockCapture) Frame() (image.Image, error) { return nil, domain.ErrUnsupported }

type fixture struct {
	s       *Session
	sig     *mockSignaler
	conn    *mockConnector
	surface *mockSurface
	streams *mockStreams
}

func newFixture() *fixture {
	f := &fixture{
		sig:     &mockSignaler{},
		conn:    &mockConnector{},
		surface: &mockSurface{},
		streams: &mockStreams{},
	}
	f.s = New(Deps{
		Signaler:    f.sig,
		Connector:   f.conn,
		Relays:      &mockRelays{servers: domain.DefaultICEServers},
		Surface:     f.surface,
		Streams:     f.streams,
		EventBuffer: 256,
	})
	return f
}

// host returns a fixture whose session hosts room and has been assigned id "h1".
func newHost(t *testing.T, room string) *fixture {
	t.Helper()
	f := newFixture()
	if _, err := f.s.CreateRoom(room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	f.s.Handle(context.Background(), domain.Created{ID: "h1"})
	return f
}

// guest returns a fixture whose session joined room and has been assigned id "g1".
func newGuest(t *testing.T, room string) *fixture {
	t.Helper()
	f := newFixture()
	if _, err := f.s.JoinRoom(room); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	f.s.Handle(context.Background(), domain.Joined{ID: "g1"})
	return f
}

func (f *fixture) pcFor(t *testing.T, peer string) *mockPC {
	t.Helper()
	e := f.s.peer(peer)
	if e == nil {
		t.Fatalf("no connection to %s", peer)
	}
	return e.pc.(*mockPC)
}

// drain returns every event buffered so far.
func (f *fixture) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-f.s.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
