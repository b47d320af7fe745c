package webrtc

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"watch_together/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

// Connector builds pion peer connections sharing one media and interceptor setup.
type Connector struct {
	api *pion.API
}

// videoFeedback is what browsers expect alongside H264.
var videoFeedback = []pion.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// NewConnector registers H264 and Opus and NACK handling. Remote video is
// only ever depacketized as H264, so no other video codec is negotiated.
// logLevel controls pion's internal logging (error, warn, info, debug,
// trace, disabled).
func NewConnector(logLevel string) (*Connector, error) {
	m := &pion.MediaEngine{}

	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	se := pion.SettingEngine{LoggerFactory: loggerFactory(logLevel)}

	return &Connector{api: pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)}, nil
}

func loggerFactory(level string) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	switch strings.ToLower(level) {
	case "disabled", "off":
		f.DefaultLogLevel = logging.LogLevelDisabled
	case "warn":
		f.DefaultLogLevel = logging.LogLevelWarn
	case "info":
		f.DefaultLogLevel = logging.LogLevelInfo
	case "debug":
		f.DefaultLogLevel = logging.LogLevelDebug
	case "trace":
		f.DefaultLogLevel = logging.LogLevelTrace
	default:
		f.DefaultLogLevel = logging.LogLevelError
	}
	return f
}

// NewPeerConnection creates a connection configured with servers.
func (c *Connector) NewPeerConnection(servers []domain.ICEServer) (domain.PeerConnection, error) {
	pcServers := make([]pion.ICEServer, 0, len(servers))
	for _, s := range servers {
		pcServers = append(pcServers, pion.ICEServer{
			URLs:       []string(s.URLs),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := c.api.NewPeerConnection(pion.Configuration{
		ICEServers:   pcServers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return &Peer{pc: pc, tracks: make(map[pion.TrackLocal]*LocalTrack)}, nil
}

// Peer wraps a pion PeerConnection. Remote candidates that arrive before
// the remote description are held and applied once it is set.
type Peer struct {
	pc *pion.PeerConnection

	mu        sync.Mutex
	tracks    map[pion.TrackLocal]*LocalTrack
	remoteSet bool
	held      []pion.ICECandidateInit
}

func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return fromPion(offer), nil
}

func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return fromPion(answer), nil
}

func (p *Peer) SetLocalDescription(desc domain.SessionDescription) error {
	if err := p.pc.SetLocalDescription(toPion(desc)); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// SetRemoteDescription applies desc and flushes held remote candidates.
func (p *Peer) SetRemoteDescription(desc domain.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(toPion(desc)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	held := p.held
	p.held = nil
	p.mu.Unlock()

	for _, c := range held {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Printf("[webrtc] add held ICE candidate: %v", err)
		}
	}
	return nil
}

func (p *Peer) LocalDescription() *domain.SessionDescription {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return nil
	}
	d := fromPion(*desc)
	return &d
}

// AddICECandidate applies candidate, or holds it until the remote
// description is set.
func (p *Peer) AddICECandidate(candidate domain.ICECandidate) error {
	init := pion.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.held = append(p.held, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) Senders() []domain.Sender {
	var out []domain.Sender
	for _, s := range p.pc.GetSenders() {
		out = append(out, &sender{peer: p, rtp: s})
	}
	return out
}

// AddTrack adds a LocalTrack to the connection. Other track
// implementations are unsupported.
func (p *Peer) AddTrack(track domain.Track) (domain.Sender, error) {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return nil, fmt.Errorf("add %T: %w", track, domain.ErrUnsupported)
	}

	rtpSender, err := p.pc.AddTrack(lt.Local())
	if err != nil {
		return nil, fmt.Errorf("add %s track: %w", lt.Kind(), err)
	}
	p.remember(lt)
	go drainRTCP(rtpSender)

	return &sender{peer: p, rtp: rtpSender}, nil
}

func (p *Peer) CreateDataChannel(label string) (domain.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &dataChannel{dc: dc}, nil
}

func (p *Peer) SignalingState() domain.SignalingState {
	return domain.SignalingState(p.pc.SignalingState().String())
}

// OnICECandidate forwards gathered candidates. Loopback candidates are
// not forwarded.
func (p *Peer) OnICECandidate(fn func(domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Printf("[webrtc] ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			return
		}
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *Peer) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		fn(domain.ConnectionState(state.String()))
	})
}

// OnTrack delivers incoming H264 video tracks. Other kinds and codecs are
// read and discarded.
func (p *Peer) OnTrack(fn func(domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[webrtc] got track: kind=%s codec=%s stream=%s", track.Kind(), codec.MimeType, track.StreamID())

		if track.Kind() != pion.RTPCodecTypeVideo {
			go drainRemote(track)
			return
		}
		if !isH264(codec) {
			log.Printf("[webrtc] unsupported video codec %s on stream %s, discarding", codec.MimeType, track.StreamID())
			go drainRemote(track)
			return
		}
		fn(newRemoteTrack(track))
	})
}

func isH264(codec pion.RTPCodecParameters) bool {
	return strings.EqualFold(codec.MimeType, pion.MimeTypeH264)
}

func (p *Peer) OnDataChannel(fn func(domain.DataChannel)) {
	p.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (p *Peer) Close() error {
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func (p *Peer) remember(lt *LocalTrack) {
	p.mu.Lock()
	p.tracks[lt.Local()] = lt
	p.mu.Unlock()
}

func (p *Peer) lookup(t pion.TrackLocal) *LocalTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks[t]
}

// sender adapts an RTPSender. Encoding targets live on the carried
// LocalTrack since pion senders cannot be reparameterised.
type sender struct {
	peer *Peer
	rtp  *pion.RTPSender
}

func (s *sender) Track() domain.Track {
	t := s.rtp.Track()
	if t == nil {
		return nil
	}
	if lt := s.peer.lookup(t); lt != nil {
		return lt
	}
	return nil
}

func (s *sender) ReplaceTrack(track domain.Track) error {
	if track == nil {
		return s.rtp.ReplaceTrack(nil)
	}
	lt, ok := track.(*LocalTrack)
	if !ok {
		return fmt.Errorf("replace with %T: %w", track, domain.ErrUnsupported)
	}
	if err := s.rtp.ReplaceTrack(lt.Local()); err != nil {
		return fmt.Errorf("replace %s track: %w", lt.Kind(), err)
	}
	s.peer.remember(lt)
	return nil
}

func (s *sender) Parameters() (domain.EncodingParameters, error) {
	lt, ok := s.Track().(*LocalTrack)
	if !ok {
		return domain.EncodingParameters{}, domain.ErrUnsupported
	}
	return lt.EncodingTarget(), nil
}

func (s *sender) SetParameters(params domain.EncodingParameters) error {
	lt, ok := s.Track().(*LocalTrack)
	if !ok {
		return domain.ErrUnsupported
	}
	lt.setEncodingTarget(params)
	return nil
}

type dataChannel struct {
	dc *pion.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg pion.DataChannelMessage) { fn(msg.Data) })
}

func (d *dataChannel) Close() error { return d.dc.Close() }

// remoteTrack turns incoming H264 RTP into Annex-B access units.
type remoteTrack struct {
	track  *pion.TrackRemote
	depack *H264Depacketizer
}

func newRemoteTrack(track *pion.TrackRemote) *remoteTrack {
	return &remoteTrack{track: track, depack: NewH264Depacketizer()}
}

func (r *remoteTrack) StreamID() string { return r.track.StreamID() }

func (r *remoteTrack) Kind() domain.TrackKind { return domain.TrackKindVideo }

// ReadPayload blocks until a packet yields at least one NAL unit.
func (r *remoteTrack) ReadPayload() ([]byte, error) {
	for {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			return nil, err
		}
		if nalus := r.depack.Depacketize(pkt.SequenceNumber, pkt.Payload); len(nalus) > 0 {
			return AnnexB(nalus), nil
		}
	}
}

// drainRTCP reads incoming RTCP so the interceptors run.
func drainRTCP(s *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func drainRemote(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func fromPion(d pion.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(d.Type.String()), SDP: d.SDP}
}

func toPion(d domain.SessionDescription) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.NewSDPType(string(d.Type)), SDP: d.SDP}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
