package webrtc

import (
	"fmt"
	"sync"
	"time"

	"watch_together/native/internal/domain"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack is an outgoing sample track. One LocalTrack can be carried by
// any number of peer connections.
type LocalTrack struct {
	kind   domain.TrackKind
	sample *pion.TrackLocalStaticSample

	mu      sync.Mutex
	ended   []func()
	stopped bool
	target  domain.EncodingParameters
}

// NewLocalTrack creates a track of kind. Video is H264, audio is Opus.
func NewLocalTrack(kind domain.TrackKind, id, streamID string) (*LocalTrack, error) {
	codec := pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000}
	if kind == domain.TrackKindAudio {
		codec = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}

	sample, err := pion.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &LocalTrack{kind: kind, sample: sample}, nil
}

func (t *LocalTrack) ID() string { return t.sample.ID() }

func (t *LocalTrack) StreamID() string { return t.sample.StreamID() }

func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }

// Local returns the pion track bound to peer connections.
func (t *LocalTrack) Local() pion.TrackLocal { return t.sample }

// WriteSample sends one encoded sample lasting d to every bound connection.
// Writes after Stop are discarded.
func (t *LocalTrack) WriteSample(data []byte, d time.Duration) error {
	if t.Stopped() {
		return nil
	}
	return t.sample.WriteSample(media.Sample{Data: data, Duration: d})
}

// Stop releases the track without firing its ended handlers.
func (t *LocalTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Stopped reports whether Stop or End was called.
func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// OnEnded registers fn to run when the source finishes. Handlers accumulate.
func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.ended = append(t.ended, fn)
	t.mu.Unlock()
}

// End marks the source finished and runs the ended handlers once.
func (t *LocalTrack) End() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	handlers := t.ended
	t.ended = nil
	t.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// EncodingTarget returns the encoding target last set by a sender.
func (t *LocalTrack) EncodingTarget() domain.EncodingParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.EncodingParameters{Encodings: append([]domain.Encoding(nil), t.target.Encodings...)}
}

func (t *LocalTrack) setEncodingTarget(params domain.EncodingParameters) {
	t.mu.Lock()
	t.target = domain.EncodingParameters{Encodings: append([]domain.Encoding(nil), params.Encodings...)}
	t.mu.Unlock()
}
