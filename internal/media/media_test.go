package media

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"watch_together/native/internal/domain"
)

type mockTrack struct {
	id      string
	kind    domain.TrackKind
	mu      sync.Mutex
	stopped bool
	onEnded func()
}

func (t *mockTrack) ID() string              { return t.id }
func (t *mockTrack) Kind() domain.TrackKind  { return t.kind }
func (t *mockTrack) OnEnded(fn func())       { t.mu.Lock(); t.onEnded = fn; t.mu.Unlock() }
func (t *mockTrack) Stop()                   { t.mu.Lock(); t.stopped = true; t.mu.Unlock() }
func (t *mockTrack) isStopped() bool         { t.mu.Lock(); defer t.mu.Unlock(); return t.stopped }
func (t *mockTrack) end()                    { t.mu.Lock(); fn := t.onEnded; t.mu.Unlock(); fn() }

type mockCapture struct {
	tracks []domain.Track
	err    error
	frames chan struct{}
}

func (c *mockCapture) CaptureStream() ([]domain.Track, error) { return c.tracks, c.err }

func (c *mockCapture) Frame() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	img.Set(10, 10, color.White)
	if c.frames != nil {
		select {
		case c.frames <- struct{}{}:
		default:
		}
	}
	return img, nil
}

type mockCanvas struct {
	mu     sync.Mutex
	w, h   int
	draws  int
	closed bool
	tracks []domain.Track
}

func (c *mockCanvas) Draw(frame image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := frame.Bounds()
	c.w, c.h = b.Dx(), b.Dy()
	c.draws++
}
func (c *mockCanvas) Tracks() []domain.Track { return c.tracks }
func (c *mockCanvas) Close()                 { c.mu.Lock(); c.closed = true; c.mu.Unlock() }

type mockCanvasFactory struct {
	canvas *mockCanvas
	err    error
	w, h   int
	fps    int
}

func (f *mockCanvasFactory) NewCanvas(w, h, fps int) (domain.Canvas, error) {
	f.w, f.h, f.fps = w, h, fps
	if f.err != nil {
		return nil, f.err
	}
	return f.canvas, nil
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"": LevelAuto, "AUTO": LevelAuto, "hi": LevelHigh, "1080p": LevelUltra} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("insane"); err == nil {
		t.Error("ParseLevel(insane) should fail")
	}
	if !(LevelAuto < LevelHigh && LevelHigh < LevelUltra) {
		t.Error("levels are not ordered")
	}
}

func TestDefaultProfiles(t *testing.T) {
	cases := []struct {
		level   Level
		w, h    int
		bitrate int
	}{
		{LevelAuto, 0, 0, 600_000},
		{LevelHigh, 1280, 720, 1_500_000},
		{LevelUltra, 1920, 1080, 3_500_000},
	}
	for _, tc := range cases {
		p := DefaultProfiles.Lookup(tc.level)
		if p.Width != tc.w || p.Height != tc.h || p.Bitrate != tc.bitrate || p.FPS != 30 {
			t.Errorf("%s profile = %+v", tc.level, p)
		}
	}
	if DefaultProfiles.Lookup(LevelAuto).Synthetic() {
		t.Error("auto should be passthrough")
	}

	custom := DefaultProfiles.WithBitrates(0, 2_000_000, 0).WithFPS(24)
	if custom.Lookup(LevelHigh).Bitrate != 2_000_000 || custom.Lookup(LevelUltra).Bitrate != 3_500_000 {
		t.Errorf("WithBitrates = %+v", custom)
	}
	if custom.Lookup(LevelAuto).FPS != 24 {
		t.Errorf("WithFPS = %+v", custom)
	}
	if DefaultProfiles.Lookup(LevelHigh).Bitrate != 1_500_000 {
		t.Error("WithBitrates modified the defaults")
	}
}

func TestBuildAutoIsDirectCapture(t *testing.T) {
	video := &mockTrack{id: "v", kind: domain.TrackKindVideo}
	audio := &mockTrack{id: "a", kind: domain.TrackKindAudio}
	p := NewProducer(&mockCapture{tracks: []domain.Track{video, audio}}, nil, DefaultProfiles)

	s, err := p.Build(LevelAuto, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Kind != KindDirect || s.Profile.Bitrate != 600_000 {
		t.Errorf("stream = %+v", s)
	}
	if s.VideoTrack() != video || s.Track(domain.TrackKindAudio) != audio {
		t.Error("track lookup mismatch")
	}

	s.Release()
	s.Release()
	if !video.isStopped() || !audio.isStopped() {
		t.Error("tracks not stopped on release")
	}
}

func TestBuildUltraRendersOntoCanvas(t *testing.T) {
	canvasTrack := &mockTrack{id: "c", kind: domain.TrackKindVideo}
	canvas := &mockCanvas{tracks: []domain.Track{canvasTrack}}
	factory := &mockCanvasFactory{canvas: canvas}
	capture := &mockCapture{frames: make(chan struct{}, 1)}
	p := NewProducer(capture, factory, DefaultProfiles)

	s, err := p.Build(LevelUltra, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Kind != KindSynthetic {
		t.Errorf("kind = %s", s.Kind)
	}
	if factory.w != 1920 || factory.h != 1080 || factory.fps != 30 {
		t.Errorf("canvas = %dx%d@%d", factory.w, factory.h, factory.fps)
	}

	select {
	case <-capture.frames:
	case <-time.After(time.Second):
		t.Fatal("renderer never sampled the surface")
	}
	time.Sleep(50 * time.Millisecond)

	s.Release()

	canvas.mu.Lock()
	defer canvas.mu.Unlock()
	if canvas.draws == 0 {
		t.Error("canvas never drawn")
	}
	if canvas.w != 1920 || canvas.h != 1080 {
		t.Errorf("frame scaled to %dx%d", canvas.w, canvas.h)
	}
	if !canvas.closed {
		t.Error("canvas not closed on release")
	}
	if !canvasTrack.isStopped() {
		t.Error("canvas track not stopped")
	}
}

func TestBuildSyntheticFallsBackToDirect(t *testing.T) {
	video := &mockTrack{id: "v", kind: domain.TrackKindVideo}
	capture := &mockCapture{tracks: []domain.Track{video}}
	factory := &mockCanvasFactory{err: errors.New("no gpu")}
	p := NewProducer(capture, factory, DefaultProfiles)

	if _, err := p.Build(LevelHigh, false); err == nil {
		t.Fatal("expected error without fallback")
	}

	s, err := p.Build(LevelHigh, true)
	if err != nil {
		t.Fatalf("Build with fallback: %v", err)
	}
	if s.Kind != KindDirect || s.Profile.Level != LevelHigh {
		t.Errorf("stream = %+v", s)
	}
}

func TestBuildWithoutCanvasFactoryIsUnsupported(t *testing.T) {
	p := NewProducer(&mockCapture{}, nil, DefaultProfiles)
	_, err := p.Build(LevelUltra, false)
	if !IsUnsupported(err) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestBuildDirectWithoutTracksIsUnsupported(t *testing.T) {
	p := NewProducer(&mockCapture{}, nil, DefaultProfiles)
	_, err := p.Build(LevelAuto, false)
	if !IsUnsupported(err) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestCanvasTrackEndStopsRenderer(t *testing.T) {
	canvasTrack := &mockTrack{id: "c", kind: domain.TrackKindVideo}
	canvas := &mockCanvas{tracks: []domain.Track{canvasTrack}}
	p := NewProducer(&mockCapture{}, &mockCanvasFactory{canvas: canvas}, DefaultProfiles)

	s, err := p.Build(LevelHigh, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	canvasTrack.end()
	time.Sleep(100 * time.Millisecond)

	canvas.mu.Lock()
	closed := canvas.closed
	canvas.mu.Unlock()
	if !closed {
		t.Error("canvas not closed after its track ended")
	}
	s.Release()
}
