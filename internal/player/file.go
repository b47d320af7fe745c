package player

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"watch_together/native/internal/domain"
	"watch_together/native/internal/webrtc"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

// Opener returns a fresh reader positioned at the start of an Annex-B H264 stream.
type Opener func() (io.ReadCloser, error)

// FileSurface plays a raw H264 file at a fixed frame rate. It is the host's
// playback surface and the capture source for its outgoing stream.
type FileSurface struct {
	open  Opener
	fps   int
	frame time.Duration

	mu       sync.Mutex
	rc       io.ReadCloser
	reader   *h264reader.H264Reader
	frames   int
	playing  bool
	ended    bool
	needKey  bool
	sps, pps []byte
	tracks   []*webrtc.LocalTrack
}

// OpenFile creates a surface over the H264 file at path.
func OpenFile(path string, fps int) (*FileSurface, error) {
	open := func() (io.ReadCloser, error) { return os.Open(path) }
	return NewFileSurface(open, fps)
}

// NewFileSurface creates a paused surface at the start of the stream.
func NewFileSurface(open Opener, fps int) (*FileSurface, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}
	f := &FileSurface{open: open, fps: fps, frame: time.Second / time.Duration(fps)}
	if err := f.rewind(); err != nil {
		return nil, err
	}
	return f, nil
}

// Run paces playback until ctx is done.
func (f *FileSurface) Run(ctx context.Context) {
	ticker := time.NewTicker(f.frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.closeReaderLocked()
			f.mu.Unlock()
			return
		case <-ticker.C:
			f.step()
		}
	}
}

// step advances playback by one frame when playing.
func (f *FileSurface) step() {
	f.mu.Lock()
	if !f.playing {
		f.mu.Unlock()
		return
	}

	data, err := f.nextFrameLocked(true)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Printf("[player] read frame: %v", err)
		}
		tracks := f.endLocked()
		f.mu.Unlock()

		log.Printf("[player] end of file at %.2fs", f.CurrentTime())
		endTracks(tracks)
		return
	}
	tracks := f.liveTracksLocked()
	f.mu.Unlock()

	if data == nil {
		return
	}
	for _, t := range tracks {
		if err := t.WriteSample(data, f.frame); err != nil {
			log.Printf("[player] write sample to %s: %v", t.ID(), err)
		}
	}
}

// nextFrameLocked reads NAL units up to and including the next coded slice
// and returns them as one Annex-B access unit. While a keyframe is awaited
// after a seek, non-IDR frames are counted but not returned.
func (f *FileSurface) nextFrameLocked(emit bool) ([]byte, error) {
	var nalus [][]byte
	for {
		nal, err := f.reader.NextNAL()
		if err != nil {
			return nil, err
		}

		switch nal.UnitType {
		case h264reader.NalUnitTypeSPS:
			f.sps = append(f.sps[:0], nal.Data...)
		case h264reader.NalUnitTypePPS:
			f.pps = append(f.pps[:0], nal.Data...)
		}
		nalus = append(nalus, nal.Data)

		switch nal.UnitType {
		case h264reader.NalUnitTypeCodedSliceIdr:
			f.frames++
			if !emit {
				return nil, nil
			}
			if f.needKey {
				f.needKey = false
				nalus = append([][]byte{f.sps, f.pps}, nalus...)
			}
			return webrtc.AnnexB(nalus), nil
		case h264reader.NalUnitTypeCodedSliceNonIdr:
			f.frames++
			if !emit || f.needKey {
				return nil, nil
			}
			return webrtc.AnnexB(nalus), nil
		}
	}
}

func (f *FileSurface) liveTracksLocked() []*webrtc.LocalTrack {
	live := f.tracks[:0]
	for _, t := range f.tracks {
		if !t.Stopped() {
			live = append(live, t)
		}
	}
	f.tracks = live
	return append([]*webrtc.LocalTrack(nil), live...)
}

func (f *FileSurface) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return float64(f.frames) / float64(f.fps)
}

// Play seeks to at if needed and resumes playback.
func (f *FileSurface) Play(at float64) error {
	if err := f.seekIfMoved(at); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return fmt.Errorf("play at %.2f: %w", at, io.EOF)
	}
	f.playing = true
	return nil
}

func (f *FileSurface) Pause(at float64) error {
	if err := f.seekIfMoved(at); err != nil {
		return err
	}
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	return nil
}

// Seek moves to the frame at or after at seconds. Playback resumes from
// the next keyframe. Seeking past the end ends the stream.
func (f *FileSurface) Seek(at float64) error {
	if at < 0 {
		at = 0
	}
	target := int(at * float64(f.fps))

	f.mu.Lock()
	end, err := f.seekLocked(target)
	var tracks []*webrtc.LocalTrack
	if end {
		tracks = f.endLocked()
	}
	f.mu.Unlock()

	if err != nil {
		return fmt.Errorf("seek to %.2f: %w", at, err)
	}
	if end {
		log.Printf("[player] seek to %.2fs is past the end", at)
		endTracks(tracks)
	}
	return nil
}

// seekLocked skips to frame target and reports whether the file ran out first.
func (f *FileSurface) seekLocked(target int) (bool, error) {
	if target < f.frames || f.ended {
		if err := f.rewindLocked(); err != nil {
			return false, err
		}
	}
	for f.frames < target {
		if _, err := f.nextFrameLocked(false); err != nil {
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			return false, err
		}
	}
	f.needKey = f.frames > 0
	return false, nil
}

// endLocked stops playback at the end of the file and detaches the capture
// tracks, which the caller ends after unlocking.
func (f *FileSurface) endLocked() []*webrtc.LocalTrack {
	f.playing = false
	f.ended = true
	tracks := f.tracks
	f.tracks = nil
	return tracks
}

func endTracks(tracks []*webrtc.LocalTrack) {
	for _, t := range tracks {
		t.End()
	}
}

func (f *FileSurface) seekIfMoved(at float64) error {
	if at < 0 {
		return nil
	}
	f.mu.Lock()
	frames := f.frames
	f.mu.Unlock()

	if int(at*float64(f.fps)) == frames {
		return nil
	}
	return f.Seek(at)
}

// BindRemote is unused on the host. The remote stream is not rendered.
func (f *FileSurface) BindRemote(track domain.RemoteTrack) {
	log.Printf("[player] ignoring remote stream %s on file surface", track.StreamID())
}

func (f *FileSurface) HasRemote() bool { return false }

// Clear stops playback.
func (f *FileSurface) Clear() {
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
}

// CaptureStream returns a new video track fed from the playing file.
func (f *FileSurface) CaptureStream() ([]domain.Track, error) {
	track, err := webrtc.NewLocalTrack(domain.TrackKindVideo, "video", "capture-"+uuid.NewString())
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.tracks = append(f.tracks, track)
	f.needKey = f.frames > 0
	f.mu.Unlock()

	return []domain.Track{track}, nil
}

// Frame is unsupported: the file is never decoded.
func (f *FileSurface) Frame() (image.Image, error) {
	return nil, fmt.Errorf("sample frame: %w", domain.ErrUnsupported)
}

func (f *FileSurface) rewind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rewindLocked()
}

func (f *FileSurface) rewindLocked() error {
	f.closeReaderLocked()

	rc, err := f.open()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	reader, err := h264reader.NewReader(rc)
	if err != nil {
		rc.Close()
		return fmt.Errorf("read stream: %w", err)
	}

	f.rc = rc
	f.reader = reader
	f.frames = 0
	f.ended = false
	f.needKey = false
	return nil
}

func (f *FileSurface) closeReaderLocked() {
	if f.rc != nil {
		f.rc.Close()
		f.rc = nil
	}
}
