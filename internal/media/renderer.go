package media

import (
	"image"
	"log"
	"sync"
	"time"

	"watch_together/native/internal/domain"

	"golang.org/x/image/draw"
)

// renderer samples the playback surface and redraws it onto a canvas at a
// fixed rate until stopped.
type renderer struct {
	source domain.CaptureSource
	canvas domain.Canvas
	dst    *image.RGBA
	period time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newRenderer(source domain.CaptureSource, canvas domain.Canvas, width, height, fps int) *renderer {
	if fps <= 0 {
		fps = 30
	}
	return &renderer{
		source: source,
		canvas: canvas,
		dst:    image.NewRGBA(image.Rect(0, 0, width, height)),
		period: time.Second / time.Duration(fps),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *renderer) start() {
	go r.loop()
}

func (r *renderer) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	var misses int
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			frame, err := r.source.Frame()
			if err != nil {
				// A surface that is paused or between frames has nothing to draw.
				misses++
				if misses == 1 {
					log.Printf("[media] frame sample: %v", err)
				}
				continue
			}
			misses = 0
			r.drawFrame(frame)
		}
	}
}

func (r *renderer) drawFrame(frame image.Image) {
	draw.ApproxBiLinear.Scale(r.dst, r.dst.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	r.canvas.Draw(r.dst)
}

// halt stops the redraw loop and waits for it to exit.
func (r *renderer) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
