package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/gwillem/dofbot/pkg/robot"
)

// SimDevice synthesizes frame sets: a color gradient and a depth ramp that
// shifts on every capture.
type SimDevice struct {
	Width, Height int
	// FailEvery makes every n-th capture fail when > 0.
	FailEvery int

	mu    sync.Mutex
	count int
}

// NewSimDevice returns a simulated 640x480 depth camera.
func NewSimDevice() *SimDevice {
	return &SimDevice{Width: 640, Height: 480}
}

// Capture returns the next synthetic frame set.
func (s *SimDevice) Capture(ctx context.Context) (FrameSet, error) {
	if err := ctx.Err(); err != nil {
		return FrameSet{}, err
	}
	s.mu.Lock()
	s.count++
	n := s.count
	s.mu.Unlock()

	if s.FailEvery > 0 && n%s.FailEvery == 0 {
		return FrameSet{}, fmt.Errorf("%w: simulated dropout", robot.ErrCapture)
	}

	r := image.Rect(0, 0, s.Width, s.Height)
	rgb := image.NewRGBA(r)
	depth := image.NewGray16(r)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			rgb.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(s.Width-1, 1)),
				G: uint8(y * 255 / max(s.Height-1, 1)),
				B: uint8(n * 8),
				A: 255,
			})
			depth.SetGray16(x, y, color.Gray16{Y: uint16((x + n*16) % s.Width * 8500 / max(s.Width, 1))})
		}
	}
	return FrameSet{Color: rgb, Depth: depth}, nil
}

// Close is a no-op.
func (s *SimDevice) Close() error { return nil }

// Pattern is a still camera for the device service when no hardware
// camera is attached. It renders a simulated frame set through a compositor.
type Pattern struct {
	dev  *SimDevice
	comp *Compositor
}

// NewPattern returns a Pattern producing width x height images.
func NewPattern(width, height int) *Pattern {
	comp := NewCompositor(width, height)
	comp.Columns = 1
	return &Pattern{dev: &SimDevice{Width: width, Height: height / 2}, comp: comp}
}

// Capture renders one frame.
func (p *Pattern) Capture(ctx context.Context) (image.Image, error) {
	fs, err := p.dev.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return p.comp.Compose([]FrameSet{fs}), nil
}

// Reset is a no-op.
func (p *Pattern) Reset(context.Context) error { return nil }
