// Package uvc opens V4L2/UVC cameras through OpenCV.
package uvc

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/robot"
)

// Camera is the device-side color camera behind the image endpoint.
type Camera struct {
	index  int
	reset  []string
	logger *slog.Logger

	mu sync.Mutex
	vc *gocv.VideoCapture
}

// Open opens camera index. reset is an optional command run before the
// handle is reopened in Reset.
func Open(index int, reset []string, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Camera{index: index, reset: reset, logger: logger.With("camera", index)}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Camera) open() error {
	vc, err := gocv.VideoCaptureDevice(c.index)
	if err != nil {
		return fmt.Errorf("%w: open camera %d: %v", robot.ErrCapture, c.index, err)
	}
	c.vc = vc
	return nil
}

// Capture reads one frame.
func (c *Camera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil, fmt.Errorf("%w: camera %d not open", robot.ErrCapture, c.index)
	}
	return readImage(c.vc)
}

// Reset runs the reset command, if any, and reopens the handle.
func (c *Camera) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		c.vc.Close()
		c.vc = nil
	}
	if len(c.reset) > 0 {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, c.reset[0], c.reset[1:]...).CombinedOutput()
		if err != nil {
			c.logger.Warn("camera reset command failed", "error", err, "output", string(out))
		}
	}
	c.logger.Info("reopening camera")
	return c.open()
}

// Close releases the handle.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	return err
}

func readImage(vc *gocv.VideoCapture) (image.Image, error) {
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("%w: empty frame", robot.ErrCapture)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", robot.ErrCapture, err)
	}
	return img, nil
}

// DepthDevice pairs the color and depth nodes of one depth camera.
type DepthDevice struct {
	color, depth  *gocv.VideoCapture
	width, height int
}

// OpenDepthDevice opens the color node and the Z16 depth node of a camera
// and requests width x height on both.
func OpenDepthDevice(colorIndex, depthIndex, width, height int) (*DepthDevice, error) {
	color, err := gocv.VideoCaptureDevice(colorIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: open color node %d: %v", robot.ErrCapture, colorIndex, err)
	}
	depth, err := gocv.VideoCaptureDevice(depthIndex)
	if err != nil {
		color.Close()
		return nil, fmt.Errorf("%w: open depth node %d: %v", robot.ErrCapture, depthIndex, err)
	}

	for _, vc := range []*gocv.VideoCapture{color, depth} {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	depth.Set(gocv.VideoCaptureFOURCC, depth.ToCodec("Z16 "))
	depth.Set(gocv.VideoCaptureConvertRGB, 0)

	return &DepthDevice{color: color, depth: depth, width: width, height: height}, nil
}

// Capture reads a color frame and the matching depth frame.
func (d *DepthDevice) Capture(ctx context.Context) (camera.FrameSet, error) {
	if err := ctx.Err(); err != nil {
		return camera.FrameSet{}, err
	}
	rgb, err := readImage(d.color)
	if err != nil {
		return camera.FrameSet{}, err
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := d.depth.Read(&mat); !ok || mat.Empty() {
		return camera.FrameSet{}, fmt.Errorf("%w: empty depth frame", robot.ErrCapture)
	}
	depth, err := camera.DepthFromZ16(mat.ToBytes(), d.width, d.height)
	if err != nil {
		return camera.FrameSet{}, err
	}
	return camera.FrameSet{Color: rgb, Depth: depth}, nil
}

// Close releases both nodes.
func (d *DepthDevice) Close() error {
	err := d.color.Close()
	if derr := d.depth.Close(); err == nil {
		err = derr
	}
	return err
}

// Window shows images in a native window and reports key presses.
type Window struct {
	w    *gocv.Window
	keys keySlot
}

// NewWindow opens a window titled name.
func NewWindow(name string) *Window {
	return &Window{w: gocv.NewWindow(name), keys: keySlot{code: -1}}
}

// Show displays img.
func (w *Window) Show(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	w.w.IMShow(mat)
	// Refreshing the window consumes pending key events; keep the one it
	// returns for the next Poll.
	w.keys.put(w.w.WaitKey(1))
	return nil
}

// Poll returns a key pressed during the last Show, or waits up to timeout
// for a new one.
func (w *Window) Poll(timeout time.Duration) (string, bool) {
	if code, ok := w.keys.take(); ok {
		return keyName(code & 0xff), true
	}
	ms := int(timeout.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	code := w.w.WaitKey(ms)
	if code < 0 {
		return "", false
	}
	return keyName(code & 0xff), true
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.w.Close()
}

// keySlot holds at most one key code. A negative code means empty.
type keySlot struct {
	code int
}

// put stores code unless it is negative or the slot is already full.
func (k *keySlot) put(code int) {
	if code < 0 || k.code >= 0 {
		return
	}
	k.code = code
}

func (k *keySlot) take() (int, bool) {
	if k.code < 0 {
		return 0, false
	}
	code := k.code
	k.code = -1
	return code, true
}

func keyName(code int) string {
	switch code {
	case 27:
		return "esc"
	case 13, 10:
		return "enter"
	default:
		return string(rune(code))
	}
}
