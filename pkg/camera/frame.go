// Package camera turns captures from one or more depth cameras into a single
// annotated image for display.
//
// The compositor is pure Go. Concrete devices backed by OpenCV live in the
// uvc subpackage.
package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/gwillem/dofbot/pkg/robot"
)

// FrameSet is one synchronized capture from a single device: a color image
// and a raw depth buffer of the same dimensions.
type FrameSet struct {
	// Device is the zero-based index of the camera in its rig.
	Device int
	Color  image.Image
	// Depth holds raw sensor units, typically millimetres.
	Depth *image.Gray16
}

// Validate checks that both buffers are present and the same size.
func (f FrameSet) Validate() error {
	if f.Color == nil || f.Depth == nil {
		return fmt.Errorf("%w: device %d: incomplete frame set", robot.ErrCapture, f.Device)
	}
	cb, db := f.Color.Bounds(), f.Depth.Bounds()
	if cb.Dx() != db.Dx() || cb.Dy() != db.Dy() {
		return fmt.Errorf("%w: device %d: color %dx%d does not match depth %dx%d",
			robot.ErrCapture, f.Device, cb.Dx(), cb.Dy(), db.Dx(), db.Dy())
	}
	return nil
}

// Device produces FrameSets. The Device field of the returned set is
// overwritten by the rig.
type Device interface {
	Capture(ctx context.Context) (FrameSet, error)
	Close() error
}

// Rig captures all its devices sequentially.
type Rig struct {
	devices []Device
	logger  *slog.Logger
}

// NewRig returns a rig over devices. The rig owns them and closes them in Close.
func NewRig(logger *slog.Logger, devices ...Device) *Rig {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rig{devices: devices, logger: logger}
}

// Len returns the number of devices.
func (r *Rig) Len() int { return len(r.devices) }

// Capture returns one FrameSet per device that produced a valid capture, in
// device order. Devices that fail this cycle are skipped.
func (r *Rig) Capture(ctx context.Context) []FrameSet {
	frames := make([]FrameSet, 0, len(r.devices))
	for i, d := range r.devices {
		if ctx.Err() != nil {
			break
		}
		fs, err := d.Capture(ctx)
		if err == nil {
			fs.Device = i
			err = fs.Validate()
		}
		if err != nil {
			r.logger.Debug("skipping camera", "device", i, "error", err)
			continue
		}
		frames = append(frames, fs)
	}
	return frames
}

// Close closes every device and returns the first error.
func (r *Rig) Close() error {
	var first error
	for i, d := range r.devices {
		if err := d.Close(); err != nil {
			r.logger.Warn("close camera", "device", i, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// DepthFromZ16 decodes a little-endian Z16 buffer of width x height pixels.
func DepthFromZ16(raw []byte, width, height int) (*image.Gray16, error) {
	if width <= 0 || height <= 0 || len(raw) != 2*width*height {
		return nil, fmt.Errorf("%w: z16 buffer of %d bytes for %dx%d", robot.ErrCapture, len(raw), width, height)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		// Gray16 stores pixels big-endian.
		img.Pix[2*i] = raw[2*i+1]
		img.Pix[2*i+1] = raw[2*i]
	}
	return img, nil
}
