package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dofbot/pkg/robot"
)

func solidFrame(device, w, h int, c color.RGBA, depth uint16) FrameSet {
	rgb := image.NewRGBA(image.Rect(0, 0, w, h))
	d := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgb.SetRGBA(x, y, c)
			d.SetGray16(x, y, color.Gray16{Y: depth})
		}
	}
	return FrameSet{Device: device, Color: rgb, Depth: d}
}

func TestCompose_NoFrames(t *testing.T) {
	c := NewCompositor(DefaultWidth, DefaultHeight)
	img := c.Compose(nil)

	require.Equal(t, image.Rect(0, 0, 1280, 720), img.Bounds())
	for _, p := range []image.Point{{0, 0}, {640, 360}, {1279, 719}} {
		assert.Equal(t, Filler, img.RGBAAt(p.X, p.Y), "pixel %v", p)
	}
}

func TestCompose_ThreeFramesGrid(t *testing.T) {
	c := NewCompositor(400, 300)
	c.Labels = false

	red := color.RGBA{R: 255, A: 255}
	frames := []FrameSet{
		solidFrame(0, 100, 100, red, 0),
		solidFrame(1, 100, 100, red, 0),
		solidFrame(2, 100, 100, red, 0),
	}
	img := c.Compose(frames)
	require.Equal(t, image.Rect(0, 0, 400, 300), img.Bounds())

	// 6 tiles in 2 columns: 3 rows of 100px scaled to 300px, so 100px each.
	// Column 0 holds color, column 1 holds depth (zero depth maps to dark blue).
	depthZero := Jet(0)
	for row := 0; row < 3; row++ {
		y := row*100 + 50
		assert.Equal(t, red, img.RGBAAt(100, y), "color tile, row %d", row)
		assert.Equal(t, depthZero, img.RGBAAt(300, y), "depth tile, row %d", row)
	}
}

func TestCompose_SkipsIncompleteFrameSets(t *testing.T) {
	c := NewCompositor(200, 100)
	c.Labels = false

	blue := color.RGBA{B: 255, A: 255}
	noDepth := solidFrame(1, 50, 50, blue, 0)
	noDepth.Depth = nil
	noColor := solidFrame(2, 50, 50, blue, 0)
	noColor.Color = nil

	var img *image.RGBA
	require.NotPanics(t, func() {
		img = c.Compose([]FrameSet{noDepth, solidFrame(0, 50, 50, blue, 0), noColor})
	})

	// Only the complete set is tiled: one row, color then depth.
	assert.Equal(t, blue, img.RGBAAt(50, 50))
	assert.Equal(t, Jet(0), img.RGBAAt(150, 50))
}

func TestCompose_OnlyIncompleteFrameSets(t *testing.T) {
	c := NewCompositor(100, 100)
	img := c.Compose([]FrameSet{{Device: 0}, {Device: 1, Depth: image.NewGray16(image.Rect(0, 0, 4, 4))}})
	assert.Equal(t, Filler, img.RGBAAt(50, 50))
}

func TestCompose_PadsIncompleteRow(t *testing.T) {
	c := NewCompositor(200, 200)
	c.Columns = 3
	c.Labels = false

	green := color.RGBA{G: 255, A: 255}
	img := c.Compose([]FrameSet{solidFrame(0, 50, 50, green, 0), solidFrame(1, 50, 50, green, 0)})

	// 4 tiles, 3 columns: the last two cells of row 2 are filler.
	assert.Equal(t, green, img.RGBAAt(33, 50))
	assert.Equal(t, Filler, img.RGBAAt(100, 150))
	assert.Equal(t, Filler, img.RGBAAt(170, 150))
}

func TestCompose_ScalesMismatchedTiles(t *testing.T) {
	c := NewCompositor(200, 100)
	c.Labels = false

	blue := color.RGBA{B: 255, A: 255}
	img := c.Compose([]FrameSet{solidFrame(0, 40, 40, blue, 0), solidFrame(1, 20, 20, blue, 0)})

	// Second device is scaled up to the first tile's size instead of
	// leaving a filler gap.
	assert.Equal(t, blue, img.RGBAAt(50, 75))
}

func TestCompose_LabelsDoNotTouchInput(t *testing.T) {
	c := NewCompositor(100, 50)
	white := color.RGBA{255, 255, 255, 255}
	fs := solidFrame(0, 100, 50, white, 0)

	c.Compose([]FrameSet{fs})

	src := fs.Color.(*image.RGBA)
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			if src.RGBAAt(x, y) != white {
				t.Fatalf("input modified at %d,%d", x, y)
			}
		}
	}
}

func TestColorizeDepth(t *testing.T) {
	c := NewCompositor(10, 10)
	tests := []struct {
		raw  uint16
		want uint8
	}{
		{0, 0},
		{1000, 30},
		{8500, 255},
		{65535, 255},
	}
	for _, tt := range tests {
		d := image.NewGray16(image.Rect(0, 0, 1, 1))
		d.SetGray16(0, 0, color.Gray16{Y: tt.raw})
		got := c.ColorizeDepth(d).RGBAAt(0, 0)
		if got != Jet(tt.want) {
			t.Errorf("raw %d: got %v, want jet(%d) = %v", tt.raw, got, tt.want, Jet(tt.want))
		}
	}
}

func TestJet(t *testing.T) {
	assert.Equal(t, color.RGBA{B: 128, A: 255}, Jet(0))
	assert.Equal(t, color.RGBA{R: 128, A: 255}, Jet(255))

	mid := Jet(128)
	assert.Equal(t, uint8(255), mid.G, "middle of the palette is green")
}

type fakeDevice struct {
	fs  FrameSet
	err error
}

func (f *fakeDevice) Capture(context.Context) (FrameSet, error) { return f.fs, f.err }
func (f *fakeDevice) Close() error                              { return f.err }

func TestRig_SkipsFailedDevices(t *testing.T) {
	ok := solidFrame(0, 4, 4, color.RGBA{A: 255}, 0)
	mismatched := ok
	mismatched.Depth = image.NewGray16(image.Rect(0, 0, 2, 2))

	rig := NewRig(nil,
		&fakeDevice{err: errors.New("usb reset")},
		&fakeDevice{fs: ok},
		&fakeDevice{fs: mismatched},
		&fakeDevice{fs: ok},
	)

	frames := rig.Capture(context.Background())
	require.Len(t, frames, 2)
	assert.Equal(t, 1, frames[0].Device)
	assert.Equal(t, 3, frames[1].Device)
}

func TestRig_CancelledContext(t *testing.T) {
	rig := NewRig(nil, NewSimDevice())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, rig.Capture(ctx))
}

func TestFrameSet_Validate(t *testing.T) {
	assert.ErrorIs(t, FrameSet{}.Validate(), robot.ErrCapture)
	assert.NoError(t, solidFrame(0, 3, 3, color.RGBA{}, 0).Validate())
}

func TestSimDevice_FailEvery(t *testing.T) {
	d := &SimDevice{Width: 8, Height: 6, FailEvery: 2}
	ctx := context.Background()

	fs, err := d.Capture(ctx)
	require.NoError(t, err)
	require.NoError(t, fs.Validate())

	_, err = d.Capture(ctx)
	assert.ErrorIs(t, err, robot.ErrCapture)
}

func TestPattern(t *testing.T) {
	img, err := NewPattern(320, 240).Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())
}

func TestDepthFromZ16(t *testing.T) {
	raw := []byte{0xe8, 0x03, 0x01, 0x00, 0x00, 0x00, 0xff, 0xff}
	img, err := DepthFromZ16(raw, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), img.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(1), img.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(65535), img.Gray16At(1, 1).Y)

	_, err = DepthFromZ16(raw[:6], 2, 2)
	assert.ErrorIs(t, err, robot.ErrCapture)
}
