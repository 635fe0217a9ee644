package camera

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultColumns    = 2
	DefaultDepthScale = 0.03
)

var (
	// Filler pads incomplete grid rows and fills an empty composite.
	Filler = color.RGBA{R: 255, G: 255, B: 255, A: 255}

	labelColor = color.RGBA{G: 255, A: 255}
)

// Compositor arranges FrameSets into a fixed-size grid image.
type Compositor struct {
	Width, Height int
	Columns       int
	// DepthScale converts raw depth units to 0..255 before the color map.
	DepthScale float64
	// Labels draws "RGB Camera i" / "Depth Camera i" on each tile.
	Labels bool
}

// NewCompositor returns a labelled two-column compositor for the given
// output resolution.
func NewCompositor(width, height int) *Compositor {
	return &Compositor{
		Width:      width,
		Height:     height,
		Columns:    DefaultColumns,
		DepthScale: DefaultDepthScale,
		Labels:     true,
	}
}

// Compose renders the color then the false-color depth tile for each frame
// set, lays them out row-major, pads the last row and scales the grid to
// the output resolution. Sets that fail Validate are skipped; with none
// left the result is a plain filler image.
func (c *Compositor) Compose(frames []FrameSet) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(out, out.Bounds(), image.NewUniform(Filler), image.Point{}, draw.Src)

	tiles := make([]*image.RGBA, 0, 2*len(frames))
	for _, fs := range frames {
		// Half-captured sets have no tile pair.
		if fs.Validate() != nil {
			continue
		}
		rgb := toRGBA(fs.Color)
		depth := c.ColorizeDepth(fs.Depth)
		if c.Labels {
			drawLabel(rgb, fmt.Sprintf("RGB Camera %d", fs.Device+1))
			drawLabel(depth, fmt.Sprintf("Depth Camera %d", fs.Device+1))
		}
		tiles = append(tiles, rgb, depth)
	}
	if len(tiles) == 0 {
		return out
	}

	cols := c.Columns
	if cols <= 0 {
		cols = DefaultColumns
	}
	rows := (len(tiles) + cols - 1) / cols
	tw, th := tiles[0].Bounds().Dx(), tiles[0].Bounds().Dy()

	grid := image.NewRGBA(image.Rect(0, 0, cols*tw, rows*th))
	draw.Draw(grid, grid.Bounds(), image.NewUniform(Filler), image.Point{}, draw.Src)
	for i, t := range tiles {
		r := image.Rect(0, 0, tw, th).Add(image.Pt((i%cols)*tw, (i/cols)*th))
		if t.Bounds().Dx() == tw && t.Bounds().Dy() == th {
			draw.Draw(grid, r, t, t.Bounds().Min, draw.Src)
		} else {
			draw.BiLinear.Scale(grid, r, t, t.Bounds(), draw.Src, nil)
		}
	}

	draw.BiLinear.Scale(out, out.Bounds(), grid, grid.Bounds(), draw.Src, nil)
	return out
}

// ColorizeDepth maps raw depth through |d*scale| saturated to 8 bits and a
// jet palette.
func (c *Compositor) ColorizeDepth(depth *image.Gray16) *image.RGBA {
	b := depth.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := scaleAbs(depth.Gray16At(x, y).Y, c.DepthScale)
			out.SetRGBA(x-b.Min.X, y-b.Min.Y, Jet(v))
		}
	}
	return out
}

func scaleAbs(raw uint16, scale float64) uint8 {
	v := math.Round(math.Abs(float64(raw) * scale))
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Jet returns the jet palette entry for v: blue at 0 through green to red
// at 255.
func Jet(v uint8) color.RGBA {
	f := float64(v) / 255
	ch := func(center float64) uint8 {
		x := 1.5 - math.Abs(4*f-center)
		return uint8(math.Round(255 * math.Max(0, math.Min(1, x))))
	}
	return color.RGBA{R: ch(3), G: ch(2), B: ch(1), A: 255}
}

// toRGBA copies img into a new zero-origin RGBA so labels never touch the
// caller's buffer.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func drawLabel(dst *image.RGBA, text string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 30),
	}
	d.DrawString(text)
}
