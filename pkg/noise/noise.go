// Package noise provides the scrolling static behind a noise captcha.
//
// A [Field] is an oversized raster of independent uniform bytes generated
// once per session. Each frame shows a frame-sized window of it; moving the
// window by a fixed step per tick, wrapped within the field, animates the
// background.
package noise

import (
	"image"
	"math/rand/v2"

	xdraw "golang.org/x/image/draw"
)

// New returns a w x h raster of fresh noise.
func New(rng *rand.Rand, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	fillBytes(rng, img.Pix)
	return img
}

func fillBytes(rng *rand.Rand, p []byte) {
	for len(p) >= 8 {
		v := rng.Uint64()
		p[0], p[1], p[2], p[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		p[4], p[5], p[6], p[7] = byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56)
		p = p[8:]
	}
	if len(p) > 0 {
		v := rng.Uint64()
		for i := range p {
			p[i] = byte(v >> (8 * i))
		}
	}
}

// Field is an immutable noise raster with a frame-sized window into it.
type Field struct {
	pix    *image.Gray
	frameW int
	frameH int
	grain  int
	win    image.Point // window extent in field pixels
}

// NewField builds a (frameW*scale) x (frameH*scale) field. With grain > 1
// each window covers frameW/grain x frameH/grain field pixels (rounded up)
// and is enlarged to the frame, giving coarser static.
func NewField(rng *rand.Rand, frameW, frameH, scale, grain int) *Field {
	scale = max(scale, 1)
	grain = max(grain, 1)
	return &Field{
		pix:    New(rng, frameW*scale, frameH*scale),
		frameW: frameW,
		frameH: frameH,
		grain:  grain,
		win:    image.Pt(ceilDiv(frameW, grain), ceilDiv(frameH, grain)),
	}
}

// Size returns the field extent.
func (f *Field) Size() image.Point { return f.pix.Bounds().Size() }

// Span returns the largest valid viewport offset on each axis: field extent
// minus window extent.
func (f *Field) Span() image.Point { return f.Size().Sub(f.win) }

// Window returns a new frame-sized raster showing the field at off,
// enlarged with nearest-neighbor when grain > 1. Field pixel (off.X+i,
// off.Y+j) covers the grain x grain block at (i*grain, j*grain).
func (f *Field) Window(off image.Point) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, f.frameW, f.frameH))
	src := image.Rectangle{Min: off, Max: off.Add(f.win)}
	// Scale onto whole grain blocks and let dst clip the overhang.
	dr := image.Rect(0, 0, f.win.X*f.grain, f.win.Y*f.grain)
	xdraw.NearestNeighbor.Scale(dst, dr, f.pix, src, xdraw.Src, nil)
	return dst
}

// Advance moves off by step and wraps each axis into [0, span]. An axis with
// no room to scroll stays at 0.
func (f *Field) Advance(off, step image.Point) image.Point {
	span := f.Span()
	return image.Pt(Wrap(off.X+step.X, span.X), Wrap(off.Y+step.Y, span.Y))
}

// Wrap reduces v modulo span into [0, span). A span of zero or less yields 0.
func Wrap(v, span int) int {
	if span <= 0 {
		return 0
	}
	return ((v % span) + span) % span
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
