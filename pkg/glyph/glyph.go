// Package glyph turns single characters into rotated hard-edged masks.
//
// A [Rasterizer] renders with golang.org/x/image/font, thresholds the
// anti-aliased coverage into a binary mask and rotates it with
// nearest-neighbor sampling, so the result never contains blended pixels.
// Rotation angles are always supplied by the caller.
package glyph

import (
	"image"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/matzehuels/animcaptcha/pkg/errors"
	"github.com/matzehuels/animcaptcha/pkg/fonts"
	"github.com/matzehuels/animcaptcha/pkg/raster"
)

const (
	// Pad is the margin added on every side of a measured glyph so rotation
	// does not clip its corners.
	Pad = 10

	// coverageThreshold separates ink from background in the
	// anti-aliased coverage produced by the font drawer.
	coverageThreshold = 128

	// boldWeight is the heaviest weight with a native face. Heavier weights
	// dilate the bold mask by one pixel per step.
	boldWeight = 3
)

type faceKey struct {
	size   int
	weight int
}

// Rasterizer renders glyph masks and caches one font face per size and
// weight. It is safe for concurrent use.
type Rasterizer struct {
	fonts *fonts.Set

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

// New returns a rasterizer over set. A nil set uses the embedded Go fonts.
func New(set *fonts.Set) (*Rasterizer, error) {
	if set == nil {
		var err error
		if set, err = fonts.Default(); err != nil {
			return nil, err
		}
	}
	return &Rasterizer{fonts: set, faces: make(map[faceKey]font.Face)}, nil
}

// Rasterize renders ch on a canvas sized to its measured bounds plus [Pad]
// and rotates it about the canvas center by deg degrees (counter-clockwise
// when positive). Identical inputs always produce identical masks.
func (r *Rasterizer) Rasterize(ch rune, size, weight int, deg float64) (*image.Gray, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	face, err := r.face(size, weight)
	if err != nil {
		return nil, err
	}

	bounds, _ := font.BoundString(face, string(ch))
	w := (bounds.Max.X - bounds.Min.X).Ceil() + 2*Pad
	h := (bounds.Max.Y - bounds.Min.Y).Ceil() + 2*Pad
	dot := fixed.P(Pad-bounds.Min.X.Floor(), Pad-bounds.Min.Y.Floor())

	return finish(draw(face, ch, w, h, dot), weight, deg), nil
}

// RasterizeCanvas renders ch into a fixed canvas x canvas square with the
// baseline at 4/5 of the height and a 1/10 left inset, then rotates it about
// the square's center. Decoys use this so every mask has the same footprint.
func (r *Rasterizer) RasterizeCanvas(ch rune, size, weight int, deg float64, canvas int) (*image.Gray, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	face, err := r.face(size, weight)
	if err != nil {
		return nil, err
	}
	dot := fixed.P(canvas/10, canvas*4/5)
	return finish(draw(face, ch, canvas, canvas, dot), weight, deg), nil
}

// Close releases the cached faces.
func (r *Rasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, f := range r.faces {
		f.Close()
		delete(r.faces, k)
	}
	return nil
}

func (r *Rasterizer) face(size, weight int) (font.Face, error) {
	key := faceKey{size, weight}
	if f, ok := r.faces[key]; ok {
		return f, nil
	}
	if size <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "font size must be > 0, got %d", size)
	}
	f, err := opentype.NewFace(r.fonts.Font(weight), &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFont, err, "create face size=%d weight=%d", size, weight)
	}
	r.faces[key] = f
	return f, nil
}

// draw renders ch as coverage into a w x h alpha canvas.
func draw(face font.Face, ch rune, w, h int, dot fixed.Point26_6) *image.Alpha {
	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.Opaque,
		Face: face,
		Dot:  dot,
	}
	d.DrawString(string(ch))
	return dst
}

// finish thresholds, thickens and rotates a rendered canvas.
func finish(coverage *image.Alpha, weight int, deg float64) *image.Gray {
	mask := raster.Threshold(coverage, coverageThreshold)
	if weight > boldWeight {
		mask = raster.Dilate(mask, weight-boldWeight)
	}
	return raster.Rotate(mask, deg)
}
