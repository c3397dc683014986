// Package layout places the captcha string: one rotated glyph per character,
// separated by random gaps, centered in the frame. A [Layout] is computed
// once per session; only the per-glyph bounce changes between frames.
package layout

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// Rasterizer renders one rotated glyph mask.
type Rasterizer interface {
	Rasterize(ch rune, size, weight int, deg float64) (*image.Gray, error)
}

// Options controls glyph styling and spacing.
type Options struct {
	FontSize    int
	FontWeight  int
	MaxRotation float64 // degrees; angles are drawn from [-MaxRotation, MaxRotation]
	MinSpacing  int
	MaxSpacing  int
}

// Glyph is one placed foreground character.
type Glyph struct {
	Char     rune
	Mask     *image.Gray
	Rotation float64
	Offset   int     // horizontal offset from the string origin
	Gap      int     // space after this glyph; 0 for the last one
	Phase    float64 // bounce phase in [0, 2π)
}

// Layout is the ordered glyph sequence and its aggregate extent.
type Layout struct {
	Glyphs []Glyph
	Width  int // sum of glyph widths and gaps
	Height int // tallest glyph
}

// Build rasterizes text and lays it out left to right. For each character it
// draws, in order, a rotation, the gap that follows it, and a bounce phase.
func Build(r Rasterizer, rng *rand.Rand, text string, opts Options) (*Layout, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "captcha text is empty")
	}
	if opts.MinSpacing < 0 || opts.MaxSpacing < opts.MinSpacing {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "spacing range [%d, %d] is invalid", opts.MinSpacing, opts.MaxSpacing)
	}

	l := &Layout{Glyphs: make([]Glyph, 0, len(runes))}
	cursor := 0
	for i, ch := range runes {
		deg := (rng.Float64()*2 - 1) * opts.MaxRotation
		gap := 0
		if i < len(runes)-1 {
			gap = opts.MinSpacing + rng.IntN(opts.MaxSpacing-opts.MinSpacing+1)
		}
		phase := rng.Float64() * 2 * math.Pi

		mask, err := r.Rasterize(ch, opts.FontSize, opts.FontWeight, deg)
		if err != nil {
			return nil, err
		}

		b := mask.Bounds()
		l.Glyphs = append(l.Glyphs, Glyph{
			Char:     ch,
			Mask:     mask,
			Rotation: deg,
			Offset:   cursor,
			Gap:      gap,
			Phase:    phase,
		})
		cursor += b.Dx() + gap
		l.Height = max(l.Height, b.Dy())
	}
	l.Width = cursor
	return l, nil
}

// Text returns the laid out string.
func (l *Layout) Text() string {
	runes := make([]rune, len(l.Glyphs))
	for i, g := range l.Glyphs {
		runes[i] = g.Char
	}
	return string(runes)
}

// Origin returns the x position of the string inside a frame of width w.
// It is negative when the string is wider than the frame.
func (l *Layout) Origin(w int) int {
	return floorDiv(w-l.Width, 2)
}

// Position returns the top-left corner of glyph i in a w x h frame with the
// given bounce offset applied.
func (l *Layout) Position(i, w, h, bounce int) image.Point {
	g := l.Glyphs[i]
	gh := g.Mask.Bounds().Dy()
	return image.Pt(l.Origin(w)+g.Offset, h/2-gh/2+bounce)
}

// Bounce returns the vertical displacement of a glyph at elapsed time t:
// amplitude * sin(speed*t + phase), truncated toward zero.
func Bounce(amplitude, speed, t, phase float64) int {
	return int(amplitude * math.Sin(speed*t+phase))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
