package export

import (
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"

	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// GIF encodes frames as a looping animated GIF.
type GIF struct{}

func (GIF) Format() string      { return "gif" }
func (GIF) Ext() string         { return "gif" }
func (GIF) ContentType() string { return "image/gif" }

// Encode writes frames as an infinitely looping GIF.
func (GIF) Encode(ctx context.Context, w io.Writer, frames []*image.RGBA, fps int) error {
	if err := checkFrames(frames, fps); err != nil {
		return err
	}

	delay := DelayCentiseconds(fps)
	anim := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0,
	}
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		anim.Image[i] = Palettize(f)
		anim.Delay[i] = delay
	}

	if err := gif.EncodeAll(w, anim); err != nil {
		return errors.Wrap(errors.ErrCodeResource, err, "encode gif")
	}
	return nil
}

// Palettize converts a frame to a paletted image. Frames with at most 256
// distinct colors keep their exact colors, in first-seen order; richer frames
// are dithered onto the Plan9 palette.
func Palettize(f *image.RGBA) *image.Paletted {
	b := f.Bounds()
	if pal, ok := exactPalette(f); ok {
		dst := image.NewPaletted(b, pal)
		index := make(map[color.RGBA]uint8, len(pal))
		for i, c := range pal {
			index[c.(color.RGBA)] = uint8(i)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			src := f.Pix[f.PixOffset(b.Min.X, y):][:4*b.Dx()]
			row := dst.Pix[dst.PixOffset(b.Min.X, y):][:b.Dx()]
			for x := range row {
				p := src[4*x : 4*x+4]
				row[x] = index[color.RGBA{p[0], p[1], p[2], p[3]}]
			}
		}
		return dst
	}

	dst := image.NewPaletted(b, palette.Plan9)
	draw.FloydSteinberg.Draw(dst, b, f, b.Min)
	return dst
}

func exactPalette(f *image.RGBA) (color.Palette, bool) {
	seen := make(map[color.RGBA]struct{}, 256)
	var pal color.Palette
	for i := 0; i+3 < len(f.Pix); i += 4 {
		c := color.RGBA{f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]}
		if _, ok := seen[c]; ok {
			continue
		}
		if len(pal) == 256 {
			return nil, false
		}
		seen[c] = struct{}{}
		pal = append(pal, c)
	}
	return pal, true
}
