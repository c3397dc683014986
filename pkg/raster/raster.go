// Package raster implements the binary-mask operations that build captcha
// frames. Masks are *image.Gray where 0 is transparent and any other value is
// opaque. Nothing here blends: a pixel is either taken from one source or
// left untouched.
package raster

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Threshold converts coverage to a hard mask: values above t become 255,
// everything else 0.
func Threshold(src *image.Alpha, t uint8) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):][:b.Dx()]
		drow := dst.Pix[y*dst.Stride:][:b.Dx()]
		for x, v := range srow {
			if v > t {
				drow[x] = 255
			}
		}
	}
	return dst
}

// Rotate rotates src about its center by deg degrees using nearest-neighbor
// sampling. Positive angles turn counter-clockwise on screen. The output has
// the same size as src; corners that fall outside are clipped.
func Rotate(src *image.Gray, deg float64) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if deg == 0 {
		copy(dst.Pix, src.Pix)
		return dst
	}
	xdraw.NearestNeighbor.Transform(dst, rotation(deg, float64(w)/2, float64(h)/2), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// rotation maps source to destination for an on-screen counter-clockwise
// turn about (cx, cy). Screen y grows downwards.
func rotation(deg, cx, cy float64) f64.Aff3 {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return f64.Aff3{
		cos, sin, cx - cos*cx - sin*cy,
		-sin, cos, cy + sin*cx - cos*cy,
	}
}

// Dilate grows every opaque pixel into a (2r+1)x(2r+1) square.
func Dilate(src *image.Gray, r int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if r <= 0 {
		copy(dst.Pix, src.Pix)
		return dst
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := src.Pix[y*src.Stride+x]
			if v == 0 {
				continue
			}
			for yy := max(0, y-r); yy <= min(h-1, y+r); yy++ {
				row := dst.Pix[yy*dst.Stride:]
				for xx := max(0, x-r); xx <= min(w-1, x+r); xx++ {
					if row[xx] < v {
						row[xx] = v
					}
				}
			}
		}
	}
	return dst
}

// clip returns the overlap of a w x h source placed at p with dst bounds,
// in destination coordinates, and the matching source origin.
func clip(dst image.Rectangle, w, h int, p image.Point) (image.Rectangle, image.Point, bool) {
	r := image.Rect(p.X, p.Y, p.X+w, p.Y+h).Intersect(dst)
	if r.Empty() {
		return r, image.Point{}, false
	}
	return r, r.Min.Sub(p), true
}

// MaxInto merges mask into dst at p by pixel-wise maximum, clipped to dst.
func MaxInto(dst, mask *image.Gray, p image.Point) {
	r, sp, ok := clip(dst.Bounds(), mask.Bounds().Dx(), mask.Bounds().Dy(), p)
	if !ok {
		return
	}
	for y := 0; y < r.Dy(); y++ {
		drow := dst.Pix[dst.PixOffset(r.Min.X, r.Min.Y+y):][:r.Dx()]
		srow := mask.Pix[(sp.Y+y)*mask.Stride+sp.X:][:r.Dx()]
		for x, v := range srow {
			if v > drow[x] {
				drow[x] = v
			}
		}
	}
}

// Paint sets every dst pixel under an opaque mask pixel to c, clipped to dst.
// Pixels under transparent mask pixels are left untouched.
func Paint(dst *image.RGBA, mask *image.Gray, p image.Point, c color.RGBA) {
	r, sp, ok := clip(dst.Bounds(), mask.Bounds().Dx(), mask.Bounds().Dy(), p)
	if !ok {
		return
	}
	for y := 0; y < r.Dy(); y++ {
		drow := dst.Pix[dst.PixOffset(r.Min.X, r.Min.Y+y):][:4*r.Dx()]
		srow := mask.Pix[(sp.Y+y)*mask.Stride+sp.X:][:r.Dx()]
		for x, v := range srow {
			if v == 0 {
				continue
			}
			px := drow[4*x : 4*x+4 : 4*x+4]
			px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
		}
	}
}

// Fill sets every pixel of dst to c.
func Fill(dst *image.RGBA, c color.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Select writes the mask-select composite of two equally sized intensity
// rasters into dst: fg where mask is opaque, bg elsewhere, as opaque gray.
func Select(dst *image.RGBA, bg, fg, mask *image.Gray) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	for y := 0; y < h; y++ {
		drow := dst.Pix[y*dst.Stride:][:4*w]
		brow := bg.Pix[y*bg.Stride:][:w]
		frow := fg.Pix[y*fg.Stride:][:w]
		mrow := mask.Pix[y*mask.Stride:][:w]
		for x := range w {
			v := brow[x]
			if mrow[x] != 0 {
				v = frow[x]
			}
			drow[4*x], drow[4*x+1], drow[4*x+2], drow[4*x+3] = v, v, v, 255
		}
	}
}
