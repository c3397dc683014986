package glyph

import (
	"bytes"
	"image"
	"sync"
	"testing"
)

// opaque counts the inked pixels of a mask.
func opaque(m *image.Gray) int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

func newRasterizer(t *testing.T) *Rasterizer {
	t.Helper()
	r, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRasterizeIsBinary(t *testing.T) {
	r := newRasterizer(t)

	for _, deg := range []float64{0, 7.5, -15} {
		m, err := r.Rasterize('W', 64, 2, deg)
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range m.Pix {
			if v != 0 && v != 255 {
				t.Fatalf("deg=%g: mask has blended value %d", deg, v)
			}
		}
		if opaque(m) == 0 {
			t.Fatalf("deg=%g: mask is empty", deg)
		}
	}
}

func TestRasterizePadding(t *testing.T) {
	r := newRasterizer(t)

	m, err := r.Rasterize('H', 64, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	b := m.Bounds()
	if b.Dx() <= 2*Pad || b.Dy() <= 2*Pad {
		t.Fatalf("canvas %v too small for glyph plus padding", b)
	}

	// Unrotated glyphs leave the padding band empty.
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			inside := x >= Pad-1 && x < b.Dx()-Pad+1 && y >= Pad-1 && y < b.Dy()-Pad+1
			if !inside && m.GrayAt(x, y).Y != 0 {
				t.Fatalf("ink at (%d,%d) inside the padding of %v", x, y, b)
			}
		}
	}
}

func TestRasterizeDeterministic(t *testing.T) {
	r := newRasterizer(t)
	a, _ := r.Rasterize('K', 48, 2, 12.5)
	b, _ := r.Rasterize('K', 48, 2, 12.5)
	if !bytes.Equal(a.Pix, b.Pix) || a.Bounds() != b.Bounds() {
		t.Error("identical inputs produced different masks")
	}

	c, _ := r.Rasterize('K', 48, 2, -12.5)
	if bytes.Equal(a.Pix, c.Pix) {
		t.Error("different rotations produced identical masks")
	}
}

func TestRotationKeepsCanvasSize(t *testing.T) {
	r := newRasterizer(t)
	flat, _ := r.Rasterize('A', 64, 2, 0)
	tilted, _ := r.Rasterize('A', 64, 2, 15)
	if flat.Bounds() != tilted.Bounds() {
		t.Errorf("rotated bounds %v, want %v", tilted.Bounds(), flat.Bounds())
	}
}

func TestWeightThickens(t *testing.T) {
	r := newRasterizer(t)

	counts := make([]int, 0, 4)
	for _, w := range []int{1, 3, 5} {
		m, err := r.Rasterize('L', 64, w, 0)
		if err != nil {
			t.Fatal(err)
		}
		counts = append(counts, opaque(m))
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] <= counts[i-1] {
			t.Errorf("ink did not grow with weight: %v", counts)
		}
	}
}

func TestRasterizeCanvas(t *testing.T) {
	r := newRasterizer(t)
	m, err := r.RasterizeCanvas('Q', 28, 2, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	if m.Bounds() != image.Rect(0, 0, 50, 50) {
		t.Errorf("bounds = %v, want 50x50", m.Bounds())
	}
	if opaque(m) == 0 {
		t.Error("decoy mask is empty")
	}
}

func TestInvalidSize(t *testing.T) {
	r := newRasterizer(t)
	if _, err := r.Rasterize('A', 0, 2, 0); err == nil {
		t.Error("expected error for zero font size")
	}
}

func TestConcurrentUse(t *testing.T) {
	r := newRasterizer(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Rasterize(rune('A'+i), 40+i, 2, float64(i)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
}
