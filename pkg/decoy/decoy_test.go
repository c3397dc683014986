package decoy

import (
	"image"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/matzehuels/animcaptcha/pkg/config"
)

type stubRasterizer struct{ calls int }

func (s *stubRasterizer) RasterizeCanvas(ch rune, size, weight int, deg float64, canvas int) (*image.Gray, error) {
	s.calls++
	return image.NewGray(image.Rect(0, 0, canvas, canvas)), nil
}

func testOptions() Options {
	return OptionsFromConfig(config.Default())
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
}

func TestInitialPopulation(t *testing.T) {
	opts := testOptions()
	r := &stubRasterizer{}
	s, err := New(r, newRand(1), opts)
	if err != nil {
		t.Fatal(err)
	}

	if s.Len() != opts.InitialCount {
		t.Fatalf("Len() = %d, want %d", s.Len(), opts.InitialCount)
	}
	if r.calls != opts.InitialCount {
		t.Errorf("rasterized %d masks, want one per decoy", r.calls)
	}
	for _, d := range s.Decoys() {
		if d.X < -InitialInset || d.X > float64(opts.Width) || d.Y < -InitialInset || d.Y > float64(opts.Height) {
			t.Errorf("initial decoy at (%g, %g) outside seeding range", d.X, d.Y)
		}
		if !strings.ContainsRune(config.Alphabet, d.Char) {
			t.Errorf("decoy char %q outside alphabet", d.Char)
		}
	}
}

func TestDecoysDriftUpward(t *testing.T) {
	opts := testOptions()
	s, _ := New(&stubRasterizer{}, newRand(2), opts)

	for range 200 {
		if err := s.Tick(); err != nil {
			t.Fatal(err)
		}
		for _, d := range s.Decoys() {
			if d.VY > -opts.SpeedMin || d.VY < -opts.SpeedMax {
				t.Fatalf("vy = %g outside [-%g, -%g]", d.VY, opts.SpeedMax, opts.SpeedMin)
			}
			if math.Abs(d.VX) > MaxDrift {
				t.Fatalf("vx = %g exceeds drift", d.VX)
			}
			if math.Abs(d.Rotation) > MaxTilt {
				t.Fatalf("rotation = %g exceeds tilt", d.Rotation)
			}
			if !d.Alive(opts.Width, opts.Height) {
				t.Fatalf("expired decoy kept at (%g, %g)", d.X, d.Y)
			}
		}
	}
	if s.Expired() == 0 {
		t.Error("no decoy expired after 200 ticks")
	}
	if s.Spawned() != s.Len()+s.Expired() {
		t.Errorf("spawned %d != alive %d + expired %d", s.Spawned(), s.Len(), s.Expired())
	}
}

func TestAlive(t *testing.T) {
	tests := []struct {
		x, y float64
		want bool
	}{
		{0, 0, true},
		{-79.9, 10, true},
		{-80, 10, false},
		{579.9, 10, true},
		{580, 10, false},
		{10, -79.9, true},
		{10, -80, false},
		{10, 10000, true}, // no lower bound: decoys only move up
	}
	for _, tt := range tests {
		d := &Decoy{X: tt.x, Y: tt.y}
		if got := d.Alive(500, 160); got != tt.want {
			t.Errorf("Alive(%g, %g) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestZeroDecoys(t *testing.T) {
	opts := testOptions()
	opts.InitialCount = 0
	opts.SpawnRate = 0

	s, _ := New(&stubRasterizer{}, newRand(3), opts)
	for range 300 {
		_ = s.Tick()
		if s.Len() != 0 {
			t.Fatalf("Len() = %d with no spawning", s.Len())
		}
	}
	if s.Spawned() != 0 {
		t.Errorf("Spawned() = %d, want 0", s.Spawned())
	}
}

func TestSpawnRate(t *testing.T) {
	opts := testOptions()
	opts.InitialCount = 0
	opts.SpawnRate = 10
	opts.FPS = 30

	const seconds = 60
	s, _ := New(&stubRasterizer{}, newRand(4), opts)
	for range seconds * opts.FPS {
		_ = s.Tick()
	}

	// Binomial(1800, 1/3): mean 600, sd ~20.
	want := opts.SpawnRate * seconds
	if got := float64(s.Spawned()); math.Abs(got-want) > 100 {
		t.Errorf("Spawned() = %g over %ds, want about %g", got, seconds, want)
	}
}

func TestDeterministic(t *testing.T) {
	run := func() []image.Point {
		s, _ := New(&stubRasterizer{}, newRand(9), testOptions())
		for range 50 {
			_ = s.Tick()
		}
		var pts []image.Point
		for _, d := range s.Decoys() {
			pts = append(pts, d.Position())
		}
		return pts
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("population %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("decoy %d at %v vs %v", i, a[i], b[i])
		}
	}
}

func TestPositionTruncates(t *testing.T) {
	d := &Decoy{X: -3.7, Y: 12.9}
	if got := d.Position(); got != image.Pt(-3, 12) {
		t.Errorf("Position() = %v, want (-3,12)", got)
	}
}
