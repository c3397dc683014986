// Package decoy animates the background glyphs of a text captcha.
//
// Decoys are meaningless characters that spawn at random, drift upward and
// expire once they leave an extended margin around the frame. Each tick
// first rolls for a spawn, then advances every decoy by one step of its
// velocity and drops the ones that left the margin. Survivors keep their
// insertion order, which is also their paint order.
package decoy

import (
	"image"
	"math/rand/v2"

	"github.com/matzehuels/animcaptcha/pkg/config"
)

const (
	// Margin is how far outside the frame a decoy may travel before it
	// expires.
	Margin = 80

	// SpawnInset bounds how far above or left of the frame a new decoy can
	// appear; initial decoys use InitialInset so they start mid-flight.
	SpawnInset   = 40
	InitialInset = 20

	// MaxDrift is the largest horizontal speed, in pixels per tick.
	MaxDrift = 0.5

	// MaxTilt is the largest decoy rotation, in degrees.
	MaxTilt = 15.0
)

// Rasterizer renders a glyph into a fixed square canvas.
type Rasterizer interface {
	RasterizeCanvas(ch rune, size, weight int, deg float64, canvas int) (*image.Gray, error)
}

// Decoy is one background glyph.
type Decoy struct {
	Char     rune
	X, Y     float64
	VX, VY   float64
	Rotation float64
	Mask     *image.Gray // rendered once at spawn
}

// Alive reports whether d is still inside the margin around a w x h frame.
func (d *Decoy) Alive(w, h int) bool {
	return -Margin < d.X && d.X < float64(w+Margin) && d.Y > -Margin
}

// Position returns the integer paint position, truncated toward zero.
func (d *Decoy) Position() image.Point {
	return image.Pt(int(d.X), int(d.Y))
}

// Options configures a decoy system.
type Options struct {
	Width, Height int
	FPS           int
	SpawnRate     float64 // expected spawns per second
	SpeedMin      float64
	SpeedMax      float64
	InitialCount  int
	FontSize      int
	FontWeight    int
	Canvas        int
}

// OptionsFromConfig extracts the decoy options from a session config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
		SpawnRate:    cfg.BgSpawnRate,
		SpeedMin:     cfg.BgSpeedMin,
		SpeedMax:     cfg.BgSpeedMax,
		InitialCount: cfg.InitialBgCount,
		FontSize:     cfg.DecoyFontSize,
		FontWeight:   cfg.FontWeight,
		Canvas:       cfg.DecoyCanvas,
	}
}

// System owns the decoy population of one session. It is not safe for
// concurrent use.
type System struct {
	opts    Options
	r       Rasterizer
	rng     *rand.Rand
	decoys  []*Decoy
	spawned int
	expired int
}

// New creates a system seeded with opts.InitialCount decoys.
func New(r Rasterizer, rng *rand.Rand, opts Options) (*System, error) {
	s := &System{opts: opts, r: r, rng: rng}
	for range opts.InitialCount {
		if err := s.spawn(InitialInset); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tick advances the population by one frame.
func (s *System) Tick() error {
	if s.rng.Float64() < s.opts.SpawnRate/float64(s.opts.FPS) {
		if err := s.spawn(SpawnInset); err != nil {
			return err
		}
	}

	alive := s.decoys[:0]
	for _, d := range s.decoys {
		d.X += d.VX
		d.Y += d.VY
		if d.Alive(s.opts.Width, s.opts.Height) {
			alive = append(alive, d)
		} else {
			s.expired++
		}
	}
	clear(s.decoys[len(alive):])
	s.decoys = alive
	return nil
}

// Decoys returns the live population in paint order. The slice is only
// valid until the next Tick.
func (s *System) Decoys() []*Decoy { return s.decoys }

// Len returns the live population size.
func (s *System) Len() int { return len(s.decoys) }

// Spawned returns how many decoys were ever created, initial ones included.
func (s *System) Spawned() int { return s.spawned }

// Expired returns how many decoys have left the margin.
func (s *System) Expired() int { return s.expired }

// spawn appends a decoy whose start position lies in [-inset, W] x [-inset, H].
func (s *System) spawn(inset int) error {
	o := s.opts
	d := &Decoy{
		Char:     config.RandomChar(s.rng),
		X:        float64(s.rng.IntN(o.Width+inset+1) - inset),
		Y:        float64(s.rng.IntN(o.Height+inset+1) - inset),
		VX:       (s.rng.Float64()*2 - 1) * MaxDrift,
		VY:       -(o.SpeedMin + s.rng.Float64()*(o.SpeedMax-o.SpeedMin)),
		Rotation: (s.rng.Float64()*2 - 1) * MaxTilt,
	}
	mask, err := s.r.RasterizeCanvas(d.Char, o.FontSize, o.FontWeight, d.Rotation, o.Canvas)
	if err != nil {
		return err
	}
	d.Mask = mask
	s.decoys = append(s.decoys, d)
	s.spawned++
	return nil
}
