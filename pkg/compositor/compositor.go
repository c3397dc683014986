// Package compositor produces the frames of an animated captcha.
//
// A [Session] owns all per-session state: the random source, the ground
// truth text, the foreground layout and either the decoy population (text
// captchas) or the noise field viewport (noise captchas). Each call to
// [Session.Step] composites exactly one frame from the previous frame's state
// plus one tick of advancement, so a fixed seed and config always reproduce
// the same frames.
//
// Text captchas paint on a flat background:
//
//	background fill -> decoys (insertion order) -> foreground glyphs
//
// Noise captchas select, per pixel, between the scrolling field and a fresh
// noise raster using the combined foreground mask:
//
//	frame = (field AND NOT mask) OR (fresh AND mask)
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/decoy"
	"github.com/matzehuels/animcaptcha/pkg/errors"
	"github.com/matzehuels/animcaptcha/pkg/layout"
	"github.com/matzehuels/animcaptcha/pkg/noise"
	"github.com/matzehuels/animcaptcha/pkg/raster"
)

// Rasterizer renders foreground and decoy glyph masks.
type Rasterizer interface {
	layout.Rasterizer
	decoy.Rasterizer
}

// State is the lifecycle of a session.
type State int

const (
	Idle State = iota
	Generating
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Generating:
		return "generating"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session generates the frames of one captcha. It is not safe for concurrent
// use; run independent sessions in parallel instead.
type Session struct {
	cfg    config.Config
	rng    *rand.Rand
	text   string
	layout *layout.Layout
	bg, fg color.RGBA

	decoys *decoy.System // text mode

	field  *noise.Field // noise mode
	offset image.Point
	step   image.Point

	state       State
	tick        int
	total       int
	elapsed     float64
	frames      []*image.RGBA
	decoyCounts []int
}

// NewSession validates cfg and prepares a session. Randomness is drawn in a
// fixed order: the text (unless given), the layout, then the decoy
// population or the noise field. A zero seed is replaced by a fresh one.
func NewSession(cfg config.Config, r Rasterizer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Resolve()

	bg, fg, err := cfg.Palette()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "resolve colors")
	}

	s := &Session{
		cfg:   cfg,
		rng:   config.NewRand(cfg.Seed),
		bg:    bg,
		fg:    fg,
		total: cfg.FrameCount(),
	}

	s.text = cfg.CaptchaText
	if s.text == "" {
		s.text = config.RandomText(s.rng, cfg.TextLength)
	}

	s.layout, err = layout.Build(r, s.rng, s.text, layout.Options{
		FontSize:    cfg.FontSize,
		FontWeight:  cfg.FontWeight,
		MaxRotation: cfg.MaxRotation,
		MinSpacing:  cfg.MinSpacing,
		MaxSpacing:  cfg.MaxSpacing,
	})
	if err != nil {
		return nil, err
	}

	switch cfg.CaptchaType {
	case config.TypeText:
		s.decoys, err = decoy.New(r, s.rng, decoy.OptionsFromConfig(cfg))
		if err != nil {
			return nil, err
		}
	case config.TypeNoise:
		s.field = noise.NewField(s.rng, cfg.Width, cfg.Height, cfg.NoiseScale, cfg.NoiseGrain)
		s.step = image.Pt(cfg.SpeedX, cfg.SpeedY)
	}

	s.frames = make([]*image.RGBA, 0, s.total)
	s.decoyCounts = make([]int, 0, s.total)
	return s, nil
}

// Text returns the ground truth string.
func (s *Session) Text() string { return s.text }

// Seed returns the resolved seed.
func (s *Session) Seed() uint64 { return s.cfg.Seed }

// Config returns the resolved config.
func (s *Session) Config() config.Config { return s.cfg }

// Layout returns the foreground layout.
func (s *Session) Layout() *layout.Layout { return s.layout }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Total returns the number of frames the session produces.
func (s *Session) Total() int { return s.total }

// Offset returns the current noise viewport offset.
func (s *Session) Offset() image.Point { return s.offset }

// Step composites the next frame and appends it to the session. It returns
// false once every frame has been produced.
func (s *Session) Step() (*image.RGBA, bool, error) {
	if s.state == Complete {
		return nil, false, nil
	}
	s.state = Generating

	var (
		frame *image.RGBA
		err   error
	)
	switch s.cfg.CaptchaType {
	case config.TypeText:
		frame, err = s.textFrame()
	case config.TypeNoise:
		frame = s.noiseFrame()
	}
	if err != nil {
		return nil, false, err
	}

	s.frames = append(s.frames, frame)
	s.tick++
	s.elapsed += 1 / float64(s.cfg.FPS)
	if s.tick == s.total {
		s.state = Complete
	}
	return frame, true, nil
}

// Run steps the session to completion. progress, when non-nil, is called
// after every frame.
func (s *Session) Run(progress func(done, total int)) ([]*image.RGBA, error) {
	return s.RunContext(context.Background(), progress)
}

// RunContext is Run with cancellation checked between frames. A cancelled
// session keeps the frames produced so far and can be resumed.
func (s *Session) RunContext(ctx context.Context, progress func(done, total int)) ([]*image.RGBA, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, ok, err := s.Step()
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.frames, nil
		}
		if progress != nil {
			progress(s.tick, s.total)
		}
	}
}

// Frames returns the frames produced so far.
func (s *Session) Frames() []*image.RGBA { return s.frames }

// DecoyCounts returns the live decoy count painted into each frame.
func (s *Session) DecoyCounts() []int { return s.decoyCounts }

// Spawned returns how many decoys the session created.
func (s *Session) Spawned() int {
	if s.decoys == nil {
		return 0
	}
	return s.decoys.Spawned()
}

// Expired returns how many decoys the session culled.
func (s *Session) Expired() int {
	if s.decoys == nil {
		return 0
	}
	return s.decoys.Expired()
}

func (s *Session) textFrame() (*image.RGBA, error) {
	frame := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	raster.Fill(frame, s.bg)

	if err := s.decoys.Tick(); err != nil {
		return nil, err
	}
	for _, d := range s.decoys.Decoys() {
		raster.Paint(frame, d.Mask, d.Position(), s.fg)
	}
	s.decoyCounts = append(s.decoyCounts, s.decoys.Len())

	for i, g := range s.layout.Glyphs {
		raster.Paint(frame, g.Mask, s.glyphAt(i), s.fg)
	}
	return frame, nil
}

func (s *Session) noiseFrame() *image.RGBA {
	w, h := s.cfg.Width, s.cfg.Height

	bg := s.field.Window(s.offset)

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i, g := range s.layout.Glyphs {
		raster.MaxInto(mask, g.Mask, s.glyphAt(i))
	}

	fresh := noise.New(s.rng, w, h)

	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	raster.Select(frame, bg, fresh, mask)
	s.decoyCounts = append(s.decoyCounts, 0)

	s.offset = s.field.Advance(s.offset, s.step)
	return frame
}

// glyphAt places glyph i for the current tick.
func (s *Session) glyphAt(i int) image.Point {
	bounce := layout.Bounce(s.cfg.BounceAmplitude, s.cfg.BounceSpeed, s.elapsed, s.layout.Glyphs[i].Phase)
	return s.layout.Position(i, s.cfg.Width, s.cfg.Height, bounce)
}
