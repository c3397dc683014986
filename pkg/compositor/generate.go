package compositor

import (
	"context"
	"image"

	"github.com/matzehuels/animcaptcha/pkg/config"
)

// Result is a completed session: the frames and the text they show.
type Result struct {
	Text        string
	Frames      []*image.RGBA
	Config      config.Config // resolved, seed included
	DecoyCounts []int
	Spawned     int
	Expired     int // decoys that left the frame margin
}

// Seed returns the seed that reproduces the result.
func (r *Result) Seed() uint64 { return r.Config.Seed }

// Generate runs a full session for cfg.
func Generate(cfg config.Config, r Rasterizer, progress func(done, total int)) (*Result, error) {
	return GenerateContext(context.Background(), cfg, r, progress)
}

// GenerateContext is Generate with cancellation between frames.
func GenerateContext(ctx context.Context, cfg config.Config, r Rasterizer, progress func(done, total int)) (*Result, error) {
	s, err := NewSession(cfg, r)
	if err != nil {
		return nil, err
	}
	if _, err := s.RunContext(ctx, progress); err != nil {
		return nil, err
	}
	return &Result{
		Text:        s.Text(),
		Frames:      s.Frames(),
		Config:      s.Config(),
		DecoyCounts: s.DecoyCounts(),
		Spawned:     s.Spawned(),
		Expired:     s.Expired(),
	}, nil
}
